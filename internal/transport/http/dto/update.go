package dto

type EnqueueUpdateRequest struct {
	Feed    string `json:"feed" validate:"required"`
	Content string `json:"content" validate:"required"`
}
