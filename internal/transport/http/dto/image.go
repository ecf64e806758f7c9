package dto

import "mime/multipart"

type ImageUploadInput struct {
	GalleryID int64                 `json:"gallery_id" validate:"required,min=1"`
	File      *multipart.FileHeader `json:"-" form:"file" validate:"required"`
}
