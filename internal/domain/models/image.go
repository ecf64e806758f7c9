package models

import "time"

// GalleryImage: одно изображение, принадлежащее ровно одной галерее
type GalleryImage struct {
	ID           int64     `json:"id" db:"id"`
	GalleryID    int64     `json:"gallery_id" db:"gallery_id"`
	ImagePath    string    `json:"image_path" db:"image_path"`       // Путь к исходнику относительно корня хранилища
	ImageURL     string    `json:"image_url" db:"image_url"`         // Публичный URL исходника
	ThumbnailURL string    `json:"thumbnail_url" db:"thumbnail_url"` // Публичный URL миниатюры
	BlurHash     string    `json:"blur_hash,omitempty" db:"blur_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// HasDerived reports whether the thumbnail step has completed for the image.
func (i GalleryImage) HasDerived() bool {
	return i.ThumbnailURL != "" && i.ImageURL != ""
}
