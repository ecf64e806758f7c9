package repository

import (
	"context"
	"time"

	"galleria/internal/domain/models"
)

type GalleryRepository interface {
	CreateGallery(ctx context.Context, gallery *models.Gallery) error
	UpdateGallery(ctx context.Context, gallery models.Gallery) error
	SetGallerySlug(ctx context.Context, id int64, slug string) error
	SetGalleryThumbnail(ctx context.Context, id int64, thumbnailURL string) (bool, error)
	DeleteGallery(ctx context.Context, id int64) error
	RemoveGallery(ctx context.Context, id int64) (models.RemovedGallery, error)
	GetGalleryByID(ctx context.Context, id int64) (models.Gallery, error)
	GetGalleryBySlug(ctx context.Context, slug string) (models.Gallery, error)
	GalleryIDsBySlug(ctx context.Context, slug string) ([]int64, error)
	GalleryExistsByHash(ctx context.Context, hash string) (bool, error)
	GetGalleries(ctx context.Context, page, perPage int) ([]models.Gallery, int, error)
	GetGalleriesByTags(ctx context.Context, tags []string, matchAll bool) ([]models.Gallery, error)
}

type RemovedGalleryRepository interface {
	IsLinkRemoved(ctx context.Context, link string) (bool, error)
	ListRemoved(ctx context.Context) ([]models.RemovedGallery, error)
}

type ImageRepository interface {
	CreateImage(ctx context.Context, image *models.GalleryImage) error
	UpdateImageDerived(ctx context.Context, image models.GalleryImage) error
	GetImageByID(ctx context.Context, id int64) (models.GalleryImage, error)
	ListImagesByGallery(ctx context.Context, galleryID int64) ([]models.GalleryImage, error)
	DeleteImage(ctx context.Context, id int64) error
}

type RatingRepository interface {
	CreateRating(ctx context.Context, rating *models.Rating) error
	AverageRating(ctx context.Context, galleryID int64) (avg float64, count int, err error)
}

type UpdateRepository interface {
	CreateUpdate(ctx context.Context, update *models.TwitterUpdate) error
	GetUpdate(ctx context.Context, id int64) (models.TwitterUpdate, error)
	DeleteUpdate(ctx context.Context, id int64) error
	ListPending(ctx context.Context, limit int) ([]models.TwitterUpdate, error)
	MarkAttempt(ctx context.Context, id int64) error
}

type ClaimRepository interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}
