package services

import (
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"path"
	"path/filepath"
	"strings"

	"galleria/internal/domain/models"
	"galleria/internal/lib/logger/sl"
	"galleria/internal/repository"
	"galleria/internal/services/thumbnail"
	"galleria/internal/storage"
	"galleria/internal/transport/http/dto"
)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

type ImageFiles interface {
	Save(ctx context.Context, file *multipart.FileHeader, subPath string) (filePath string, fileSize int64, err error)
	Delete(ctx context.Context, filePath string) error
}

type Synthesizer interface {
	Synthesize(ctx context.Context, img models.GalleryImage, gallerySlug string) (thumbnail.Derived, error)
}

type SlugAllocator interface {
	Allocate(ctx context.Context, gallery *models.Gallery) (string, error)
}

type ImageService struct {
	log         *slog.Logger
	galleries   repository.GalleryRepository
	images      repository.ImageRepository
	files       ImageFiles
	compositor  Synthesizer
	slugs       SlugAllocator
	galleryRoot string
}

func NewImageService(
	log *slog.Logger,
	galleries repository.GalleryRepository,
	images repository.ImageRepository,
	files ImageFiles,
	compositor Synthesizer,
	slugs SlugAllocator,
	galleryRoot string,
) *ImageService {
	return &ImageService{
		log:         log,
		galleries:   galleries,
		images:      images,
		files:       files,
		compositor:  compositor,
		slugs:       slugs,
		galleryRoot: galleryRoot,
	}
}

// AddImage stores an uploaded source under the gallery's directory, saves
// the row, then renders the thumbnail and saves the derived fields. When
// rendering fails the row stays without derived fields and the error is
// returned; RegenerateThumbnail can finish it later.
func (s *ImageService) AddImage(ctx context.Context, input dto.ImageUploadInput) (models.GalleryImage, error) {
	const op = "image_service.AddImage"

	log := s.log.With(
		slog.String("op", op),
		slog.Int64("gallery_id", input.GalleryID),
	)

	if input.File == nil {
		return models.GalleryImage{}, fmt.Errorf("%s: %w", op, storage.ErrFileNotFound)
	}

	ext := strings.ToLower(filepath.Ext(input.File.Filename))
	if !allowedExtensions[ext] {
		log.Warn("unsupported file type", slog.String("filename", input.File.Filename))
		return models.GalleryImage{}, fmt.Errorf("%s: %w", op, storage.ErrInvalidFileType)
	}

	gallery, err := s.gallery(ctx, input.GalleryID)
	if err != nil {
		return models.GalleryImage{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("upload image", slog.String("filename", input.File.Filename))

	filePath, fileSize, err := s.files.Save(ctx, input.File, path.Join(s.galleryRoot, gallery.Slug))
	if err != nil {
		log.Error("failed to save file", sl.Err(err))
		return models.GalleryImage{}, fmt.Errorf("%s: %w", op, err)
	}

	img := models.GalleryImage{
		GalleryID: gallery.ID,
		ImagePath: filepath.ToSlash(filePath),
	}

	if err := s.images.CreateImage(ctx, &img); err != nil {
		// Удаляем файл если не удалось сохранить в БД
		_ = s.files.Delete(context.WithoutCancel(ctx), filePath)
		log.Error("failed to save image to database", sl.Err(err))
		return models.GalleryImage{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Debug("image saved", slog.Int64("image_id", img.ID), slog.Int64("size", fileSize))

	img, err = s.finish(ctx, gallery, img)
	if err != nil {
		return img, fmt.Errorf("%s: %w", op, err)
	}

	return img, nil
}

// RegenerateThumbnail renders the thumbnail of a stored image again and
// saves the derived fields.
func (s *ImageService) RegenerateThumbnail(ctx context.Context, imageID int64) (models.GalleryImage, error) {
	const op = "image_service.RegenerateThumbnail"

	img, err := s.images.GetImageByID(ctx, imageID)
	if err != nil {
		return models.GalleryImage{}, fmt.Errorf("%s: %w", op, err)
	}

	gallery, err := s.gallery(ctx, img.GalleryID)
	if err != nil {
		return models.GalleryImage{}, fmt.Errorf("%s: %w", op, err)
	}

	img, err = s.finish(ctx, gallery, img)
	if err != nil {
		return img, fmt.Errorf("%s: %w", op, err)
	}

	return img, nil
}

// ListImages возвращает изображения галереи в порядке добавления
func (s *ImageService) ListImages(ctx context.Context, galleryID int64) ([]models.GalleryImage, error) {
	const op = "image_service.ListImages"

	if _, err := s.galleries.GetGalleryByID(ctx, galleryID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	images, err := s.images.ListImagesByGallery(ctx, galleryID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return images, nil
}

// gallery loads the gallery and gives a legacy row its slug, since image
// paths live under it.
func (s *ImageService) gallery(ctx context.Context, id int64) (models.Gallery, error) {
	gallery, err := s.galleries.GetGalleryByID(ctx, id)
	if err != nil {
		return models.Gallery{}, err
	}

	if gallery.Slug == "" {
		if _, err := s.slugs.Allocate(ctx, &gallery); err != nil {
			return models.Gallery{}, err
		}
	}

	return gallery, nil
}

func (s *ImageService) finish(ctx context.Context, gallery models.Gallery, img models.GalleryImage) (models.GalleryImage, error) {
	log := s.log.With(
		slog.Int64("gallery_id", gallery.ID),
		slog.Int64("image_id", img.ID),
	)

	derived, err := s.compositor.Synthesize(ctx, img, gallery.Slug)
	if err != nil {
		log.Error("thumbnail synthesis failed, derived fields not saved", sl.Err(err))
		return img, err
	}

	img.ImageURL = derived.ImageURL
	img.ThumbnailURL = derived.ThumbnailURL
	img.BlurHash = derived.BlurHash

	if err := s.images.UpdateImageDerived(ctx, img); err != nil {
		log.Error("failed to save derived fields", sl.Err(err))
		return img, err
	}

	if gallery.ThumbnailURL == "" {
		set, err := s.galleries.SetGalleryThumbnail(ctx, gallery.ID, img.ThumbnailURL)
		if err != nil {
			log.Warn("failed to set gallery thumbnail", sl.Err(err))
		} else if set {
			log.Info("gallery thumbnail set")
		}
	}

	return img, nil
}
