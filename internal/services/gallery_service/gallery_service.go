package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"galleria/internal/domain/models"
	"galleria/internal/lib/logger/sl"
	"galleria/internal/repository"
	"galleria/internal/services/preview"
	"galleria/internal/storage"
	"galleria/internal/transport/http/dto"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrLinkRemoved      = errors.New("link was removed by an operator")
	ErrDuplicateGallery = errors.New("gallery with the same content already exists")
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// SlugAllocator assigns the permanent slug and performs the first write of a
// new gallery.
type SlugAllocator interface {
	Allocate(ctx context.Context, gallery *models.Gallery) (string, error)
}

// Blobs удаляет файлы изображений из хранилища
type Blobs interface {
	Delete(ctx context.Context, filePath string) error
}

type ThumbnailLocator interface {
	ThumbnailPath(gallerySlug string, imageID int64) string
}

type GalleryService struct {
	log        *slog.Logger
	repo       repository.GalleryRepository
	removed    repository.RemovedGalleryRepository
	images     repository.ImageRepository
	ratings    repository.RatingRepository
	slugs      SlugAllocator
	blobs      Blobs
	thumbnails ThumbnailLocator
	// tombstones caches links known to be removed; removal is permanent, so
	// only positive answers are kept
	tombstones *cache.Cache
}

func NewGalleryService(
	log *slog.Logger,
	repo repository.GalleryRepository,
	removed repository.RemovedGalleryRepository,
	images repository.ImageRepository,
	ratings repository.RatingRepository,
	slugs SlugAllocator,
	blobs Blobs,
	thumbnails ThumbnailLocator,
) *GalleryService {
	return &GalleryService{
		log:        log,
		repo:       repo,
		removed:    removed,
		images:     images,
		ratings:    ratings,
		slugs:      slugs,
		blobs:      blobs,
		thumbnails: thumbnails,
		tombstones: cache.New(time.Hour, 10*time.Minute),
	}
}

// ContentHash fingerprints submitted page content for duplicate detection.
func ContentHash(content []byte) string {
	sum := blake2b.Sum256(content)
	return models.Truncate(hex.EncodeToString(sum[:]), models.MaxHashLength)
}

// CreateGallery создает новую галерею: проверки, затем выдача slug, которая
// и является первой записью в базу
func (s *GalleryService) CreateGallery(ctx context.Context, req dto.CreateGalleryRequest) (models.Gallery, error) {
	const op = "service.GalleryService.CreateGallery"

	log := s.log.With(
		slog.String("op", op),
		slog.String("link", req.Link),
	)

	log.Info("creating gallery")

	gallery := req.ToDomain()
	if gallery.HashValue == "" && req.PageContent != "" {
		gallery.HashValue = ContentHash([]byte(req.PageContent))
	}

	gallery.Normalize()
	if err := gallery.Validate(); err != nil {
		log.Warn("invalid gallery", sl.Err(err))
		return models.Gallery{}, fmt.Errorf("%s: %w", op, err)
	}
	if gallery.Rating != nil {
		r := models.RoundRating(*gallery.Rating)
		gallery.Rating = &r
	}

	removed, err := s.isLinkRemoved(ctx, gallery.Link)
	if err != nil {
		log.Error("failed to check removed links", sl.Err(err))
		return models.Gallery{}, fmt.Errorf("%s: %w", op, err)
	}
	if removed {
		log.Warn("link was removed earlier")
		return models.Gallery{}, fmt.Errorf("%s: %w", op, ErrLinkRemoved)
	}

	if gallery.HashValue != "" {
		exists, err := s.repo.GalleryExistsByHash(ctx, gallery.HashValue)
		if err != nil {
			log.Error("failed to check duplicates", sl.Err(err))
			return models.Gallery{}, fmt.Errorf("%s: %w", op, err)
		}
		if exists {
			log.Warn("duplicate gallery", slog.String("hash", gallery.HashValue))
			return models.Gallery{}, fmt.Errorf("%s: %w", op, ErrDuplicateGallery)
		}
	}

	if _, err := s.slugs.Allocate(ctx, &gallery); err != nil {
		log.Error("failed to save gallery", sl.Err(err))
		return models.Gallery{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("gallery created", slog.Int64("id", gallery.ID), slog.String("slug", gallery.Slug))

	return gallery, nil
}

// UpdateGallery applies a partial edit to the stored gallery.
func (s *GalleryService) UpdateGallery(ctx context.Context, id int64, req dto.UpdateGalleryRequest) (models.Gallery, error) {
	const op = "service.GalleryService.UpdateGallery"

	before, err := s.repo.GetGalleryByID(ctx, id)
	if err != nil {
		return models.Gallery{}, fmt.Errorf("%s: %w", op, err)
	}

	return s.ApplyChange(ctx, models.GalleryChange{Before: before, After: req.Apply(before)})
}

// ApplyChange saves change.After. Identity, slug and creation time always
// come from change.Before; a stored row without a slug gets one here.
func (s *GalleryService) ApplyChange(ctx context.Context, change models.GalleryChange) (models.Gallery, error) {
	const op = "service.GalleryService.ApplyChange"

	log := s.log.With(
		slog.String("op", op),
		slog.Int64("gallery_id", change.Before.ID),
	)

	if change.Before.ID == 0 {
		return models.Gallery{}, fmt.Errorf("%s: %w", op, storage.ErrGalleryNotFound)
	}

	after := change.After
	after.ID = change.Before.ID
	after.Slug = change.Before.Slug
	after.CreatedAt = change.Before.CreatedAt

	after.Normalize()
	if err := after.Validate(); err != nil {
		log.Warn("invalid gallery", sl.Err(err))
		return models.Gallery{}, fmt.Errorf("%s: %w", op, err)
	}
	if after.Rating != nil {
		r := models.RoundRating(*after.Rating)
		after.Rating = &r
	}

	fields := models.GalleryChange{Before: change.Before, After: after}.ChangedFields()

	if len(fields) > 0 {
		if err := s.repo.UpdateGallery(ctx, after); err != nil {
			log.Error("failed to update gallery", sl.Err(err))
			return models.Gallery{}, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("gallery updated", slog.Any("fields", fields))
	}

	if after.Slug == "" {
		if _, err := s.slugs.Allocate(ctx, &after); err != nil {
			log.Error("failed to allocate slug", sl.Err(err))
			return models.Gallery{}, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("slug allocated", slog.String("slug", after.Slug))
	}

	return after, nil
}

func (s *GalleryService) GetGalleryByID(ctx context.Context, id int64) (models.Gallery, error) {
	const op = "service.GalleryService.GetGalleryByID"

	gallery, err := s.repo.GetGalleryByID(ctx, id)
	if err != nil {
		return models.Gallery{}, fmt.Errorf("%s: %w", op, err)
	}

	return gallery, nil
}

func (s *GalleryService) GetGalleryBySlug(ctx context.Context, slug string) (models.Gallery, error) {
	const op = "service.GalleryService.GetGalleryBySlug"

	gallery, err := s.repo.GetGalleryBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
	if err != nil {
		return models.Gallery{}, fmt.Errorf("%s: %w", op, err)
	}

	return gallery, nil
}

// GetGalleries возвращает страницу галерей, новые первыми
func (s *GalleryService) GetGalleries(ctx context.Context, page, perPage int) (dto.GalleryListResponse, error) {
	const op = "service.GalleryService.GetGalleries"

	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	galleries, total, err := s.repo.GetGalleries(ctx, page, perPage)
	if err != nil {
		s.log.Error("failed to get galleries", slog.String("op", op), sl.Err(err))
		return dto.GalleryListResponse{}, fmt.Errorf("%s: %w", op, err)
	}

	return dto.GalleryListResponse{
		Galleries: galleries,
		Total:     total,
		Page:      page,
		PerPage:   perPage,
	}, nil
}

// GetGalleriesByTags matches tags case-insensitively: any of them, or all
// of them when matchAll is set.
func (s *GalleryService) GetGalleriesByTags(ctx context.Context, tags []string, matchAll bool) ([]models.Gallery, error) {
	const op = "service.GalleryService.GetGalleriesByTags"

	normalized := dto.NormalizeTags(tags)
	for i, t := range normalized {
		normalized[i] = strings.ToLower(t)
	}
	if len(normalized) == 0 {
		return []models.Gallery{}, nil
	}

	galleries, err := s.repo.GetGalleriesByTags(ctx, normalized, matchAll)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return galleries, nil
}

// RemoveGallery is the operator's removal: the link is tombstoned, the row
// and its images are deleted, then the image files.
func (s *GalleryService) RemoveGallery(ctx context.Context, id int64) error {
	const op = "service.GalleryService.RemoveGallery"

	log := s.log.With(
		slog.String("op", op),
		slog.Int64("gallery_id", id),
	)

	gallery, err := s.repo.GetGalleryByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	images, err := s.images.ListImagesByGallery(ctx, id)
	if err != nil {
		log.Error("failed to list images", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	tombstone, err := s.repo.RemoveGallery(ctx, id)
	if err != nil {
		log.Error("failed to remove gallery", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	s.tombstones.Set(tombstone.Link, true, cache.NoExpiration)

	// строки уже удалены, ошибки удаления файлов только логируем
	for _, img := range images {
		paths := []string{img.ImagePath}
		if gallery.Slug != "" && img.ThumbnailURL != "" {
			paths = append(paths, s.thumbnails.ThumbnailPath(gallery.Slug, img.ID))
		}
		for _, p := range paths {
			if err := s.blobs.Delete(ctx, p); err != nil {
				log.Warn("failed to delete file", slog.String("path", p), sl.Err(err))
			}
		}
	}

	log.Info("gallery removed", slog.String("link", tombstone.Link), slog.Int("images", len(images)))

	return nil
}

// Previews returns the handful of images shown on gallery cards.
func (s *GalleryService) Previews(ctx context.Context, id int64) ([]models.GalleryImage, error) {
	const op = "service.GalleryService.Previews"

	if _, err := s.repo.GetGalleryByID(ctx, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	images, err := s.images.ListImagesByGallery(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return preview.Select(images), nil
}

// RateGallery stores one user's rating and returns the gallery's aggregate.
func (s *GalleryService) RateGallery(ctx context.Context, id int64, userID uuid.UUID, value float64) (dto.RatingSummary, error) {
	const op = "service.GalleryService.RateGallery"

	log := s.log.With(
		slog.String("op", op),
		slog.Int64("gallery_id", id),
	)

	if err := models.ValidateRating(value); err != nil {
		return dto.RatingSummary{}, fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.repo.GetGalleryByID(ctx, id); err != nil {
		return dto.RatingSummary{}, fmt.Errorf("%s: %w", op, err)
	}

	rating := models.Rating{
		UserID:    userID,
		GalleryID: id,
		Value:     models.RoundRating(value),
	}
	if err := s.ratings.CreateRating(ctx, &rating); err != nil {
		log.Error("failed to save rating", sl.Err(err))
		return dto.RatingSummary{}, fmt.Errorf("%s: %w", op, err)
	}

	avg, count, err := s.ratings.AverageRating(ctx, id)
	if err != nil {
		return dto.RatingSummary{}, fmt.Errorf("%s: %w", op, err)
	}

	return dto.RatingSummary{
		GalleryID: id,
		Average:   models.RoundRating(avg),
		Count:     count,
	}, nil
}

func (s *GalleryService) isLinkRemoved(ctx context.Context, link string) (bool, error) {
	if _, ok := s.tombstones.Get(link); ok {
		return true, nil
	}

	removed, err := s.removed.IsLinkRemoved(ctx, link)
	if err != nil {
		return false, err
	}
	if removed {
		s.tombstones.Set(link, true, cache.NoExpiration)
	}

	return removed, nil
}
