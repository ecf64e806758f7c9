package repository

import (
	"context"
	"errors"
	"fmt"

	"galleria/internal/domain/models"
	"galleria/internal/storage"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

var imageColumns = []string{
	"id",
	"gallery_id",
	"image_path",
	"image_url",
	"thumbnail_url",
	"blur_hash",
	"created_at",
}

type ImageRepo struct {
	db *pgxpool.Pool
	sb squirrel.StatementBuilderType
}

func NewImageRepo(db *pgxpool.Pool) *ImageRepo {
	return &ImageRepo{
		db: db,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CreateImage is the first phase of an image save: it stores the source
// reference and assigns the identity the derived paths are named after.
func (r *ImageRepo) CreateImage(ctx context.Context, image *models.GalleryImage) error {
	const op = "repository.ImageRepo.CreateImage"

	query, args, err := r.sb.Insert("gallery_images").
		Columns("gallery_id", "image_path").
		Values(image.GalleryID, image.ImagePath).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&image.ID, &image.CreatedAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UpdateImageDerived is the second phase: all derived fields are written in
// a single statement.
func (r *ImageRepo) UpdateImageDerived(ctx context.Context, image models.GalleryImage) error {
	const op = "repository.ImageRepo.UpdateImageDerived"

	query, args, err := r.sb.Update("gallery_images").
		Set("image_url", image.ImageURL).
		Set("thumbnail_url", image.ThumbnailURL).
		Set("blur_hash", image.BlurHash).
		Where(squirrel.Eq{"id": image.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrImageNotFound)
	}

	return nil
}

func (r *ImageRepo) GetImageByID(ctx context.Context, id int64) (models.GalleryImage, error) {
	const op = "repository.ImageRepo.GetImageByID"

	query, args, err := r.sb.Select(imageColumns...).
		From("gallery_images").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return models.GalleryImage{}, fmt.Errorf("%s: %w", op, err)
	}

	image, err := scanImage(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.GalleryImage{}, fmt.Errorf("%s: %w", op, storage.ErrImageNotFound)
		}
		return models.GalleryImage{}, fmt.Errorf("%s: %w", op, err)
	}

	return image, nil
}

// ListImagesByGallery returns the images of a gallery in insertion order.
func (r *ImageRepo) ListImagesByGallery(ctx context.Context, galleryID int64) ([]models.GalleryImage, error) {
	const op = "repository.ImageRepo.ListImagesByGallery"

	query, args, err := r.sb.Select(imageColumns...).
		From("gallery_images").
		Where(squirrel.Eq{"gallery_id": galleryID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	images := make([]models.GalleryImage, 0)
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		images = append(images, image)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return images, nil
}

func (r *ImageRepo) DeleteImage(ctx context.Context, id int64) error {
	const op = "repository.ImageRepo.DeleteImage"

	query, args, err := r.sb.Delete("gallery_images").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrImageNotFound)
	}

	return nil
}

func scanImage(row pgx.Row) (models.GalleryImage, error) {
	var image models.GalleryImage

	err := row.Scan(
		&image.ID,
		&image.GalleryID,
		&image.ImagePath,
		&image.ImageURL,
		&image.ThumbnailURL,
		&image.BlurHash,
		&image.CreatedAt,
	)

	return image, err
}
