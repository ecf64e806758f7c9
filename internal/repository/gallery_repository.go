package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"galleria/internal/domain/models"
	"galleria/internal/storage"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/lib/pq"
)

var galleryColumns = []string{
	"id",
	"name",
	"description",
	"keywords",
	"site_name",
	"link",
	"rating",
	"hash_value",
	"created_at",
	"thumbnail_url",
	"slug",
	"tags",
}

type GalleryRepo struct {
	db *pgxpool.Pool
	sb squirrel.StatementBuilderType
}

func NewGalleryRepo(db *pgxpool.Pool) *GalleryRepo {
	return &GalleryRepo{
		db: db,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CreateGallery вставляет галерею и заполняет ID и CreatedAt.
// Пустой slug сохраняется как NULL.
func (r *GalleryRepo) CreateGallery(ctx context.Context, gallery *models.Gallery) error {
	const op = "repository.GalleryRepo.CreateGallery"

	tags := gallery.Tags
	if tags == nil {
		tags = []string{}
	}

	query, args, err := r.sb.Insert("galleries").
		Columns(
			"name",
			"description",
			"keywords",
			"site_name",
			"link",
			"rating",
			"hash_value",
			"thumbnail_url",
			"slug",
			"tags",
		).
		Values(
			gallery.Name,
			gallery.Description,
			gallery.Keywords,
			gallery.SiteName,
			gallery.Link,
			gallery.Rating,
			gallery.HashValue,
			gallery.ThumbnailURL,
			nullString(gallery.Slug),
			tags,
		).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = r.db.QueryRow(ctx, query, args...).Scan(&gallery.ID, &gallery.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrSlugExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// UpdateGallery обновляет изменяемые поля. Slug и created_at не трогаются.
func (r *GalleryRepo) UpdateGallery(ctx context.Context, gallery models.Gallery) error {
	const op = "repository.GalleryRepo.UpdateGallery"

	tags := gallery.Tags
	if tags == nil {
		tags = []string{}
	}

	query, args, err := r.sb.Update("galleries").
		Set("name", gallery.Name).
		Set("description", gallery.Description).
		Set("keywords", gallery.Keywords).
		Set("site_name", gallery.SiteName).
		Set("link", gallery.Link).
		Set("rating", gallery.Rating).
		Set("hash_value", gallery.HashValue).
		Set("thumbnail_url", gallery.ThumbnailURL).
		Set("tags", tags).
		Where(squirrel.Eq{"id": gallery.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrGalleryNotFound)
	}

	return nil
}

// SetGallerySlug assigns a slug to a row that has none yet. An already
// assigned slug is never overwritten.
func (r *GalleryRepo) SetGallerySlug(ctx context.Context, id int64, slug string) error {
	const op = "repository.GalleryRepo.SetGallerySlug"

	query, args, err := r.sb.Update("galleries").
		Set("slug", slug).
		Where(squirrel.Eq{"id": id}).
		Where(squirrel.Or{squirrel.Eq{"slug": nil}, squirrel.Eq{"slug": slug}}).
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrSlugExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrGalleryNotFound)
	}

	return nil
}

// SetGalleryThumbnail sets the cover URL only while it is still empty.
// Reports whether the row was changed.
func (r *GalleryRepo) SetGalleryThumbnail(ctx context.Context, id int64, thumbnailURL string) (bool, error) {
	const op = "repository.GalleryRepo.SetGalleryThumbnail"

	query, args, err := r.sb.Update("galleries").
		Set("thumbnail_url", thumbnailURL).
		Where(squirrel.Eq{"id": id, "thumbnail_url": ""}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteGallery удаляет галерею по ID
func (r *GalleryRepo) DeleteGallery(ctx context.Context, id int64) error {
	const op = "repository.GalleryRepo.DeleteGallery"

	query, args, err := r.sb.Delete("galleries").
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
		return fmt.Errorf("%s: %w", op, storage.ErrGalleryNotFound)
	}

	return nil
}

// RemoveGallery records the gallery link as removed and deletes the gallery
// with its images in one transaction.
func (r *GalleryRepo) RemoveGallery(ctx context.Context, id int64) (models.RemovedGallery, error) {
	const op = "repository.GalleryRepo.RemoveGallery"

	var removed models.RemovedGallery

	err := r.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		query, args, err := r.sb.Select("link").
			From("galleries").
			Where(squirrel.Eq{"id": id}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return err
		}

		var link string
		if err := tx.QueryRow(ctx, query, args...).Scan(&link); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storage.ErrGalleryNotFound
			}
			return err
		}

		query, args, err = r.sb.Insert("removed_galleries").
			Columns("link").
			Values(link).
			Suffix("ON CONFLICT (link) DO UPDATE SET link = EXCLUDED.link RETURNING id, link, created_at").
			ToSql()
		if err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, query, args...).Scan(&removed.ID, &removed.Link, &removed.CreatedAt); err != nil {
			return err
		}

		query, args, err = r.sb.Delete("galleries").Where(squirrel.Eq{"id": id}).ToSql()
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return models.RemovedGallery{}, fmt.Errorf("%s: %w", op, err)
	}

	return removed, nil
}

// GetGalleryByID возвращает галерею по ID
func (r *GalleryRepo) GetGalleryByID(ctx context.Context, id int64) (models.Gallery, error) {
	const op = "repository.GalleryRepo.GetGalleryByID"

	return r.getOne(ctx, op, squirrel.Eq{"id": id})
}

// GetGalleryBySlug возвращает галерею по slug
func (r *GalleryRepo) GetGalleryBySlug(ctx context.Context, slug string) (models.Gallery, error) {
	const op = "repository.GalleryRepo.GetGalleryBySlug"

	return r.getOne(ctx, op, squirrel.Eq{"slug": slug})
}

func (r *GalleryRepo) getOne(ctx context.Context, op string, where squirrel.Sqlizer) (models.Gallery, error) {
	query, args, err := r.sb.Select(galleryColumns...).
		From("galleries").
		Where(where).
		ToSql()
	if err != nil {
		return models.Gallery{}, fmt.Errorf("%s: %w", op, err)
	}

	gallery, err := scanGallery(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Gallery{}, fmt.Errorf("%s: %w", op, storage.ErrGalleryNotFound)
		}
		return models.Gallery{}, fmt.Errorf("%s: %w", op, err)
	}

	return gallery, nil
}

// GalleryIDsBySlug returns the ids of every gallery holding slug.
func (r *GalleryRepo) GalleryIDsBySlug(ctx context.Context, slug string) ([]int64, error) {
	const op = "repository.GalleryRepo.GalleryIDsBySlug"

	query, args, err := r.sb.Select("id").
		From("galleries").
		Where(squirrel.Eq{"slug": slug}).
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

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return ids, nil
}

func (r *GalleryRepo) GalleryExistsByHash(ctx context.Context, hash string) (bool, error) {
	const op = "repository.GalleryRepo.GalleryExistsByHash"

	query, args, err := r.sb.Select("1").
		Prefix("SELECT EXISTS (").
		From("galleries").
		Where(squirrel.Eq{"hash_value": hash}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exists, nil
}

func (r *GalleryRepo) GetGalleries(ctx context.Context, page, perPage int) ([]models.Gallery, int, error) {
	const op = "repository.GalleryRepo.GetGalleries"

	// Проверка и корректировка параметров пагинации
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}

	totalCount, err := r.getTotalCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	query, args, err := r.sb.Select(galleryColumns...).
		From("galleries").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(perPage)).
		Offset(uint64((page - 1) * perPage)).
		ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	galleries, err := r.queryGalleries(ctx, query, args)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	return galleries, totalCount, nil
}

// Вспомогательная функция для получения общего количества записей
func (r *GalleryRepo) getTotalCount(ctx context.Context) (int, error) {
	query, args, err := r.sb.Select("COUNT(*)").From("galleries").ToSql()
	if err != nil {
		return 0, fmt.Errorf("error build query: %w", err)
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("error execute query: %w (SQL: %s)", err, query)
	}

	return count, nil
}

// GetGalleriesByTags возвращает галереи, отфильтрованные по тегам.
// Теги сравниваются без учета регистра.
func (r *GalleryRepo) GetGalleriesByTags(
	ctx context.Context,
	tags []string, // Теги для фильтрации
	matchAll bool, // true: AND-фильтр (все теги), false: OR-фильтр (любой из тегов)
) ([]models.Gallery, error) {
	const op = "repository.GalleryRepo.GetGalleriesByTags"

	queryBuilder := r.sb.Select(galleryColumns...).From("galleries")

	if len(tags) > 0 {
		lowered := make([]string, 0, len(tags))
		for _, t := range tags {
			lowered = append(lowered, strings.ToLower(strings.TrimSpace(t)))
		}

		if matchAll {
			queryBuilder = queryBuilder.Where("ARRAY(SELECT lower(t) FROM unnest(tags) AS t) @> ?::text[]", pq.Array(lowered))
		} else {
			queryBuilder = queryBuilder.Where("ARRAY(SELECT lower(t) FROM unnest(tags) AS t) && ?::text[]", pq.Array(lowered))
		}
	}

	query, args, err := queryBuilder.OrderBy("created_at DESC", "id DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	galleries, err := r.queryGalleries(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return galleries, nil
}

func (r *GalleryRepo) queryGalleries(ctx context.Context, query string, args []interface{}) ([]models.Gallery, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	galleries := make([]models.Gallery, 0)
	for rows.Next() {
		gallery, err := scanGallery(rows)
		if err != nil {
			return nil, err
		}
		galleries = append(galleries, gallery)
	}

	return galleries, rows.Err()
}

func scanGallery(row pgx.Row) (models.Gallery, error) {
	var (
		gallery models.Gallery
		slug    *string
	)

	err := row.Scan(
		&gallery.ID,
		&gallery.Name,
		&gallery.Description,
		&gallery.Keywords,
		&gallery.SiteName,
		&gallery.Link,
		&gallery.Rating,
		&gallery.HashValue,
		&gallery.CreatedAt,
		&gallery.ThumbnailURL,
		&slug,
		&gallery.Tags,
	)
	if err != nil {
		return models.Gallery{}, err
	}

	if slug != nil {
		gallery.Slug = *slug
	}

	return gallery, nil
}
