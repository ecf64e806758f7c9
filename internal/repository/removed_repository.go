package repository

import (
	"context"
	"fmt"

	"galleria/internal/domain/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4/pgxpool"
)

type RemovedGalleryRepo struct {
	db *pgxpool.Pool
	sb squirrel.StatementBuilderType
}

func NewRemovedGalleryRepo(db *pgxpool.Pool) *RemovedGalleryRepo {
	return &RemovedGalleryRepo{
		db: db,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// IsLinkRemoved проверяет, была ли ссылка ранее удалена оператором
func (r *RemovedGalleryRepo) IsLinkRemoved(ctx context.Context, link string) (bool, error) {
	const op = "repository.RemovedGalleryRepo.IsLinkRemoved"

	query, args, err := r.sb.Select("1").
		Prefix("SELECT EXISTS (").
		From("removed_galleries").
		Where(squirrel.Eq{"link": link}).
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

func (r *RemovedGalleryRepo) ListRemoved(ctx context.Context) ([]models.RemovedGallery, error) {
	const op = "repository.RemovedGalleryRepo.ListRemoved"

	query, args, err := r.sb.Select("id", "link", "created_at").
		From("removed_galleries").
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

	removed := make([]models.RemovedGallery, 0)
	for rows.Next() {
		var rg models.RemovedGallery
		if err := rows.Scan(&rg.ID, &rg.Link, &rg.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		removed = append(removed, rg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return removed, nil
}
