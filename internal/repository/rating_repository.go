package repository

import (
	"context"
	"fmt"

	"galleria/internal/domain/models"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4/pgxpool"
)

type RatingRepo struct {
	db *pgxpool.Pool
	sb squirrel.StatementBuilderType
}

func NewRatingRepo(db *pgxpool.Pool) *RatingRepo {
	return &RatingRepo{
		db: db,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CreateRating сохраняет оценку. Повторные оценки одного пользователя не
// отклоняются.
func (r *RatingRepo) CreateRating(ctx context.Context, rating *models.Rating) error {
	const op = "repository.RatingRepo.CreateRating"

	query, args, err := r.sb.Insert("ratings").
		Columns("user_id", "gallery_id", "value").
		Values(rating.UserID, rating.GalleryID, rating.Value).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&rating.ID, &rating.CreatedAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *RatingRepo) AverageRating(ctx context.Context, galleryID int64) (float64, int, error) {
	const op = "repository.RatingRepo.AverageRating"

	query, args, err := r.sb.Select("COALESCE(AVG(value), 0)::float8", "COUNT(*)").
		From("ratings").
		Where(squirrel.Eq{"gallery_id": galleryID}).
		ToSql()
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	var (
		avg   float64
		count int
	)
	if err := r.db.QueryRow(ctx, query, args...).Scan(&avg, &count); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	return avg, count, nil
}
