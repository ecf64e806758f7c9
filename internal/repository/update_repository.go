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

var updateColumns = []string{"id", "feed", "content", "created_at", "attempts", "last_attempt_at"}

type UpdateRepo struct {
	db *pgxpool.Pool
	sb squirrel.StatementBuilderType
}

func NewUpdateRepo(db *pgxpool.Pool) *UpdateRepo {
	return &UpdateRepo{
		db: db,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// CreateUpdate ставит пост в очередь на отправку
func (r *UpdateRepo) CreateUpdate(ctx context.Context, update *models.TwitterUpdate) error {
	const op = "repository.UpdateRepo.CreateUpdate"

	query, args, err := r.sb.Insert("twitter_updates").
		Columns("feed", "content").
		Values(update.Feed, update.Content).
		Suffix("RETURNING id, created_at, attempts").
		ToSql()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := r.db.QueryRow(ctx, query, args...).Scan(&update.ID, &update.CreatedAt, &update.Attempts); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (r *UpdateRepo) GetUpdate(ctx context.Context, id int64) (models.TwitterUpdate, error) {
	const op = "repository.UpdateRepo.GetUpdate"

	query, args, err := r.sb.Select(updateColumns...).
		From("twitter_updates").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return models.TwitterUpdate{}, fmt.Errorf("%s: %w", op, err)
	}

	u, err := scanUpdate(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TwitterUpdate{}, fmt.Errorf("%s: %w", op, storage.ErrUpdateNotFound)
		}
		return models.TwitterUpdate{}, fmt.Errorf("%s: %w", op, err)
	}

	return u, nil
}

// DeleteUpdate удаляет отправленный пост из очереди
func (r *UpdateRepo) DeleteUpdate(ctx context.Context, id int64) error {
	const op = "repository.UpdateRepo.DeleteUpdate"

	query, args, err := r.sb.Delete("twitter_updates").
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
		return fmt.Errorf("%s: %w", op, storage.ErrUpdateNotFound)
	}

	return nil
}

// ListPending returns never attempted updates first, then the least recently
// attempted ones, so rows that keep failing do not starve the rest.
func (r *UpdateRepo) ListPending(ctx context.Context, limit int) ([]models.TwitterUpdate, error) {
	const op = "repository.UpdateRepo.ListPending"

	builder := r.sb.Select(updateColumns...).
		From("twitter_updates").
		OrderBy("last_attempt_at NULLS FIRST", "id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	updates := make([]models.TwitterUpdate, 0)
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		updates = append(updates, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return updates, nil
}

// MarkAttempt записывает неудачную попытку отправки
func (r *UpdateRepo) MarkAttempt(ctx context.Context, id int64) error {
	const op = "repository.UpdateRepo.MarkAttempt"

	query, args, err := r.sb.Update("twitter_updates").
		Set("attempts", squirrel.Expr("attempts + 1")).
		Set("last_attempt_at", squirrel.Expr("now()")).
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
		return fmt.Errorf("%s: %w", op, storage.ErrUpdateNotFound)
	}

	return nil
}

func scanUpdate(row pgx.Row) (models.TwitterUpdate, error) {
	var u models.TwitterUpdate
	err := row.Scan(&u.ID, &u.Feed, &u.Content, &u.CreatedAt, &u.Attempts, &u.LastAttemptAt)
	return u, err
}
