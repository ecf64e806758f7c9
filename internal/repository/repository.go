package repository

import (
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"

	redisapp "galleria/internal/storage/redis"
)

const uniqueViolation = "23505"

type Repository struct {
	Gallery *GalleryRepo
	Removed *RemovedGalleryRepo
	Image   *ImageRepo
	Rating  *RatingRepo
	Update  *UpdateRepo
	Claim   *RedisClaimRepo
}

func NewRepository(db *pgxpool.Pool, rdb *redisapp.Client) *Repository {
	return &Repository{
		Gallery: NewGalleryRepo(db),
		Removed: NewRemovedGalleryRepo(db),
		Image:   NewImageRepo(db),
		Rating:  NewRatingRepo(db),
		Update:  NewUpdateRepo(db),
		Claim:   NewRedisClaimRepo(rdb),
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
