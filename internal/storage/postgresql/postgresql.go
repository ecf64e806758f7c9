package postgresql

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

type Storage struct {
	db *pgxpool.Pool
}

// schema создает таблицы, если их еще нет. Повторный запуск безопасен.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS galleries (
		id            BIGSERIAL PRIMARY KEY,
		name          VARCHAR(63)  NOT NULL,
		description   TEXT         NOT NULL DEFAULT '',
		keywords      VARCHAR(255) NOT NULL DEFAULT '',
		site_name     VARCHAR(63)  NOT NULL DEFAULT '',
		link          TEXT         NOT NULL,
		rating        NUMERIC(2,1) CHECK (rating >= 0 AND rating <= 9.9),
		hash_value    VARCHAR(63)  NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
		thumbnail_url TEXT         NOT NULL DEFAULT '',
		slug          TEXT UNIQUE,
		tags          TEXT[]       NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS galleries_hash_value_idx ON galleries (hash_value)`,
	`CREATE TABLE IF NOT EXISTS removed_galleries (
		id         BIGSERIAL PRIMARY KEY,
		link       TEXT        NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS gallery_images (
		id            BIGSERIAL PRIMARY KEY,
		gallery_id    BIGINT      NOT NULL REFERENCES galleries (id) ON DELETE CASCADE,
		image_path    TEXT        NOT NULL,
		image_url     TEXT        NOT NULL DEFAULT '',
		thumbnail_url TEXT        NOT NULL DEFAULT '',
		blur_hash     TEXT        NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS gallery_images_gallery_id_idx ON gallery_images (gallery_id, id)`,
	`CREATE TABLE IF NOT EXISTS ratings (
		id         BIGSERIAL PRIMARY KEY,
		user_id    UUID         NOT NULL,
		gallery_id BIGINT       NOT NULL REFERENCES galleries (id) ON DELETE CASCADE,
		value      NUMERIC(2,1) NOT NULL CHECK (value >= 0 AND value <= 9.9),
		created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS twitter_updates (
		id         BIGSERIAL PRIMARY KEY,
		feed       VARCHAR(63)  NOT NULL,
		content    VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
	)`,
	`ALTER TABLE twitter_updates ADD COLUMN IF NOT EXISTS attempts INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE twitter_updates ADD COLUMN IF NOT EXISTS last_attempt_at TIMESTAMPTZ`,
	`CREATE INDEX IF NOT EXISTS twitter_updates_pending_idx ON twitter_updates (last_attempt_at NULLS FIRST, id)`,
}

func New(ctx context.Context, storagePath string) (*Storage, error) {
	const op = "storage.postgresql.New"

	db, err := pgxpool.Connect(ctx, storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

// Migrate применяет схему базы данных
func (s *Storage) Migrate(ctx context.Context) error {
	const op = "storage.postgresql.Migrate"

	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	return nil
}

func (s *Storage) Pool() *pgxpool.Pool {
	return s.db
}

func (s *Storage) HealthCheck(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Storage) Stop() {
	s.db.Close()
}
