// Package slug assigns collision-free slugs to galleries on first persistence.
package slug

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"galleria/internal/domain/models"
	"galleria/internal/lib/logger/sl"
	"galleria/internal/lib/slugify"
	"galleria/internal/storage"
)

// ErrSlugConflict is returned when the collision loop runs out of attempts.
var ErrSlugConflict = errors.New("slug allocation exhausted")

const (
	defaultMaxAttempts = 8
	// fallbackSlug is used for names that slugify to nothing, e.g. "!!!".
	fallbackSlug = "gallery"
)

// Store is the part of the gallery repository the allocator needs.
type Store interface {
	GalleryIDsBySlug(ctx context.Context, slug string) ([]int64, error)
	CreateGallery(ctx context.Context, gallery *models.Gallery) error
	SetGallerySlug(ctx context.Context, id int64, slug string) error
	DeleteGallery(ctx context.Context, id int64) error
}

type Allocator struct {
	log         *slog.Logger
	store       Store
	locks       *keyedMutex
	maxAttempts int
}

func New(log *slog.Logger, store Store) *Allocator {
	return &Allocator{
		log:         log,
		store:       store,
		locks:       newKeyedMutex(),
		maxAttempts: defaultMaxAttempts,
	}
}

// Allocate returns the gallery slug, deriving and persisting one if the
// gallery has none. A gallery without an ID is inserted as part of the
// allocation. On success the gallery is updated in place (ID, CreatedAt,
// Slug); on failure it is left as it was and any row inserted only to obtain
// an ID is deleted again.
func (a *Allocator) Allocate(ctx context.Context, gallery *models.Gallery) (string, error) {
	const op = "slug.Allocator.Allocate"

	if gallery.Slug != "" {
		return gallery.Slug, nil
	}

	base := slugify.Make(models.Truncate(gallery.Name, models.MaxNameLength))
	if base == "" {
		base = fallbackSlug
	}

	log := a.log.With(
		slog.String("op", op),
		slog.String("base", base),
	)

	unlock := a.locks.Lock(base)
	defer unlock()

	work := *gallery
	createdHere := false

	fail := func(err error) (string, error) {
		if createdHere {
			// строка создана только ради ID, убираем ее
			if delErr := a.store.DeleteGallery(context.WithoutCancel(ctx), work.ID); delErr != nil {
				log.Error("failed to remove placeholder gallery", slog.Int64("id", work.ID), sl.Err(delErr))
			}
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}

	candidate := base
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		ids, err := a.store.GalleryIDsBySlug(ctx, candidate)
		if err != nil {
			return fail(err)
		}

		collisions := 0
		for _, id := range ids {
			if work.ID == 0 || id != work.ID {
				collisions++
			}
		}

		if collisions == 0 {
			err := a.persist(ctx, &work, candidate)
			if err == nil {
				*gallery = work
				log.Info("slug allocated", slog.String("slug", candidate), slog.Int64("gallery_id", work.ID))
				return candidate, nil
			}
			if errors.Is(err, storage.ErrSlugExists) {
				// кто-то занял slug между проверкой и записью
				log.Debug("slug taken concurrently", slog.String("slug", candidate))
				continue
			}
			return fail(err)
		}

		if work.ID == 0 {
			work.Slug = ""
			if err := a.store.CreateGallery(ctx, &work); err != nil {
				return fail(err)
			}
			createdHere = true
		}

		log.Debug("slug collision", slog.String("slug", candidate), slog.Int("collisions", collisions))

		suffix := "-" + strconv.FormatInt(work.ID, 10)
		for i := 0; i < collisions; i++ {
			candidate += suffix
		}
	}

	log.Error("slug allocation exhausted", slog.String("last_candidate", candidate))

	return fail(ErrSlugConflict)
}

func (a *Allocator) persist(ctx context.Context, work *models.Gallery, slug string) error {
	if work.ID == 0 {
		work.Slug = slug
		if err := a.store.CreateGallery(ctx, work); err != nil {
			work.Slug = ""
			work.ID = 0
			return err
		}
		return nil
	}

	if err := a.store.SetGallerySlug(ctx, work.ID, slug); err != nil {
		return err
	}
	work.Slug = slug

	return nil
}

// keyedMutex serializes allocations of the same base slug within the process.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()

	return func() {
		l.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
