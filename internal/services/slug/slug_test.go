package slug

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"galleria/internal/domain/models"
	"galleria/internal/lib/slugify"
	"galleria/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// memStore is an in-memory gallery table with a unique slug column.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]string
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]string)}
}

// seed inserts a row bypassing the unique check, like legacy data would.
func (m *memStore) seed(slug string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	m.rows[m.nextID] = slug

	return m.nextID
}

func (m *memStore) GalleryIDsBySlug(_ context.Context, slug string) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64
	for id, s := range m.rows {
		if s == slug {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

func (m *memStore) taken(slug string) bool {
	for _, s := range m.rows {
		if slug != "" && s == slug {
			return true
		}
	}
	return false
}

func (m *memStore) CreateGallery(_ context.Context, g *models.Gallery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.taken(g.Slug) {
		return storage.ErrSlugExists
	}

	m.nextID++
	g.ID = m.nextID
	m.rows[g.ID] = g.Slug

	return nil
}

func (m *memStore) SetGallerySlug(_ context.Context, id int64, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.rows[id]
	if !ok || (current != "" && current != slug) {
		return storage.ErrGalleryNotFound
	}
	if current != slug && m.taken(slug) {
		return storage.ErrSlugExists
	}

	m.rows[id] = slug

	return nil
}

func (m *memStore) DeleteGallery(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.rows, id)

	return nil
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GalleryIDsBySlug(ctx context.Context, slug string) ([]int64, error) {
	args := m.Called(ctx, slug)
	ids, _ := args.Get(0).([]int64)
	return ids, args.Error(1)
}

func (m *MockStore) CreateGallery(ctx context.Context, g *models.Gallery) error {
	args := m.Called(ctx, g)
	if id, ok := args.Get(0).(int64); ok && args.Error(1) == nil {
		g.ID = id
	}
	return args.Error(1)
}

func (m *MockStore) SetGallerySlug(ctx context.Context, id int64, slug string) error {
	args := m.Called(ctx, id, slug)
	return args.Error(0)
}

func (m *MockStore) DeleteGallery(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func TestAllocator_Allocate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		seed     []string
		gallery  models.Gallery
		wantSlug string
		wantID   int64
	}{
		{
			name:     "new gallery without collision",
			gallery:  models.Gallery{Name: "Sunset Boulevard"},
			wantSlug: "sunset-boulevard",
			wantID:   1,
		},
		{
			name:     "accents fold to ascii",
			gallery:  models.Gallery{Name: "Café Déjà Vu"},
			wantSlug: "cafe-deja-vu",
			wantID:   1,
		},
		{
			name:     "collision suffixes the new id",
			seed:     []string{"sunset"},
			gallery:  models.Gallery{Name: "Sunset"},
			wantSlug: "sunset-2",
			wantID:   2,
		},
		{
			name:     "one suffix per colliding row",
			seed:     []string{"sunset", "sunset"},
			gallery:  models.Gallery{Name: "Sunset"},
			wantSlug: "sunset-3-3",
			wantID:   3,
		},
		{
			name:     "existing row without slug",
			seed:     []string{""},
			gallery:  models.Gallery{ID: 1, Name: "Old Gallery"},
			wantSlug: "old-gallery",
			wantID:   1,
		},
		{
			name:     "existing row colliding",
			seed:     []string{"harbour", ""},
			gallery:  models.Gallery{ID: 2, Name: "Harbour"},
			wantSlug: "harbour-2",
			wantID:   2,
		},
		{
			name:     "name without slug characters",
			gallery:  models.Gallery{Name: "!!!"},
			wantSlug: "gallery",
			wantID:   1,
		},
		{
			name:     "truncated before slugify",
			gallery:  models.Gallery{Name: strings.Repeat("a", 70) + " tail"},
			wantSlug: strings.Repeat("a", 63),
			wantID:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			for _, s := range tt.seed {
				store.seed(s)
			}
			a := New(discard, store)

			g := tt.gallery
			slug, err := a.Allocate(ctx, &g)
			require.NoError(t, err)

			assert.Equal(t, tt.wantSlug, slug)
			assert.Equal(t, tt.wantSlug, g.Slug)
			assert.Equal(t, tt.wantID, g.ID)
			assert.Equal(t, tt.wantSlug, store.rows[g.ID])
		})
	}
}

func TestAllocator_Idempotent(t *testing.T) {
	store := new(MockStore)
	a := New(discard, store)

	g := models.Gallery{ID: 4, Name: "Anything", Slug: "kept"}

	for i := 0; i < 2; i++ {
		slug, err := a.Allocate(context.Background(), &g)
		require.NoError(t, err)
		assert.Equal(t, "kept", slug)
	}

	store.AssertNotCalled(t, "GalleryIDsBySlug", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "CreateGallery", mock.Anything, mock.Anything)
}

func TestAllocator_DistinctGalleriesGetDistinctSlugs(t *testing.T) {
	store := newMemStore()
	a := New(discard, store)
	faker := gofakeit.New(7)

	names := []string{"Same Name", "same name", "SAME-NAME", "Same   Name!"}
	for i := 0; i < 10; i++ {
		names = append(names, faker.Sentence(3))
	}

	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, n := range append(names, names...) {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()

			g := models.Gallery{Name: name}
			slug, err := a.Allocate(context.Background(), &g)
			assert.NoError(t, err)
			assert.True(t, slugify.IsValid(slug), slug)

			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[slug], "duplicate slug %q", slug)
			seen[slug] = true
		}(n)
	}
	wg.Wait()

	assert.Len(t, seen, 2*len(names))
}

func TestAllocator_ConcurrentWriterWins(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	a := New(discard, store)

	g := models.Gallery{Name: "Race"}

	// первая проверка чистая, но запись падает на уникальности
	store.On("GalleryIDsBySlug", ctx, "race").Return([]int64{}, nil).Once()
	store.On("CreateGallery", ctx, mock.MatchedBy(func(g *models.Gallery) bool { return g.Slug == "race" })).
		Return(nil, storage.ErrSlugExists).Once()
	store.On("GalleryIDsBySlug", ctx, "race").Return([]int64{9}, nil).Once()
	store.On("CreateGallery", ctx, mock.MatchedBy(func(g *models.Gallery) bool { return g.Slug == "" })).
		Return(int64(10), nil).Once()
	store.On("GalleryIDsBySlug", ctx, "race-10").Return([]int64{}, nil).Once()
	store.On("SetGallerySlug", ctx, int64(10), "race-10").Return(nil).Once()

	slug, err := a.Allocate(ctx, &g)
	require.NoError(t, err)
	assert.Equal(t, "race-10", slug)
	assert.Equal(t, int64(10), g.ID)
	store.AssertExpectations(t)
}

func TestAllocator_Failures(t *testing.T) {
	ctx := context.Background()
	dbErr := errors.New("db down")

	t.Run("lookup error leaves gallery untouched", func(t *testing.T) {
		store := new(MockStore)
		store.On("GalleryIDsBySlug", ctx, "sunset").Return(nil, dbErr).Once()

		g := models.Gallery{Name: "Sunset"}
		_, err := New(discard, store).Allocate(ctx, &g)

		assert.ErrorIs(t, err, dbErr)
		assert.Equal(t, models.Gallery{Name: "Sunset"}, g)
	})

	t.Run("placeholder row removed on failure", func(t *testing.T) {
		store := new(MockStore)
		store.On("GalleryIDsBySlug", ctx, "sunset").Return([]int64{1}, nil).Once()
		store.On("CreateGallery", ctx, mock.Anything).Return(int64(2), nil).Once()
		store.On("GalleryIDsBySlug", ctx, "sunset-2").Return(nil, dbErr).Once()
		store.On("DeleteGallery", mock.Anything, int64(2)).Return(nil).Once()

		g := models.Gallery{Name: "Sunset"}
		_, err := New(discard, store).Allocate(ctx, &g)

		assert.ErrorIs(t, err, dbErr)
		assert.Zero(t, g.ID)
		assert.Empty(t, g.Slug)
		store.AssertExpectations(t)
	})

	t.Run("exhaustion is a conflict", func(t *testing.T) {
		store := new(MockStore)
		store.On("GalleryIDsBySlug", ctx, mock.Anything).Return([]int64{99}, nil)
		store.On("SetGallerySlug", ctx, mock.Anything, mock.Anything).Return(nil)

		g := models.Gallery{ID: 5, Name: "Loop"}
		_, err := New(discard, store).Allocate(ctx, &g)

		assert.ErrorIs(t, err, ErrSlugConflict)
		assert.Empty(t, g.Slug)
		store.AssertNotCalled(t, "SetGallerySlug", mock.Anything, mock.Anything, mock.Anything)
		store.AssertNotCalled(t, "DeleteGallery", mock.Anything, mock.Anything)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		g := models.Gallery{Name: "Sunset"}
		_, err := New(discard, new(MockStore)).Allocate(cctx, &g)

		assert.ErrorIs(t, err, context.Canceled)
	})
}
