package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"galleria/internal/domain/models"
	"galleria/internal/metrics"
	"galleria/internal/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var feeds = map[string]models.FeedCredentials{
	"Account 1": {Username: "twittername1", ConsumerKey: "ck1", ConsumerSecret: "cs1", AccessToken: "at1", AccessSecret: "as1"},
	"Account 2": {Username: "twittername2", ConsumerKey: "ck2", ConsumerSecret: "cs2", AccessToken: "at2", AccessSecret: "as2"},
}

type MockPoster struct {
	mock.Mock
}

func (m *MockPoster) Post(ctx context.Context, creds models.FeedCredentials, text string) (string, error) {
	args := m.Called(ctx, creds, text)
	return args.String(0), args.Error(1)
}

type MockUpdates struct {
	mock.Mock
}

func (m *MockUpdates) CreateUpdate(ctx context.Context, update *models.TwitterUpdate) error {
	args := m.Called(ctx, update)
	if args.Error(0) == nil {
		update.ID = 1
	}
	return args.Error(0)
}

func (m *MockUpdates) GetUpdate(ctx context.Context, id int64) (models.TwitterUpdate, error) {
	args := m.Called(ctx, id)
	update, _ := args.Get(0).(models.TwitterUpdate)
	return update, args.Error(1)
}

func (m *MockUpdates) DeleteUpdate(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUpdates) MarkAttempt(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUpdates) ListPending(ctx context.Context, limit int) ([]models.TwitterUpdate, error) {
	args := m.Called(ctx, limit)
	updates, _ := args.Get(0).([]models.TwitterUpdate)
	return updates, args.Error(1)
}

type MockClaims struct {
	mock.Mock
}

func (m *MockClaims) Claim(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockClaims) Release(ctx context.Context, key, token string) error {
	args := m.Called(ctx, key, token)
	return args.Error(0)
}

// freeClaims always grants the claim.
func freeClaims() *MockClaims {
	c := new(MockClaims)
	c.On("Claim", mock.Anything, mock.Anything, mock.Anything).Return("token", true, nil)
	c.On("Release", mock.Anything, mock.Anything, "token").Return(nil)
	return c
}

type panicPoster struct{}

func (panicPoster) Post(context.Context, models.FeedCredentials, string) (string, error) {
	panic("client exploded")
}

// stallPoster blocks until the submission deadline expires.
type stallPoster struct{}

func (stallPoster) Post(ctx context.Context, _ models.FeedCredentials, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestDispatcher_RunOnce(t *testing.T) {
	ctx := context.Background()
	update := models.TwitterUpdate{ID: 7, Feed: "Account 1", Content: "Café crème ☕"}
	normalized := "Cafe creme "

	tests := []struct {
		name       string
		setup      func(p *MockPoster, u *MockUpdates)
		want       models.Outcome
		wantDelete bool
		wantMark   bool
	}{
		{
			name: "echo matches",
			setup: func(p *MockPoster, u *MockUpdates) {
				p.On("Post", mock.Anything, feeds["Account 1"], normalized).Return(normalized, nil).Once()
				u.On("DeleteUpdate", mock.Anything, int64(7)).Return(nil).Once()
			},
			want:       models.OutcomeCompleted,
			wantDelete: true,
		},
		{
			name: "row already gone",
			setup: func(p *MockPoster, u *MockUpdates) {
				p.On("Post", mock.Anything, mock.Anything, normalized).Return(normalized, nil).Once()
				u.On("DeleteUpdate", mock.Anything, int64(7)).Return(storage.ErrUpdateNotFound).Once()
			},
			want:       models.OutcomeCompleted,
			wantDelete: true,
		},
		{
			name: "delete fails",
			setup: func(p *MockPoster, u *MockUpdates) {
				p.On("Post", mock.Anything, mock.Anything, normalized).Return(normalized, nil).Once()
				u.On("DeleteUpdate", mock.Anything, int64(7)).Return(errors.New("db down")).Once()
			},
			want:       models.OutcomeRetryable,
			wantDelete: true,
			wantMark:   true,
		},
		{
			name: "echo differs",
			setup: func(p *MockPoster, u *MockUpdates) {
				p.On("Post", mock.Anything, mock.Anything, normalized).Return("Cafe creme", nil).Once()
			},
			want:     models.OutcomeRetryable,
			wantMark: true,
		},
		{
			name: "echo is the raw content",
			setup: func(p *MockPoster, u *MockUpdates) {
				p.On("Post", mock.Anything, mock.Anything, normalized).Return(update.Content, nil).Once()
			},
			want:     models.OutcomeRetryable,
			wantMark: true,
		},
		{
			name: "submission fails",
			setup: func(p *MockPoster, u *MockUpdates) {
				p.On("Post", mock.Anything, mock.Anything, normalized).Return("", errors.New("401 unauthorized")).Once()
			},
			want:     models.OutcomeRetryable,
			wantMark: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			poster := new(MockPoster)
			updates := new(MockUpdates)
			updates.On("GetUpdate", mock.Anything, int64(7)).Return(update, nil).Once()
			updates.On("MarkAttempt", mock.Anything, int64(7)).Return(nil).Maybe()
			claims := freeClaims()
			tt.setup(poster, updates)

			d := New(discard, feeds, poster, updates, claims, Options{})

			assert.Equal(t, tt.want, d.RunOnce(ctx, update))

			poster.AssertExpectations(t)
			updates.AssertExpectations(t)
			if !tt.wantDelete {
				updates.AssertNotCalled(t, "DeleteUpdate", mock.Anything, mock.Anything)
			}
			if tt.wantMark {
				updates.AssertCalled(t, "MarkAttempt", mock.Anything, int64(7))
			} else {
				updates.AssertNotCalled(t, "MarkAttempt", mock.Anything, mock.Anything)
			}
			claims.AssertCalled(t, "Claim", mock.Anything, "twitter_update:7", 2*time.Minute)
			claims.AssertCalled(t, "Release", mock.Anything, "twitter_update:7", "token")
		})
	}
}

func TestDispatcher_RunOnceUnknownFeed(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	poster := new(MockPoster)
	updates := new(MockUpdates)
	updates.On("MarkAttempt", mock.Anything, int64(3)).Return(nil).Once()
	claims := new(MockClaims)

	d := New(log, feeds, poster, updates, claims, Options{})

	got := d.RunOnce(context.Background(), models.TwitterUpdate{ID: 3, Feed: "Account 9", Content: "hello"})

	assert.Equal(t, models.OutcomeInvalid, got)
	updates.AssertExpectations(t)
	poster.AssertNotCalled(t, "Post", mock.Anything, mock.Anything, mock.Anything)
	claims.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
	updates.AssertNotCalled(t, "DeleteUpdate", mock.Anything, mock.Anything)

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"feed":"Account 9"`)
	assert.Contains(t, out, `"update_id":3`)
}

func TestDispatcher_RunOnceClaims(t *testing.T) {
	ctx := context.Background()
	update := models.TwitterUpdate{ID: 5, Feed: "Account 2", Content: "hello"}

	t.Run("claimed elsewhere", func(t *testing.T) {
		poster := new(MockPoster)
		claims := new(MockClaims)
		claims.On("Claim", mock.Anything, "twitter_update:5", mock.Anything).Return("", false, nil).Once()

		d := New(discard, feeds, poster, new(MockUpdates), claims, Options{})

		assert.Equal(t, models.OutcomeRetryable, d.RunOnce(ctx, update))
		poster.AssertNotCalled(t, "Post", mock.Anything, mock.Anything, mock.Anything)
		claims.AssertNotCalled(t, "Release", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("claim store down", func(t *testing.T) {
		poster := new(MockPoster)
		claims := new(MockClaims)
		claims.On("Claim", mock.Anything, mock.Anything, mock.Anything).Return("", false, errors.New("redis down")).Once()

		d := New(discard, feeds, poster, new(MockUpdates), claims, Options{})

		assert.Equal(t, models.OutcomeRetryable, d.RunOnce(ctx, update))
		poster.AssertNotCalled(t, "Post", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDispatcher_RunOnceFailuresAreRetryable(t *testing.T) {
	update := models.TwitterUpdate{ID: 11, Feed: "Account 1", Content: "hello"}

	pending := func() *MockUpdates {
		u := new(MockUpdates)
		u.On("GetUpdate", mock.Anything, int64(11)).Return(update, nil).Once()
		u.On("MarkAttempt", mock.Anything, int64(11)).Return(nil).Once()
		return u
	}

	t.Run("panic in client", func(t *testing.T) {
		var buf bytes.Buffer
		updates := pending()
		d := New(slog.New(slog.NewJSONHandler(&buf, nil)), feeds, panicPoster{}, updates, freeClaims(), Options{})

		assert.Equal(t, models.OutcomeRetryable, d.RunOnce(context.Background(), update))
		updates.AssertNotCalled(t, "DeleteUpdate", mock.Anything, mock.Anything)

		out := buf.String()
		assert.Contains(t, out, `"username":"twittername1"`)
		assert.Contains(t, out, `"content":"hello"`)
		assert.Contains(t, out, "client exploded")
	})

	t.Run("submission timeout", func(t *testing.T) {
		updates := pending()
		d := New(discard, feeds, stallPoster{}, updates, freeClaims(), Options{Timeout: 20 * time.Millisecond})

		start := time.Now()
		assert.Equal(t, models.OutcomeRetryable, d.RunOnce(context.Background(), update))
		assert.Less(t, time.Since(start), 2*time.Second)
		updates.AssertNotCalled(t, "DeleteUpdate", mock.Anything, mock.Anything)
		updates.AssertExpectations(t)
	})
}

// memQueue is a queue table backed by a map. Attempted rows go behind the
// untried ones, oldest attempt first.
type memQueue struct {
	mu       sync.Mutex
	nextID   int64
	tick     int64
	rows     map[int64]models.TwitterUpdate
	attempts map[int64]int64
}

func newMemQueue() *memQueue {
	return &memQueue{
		rows:     make(map[int64]models.TwitterUpdate),
		attempts: make(map[int64]int64),
	}
}

func (q *memQueue) CreateUpdate(_ context.Context, u *models.TwitterUpdate) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	u.ID = q.nextID
	q.rows[u.ID] = *u
	return nil
}

func (q *memQueue) GetUpdate(_ context.Context, id int64) (models.TwitterUpdate, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	u, ok := q.rows[id]
	if !ok {
		return models.TwitterUpdate{}, storage.ErrUpdateNotFound
	}
	return u, nil
}

func (q *memQueue) DeleteUpdate(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.rows[id]; !ok {
		return storage.ErrUpdateNotFound
	}
	delete(q.rows, id)
	return nil
}

func (q *memQueue) MarkAttempt(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	u, ok := q.rows[id]
	if !ok {
		return storage.ErrUpdateNotFound
	}
	q.tick++
	q.attempts[id] = q.tick
	u.Attempts++
	q.rows[id] = u
	return nil
}

func (q *memQueue) ListPending(_ context.Context, limit int) ([]models.TwitterUpdate, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]models.TwitterUpdate, 0, len(q.rows))
	for _, u := range q.rows {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := q.attempts[out[i].ID], q.attempts[out[j].ID]
		if ai != aj {
			return ai < aj
		}
		return out[i].ID < out[j].ID
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// countingPoster echoes the text and counts submissions.
type countingPoster struct {
	mu    sync.Mutex
	posts int
}

func (p *countingPoster) Post(_ context.Context, _ models.FeedCredentials, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.posts++
	return text, nil
}

// echoPoster stores whatever it receives, except for one account whose
// responses are mangled.
type echoPoster struct {
	mangle string
}

func (p echoPoster) Post(_ context.Context, creds models.FeedCredentials, text string) (string, error) {
	if creds.Username == p.mangle {
		return strings.ToUpper(text), nil
	}
	return text, nil
}

func TestDispatcher_RunPending(t *testing.T) {
	ctx := context.Background()
	queue := newMemQueue()

	d := New(discard, feeds, echoPoster{mangle: "twittername2"}, queue, freeClaims(), Options{Workers: 2, BatchSize: 10})

	for _, u := range []struct{ feed, content string }{
		{"Account 1", "first"},
		{"Account 1", "second"},
		{"Account 2", "mangled"},
		{"Nobody", "orphan"},
	} {
		_, err := d.Enqueue(ctx, u.feed, u.content)
		require.NoError(t, err)
	}

	summary, err := d.RunPending(ctx)
	require.NoError(t, err)

	assert.Equal(t, Summary{
		models.OutcomeCompleted: 2,
		models.OutcomeRetryable: 1,
		models.OutcomeInvalid:   1,
	}, summary)

	remaining, err := queue.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.ElementsMatch(t, []string{"mangled", "orphan"}, []string{remaining[0].Content, remaining[1].Content})

	// повторный запуск не трогает неподтвержденные строки, кроме как повтором
	summary, err = d.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{models.OutcomeRetryable: 1, models.OutcomeInvalid: 1}, summary)

	remaining, err = queue.ListPending(ctx, 10)
	require.NoError(t, err)
	for _, u := range remaining {
		assert.Equal(t, 2, u.Attempts, u.Content)
	}
}

func TestDispatcher_StaleSnapshotIsNotPostedTwice(t *testing.T) {
	ctx := context.Background()
	queue := newMemQueue()
	poster := &countingPoster{}

	d := New(discard, feeds, poster, queue, freeClaims(), Options{})

	update, err := d.Enqueue(ctx, "Account 1", "only once")
	require.NoError(t, err)

	// оба воркера получили один и тот же снимок из ListPending
	assert.Equal(t, models.OutcomeCompleted, d.RunOnce(ctx, update))
	assert.Equal(t, models.OutcomeCompleted, d.RunOnce(ctx, update))

	assert.Equal(t, 1, poster.posts)
	_, err = queue.GetUpdate(ctx, update.ID)
	assert.ErrorIs(t, err, storage.ErrUpdateNotFound)
}

func TestDispatcher_PostsCurrentRowContent(t *testing.T) {
	ctx := context.Background()
	stale := models.TwitterUpdate{ID: 4, Feed: "Account 1", Content: "old text"}
	current := models.TwitterUpdate{ID: 4, Feed: "Account 2", Content: "new text"}

	updates := new(MockUpdates)
	updates.On("GetUpdate", mock.Anything, int64(4)).Return(current, nil).Once()
	updates.On("DeleteUpdate", mock.Anything, int64(4)).Return(nil).Once()

	poster := new(MockPoster)
	poster.On("Post", mock.Anything, feeds["Account 2"], "new text").Return("new text", nil).Once()

	d := New(discard, feeds, poster, updates, freeClaims(), Options{})

	assert.Equal(t, models.OutcomeCompleted, d.RunOnce(ctx, stale))
	poster.AssertExpectations(t)
	updates.AssertExpectations(t)
}

func TestDispatcher_InvalidRowsDoNotStarveQueue(t *testing.T) {
	ctx := context.Background()
	queue := newMemQueue()
	poster := &countingPoster{}

	d := New(discard, feeds, poster, queue, freeClaims(), Options{Workers: 2, BatchSize: 5})

	for i := 0; i < 5; i++ {
		_, err := d.Enqueue(ctx, "typo", "lost")
		require.NoError(t, err)
	}
	valid, err := d.Enqueue(ctx, "Account 1", "behind the typos")
	require.NoError(t, err)

	summary, err := d.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{models.OutcomeInvalid: 5}, summary)

	summary, err = d.RunPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary[models.OutcomeCompleted])
	assert.Equal(t, 1, poster.posts)

	_, err = queue.GetUpdate(ctx, valid.ID)
	assert.ErrorIs(t, err, storage.ErrUpdateNotFound)
}

func TestDispatcher_UnknownFeedMetricLabel(t *testing.T) {
	ctx := context.Background()
	d := New(discard, feeds, new(MockPoster), newMemQueue(), new(MockClaims), Options{})

	unknown := metrics.DispatchOutcomes.WithLabelValues("unknown", string(models.OutcomeInvalid))
	before := testutil.ToFloat64(unknown)

	d.RunOnce(ctx, models.TwitterUpdate{ID: 1, Feed: "random-feed-name-1", Content: "x"})
	d.RunOnce(ctx, models.TwitterUpdate{ID: 2, Feed: "random-feed-name-2", Content: "x"})

	assert.Equal(t, before+2, testutil.ToFloat64(unknown))
}

func TestDispatcher_RunPendingCancelled(t *testing.T) {
	queue := newMemQueue()
	d := New(discard, feeds, &countingPoster{}, queue, freeClaims(), Options{})

	_, err := d.Enqueue(context.Background(), "Account 1", "later")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = d.RunPending(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatcher_RunPendingListError(t *testing.T) {
	updates := new(MockUpdates)
	updates.On("ListPending", mock.Anything, 50).Return(nil, errors.New("db down")).Once()

	d := New(discard, feeds, new(MockPoster), updates, new(MockClaims), Options{})

	_, err := d.RunPending(context.Background())
	assert.Error(t, err)
}

func TestDispatcher_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("normalizes and truncates content", func(t *testing.T) {
		updates := new(MockUpdates)
		updates.On("CreateUpdate", ctx, mock.Anything).Return(nil).Once()

		d := New(discard, feeds, new(MockPoster), updates, new(MockClaims), Options{})

		got, err := d.Enqueue(ctx, " Account 1 ", "Ünïcödé "+strings.Repeat("x", 300)+" 日本")
		require.NoError(t, err)

		assert.Equal(t, int64(1), got.ID)
		assert.Equal(t, "Account 1", got.Feed)
		assert.Len(t, []rune(got.Content), models.MaxContentLength)
		assert.True(t, strings.HasPrefix(got.Content, "Unicode xxx"))
	})

	t.Run("rejects empty input", func(t *testing.T) {
		updates := new(MockUpdates)
		d := New(discard, feeds, new(MockPoster), updates, new(MockClaims), Options{})

		_, err := d.Enqueue(ctx, "Account 1", "日本")
		assert.ErrorIs(t, err, ErrEmptyUpdate)

		_, err = d.Enqueue(ctx, "", "hello")
		assert.ErrorIs(t, err, ErrEmptyUpdate)

		updates.AssertNotCalled(t, "CreateUpdate", mock.Anything, mock.Anything)
	})

	t.Run("store error", func(t *testing.T) {
		updates := new(MockUpdates)
		updates.On("CreateUpdate", ctx, mock.Anything).Return(errors.New("db down")).Once()

		d := New(discard, feeds, new(MockPoster), updates, new(MockClaims), Options{})

		_, err := d.Enqueue(ctx, "Account 1", "hello")
		assert.Error(t, err)
	})
}
