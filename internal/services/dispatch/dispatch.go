// Package dispatch drains the queue of outbound posts to the configured feeds.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"galleria/internal/domain/models"
	"galleria/internal/lib/latin1"
	"galleria/internal/lib/logger/sl"
	"galleria/internal/metrics"
	"galleria/internal/storage"
)

var (
	ErrInvalidFeed  = errors.New("feed has no configured credentials")
	ErrEchoMismatch = errors.New("posted text differs from the queued content")
	ErrEmptyUpdate  = errors.New("feed and content are required")
)

const (
	defaultTimeout   = 15 * time.Second
	defaultClaimTTL  = 2 * time.Minute
	defaultBatchSize = 50
	defaultWorkers   = 4
	cleanupTimeout   = 5 * time.Second
	unknownFeedLabel = "unknown"
)

// Poster publishes text as the account described by creds and returns the
// text the remote service stored.
type Poster interface {
	Post(ctx context.Context, creds models.FeedCredentials, text string) (string, error)
}

type Updates interface {
	CreateUpdate(ctx context.Context, update *models.TwitterUpdate) error
	GetUpdate(ctx context.Context, id int64) (models.TwitterUpdate, error)
	DeleteUpdate(ctx context.Context, id int64) error
	// ListPending returns never attempted rows first, then the least
	// recently attempted ones.
	ListPending(ctx context.Context, limit int) ([]models.TwitterUpdate, error)
	MarkAttempt(ctx context.Context, id int64) error
}

type Claims interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

type Options struct {
	// Timeout bounds authentication plus submission of one post.
	Timeout   time.Duration
	ClaimTTL  time.Duration
	BatchSize int
	Workers   int
}

type Dispatcher struct {
	log     *slog.Logger
	feeds   map[string]models.FeedCredentials
	poster  Poster
	updates Updates
	claims  Claims
	opts    Options
}

func New(
	log *slog.Logger,
	feeds map[string]models.FeedCredentials,
	poster Poster,
	updates Updates,
	claims Claims,
	opts Options,
) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = defaultClaimTTL
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.ClaimTTL < opts.Timeout {
		opts.ClaimTTL = 2 * opts.Timeout
	}

	return &Dispatcher{
		log:     log,
		feeds:   feeds,
		poster:  poster,
		updates: updates,
		claims:  claims,
		opts:    opts,
	}
}

// Enqueue stores a post for a later run. Content is reduced to Latin-1 and
// cut to the column limit.
func (d *Dispatcher) Enqueue(ctx context.Context, feed, content string) (models.TwitterUpdate, error) {
	const op = "dispatch.Dispatcher.Enqueue"

	log := d.log.With(
		slog.String("op", op),
		slog.String("feed", feed),
	)

	update := models.TwitterUpdate{
		Feed:    models.Truncate(strings.TrimSpace(feed), models.MaxFeedLength),
		Content: models.Truncate(latin1.Transliterate(content), models.MaxContentLength),
	}
	if update.Feed == "" || strings.TrimSpace(update.Content) == "" {
		return models.TwitterUpdate{}, fmt.Errorf("%s: %w", op, ErrEmptyUpdate)
	}

	if _, ok := d.feeds[update.Feed]; !ok {
		log.Warn("queueing update for a feed without credentials")
	}

	if err := d.updates.CreateUpdate(ctx, &update); err != nil {
		log.Error("failed to queue update", sl.Err(err))
		return models.TwitterUpdate{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("update queued", slog.Int64("update_id", update.ID))

	return update, nil
}

// RunOnce tries to publish one queued update. Only an echoed text equal to
// the normalized content completes it; everything else keeps the row.
func (d *Dispatcher) RunOnce(ctx context.Context, update models.TwitterUpdate) models.Outcome {
	const op = "dispatch.Dispatcher.RunOnce"

	log := d.log.With(
		slog.String("op", op),
		slog.Int64("update_id", update.ID),
		slog.String("feed", update.Feed),
	)

	outcome := d.runOnce(ctx, log, update)
	metrics.DispatchOutcomes.WithLabelValues(d.feedLabel(update.Feed), string(outcome)).Inc()

	return outcome
}

// feedLabel keeps metric cardinality bounded by the configured feeds.
func (d *Dispatcher) feedLabel(feed string) string {
	if _, ok := d.feeds[feed]; ok {
		return feed
	}
	return unknownFeedLabel
}

func (d *Dispatcher) runOnce(ctx context.Context, log *slog.Logger, update models.TwitterUpdate) models.Outcome {
	if _, ok := d.feeds[update.Feed]; !ok {
		log.Error("cannot dispatch update", sl.Err(ErrInvalidFeed))
		d.markAttempt(ctx, log, update.ID)
		return models.OutcomeInvalid
	}

	key := claimKey(update.ID)

	token, acquired, err := d.claims.Claim(ctx, key, d.opts.ClaimTTL)
	if err != nil {
		log.Error("failed to claim update", sl.Err(err))
		return models.OutcomeRetryable
	}
	if !acquired {
		log.Debug("update is claimed by another worker")
		return models.OutcomeRetryable
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()

		if err := d.claims.Release(rctx, key, token); err != nil {
			log.Warn("failed to release claim", sl.Err(err))
		}
	}()

	// под claim читаем строку заново: снимок из ListPending мог устареть
	current, err := d.updates.GetUpdate(ctx, update.ID)
	if err != nil {
		if errors.Is(err, storage.ErrUpdateNotFound) {
			log.Debug("update was dispatched by another worker")
			return models.OutcomeCompleted
		}
		log.Error("failed to reload update", sl.Err(err))
		return models.OutcomeRetryable
	}

	creds, ok := d.feeds[current.Feed]
	if !ok {
		log.Error("cannot dispatch update", slog.String("current_feed", current.Feed), sl.Err(ErrInvalidFeed))
		d.markAttempt(ctx, log, current.ID)
		return models.OutcomeInvalid
	}

	content := latin1.Transliterate(current.Content)

	echoed, err := d.post(ctx, creds, content)
	if err != nil {
		log.Error("failed to post update",
			slog.String("username", creds.Username),
			slog.String("content", content),
			sl.Err(err),
		)
		d.markAttempt(ctx, log, current.ID)
		return models.OutcomeRetryable
	}

	if echoed != content {
		log.Warn("update not confirmed",
			slog.String("username", creds.Username),
			slog.String("content", content),
			slog.String("echoed", echoed),
			sl.Err(ErrEchoMismatch),
		)
		d.markAttempt(ctx, log, current.ID)
		return models.OutcomeRetryable
	}

	// пост уже опубликован, удаляем строку даже если вызывающий отменил ctx
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := d.updates.DeleteUpdate(dctx, current.ID); err != nil && !errors.Is(err, storage.ErrUpdateNotFound) {
		log.Error("posted update was not removed from the queue", sl.Err(err))
		d.markAttempt(ctx, log, current.ID)
		return models.OutcomeRetryable
	}

	log.Info("update dispatched", slog.String("username", creds.Username))

	return models.OutcomeCompleted
}

// markAttempt moves a row that stays in the queue behind the untried ones.
func (d *Dispatcher) markAttempt(ctx context.Context, log *slog.Logger, id int64) {
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := d.updates.MarkAttempt(mctx, id); err != nil && !errors.Is(err, storage.ErrUpdateNotFound) {
		log.Warn("failed to record dispatch attempt", sl.Err(err))
	}
}

// post bounds one submission by the configured timeout and turns a panic in
// the client into an error.
func (d *Dispatcher) post(ctx context.Context, creds models.FeedCredentials, content string) (echoed string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while posting: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	return d.poster.Post(ctx, creds, content)
}

// Summary counts the outcomes of one drain.
type Summary map[models.Outcome]int

// RunPending dispatches one batch of queued updates with bounded
// concurrency.
func (d *Dispatcher) RunPending(ctx context.Context) (Summary, error) {
	const op = "dispatch.Dispatcher.RunPending"

	log := d.log.With(slog.String("op", op))

	updates, err := d.updates.ListPending(ctx, d.opts.BatchSize)
	if err != nil {
		log.Error("failed to list pending updates", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	summary := make(Summary)
	if len(updates) == 0 {
		return summary, nil
	}

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)

	for _, u := range updates {
		if gctx.Err() != nil {
			break
		}

		u := u
		g.Go(func() error {
			outcome := d.RunOnce(gctx, u)

			mu.Lock()
			summary[outcome]++
			mu.Unlock()

			return gctx.Err()
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	log.Info("pending updates processed",
		slog.Int("total", len(updates)),
		slog.Int("completed", summary[models.OutcomeCompleted]),
		slog.Int("retryable", summary[models.OutcomeRetryable]),
		slog.Int("invalid", summary[models.OutcomeInvalid]),
	)

	if err != nil {
		return summary, fmt.Errorf("%s: %w", op, err)
	}

	return summary, nil
}

func claimKey(id int64) string {
	return "twitter_update:" + strconv.FormatInt(id, 10)
}
