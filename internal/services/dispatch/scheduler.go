package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"galleria/internal/lib/logger/sl"
)

// Runner drains one batch of queued updates.
type Runner interface {
	RunPending(ctx context.Context) (Summary, error)
}

// Scheduler запускает разбор очереди по cron-расписанию
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler accepts standard five-field specs and descriptors such as
// "@every 5m". A run still in progress makes the next tick a no-op.
func NewScheduler(log *slog.Logger, runner Runner, spec string) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger))),
		runner: runner,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("dispatch: invalid schedule %q: %w", spec, err)
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.log.Info("dispatch scheduler started")
	s.cron.Start()
}

// Stop cancels the running drain and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("dispatch scheduler stopped")
}

func (s *Scheduler) tick() {
	if _, err := s.runner.RunPending(s.ctx); err != nil {
		s.log.Error("scheduled dispatch failed", sl.Err(err))
	}
}
