// Package scheduler runs periodic background jobs in the worker.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kirillkom/ackdesk/internal/core/domain"
)

const DefaultAttentionSchedule = "*/15 * * * *"

type AttentionSweeper interface {
	SweepAttention(ctx context.Context, now time.Time) (map[domain.AttentionCategory]int, error)
}

// SweepObserver receives the category counts of each successful sweep.
type SweepObserver func(counts map[domain.AttentionCategory]int, took time.Duration)

type Scheduler struct {
	cron     *cron.Cron
	sweeper  AttentionSweeper
	observer SweepObserver
	timeout  time.Duration
	now      func() time.Time
}

func New(sweeper AttentionSweeper, observer SweepObserver) *Scheduler {
	logger := cron.VerbosePrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn))
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
		sweeper:  sweeper,
		observer: observer,
		timeout:  5 * time.Minute,
		now:      time.Now,
	}
}

// Run registers the attention sweep under schedule and blocks until ctx is
// done. In-flight jobs are allowed to finish before it returns.
func (s *Scheduler) Run(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultAttentionSchedule
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule attention sweep %q: %w", schedule, err)
	}

	slog.Info("scheduler_started", "attention_schedule", schedule)
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	slog.Info("scheduler_stopped")
	return nil
}

func (s *Scheduler) RunOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	counts, err := s.sweeper.SweepAttention(ctx, s.now())
	if err != nil {
		slog.Error("attention_sweep_failed", "error", err)
		return
	}
	if s.observer != nil {
		s.observer(counts, time.Since(started))
	}
}
