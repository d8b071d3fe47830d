// Package maintenance runs cache retention cleanup on a cron schedule. It is the single
// place cleanup is triggered from in a long-running process.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"horse.fit/dronewatch/internal/metrics"
)

const DefaultRunTimeout = 5 * time.Minute

type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

type Scheduler struct {
	cron    *cron.Cron
	cleaner Cleaner
	metrics *metrics.Metrics
	logger  zerolog.Logger
	timeout time.Duration
}

func New(cleaner Cleaner, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		cleaner: cleaner,
		metrics: m,
		logger:  logger,
		timeout: DefaultRunTimeout,
	}
}

// Schedule registers cleanup under a standard five-field cron spec or a descriptor such
// as "@daily".
func (s *Scheduler) Schedule(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return fmt.Errorf("cleanup schedule is empty")
	}
	if _, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", spec, err)
	}
	s.logger.Info().Str("schedule", spec).Msg("cache cleanup scheduled")
	return nil
}

// RunOnce prunes expired cache entries now.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	started := time.Now()
	removed, err := s.cleaner.Cleanup(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("cache cleanup failed")
		return 0, fmt.Errorf("cache cleanup: %w", err)
	}
	s.metrics.Pruned(removed)
	s.logger.Info().
		Int64("removed", removed).
		Dur("took", time.Since(started)).
		Msg("cache cleanup finished")
	return removed, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for a running cleanup or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
