// Package scheduler triggers a job once immediately and then on a fixed
// interval, driven by an injectable clock.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/zjrosen/rostersync/internal/clock"
	"github.com/zjrosen/rostersync/internal/log"
	"github.com/zjrosen/rostersync/internal/metrics"
)

// DefaultInterval is the time between scheduled runs.
const DefaultInterval = 120 * time.Minute

// Job is the scheduled unit of work.
type Job func(ctx context.Context) error

type Config struct {
	Name     string
	Job      Job
	Interval time.Duration
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	// SkipErr marks job errors that mean "skipped, already running" rather
	// than failure.
	SkipErr error
	// DelayFirst waits a full interval before the first run instead of
	// running immediately.
	DelayFirst bool
}

// Scheduler runs Job on demand and on an interval. Each tick starts the job
// in its own goroutine so a slow run never delays the next tick; the job
// decides whether overlapping runs are allowed.
type Scheduler struct {
	name     string
	job      Job
	interval time.Duration
	clock    clock.Clock
	metrics  *metrics.Metrics
	skipErr  error
	delay    bool

	wg sync.WaitGroup
}

func New(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	name := cfg.Name
	if name == "" {
		name = "job"
	}
	return &Scheduler{
		name:     name,
		job:      cfg.Job,
		interval: interval,
		clock:    clock.OrReal(cfg.Clock),
		metrics:  cfg.Metrics,
		skipErr:  cfg.SkipErr,
		delay:    cfg.DelayFirst,
	}
}

// RunNow runs the job synchronously and returns its error.
func (s *Scheduler) RunNow(ctx context.Context) error {
	start := s.clock.Now()
	err := s.job(ctx)
	switch {
	case err == nil:
		log.Debug(log.CatScheduler, "run finished", "job", s.name, "duration", s.clock.Now().Sub(start))
	case s.skipErr != nil && errors.Is(err, s.skipErr):
		s.metrics.IncrementSkippedRuns()
		log.Info(log.CatScheduler, "run skipped", "job", s.name, "reason", err)
	case errors.Is(err, context.Canceled):
		log.Info(log.CatScheduler, "run cancelled", "job", s.name)
	default:
		log.ErrorErr(log.CatScheduler, "run failed", err, "job", s.name)
	}
	return err
}

// RunOnInterval starts the job every d until ctx is done. It does not run
// the job immediately.
func (s *Scheduler) RunOnInterval(ctx context.Context, d time.Duration) {
	for {
		timer := s.clock.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
			s.spawn(ctx)
		}
	}
}

// Start runs the job once immediately (unless DelayFirst is set), then
// every interval, until ctx is done. It returns after in-flight runs have
// finished.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info(log.CatScheduler, "scheduler started", "job", s.name, "interval", s.interval)
	if !s.delay {
		s.spawn(ctx)
	}
	s.RunOnInterval(ctx, s.interval)
	s.wg.Wait()
	log.Info(log.CatScheduler, "scheduler stopped", "job", s.name)
}

func (s *Scheduler) spawn(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.RunNow(ctx)
	}()
}
