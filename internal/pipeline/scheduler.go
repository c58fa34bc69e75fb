package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/weather-etl/internal/observability"
)

var (
	// ErrRunInProgress is returned by Trigger while a run is executing or already queued.
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrSchedulerStopped is returned by Trigger when the scheduler loop is not running.
	ErrSchedulerStopped = errors.New("scheduler is not running")
)

// Runner executes one workflow run.
type Runner interface {
	RunOnce(ctx context.Context) (RunResult, error)
}

// Scheduler runs the workflow on every UTC multiple of its interval. Runs
// never overlap, and slots missed while a run was executing are skipped
// rather than backfilled.
type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runOnStart bool
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics

	running atomic.Bool
	busy    atomic.Bool
	manual  chan struct{}
}

// NewScheduler creates a Scheduler. A nil clock means the real clock.
func NewScheduler(r Runner, interval time.Duration, runOnStart bool, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		runner:     r,
		interval:   interval,
		runOnStart: runOnStart,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
		manual:     make(chan struct{}, 1),
	}
}

// NextRun returns the first interval boundary strictly after now. A 24h
// interval yields the next UTC midnight.
func NextRun(now time.Time, interval time.Duration) time.Time {
	return now.UTC().Truncate(interval).Add(interval)
}

// CheckReadiness returns nil while the scheduler loop is running.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.running.Load() {
		return ErrSchedulerStopped
	}
	return nil
}

// Trigger queues a manual run. It does not wait for the run to finish.
func (s *Scheduler) Trigger() error {
	if !s.running.Load() {
		return ErrSchedulerStopped
	}
	if s.busy.Load() {
		return ErrRunInProgress
	}
	select {
	case s.manual <- struct{}{}:
		return nil
	default:
		return ErrRunInProgress
	}
}

// Run blocks, executing scheduled and manual runs until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.running.Store(true)
	s.metrics.SchedulerRunning.Set(1)
	defer func() {
		s.running.Store(false)
		s.metrics.SchedulerRunning.Set(0)
	}()

	s.logger.Info("scheduler started", "interval", s.interval, "run_on_start", s.runOnStart)

	if s.runOnStart {
		s.runNow(ctx, "startup")
	}

	for {
		now := s.clock.Now()
		next := NextRun(now, s.interval)
		s.logger.Info("next run scheduled", "at", next)

		timer := s.clock.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-s.manual:
			timer.Stop()
			s.runNow(ctx, "manual")
		case <-timer.Chan():
			s.runNow(ctx, "scheduled")
		}
	}
}

func (s *Scheduler) runNow(ctx context.Context, trigger string) {
	s.busy.Store(true)
	defer s.busy.Store(false)

	res, err := s.runner.RunOnce(ctx)
	if err != nil {
		s.logger.Warn("run finished with error", "trigger", trigger, "status", res.Status, "error", err)
		return
	}
	s.logger.Info("run finished", "trigger", trigger, "status", res.Status, "object_key", res.ObjectKey)
}
