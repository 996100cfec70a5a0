// Package scheduler triggers a distribution shortly after every cycle boundary.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"solana-holder-lottery/internal/cycle"
	"solana-holder-lottery/internal/orchestrator"
)

// Triggerer runs the current cycle.
type Triggerer interface {
	Trigger(ctx context.Context) (*orchestrator.RunResult, error)
}

// Config configures a Scheduler.
type Config struct {
	// Offset is waited after each boundary so cycle readers agree on the new ID.
	Offset time.Duration
	// RunOnStart triggers the current cycle immediately.
	RunOnStart bool
	Logger     *slog.Logger
}

// Scheduler calls Trigger once per cycle until its context ends.
type Scheduler struct {
	target Triggerer
	clock  *cycle.Clock
	offset time.Duration
	onRun  bool
	log    *slog.Logger
}

// New creates a Scheduler.
func New(target Triggerer, clock *cycle.Clock, cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Offset < 0 {
		cfg.Offset = 0
	}
	if cfg.Offset >= clock.Period() {
		cfg.Offset = clock.Period() / 2
	}
	return &Scheduler{
		target: target,
		clock:  clock,
		offset: cfg.Offset,
		onRun:  cfg.RunOnStart,
		log:    cfg.Logger.With("component", "scheduler"),
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", "period", s.clock.Period().String(), "offset", s.offset.String())

	if s.onRun {
		s.fire(ctx)
	}

	for {
		wait := s.clock.UntilNext() + s.offset
		s.log.Debug("waiting for next cycle", "wait", wait.String())

		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return nil
		case <-s.clock.Clock().After(wait):
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	res, err := s.target.Trigger(ctx)
	id := res.Cycle.ID
	switch {
	case err == nil && res.Outcome != nil:
		s.log.Info("scheduled distribution finished", "cycle", id, "status", res.Outcome.Status.String())
	case err == nil:
		s.log.Info("scheduled distribution finished", "cycle", id)
	case orchestrator.IsBenign(err):
		s.log.Info("scheduled distribution skipped", "cycle", id, "reason", err.Error())
	default:
		// The orchestrator already logged and reported the failure
		s.log.Warn("scheduled distribution failed", "cycle", id, "error", err)
	}
}
