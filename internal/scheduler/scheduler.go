package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval with the time the tick was due.
type TickFunc func(ctx context.Context, due time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
}

// Scheduler runs a tick function repeatedly on a single goroutine. A tick
// never overlaps the previous one: when a tick overruns, the ticks it missed
// are dropped and the schedule restarts one interval after it returns.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Interval returns the configured tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Run blocks, invoking the tick function every interval until ctx is cancelled.
// Errors returned by the tick are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := time.Now().Add(s.opts.Interval)
	for {
		delay := time.Until(next)
		if delay < 0 {
			missed := int(-delay/s.opts.Interval) + 1
			s.logger.Warn().Int("missed", missed).Msg("previous tick overran, skipping missed ticks")
			next = time.Now().Add(s.opts.Interval)
			delay = s.opts.Interval
		}

		timer := time.NewTimer(delay)
		s.logger.Trace().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		// cancellation may race with the timer; never start a tick after it
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Debug().Time("due", next).Msg("executing scheduled tick")
		if err := tick(ctx, next); err != nil {
			s.logger.Error().Err(err).Time("due", next).Msg("tick execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}
