// Package scheduler drives periodic monitoring cycles and cron jobs.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval. tick is the scheduled time.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval        time.Duration
	AlignToInterval bool
	StartupDelay    time.Duration
	// RunImmediately fires the first tick as soon as the startup delay
	// elapses instead of waiting one interval.
	RunImmediately bool
}

// Scheduler runs a tick function sequentially: a tick never starts while
// the previous one is still executing, and ticks missed during a long run
// are skipped rather than queued.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run blocks, invoking tick at each interval until ctx is cancelled. A
// cancelled context stops the loop between ticks; a running tick receives
// the same context and decides how to wind down.
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

	next := s.nextTick(s.now())
	if s.opts.RunImmediately {
		next = s.now()
	}
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			delay = 0
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		s.logger.Debug().Time("tick", next).Msg("executing scheduled tick")
		started := s.now()
		if err := tick(ctx, next); err != nil {
			s.logger.Error().Err(err).Time("tick", next).Msg("tick execution failed")
		}
		if elapsed := s.now().Sub(started); elapsed > s.opts.Interval {
			s.logger.Warn().Dur("elapsed", elapsed).Dur("interval", s.opts.Interval).Msg("tick overran interval, skipping missed ticks")
		}

		next = next.Add(s.opts.Interval)
		if now := s.now(); !next.After(now) {
			next = s.nextTick(now)
		}
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToInterval {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}
