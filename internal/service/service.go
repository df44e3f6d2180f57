// Package service runs the monitoring loop: one orchestrator cycle per
// scheduler tick, followed by the portfolio snapshot bookkeeping.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-monitor/internal/market"
	"trading-monitor/internal/orchestrator"
	"trading-monitor/internal/scheduler"
	"trading-monitor/internal/storage"
)

// CycleRunner executes one monitoring cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) orchestrator.CycleResult
}

// SnapshotProvider exposes the latest portfolio valuation.
type SnapshotProvider interface {
	LastSnapshot() (market.Snapshot, bool)
}

// Service drives cycles from the scheduler and records portfolio snapshots.
type Service struct {
	scheduler *scheduler.Scheduler
	runner    CycleRunner
	portfolio SnapshotProvider
	snapshots storage.SnapshotStore
	logger    zerolog.Logger
	trades    *tradeSync

	mu           sync.Mutex
	lastRecorded time.Time
}

// New constructs the monitoring service. portfolio and snapshots may be nil.
func New(sched *scheduler.Scheduler, runner CycleRunner, portfolio SnapshotProvider, snapshots storage.SnapshotStore, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		runner:    runner,
		portfolio: portfolio,
		snapshots: snapshots,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the monitoring loop and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单个周期的监控逻辑。
func (s *Service) ProcessTick(ctx context.Context, tick time.Time) error {
	_, err := s.RunOnce(ctx, tick)
	return err
}

// RunOnce syncs trades, runs one cycle and records the portfolio snapshot.
// A rejected cycle is not an error.
func (s *Service) RunOnce(ctx context.Context, tick time.Time) (orchestrator.CycleResult, error) {
	s.syncTrades(ctx, tick)

	result := s.runner.RunCycle(ctx)
	if result.Rejected() {
		s.logger.Warn().Time("tick", tick).Msg("skip tick because previous cycle still running")
		return result, nil
	}

	s.recordSnapshot(ctx)

	s.logger.Info().Time("tick", tick).
		Str("status", result.Status).
		Int("admitted", result.Admitted).
		Msg("cycle recorded")

	if err := result.Err(); err != nil {
		return result, fmt.Errorf("monitoring cycle: %w", err)
	}
	return result, nil
}

// recordSnapshot persists the latest valuation once. Failures are logged.
func (s *Service) recordSnapshot(ctx context.Context) {
	if s.portfolio == nil || s.snapshots == nil {
		return
	}
	snap, ok := s.portfolio.LastSnapshot()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !snap.TakenAt.After(s.lastRecorded) {
		return
	}
	if err := s.snapshots.InsertSnapshot(ctx, snap); err != nil {
		s.logger.Error().Err(err).Time("taken_at", snap.TakenAt).Msg("failed to record portfolio snapshot")
		return
	}
	s.lastRecorded = snap.TakenAt
	s.logger.Debug().Time("taken_at", snap.TakenAt).Str("total_value", snap.TotalValue.String()).Msg("portfolio snapshot recorded")
}
