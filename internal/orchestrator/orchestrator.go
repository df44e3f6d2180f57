// Package orchestrator runs the detectors on every monitoring cycle and
// owns the resulting alert stream: rate limiting, the bounded active store,
// history, notification, persistence and the alert lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/alerting"
	"trading-monitor/internal/config"
	"trading-monitor/internal/detector"
	"trading-monitor/internal/storage"
	"trading-monitor/internal/throttle"
)

// Cycle and service statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

const defaultDispatchTimeout = 30 * time.Second

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithDispatchTimeout bounds the notification and persistence phase.
func WithDispatchTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.dispatchTimeout = d
		}
	}
}

// WithMetrics shares a metrics set instead of creating one.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// Orchestrator coordinates detectors and owns alert state. Cycles never
// overlap; queries may run concurrently with a cycle.
type Orchestrator struct {
	detectors []detector.Detector
	notifier  alerting.Notifier
	store     storage.AlertWriter
	logger    zerolog.Logger
	metrics   *Metrics

	detectorTimeout time.Duration
	dispatchTimeout time.Duration
	retention       time.Duration
	now             func() time.Time

	running atomic.Bool

	mu             sync.RWMutex
	limiter        *throttle.RateLimiter
	active         *ActiveStore
	history        History
	totalGenerated int
	totalResolved  int
	totalIgnored   int
	lastRun        time.Time
	lastCycle      *CycleResult
	services       map[string]*serviceState
}

// New builds an orchestrator from the monitoring configuration. notifier
// and store may be nil.
func New(cfg config.MonitoringConfig, notifier alerting.Notifier, store storage.AlertWriter, logger zerolog.Logger, opts ...Option) *Orchestrator {
	timeout := cfg.DetectorTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	o := &Orchestrator{
		notifier:        notifier,
		store:           store,
		logger:          logger.With().Str("component", "orchestrator").Logger(),
		detectorTimeout: timeout,
		dispatchTimeout: defaultDispatchTimeout,
		retention:       cfg.AlertRetention,
		now:             func() time.Time { return time.Now().UTC() },
		limiter:         throttle.NewRateLimiter(cfg.RateLimit.MaxAlertsPerPeriod, cfg.RateLimit.Period),
		active:          NewActiveStore(cfg.MaxActiveAlerts),
		services:        make(map[string]*serviceState),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	return o
}

// Register adds detectors to the registry. It must not be called while a
// cycle runs.
func (o *Orchestrator) Register(ds ...detector.Detector) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, d := range ds {
		if d == nil {
			continue
		}
		o.detectors = append(o.detectors, d)
		o.services[d.Name()] = &serviceState{Name: d.Name()}
	}
}

// Detectors returns the registered detectors.
func (o *Orchestrator) Detectors() []detector.Detector {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]detector.Detector, len(o.detectors))
	copy(out, o.detectors)
	return out
}

// Metrics exposes the Prometheus collectors.
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

// Running reports whether a cycle is in progress.
func (o *Orchestrator) Running() bool {
	return o.running.Load()
}

// RunCycle executes one full monitoring cycle. It never panics or returns
// an error; failures are reported through the result.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleResult {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Warn().Msg("cycle rejected: previous cycle still running")
		now := o.now()
		return CycleResult{Status: StatusError, Message: ErrAlreadyRunning.Error(), StartedAt: now, FinishedAt: now, rejected: true}
	}
	defer o.running.Store(false)

	started := o.now()
	result := newCycleResult(started)

	outcomes := o.runDetectors(ctx)

	var candidates []*alert.Alert
	for _, out := range outcomes {
		result.Services[out.name] = out.result
		o.metrics.detectorRuns.WithLabelValues(out.name, out.result.Status).Inc()
		for _, a := range out.alerts {
			a.Source = out.name
			a.Metadata.SetText("detector", out.name)
			candidates = append(candidates, a)
		}
	}
	result.Generated = len(candidates)

	if err := o.process(ctx, candidates, &result); err != nil {
		result.Status = StatusError
		result.Message = err.Error()
		o.logger.Error().Err(err).Msg("cycle failed")
	}

	result.FinishedAt = o.now()
	o.metrics.cycleDuration.Observe(result.FinishedAt.Sub(started).Seconds())

	o.mu.Lock()
	o.lastRun = result.FinishedAt
	o.recordServices(result)
	stored := result
	o.lastCycle = &stored
	o.mu.Unlock()

	o.logger.Info().
		Str("status", result.Status).
		Int("generated", result.Generated).
		Int("admitted", result.Admitted).
		Int("rate_limited", result.RateLimited).
		Int("evicted", result.Evicted).
		Dur("duration", result.FinishedAt.Sub(started)).
		Msg("cycle completed")
	return result
}

// process runs the aggregation, dispatch and pruning steps. Panics are
// converted into an OrchestrationError.
func (o *Orchestrator) process(ctx context.Context, candidates []*alert.Alert, result *CycleResult) (err error) {
	stage := "admit"
	defer func() {
		if r := recover(); r != nil {
			err = &OrchestrationError{Stage: stage, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	admitted := o.admit(candidates, result)

	stage = "dispatch"
	o.dispatch(ctx, admitted)

	stage = "prune"
	o.prune()
	return nil
}

// admit applies the global rate limit and stores admitted alerts.
func (o *Orchestrator) admit(candidates []*alert.Alert, result *CycleResult) []*alert.Alert {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	admitted := make([]*alert.Alert, 0, len(candidates))
	for _, a := range candidates {
		bucket := string(a.Type) + "|" + a.Severity.String()
		if !o.limiter.Allow(bucket, now) {
			o.totalIgnored++
			result.RateLimited++
			o.metrics.alertsIgnored.WithLabelValues("rate_limited").Inc()
			o.logger.Debug().Str("type", string(a.Type)).Str("severity", a.Severity.String()).Str("dedup_key", a.DedupKey).Msg("alert dropped by rate limit")
			continue
		}

		if evicted := o.active.Insert(a); evicted != nil {
			o.totalIgnored++
			result.Evicted++
			o.metrics.alertsIgnored.WithLabelValues("evicted").Inc()
			o.logger.Warn().Str("alert_id", evicted.ID).Str("type", string(evicted.Type)).Msg("active store full, evicted oldest alert")
		}
		o.history.Append(a)
		o.totalGenerated++
		o.metrics.alertsGenerated.WithLabelValues(string(a.Type), a.Severity.String()).Inc()

		result.count(a)
		admitted = append(admitted, a.Clone())
	}
	o.metrics.activeAlerts.Set(float64(o.active.Len()))
	result.Admitted = len(admitted)
	result.Alerts = admitted
	return admitted
}

func (o *Orchestrator) prune() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.retention <= 0 {
		return
	}
	cutoff := o.now().Add(-o.retention)
	active := o.active.PruneBefore(cutoff)
	hist := o.history.PruneBefore(cutoff)
	o.metrics.activeAlerts.Set(float64(o.active.Len()))
	if active > 0 || hist > 0 {
		o.logger.Debug().Int("active", active).Int("history", hist).Time("cutoff", cutoff).Msg("pruned expired alerts")
	}
}
