// Package detector implements the monitoring detectors. Each detector
// collects raw data from its source, turns it into alerts, and formats
// those alerts for humans. Detectors own their cooldown state.
package detector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/market"
	"trading-monitor/internal/throttle"
)

// RawData is the detector-specific result of Collect. Analyze only
// accepts the concrete type produced by the same detector.
type RawData interface {
	CollectedAt() time.Time
}

// Detector is the contract the orchestrator runs every cycle.
type Detector interface {
	Name() string
	// Collect fetches upstream data. Failures are *CollectionError.
	Collect(ctx context.Context) (RawData, error)
	// Analyze never fails; an empty slice means nothing to report.
	Analyze(raw RawData) []*alert.Alert
	Report(alerts []*alert.Alert) string
}

// KlineSource provides candle series.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error)
}

// PriceSource provides last traded prices.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// TradeSource provides executed trades.
type TradeSource interface {
	TradesSince(ctx context.Context, since time.Time) ([]market.Trade, error)
}

// CallHistory provides recent upstream call outcomes.
type CallHistory interface {
	Since(t time.Time) []market.CallRecord
}

// SnapshotSource provides historical portfolio valuations.
type SnapshotSource interface {
	SnapshotAtOrBefore(ctx context.Context, at time.Time) (market.Snapshot, bool, error)
	SnapshotsBetween(ctx context.Context, from, to time.Time) ([]market.Snapshot, error)
}

// CollectionError reports an upstream failure during Collect.
type CollectionError struct {
	Detector string
	Op       string
	Err      error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("%s collect %s: %v", e.Detector, e.Op, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// AnalysisDegradation describes a part of an analysis that was skipped.
// It is logged, never returned.
type AnalysisDegradation struct {
	Detector string
	Stage    string
	Err      error
}

func (e *AnalysisDegradation) Error() string {
	return fmt.Sprintf("%s analyze %s: %v", e.Detector, e.Stage, e.Err)
}

func (e *AnalysisDegradation) Unwrap() error {
	return e.Err
}

// ErrUnexpectedData is wrapped when Analyze receives another detector's data.
var ErrUnexpectedData = errors.New("unexpected raw data type")

// Option customises a detector.
type Option func(*base)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

type base struct {
	name     string
	logger   zerolog.Logger
	cooldown *throttle.CooldownTracker
	now      func() time.Time
}

func newBase(name string, cooldown time.Duration, logger zerolog.Logger, opts []Option) base {
	b := base{
		name:     name,
		logger:   logger.With().Str("component", "detector").Str("detector", name).Logger(),
		cooldown: throttle.NewCooldownTracker(cooldown),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *base) Name() string {
	return b.name
}

// admit applies the cooldown for key and reports whether the alert may fire.
func (b *base) admit(key string, sev alert.Severity, now time.Time) bool {
	if b.cooldown.Allow(key, sev, now) {
		return true
	}
	b.logger.Debug().Str("dedup_key", key).Str("severity", sev.String()).Msg("alert suppressed by cooldown")
	return false
}

// cooled reports whether key is out of cooldown without recording a firing.
func (b *base) cooled(key string, sev alert.Severity, now time.Time) bool {
	if b.cooldown.Ready(key, sev, now) {
		return true
	}
	b.logger.Debug().Str("dedup_key", key).Str("severity", sev.String()).Msg("alert suppressed by cooldown")
	return false
}

func (b *base) collectErr(op string, err error) error {
	return &CollectionError{Detector: b.name, Op: op, Err: err}
}

func (b *base) degrade(stage string, err error) {
	d := &AnalysisDegradation{Detector: b.name, Stage: stage, Err: err}
	b.logger.Warn().Err(d).Str("stage", stage).Msg("analysis degraded")
}

func (b *base) unexpected(raw RawData) []*alert.Alert {
	b.degrade("input", fmt.Errorf("%w: %T", ErrUnexpectedData, raw))
	return nil
}

// pruneCooldown drops expired cooldown entries so keys for delisted
// symbols do not accumulate.
func (b *base) pruneCooldown(now time.Time) {
	b.cooldown.Prune(now)
}

func requiresAck(sev alert.Severity) bool {
	return sev >= alert.SeverityHigh
}

var quoteAssets = []string{"USDT", "USDC", "FDUSD", "BUSD", "TUSD", "DAI", "BTC", "ETH", "BNB"}

// baseAsset strips a known quote suffix from a trading pair.
func baseAsset(symbol string) string {
	upper := strings.ToUpper(symbol)
	for _, quote := range quoteAssets {
		if strings.HasSuffix(upper, quote) && len(upper) > len(quote) {
			return upper[:len(upper)-len(quote)]
		}
	}
	return upper
}

// periodLabel renders a lookback as used in dedup keys, e.g. 24h or 15m.
func periodLabel(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", int64(d/time.Minute))
	default:
		return d.String()
	}
}
