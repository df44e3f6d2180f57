package detector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/config"
	"trading-monitor/internal/market"
)

// Volatility metrics.
const (
	MetricStdDev = "stdev"
	MetricRange  = "range"
	MetricATR    = "atr"
)

// SeriesKey identifies one symbol/lookback series.
type SeriesKey struct {
	Symbol string
	Period time.Duration
}

// SeriesData is the kline series collected per symbol and lookback.
type SeriesData struct {
	At     time.Time
	Series map[SeriesKey][]market.Kline
}

// CollectedAt implements RawData.
func (d *SeriesData) CollectedAt() time.Time { return d.At }

// Volatility raises alerts when price dispersion over a lookback period
// crosses the configured thresholds.
type Volatility struct {
	base
	cfg    config.VolatilityConfig
	source KlineSource
}

// NewVolatility builds the volatility detector.
func NewVolatility(cfg config.VolatilityConfig, source KlineSource, logger zerolog.Logger, opts ...Option) *Volatility {
	if cfg.Metric == "" {
		cfg.Metric = MetricStdDev
	}
	return &Volatility{
		base:   newBase("volatility", cfg.Cooldown, logger, opts),
		cfg:    cfg,
		source: source,
	}
}

// Collect fetches one kline series per symbol and period. A series that
// fails is skipped; Collect fails only when no series could be fetched.
func (v *Volatility) Collect(ctx context.Context) (RawData, error) {
	data, err := collectSeries(ctx, v.source, v.cfg.Symbols, v.cfg.Periods, 1, &v.base)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Analyze classifies the dispersion of every collected series.
func (v *Volatility) Analyze(raw RawData) []*alert.Alert {
	data, ok := raw.(*SeriesData)
	if !ok {
		return v.unexpected(raw)
	}

	now := v.now()
	v.pruneCooldown(now)

	var out []*alert.Alert
	for _, symbol := range v.cfg.Symbols {
		for _, period := range v.cfg.Periods {
			klines, ok := data.Series[SeriesKey{Symbol: symbol, Period: period}]
			if !ok {
				continue
			}
			value, ok := v.dispersion(klines)
			if !ok {
				v.degrade("dispersion", fmt.Errorf("%s %s: insufficient data (%d candles)", symbol, periodLabel(period), len(klines)))
				continue
			}

			sev, hit := v.cfg.Thresholds.Classify(value)
			if !hit {
				continue
			}
			key := fmt.Sprintf("%s_volatility_%s", symbol, periodLabel(period))
			if !v.admit(key, sev, now) {
				continue
			}
			out = append(out, v.newAlert(symbol, period, value, sev, key, klines, now))
		}
	}
	return out
}

func (v *Volatility) dispersion(klines []market.Kline) (float64, bool) {
	switch v.cfg.Metric {
	case MetricRange:
		return rangeRatio(closes(klines))
	case MetricATR:
		return atrRatio(klines)
	default:
		return returnsStdDev(closes(klines))
	}
}

func (v *Volatility) newAlert(symbol string, period time.Duration, value float64, sev alert.Severity, key string, klines []market.Kline, now time.Time) *alert.Alert {
	boundary := v.cfg.Thresholds.Boundary(sev)

	var meta alert.Attributes
	meta.SetFloat("volatility", value)
	meta.SetFloat("volatility_pct", round(value*100, 4))
	meta.SetFloat("threshold", boundary)
	meta.SetFloat("period_hours", period.Hours())
	meta.SetFloat("samples", float64(len(klines)))
	meta.SetText("metric", v.cfg.Metric)
	meta.SetText("period", periodLabel(period))

	var ctx alert.Attributes
	if n := len(klines); n > 0 {
		ctx.SetFloat("last_close", klines[n-1].Close)
		ctx.SetText("window_start", klines[0].OpenTime.Format(time.RFC3339))
		ctx.SetText("window_end", klines[n-1].CloseTime.Format(time.RFC3339))
	}

	return alert.New(alert.Params{
		Type:                    alert.TypeVolatilitySpike,
		Severity:                sev,
		Title:                   fmt.Sprintf("%s %s volatility %.2f%%", symbol, periodLabel(period), value*100),
		Description:             fmt.Sprintf("%s %s dispersion over %s is %.4f, at or above the %s threshold %.4f.", symbol, v.cfg.Metric, periodLabel(period), value, sev, boundary),
		SubjectCoin:             baseAsset(symbol),
		SubjectPair:             symbol,
		DedupKey:                key,
		HasValues:               true,
		Threshold:               boundary,
		Current:                 value,
		Metadata:                meta,
		Context:                 ctx,
		AcknowledgementRequired: requiresAck(sev),
		Resolvable:              true,
		CreatedAt:               now,
	})
}

// Report renders the volatility alerts.
func (v *Volatility) Report(alerts []*alert.Alert) string {
	return renderReport("Volatility", alerts)
}

// collectSeries fetches windows*steps candles per (symbol, period).
func collectSeries(ctx context.Context, source KlineSource, symbols []string, periods []time.Duration, windows int, b *base) (*SeriesData, error) {
	if source == nil {
		return nil, b.collectErr("klines", errors.New("kline source not configured"))
	}

	data := &SeriesData{At: b.now(), Series: make(map[SeriesKey][]market.Kline)}
	var errs []error
	for _, symbol := range symbols {
		for _, period := range periods {
			plan := planFor(period)
			// one extra candle so returns span the whole period
			klines, err := source.Klines(ctx, symbol, plan.interval, plan.steps*windows+1)
			if err != nil {
				if ctx.Err() != nil {
					return nil, b.collectErr("klines", ctx.Err())
				}
				errs = append(errs, fmt.Errorf("%s %s: %w", symbol, periodLabel(period), err))
				continue
			}
			data.Series[SeriesKey{Symbol: symbol, Period: period}] = klines
		}
	}

	if len(data.Series) == 0 && len(errs) > 0 {
		return nil, b.collectErr("klines", errors.Join(errs...))
	}
	for _, err := range errs {
		b.logger.Warn().Err(err).Msg("kline series unavailable")
	}
	return data, nil
}

var _ Detector = (*Volatility)(nil)
