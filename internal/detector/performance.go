package detector

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/config"
	"trading-monitor/internal/market"
)

// Performance raises alerts on price moves and volume surges that are
// exceptional relative to the symbol's own recent baseline.
type Performance struct {
	base
	cfg    config.PerformanceConfig
	source KlineSource
}

// NewPerformance builds the exceptional-performance detector.
func NewPerformance(cfg config.PerformanceConfig, source KlineSource, logger zerolog.Logger, opts ...Option) *Performance {
	if cfg.BaselinePeriods <= 0 {
		cfg.BaselinePeriods = 1
	}
	return &Performance{
		base:   newBase("performance", cfg.Cooldown, logger, opts),
		cfg:    cfg,
		source: source,
	}
}

// Collect fetches the current window plus baseline windows per symbol/period.
func (p *Performance) Collect(ctx context.Context) (RawData, error) {
	data, err := collectSeries(ctx, p.source, p.cfg.Symbols, p.cfg.Periods, p.cfg.BaselinePeriods+1, &p.base)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// windowStats summarises consecutive equal-length windows, oldest first.
type windowStats struct {
	changes []float64
	volumes []float64
}

// splitWindows cuts klines into windows of steps candles, aligned to the
// newest candle. The first candle of each window is its reference price.
func splitWindows(klines []market.Kline, steps int) windowStats {
	var ws windowStats
	if steps <= 0 {
		return ws
	}
	end := len(klines) - 1
	for end-steps >= 0 {
		start := end - steps
		ref := klines[start].Close
		if ref == 0 {
			break
		}
		vol := 0.0
		for i := start + 1; i <= end; i++ {
			vol += klines[i].Volume
		}
		ws.changes = append([]float64{(klines[end].Close - ref) / ref}, ws.changes...)
		ws.volumes = append([]float64{vol}, ws.volumes...)
		end = start
	}
	return ws
}

// Analyze compares the newest window of every series against its baseline.
func (p *Performance) Analyze(raw RawData) []*alert.Alert {
	data, ok := raw.(*SeriesData)
	if !ok {
		return p.unexpected(raw)
	}

	now := p.now()
	p.pruneCooldown(now)

	var out []*alert.Alert
	for _, symbol := range p.cfg.Symbols {
		for _, period := range p.cfg.Periods {
			klines, ok := data.Series[SeriesKey{Symbol: symbol, Period: period}]
			if !ok {
				continue
			}
			ws := splitWindows(klines, planFor(period).steps)
			if len(ws.changes) < 2 {
				p.degrade("baseline", fmt.Errorf("%s %s: need a baseline window, have %d windows", symbol, periodLabel(period), len(ws.changes)))
				continue
			}
			out = append(out, p.analyzeSeries(symbol, period, ws, now)...)
		}
	}
	return out
}

func (p *Performance) analyzeSeries(symbol string, period time.Duration, ws windowStats, now time.Time) []*alert.Alert {
	last := len(ws.changes) - 1
	baselineChanges := ws.changes[:last]
	if len(baselineChanges) > p.cfg.BaselinePeriods {
		baselineChanges = baselineChanges[len(baselineChanges)-p.cfg.BaselinePeriods:]
	}
	baselineVolumes := ws.volumes[:last]
	if len(baselineVolumes) > p.cfg.BaselinePeriods {
		baselineVolumes = baselineVolumes[len(baselineVolumes)-p.cfg.BaselinePeriods:]
	}

	absBaseline := make([]float64, len(baselineChanges))
	for i, c := range baselineChanges {
		absBaseline[i] = math.Abs(c)
	}
	baseline := mean(absBaseline)
	change := ws.changes[last]
	magnitude := math.Abs(change)

	var out []*alert.Alert

	if sev, hit := p.cfg.PriceThresholds.Classify(magnitude); hit && magnitude >= p.cfg.ExceptionalityFactor*baseline {
		key := fmt.Sprintf("%s_price_change_%s", symbol, periodLabel(period))
		if p.admit(key, sev, now) {
			out = append(out, p.priceAlert(symbol, period, change, baseline, sev, key, now))
		}
	}

	avgVolume := mean(baselineVolumes)
	if avgVolume > 0 {
		ratio := ws.volumes[last] / avgVolume
		// an average baseline window has ratio 1 by construction
		if sev, hit := p.cfg.VolumeThresholds.Classify(ratio); hit && ratio >= p.cfg.ExceptionalityFactor {
			key := fmt.Sprintf("%s_volume_%s", symbol, periodLabel(period))
			if p.admit(key, sev, now) {
				out = append(out, p.volumeAlert(symbol, period, ratio, ws.volumes[last], avgVolume, sev, key, now))
			}
		}
	}
	return out
}

func direction(change float64) string {
	if change >= 0 {
		return "up"
	}
	return "down"
}

func (p *Performance) priceAlert(symbol string, period time.Duration, change, baseline float64, sev alert.Severity, key string, now time.Time) *alert.Alert {
	boundary := p.cfg.PriceThresholds.Boundary(sev)
	relative := 0.0
	if baseline > 0 {
		relative = math.Abs(change) / baseline
	}

	var meta alert.Attributes
	meta.SetFloat("price_change", change)
	meta.SetFloat("price_change_pct", round(change*100, 4))
	meta.SetFloat("baseline_change", baseline)
	meta.SetFloat("relative_to_baseline", relative)
	meta.SetFloat("exceptionality_factor", p.cfg.ExceptionalityFactor)
	meta.SetFloat("period_hours", period.Hours())
	meta.SetText("direction", direction(change))
	meta.SetText("period", periodLabel(period))

	var ctx alert.Attributes
	ctx.SetText("metric", "price_change")
	ctx.SetFloat("baseline_windows", float64(p.cfg.BaselinePeriods))

	return alert.New(alert.Params{
		Type:                    alert.TypePerformanceAnomaly,
		Severity:                sev,
		Title:                   fmt.Sprintf("%s moved %+.2f%% in %s", symbol, change*100, periodLabel(period)),
		Description:             fmt.Sprintf("%s price changed %+.2f%% over %s against a baseline of %.2f%% (%.1fx); %s threshold is %.2f%%.", symbol, change*100, periodLabel(period), baseline*100, relative, sev, boundary*100),
		SubjectCoin:             baseAsset(symbol),
		SubjectPair:             symbol,
		DedupKey:                key,
		HasValues:               true,
		Threshold:               boundary,
		Current:                 math.Abs(change),
		Metadata:                meta,
		Context:                 ctx,
		AcknowledgementRequired: requiresAck(sev),
		Resolvable:              true,
		CreatedAt:               now,
	})
}

func (p *Performance) volumeAlert(symbol string, period time.Duration, ratio, volume, avgVolume float64, sev alert.Severity, key string, now time.Time) *alert.Alert {
	boundary := p.cfg.VolumeThresholds.Boundary(sev)

	var meta alert.Attributes
	meta.SetFloat("volume_ratio", ratio)
	meta.SetFloat("volume", volume)
	meta.SetFloat("baseline_volume", avgVolume)
	meta.SetFloat("period_hours", period.Hours())
	meta.SetText("period", periodLabel(period))

	var ctx alert.Attributes
	ctx.SetText("metric", "volume_ratio")
	ctx.SetFloat("baseline_windows", float64(p.cfg.BaselinePeriods))

	return alert.New(alert.Params{
		Type:                    alert.TypePerformanceAnomaly,
		Severity:                sev,
		Title:                   fmt.Sprintf("%s volume %.1fx baseline in %s", symbol, ratio, periodLabel(period)),
		Description:             fmt.Sprintf("%s traded %.4g over %s versus a baseline average of %.4g; ratio %.2f meets the %s threshold %.2f.", symbol, volume, periodLabel(period), avgVolume, ratio, sev, boundary),
		SubjectCoin:             baseAsset(symbol),
		SubjectPair:             symbol,
		DedupKey:                key,
		HasValues:               true,
		Threshold:               boundary,
		Current:                 ratio,
		Metadata:                meta,
		Context:                 ctx,
		AcknowledgementRequired: requiresAck(sev),
		Resolvable:              true,
		CreatedAt:               now,
	})
}

// Report renders the performance alerts.
func (p *Performance) Report(alerts []*alert.Alert) string {
	return renderReport("Exceptional performance", alerts)
}

var _ Detector = (*Performance)(nil)
