package detector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/config"
	"trading-monitor/internal/market"
	"trading-monitor/internal/throttle"
)

// Frequency metric names, also used in dedup keys.
const (
	FrequencyHourly      = "hourly"
	FrequencyDaily       = "daily"
	FrequencyWeekly      = "weekly"
	FrequencyConsecutive = "consecutive"
	FrequencyHolding     = "holding_period"
)

// TradeData is the trade history inside the lookback window.
type TradeData struct {
	At     time.Time
	Trades []market.Trade
}

// CollectedAt implements RawData.
func (d *TradeData) CollectedAt() time.Time { return d.At }

// FrequencyStats are the per-symbol trading cadence figures.
type FrequencyStats struct {
	Trades         int
	MaxHourly      int
	MaxDaily       int
	MaxWeekly      int
	LongestRun     int
	MinHolding     time.Duration
	HasHolding     bool
	HoldingMatches int
}

// Frequency raises alerts on over-trading: dense trade buckets, long runs
// of closely spaced trades and very short holding periods.
type Frequency struct {
	base
	cfg     config.FrequencyConfig
	source  TradeSource
	perCoin *throttle.RateLimiter
}

// NewFrequency builds the trading-frequency detector.
func NewFrequency(cfg config.FrequencyConfig, source TradeSource, logger zerolog.Logger, opts ...Option) *Frequency {
	if cfg.ConsecutiveGap <= 0 {
		cfg.ConsecutiveGap = time.Hour
	}
	return &Frequency{
		base:    newBase("frequency", cfg.Cooldown, logger, opts),
		cfg:     cfg,
		source:  source,
		perCoin: throttle.NewRateLimiter(cfg.MaxAlertsPerSymbol, cfg.RatePeriod),
	}
}

// Collect loads trades executed within the lookback window.
func (f *Frequency) Collect(ctx context.Context) (RawData, error) {
	if f.source == nil {
		return nil, f.collectErr("trades", errors.New("trade source not configured"))
	}
	now := f.now()
	trades, err := f.source.TradesSince(ctx, now.Add(-f.cfg.Lookback))
	if err != nil {
		return nil, f.collectErr("trades", err)
	}
	return &TradeData{At: now, Trades: trades}, nil
}

// Analyze evaluates every metric for every traded symbol independently.
func (f *Frequency) Analyze(raw RawData) []*alert.Alert {
	data, ok := raw.(*TradeData)
	if !ok {
		return f.unexpected(raw)
	}

	now := f.now()
	f.pruneCooldown(now)

	bySymbol := make(map[string][]market.Trade)
	for _, tr := range data.Trades {
		bySymbol[tr.Symbol] = append(bySymbol[tr.Symbol], tr)
	}
	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var out []*alert.Alert
	for _, symbol := range symbols {
		trades := bySymbol[symbol]
		sort.SliceStable(trades, func(i, j int) bool { return trades[i].ExecutedAt.Before(trades[j].ExecutedAt) })
		stats := ComputeFrequencyStats(trades, f.cfg.ConsecutiveGap)

		candidates := []struct {
			metric string
			value  float64
			table  alert.ThresholdTable
		}{
			{FrequencyHourly, float64(stats.MaxHourly), f.cfg.Hourly},
			{FrequencyDaily, float64(stats.MaxDaily), f.cfg.Daily},
			{FrequencyWeekly, float64(stats.MaxWeekly), f.cfg.Weekly},
			{FrequencyConsecutive, float64(stats.LongestRun), f.cfg.Consecutive},
		}
		for _, c := range candidates {
			sev, hit := c.table.Classify(c.value)
			if !hit {
				continue
			}
			if a := f.emit(symbol, c.metric, c.value, c.table.Boundary(sev), sev, stats, now); a != nil {
				out = append(out, a)
			}
		}

		if stats.HasHolding {
			minutes := stats.MinHolding.Minutes()
			if sev, hit := f.cfg.HoldingPeriod.ClassifyBelow(minutes); hit {
				if a := f.emit(symbol, FrequencyHolding, minutes, f.cfg.HoldingPeriod.Boundary(sev), sev, stats, now); a != nil {
					out = append(out, a)
				}
			}
		}
	}
	return out
}

func (f *Frequency) emit(symbol, metric string, value, boundary float64, sev alert.Severity, stats FrequencyStats, now time.Time) *alert.Alert {
	key := fmt.Sprintf("%s_frequency_%s", symbol, metric)
	if !f.cooled(key, sev, now) {
		return nil
	}
	// a candidate the per-symbol limit drops must not start its cooldown
	if !f.perCoin.Allow(symbol, now) {
		f.logger.Debug().Str("symbol", symbol).Str("metric", metric).Msg("alert dropped by per-symbol rate limit")
		return nil
	}
	f.cooldown.Record(key, now)

	var meta alert.Attributes
	meta.SetText("metric", metric)
	meta.SetFloat("value", value)
	meta.SetFloat("threshold", boundary)
	meta.SetFloat("trades", float64(stats.Trades))
	meta.SetFloat("max_hourly", float64(stats.MaxHourly))
	meta.SetFloat("max_daily", float64(stats.MaxDaily))
	meta.SetFloat("max_weekly", float64(stats.MaxWeekly))
	meta.SetFloat("longest_run", float64(stats.LongestRun))
	if stats.HasHolding {
		meta.SetFloat("min_holding_minutes", round(stats.MinHolding.Minutes(), 2))
	}

	var ctx alert.Attributes
	ctx.SetFloat("lookback_hours", f.cfg.Lookback.Hours())
	ctx.SetFloat("consecutive_gap_minutes", f.cfg.ConsecutiveGap.Minutes())

	title, desc := frequencyText(symbol, metric, value, boundary, sev, f.cfg.ConsecutiveGap)

	return alert.New(alert.Params{
		Type:                    alert.TypeFrequencyExceeded,
		Severity:                sev,
		Title:                   title,
		Description:             desc,
		SubjectCoin:             baseAsset(symbol),
		SubjectPair:             symbol,
		DedupKey:                key,
		HasValues:               true,
		Threshold:               boundary,
		Current:                 value,
		Metadata:                meta,
		Context:                 ctx,
		AcknowledgementRequired: requiresAck(sev),
		// a completed round trip cannot be undone
		Resolvable: metric != FrequencyHolding,
		CreatedAt:  now,
	})
}

func frequencyText(symbol, metric string, value, boundary float64, sev alert.Severity, gap time.Duration) (string, string) {
	switch metric {
	case FrequencyHolding:
		return fmt.Sprintf("%s held for only %.1f minutes", symbol, value),
			fmt.Sprintf("%s shortest buy-to-sell holding period is %.1f minutes, at or below the %s limit of %.1f minutes.", symbol, value, sev, boundary)
	case FrequencyConsecutive:
		return fmt.Sprintf("%s %d consecutive trades", symbol, int(value)),
			fmt.Sprintf("%s executed %d trades each within %s of the previous one (%s threshold %d).", symbol, int(value), gap, sev, int(boundary))
	default:
		return fmt.Sprintf("%s %d trades in one %s bucket", symbol, int(value), bucketName(metric)),
			fmt.Sprintf("%s peaked at %d trades within a single %s, at or above the %s threshold %d.", symbol, int(value), bucketName(metric), sev, int(boundary))
	}
}

func bucketName(metric string) string {
	switch metric {
	case FrequencyHourly:
		return "hour"
	case FrequencyDaily:
		return "day"
	case FrequencyWeekly:
		return "week"
	default:
		return metric
	}
}

// ComputeFrequencyStats derives cadence figures from trades of one symbol
// sorted by execution time.
func ComputeFrequencyStats(trades []market.Trade, gap time.Duration) FrequencyStats {
	stats := FrequencyStats{Trades: len(trades)}
	if len(trades) == 0 {
		return stats
	}

	hourly := make(map[time.Time]int)
	daily := make(map[time.Time]int)
	weekly := make(map[[2]int]int)
	run := 0
	var prev time.Time
	for i, tr := range trades {
		at := tr.ExecutedAt.UTC()
		hourly[at.Truncate(time.Hour)]++
		daily[time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)]++
		year, week := at.ISOWeek()
		weekly[[2]int{year, week}]++

		if i > 0 && at.Sub(prev) <= gap {
			run++
		} else {
			run = 1
		}
		if run > stats.LongestRun {
			stats.LongestRun = run
		}
		prev = at
	}
	stats.MaxHourly = maxCount(hourly)
	stats.MaxDaily = maxCount(daily)
	stats.MaxWeekly = maxCount(weekly)

	stats.MinHolding, stats.HoldingMatches = minHolding(trades)
	stats.HasHolding = stats.HoldingMatches > 0
	return stats
}

func maxCount[K comparable](m map[K]int) int {
	best := 0
	for _, n := range m {
		if n > best {
			best = n
		}
	}
	return best
}

type lot struct {
	qty decimal.Decimal
	at  time.Time
}

// minHolding matches sells against the oldest open buys and returns the
// shortest holding period among matched lots.
func minHolding(trades []market.Trade) (time.Duration, int) {
	var open []lot
	var best time.Duration
	matches := 0
	for _, tr := range trades {
		switch tr.Side {
		case market.SideBuy:
			if tr.Quantity.IsPositive() {
				open = append(open, lot{qty: tr.Quantity, at: tr.ExecutedAt})
			}
		case market.SideSell:
			remaining := tr.Quantity
			for remaining.IsPositive() && len(open) > 0 {
				head := &open[0]
				held := tr.ExecutedAt.Sub(head.at)
				if matches == 0 || held < best {
					best = held
				}
				matches++
				if head.qty.GreaterThan(remaining) {
					head.qty = head.qty.Sub(remaining)
					remaining = decimal.Zero
					break
				}
				remaining = remaining.Sub(head.qty)
				open = open[1:]
			}
		}
	}
	return best, matches
}

// Report renders the frequency alerts.
func (f *Frequency) Report(alerts []*alert.Alert) string {
	return renderReport("Trading frequency", alerts)
}

var _ Detector = (*Frequency)(nil)
