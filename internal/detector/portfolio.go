package detector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/config"
	"trading-monitor/internal/market"
)

// Change magnitude buckets used to choose suggested actions.
const (
	bucketSmall    = 0.10
	bucketModerate = 0.20
)

var hundred = decimal.NewFromInt(100)

// PortfolioData pairs the current valuation with historical snapshots.
type PortfolioData struct {
	At         time.Time
	Current    market.Snapshot
	Historical map[time.Duration]market.Snapshot
	// Series holds the snapshots inside each period, oldest first, for the
	// risk-adjusted return.
	Series map[time.Duration][]market.Snapshot
}

// CollectedAt implements RawData.
func (d *PortfolioData) CollectedAt() time.Time { return d.At }

// Portfolio raises alerts on large portfolio value changes and on
// allocation concentration.
type Portfolio struct {
	base
	cfg       config.PortfolioConfig
	quote     string
	holdings  market.HoldingsProvider
	prices    PriceSource
	snapshots SnapshotSource
	stable    map[string]bool

	mu   sync.Mutex
	last *market.Snapshot
}

// NewPortfolio builds the portfolio-change detector. Assets are valued in
// quote; stable assets are valued at 1.
func NewPortfolio(cfg config.PortfolioConfig, quote string, holdings market.HoldingsProvider, prices PriceSource, snapshots SnapshotSource, logger zerolog.Logger, opts ...Option) *Portfolio {
	if cfg.ConcentrationLimit <= 0 {
		cfg.ConcentrationLimit = 0.5
	}
	if quote == "" {
		quote = "USDT"
	}
	stable := map[string]bool{strings.ToUpper(quote): true}
	for _, s := range cfg.StableAssets {
		stable[strings.ToUpper(s)] = true
	}
	return &Portfolio{
		base:      newBase("portfolio", cfg.Cooldown, logger, opts),
		cfg:       cfg,
		quote:     strings.ToUpper(quote),
		holdings:  holdings,
		prices:    prices,
		snapshots: snapshots,
		stable:    stable,
	}
}

// Collect values the current holdings and loads historical snapshots.
func (p *Portfolio) Collect(ctx context.Context) (RawData, error) {
	if p.holdings == nil {
		return nil, p.collectErr("holdings", errors.New("holdings provider not configured"))
	}
	now := p.now()

	items, err := p.holdings.Holdings(ctx)
	if err != nil {
		return nil, p.collectErr("holdings", err)
	}

	current := market.Snapshot{TakenAt: now, TotalValue: decimal.Zero}
	for _, h := range items {
		value, err := p.value(ctx, h)
		if err != nil {
			return nil, p.collectErr("prices", err)
		}
		h.Value = value
		current.Holdings = append(current.Holdings, h)
		current.TotalValue = current.TotalValue.Add(value)
	}

	data := &PortfolioData{
		At:         now,
		Historical: make(map[time.Duration]market.Snapshot),
		Series:     make(map[time.Duration][]market.Snapshot),
	}

	if p.snapshots != nil {
		for _, period := range p.cfg.Periods {
			snap, ok, err := p.snapshots.SnapshotAtOrBefore(ctx, now.Add(-period))
			if err != nil {
				return nil, p.collectErr("snapshots", err)
			}
			if ok {
				data.Historical[period] = snap
			}
			series, err := p.snapshots.SnapshotsBetween(ctx, now.Add(-period), now)
			if err != nil {
				return nil, p.collectErr("snapshots", err)
			}
			data.Series[period] = series
		}
		// net invested is carried from the most recent known snapshot
		latest, ok, err := p.snapshots.SnapshotAtOrBefore(ctx, now)
		switch {
		case err != nil:
			p.degrade("net_invested", err)
		case ok:
			current.NetInvested = latest.NetInvested
		}
	}
	if current.NetInvested.IsZero() {
		current.NetInvested = current.TotalValue
	}
	data.Current = current

	p.mu.Lock()
	snap := current
	p.last = &snap
	p.mu.Unlock()

	return data, nil
}

func (p *Portfolio) value(ctx context.Context, h market.Holding) (decimal.Decimal, error) {
	asset := strings.ToUpper(h.Asset)
	if p.stable[asset] {
		return h.Quantity, nil
	}
	if p.prices == nil {
		return decimal.Decimal{}, errors.New("price source not configured")
	}
	price, err := p.prices.Price(ctx, asset+p.quote)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("price %s%s: %w", asset, p.quote, err)
	}
	return h.Quantity.Mul(price), nil
}

// LastSnapshot returns the valuation produced by the latest Collect.
func (p *Portfolio) LastSnapshot() (market.Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return market.Snapshot{}, false
	}
	return *p.last, true
}

// Analyze evaluates value change per period and allocation concentration.
func (p *Portfolio) Analyze(raw RawData) []*alert.Alert {
	data, ok := raw.(*PortfolioData)
	if !ok {
		return p.unexpected(raw)
	}

	now := p.now()
	p.pruneCooldown(now)

	var out []*alert.Alert
	periods := make([]time.Duration, 0, len(data.Historical))
	for period := range data.Historical {
		periods = append(periods, period)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i] < periods[j] })

	for _, period := range periods {
		past := data.Historical[period]
		if !past.TotalValue.IsPositive() {
			p.degrade("value_change", fmt.Errorf("%s snapshot has non-positive value", periodLabel(period)))
			continue
		}
		change := data.Current.TotalValue.Sub(past.TotalValue).Div(past.TotalValue)
		magnitude := change.Abs().InexactFloat64()
		sev, hit := p.cfg.ChangeThresholds.Classify(magnitude)
		if !hit {
			continue
		}
		key := fmt.Sprintf("portfolio_value_change_%s", periodLabel(period))
		if !p.admit(key, sev, now) {
			continue
		}
		out = append(out, p.changeAlert(period, data.Current, past, change, data.Series[period], sev, key, now))
	}

	out = append(out, p.concentration(data.Current, now)...)
	return out
}

func roi(s market.Snapshot) (decimal.Decimal, bool) {
	if !s.NetInvested.IsPositive() {
		return decimal.Zero, false
	}
	return s.TotalValue.Sub(s.NetInvested).Div(s.NetInvested), true
}

// riskAdjusted is the period return divided by the stdev of snapshot
// returns; ok is false with fewer than two returns or zero dispersion.
func riskAdjusted(change float64, series []market.Snapshot) (float64, bool) {
	values := make([]float64, 0, len(series))
	for _, s := range series {
		values = append(values, s.TotalValue.InexactFloat64())
	}
	returns := simpleReturns(values)
	if len(returns) < 2 {
		return 0, false
	}
	sd := stat.StdDev(returns, nil)
	if sd == 0 || math.IsNaN(sd) {
		return 0, false
	}
	return change / sd, true
}

func (p *Portfolio) changeAlert(period time.Duration, current, past market.Snapshot, change decimal.Decimal, series []market.Snapshot, sev alert.Severity, key string, now time.Time) *alert.Alert {
	boundary := p.cfg.ChangeThresholds.Boundary(sev)
	changeF := change.InexactFloat64()
	pct := change.Mul(hundred).Round(4).InexactFloat64()

	var meta alert.Attributes
	meta.SetFloat("percentage_change", pct)
	meta.SetFloat("current_value", current.TotalValue.InexactFloat64())
	meta.SetFloat("historical_value", past.TotalValue.InexactFloat64())
	meta.SetFloat("period_hours", period.Hours())
	meta.SetText("period", periodLabel(period))
	meta.SetText("direction", changeDirection(changeF))
	if nowROI, ok := roi(current); ok {
		meta.SetFloat("roi", nowROI.InexactFloat64())
		if pastROI, ok := roi(past); ok {
			meta.SetFloat("roi_change", nowROI.Sub(pastROI).InexactFloat64())
		}
	}
	if ra, ok := riskAdjusted(changeF, series); ok {
		meta.SetFloat("risk_adjusted_return", ra)
	}
	meta.SetList("suggested_actions", SuggestedActions(changeF))

	var ctx alert.Attributes
	ctx.SetText("historical_taken_at", past.TakenAt.UTC().Format(time.RFC3339))
	ctx.SetFloat("holdings", float64(len(current.Holdings)))
	ctx.SetFloat("series_points", float64(len(series)))

	title := fmt.Sprintf("Portfolio %s %.2f%% over %s", changeDirection(changeF), math.Abs(pct), periodLabel(period))
	desc := fmt.Sprintf("Portfolio value moved from %s to %s %s (%+.2f%%) over %s, meeting the %s threshold %.2f%%.",
		past.TotalValue.StringFixed(2), current.TotalValue.StringFixed(2), p.quote, pct, periodLabel(period), sev, boundary*100)

	return alert.New(alert.Params{
		Type:                    alert.TypePortfolioChange,
		Severity:                sev,
		Title:                   title,
		Description:             desc,
		DedupKey:                key,
		HasValues:               true,
		Threshold:               boundary,
		Current:                 math.Abs(changeF),
		Metadata:                meta,
		Context:                 ctx,
		AcknowledgementRequired: requiresAck(sev),
		Resolvable:              true,
		CreatedAt:               now,
	})
}

func changeDirection(change float64) string {
	if change >= 0 {
		return "increase"
	}
	return "decrease"
}

// SuggestedActions returns remediation hints for a fractional value change.
func SuggestedActions(change float64) []string {
	magnitude := math.Abs(change)
	if change >= 0 {
		switch {
		case magnitude < bucketSmall:
			return []string{"Review position sizes against target allocation", "Consider trailing stops to protect gains"}
		case magnitude < bucketModerate:
			return []string{"Take partial profits on the strongest positions", "Rebalance towards target allocation", "Tighten stop-loss levels"}
		default:
			return []string{"Lock in profits on outsized winners", "Rebalance immediately to reduce exposure", "Check whether the move is driven by a single asset"}
		}
	}
	switch {
	case magnitude < bucketSmall:
		return []string{"Monitor positions for further weakness", "Verify stop-loss orders are in place"}
	case magnitude < bucketModerate:
		return []string{"Reduce exposure to the weakest positions", "Review risk limits and leverage", "Consider hedging open positions"}
	default:
		return []string{"Pause automated trading and review strategy", "Cut losing positions to limit drawdown", "Move part of the portfolio into stable assets"}
	}
}

func (p *Portfolio) concentration(current market.Snapshot, now time.Time) []*alert.Alert {
	if !current.TotalValue.IsPositive() || len(current.Holdings) == 0 {
		return nil
	}
	var out []*alert.Alert
	for _, h := range current.Holdings {
		asset := strings.ToUpper(h.Asset)
		if p.stable[asset] {
			continue
		}
		share := h.Value.Div(current.TotalValue).InexactFloat64()
		if share <= p.cfg.ConcentrationLimit {
			continue
		}
		sev, hit := p.cfg.ConcentrationThreshold.Classify(share)
		if !hit {
			sev = alert.SeverityLow
		}
		key := asset + "_concentration"
		if !p.admit(key, sev, now) {
			continue
		}

		var meta alert.Attributes
		meta.SetFloat("allocation", share)
		meta.SetFloat("allocation_pct", round(share*100, 2))
		meta.SetFloat("limit", p.cfg.ConcentrationLimit)
		meta.SetFloat("holding_value", h.Value.InexactFloat64())
		meta.SetFloat("total_value", current.TotalValue.InexactFloat64())
		meta.SetList("suggested_actions", []string{
			fmt.Sprintf("Reduce %s below %.0f%% of the portfolio", asset, p.cfg.ConcentrationLimit*100),
			"Diversify into uncorrelated assets",
		})

		var ctx alert.Attributes
		ctx.SetText("source", h.Source)

		out = append(out, alert.New(alert.Params{
			Type:                    alert.TypePortfolioChange,
			Severity:                sev,
			Title:                   fmt.Sprintf("%s is %.1f%% of the portfolio", asset, share*100),
			Description:             fmt.Sprintf("%s holdings worth %s %s make up %.1f%% of the portfolio, above the %.0f%% concentration limit.", asset, h.Value.StringFixed(2), p.quote, share*100, p.cfg.ConcentrationLimit*100),
			SubjectCoin:             asset,
			DedupKey:                key,
			HasValues:               true,
			Threshold:               p.cfg.ConcentrationLimit,
			Current:                 share,
			Metadata:                meta,
			Context:                 ctx,
			AcknowledgementRequired: requiresAck(sev),
			Resolvable:              true,
			CreatedAt:               now,
		}))
	}
	return out
}

// Report renders the portfolio alerts with their suggested actions.
func (p *Portfolio) Report(alerts []*alert.Alert) string {
	b := strings.Builder{}
	b.WriteString(renderReport("Portfolio", alerts))
	for _, a := range alerts {
		if actions, ok := a.Metadata.List("suggested_actions"); ok && len(actions) > 0 {
			b.WriteString(fmt.Sprintf("Actions for %q:\n", a.Title))
			for _, action := range actions {
				b.WriteString("  - ")
				b.WriteString(action)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

var _ Detector = (*Portfolio)(nil)
