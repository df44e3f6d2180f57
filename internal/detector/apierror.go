package detector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/config"
	"trading-monitor/internal/market"
)

const globalEndpoint = "global"

// CallData is the upstream call history inside the window.
type CallData struct {
	At     time.Time
	Window time.Duration
	Calls  []market.CallRecord
}

// CollectedAt implements RawData.
func (d *CallData) CollectedAt() time.Time { return d.At }

// EndpointStats summarises the calls made to one endpoint.
type EndpointStats struct {
	Endpoint   string
	Total      int
	Failed     int
	LongestRun int
}

// ErrorRate is Failed/Total, zero when nothing was called.
func (s EndpointStats) ErrorRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(s.Total)
}

// APIError watches the health of the upstream APIs the monitor itself
// depends on.
type APIError struct {
	base
	cfg     config.APIErrorConfig
	history CallHistory
}

// NewAPIError builds the API error-rate detector.
func NewAPIError(cfg config.APIErrorConfig, history CallHistory, logger zerolog.Logger, opts ...Option) *APIError {
	return &APIError{
		base:    newBase("api_error", cfg.Cooldown, logger, opts),
		cfg:     cfg,
		history: history,
	}
}

// Collect reads the call log for the configured window.
func (d *APIError) Collect(ctx context.Context) (RawData, error) {
	if d.history == nil {
		return nil, d.collectErr("call_log", errors.New("call history not configured"))
	}
	if err := ctx.Err(); err != nil {
		return nil, d.collectErr("call_log", err)
	}
	now := d.now()
	return &CallData{At: now, Window: d.cfg.Window, Calls: d.history.Since(now.Add(-d.cfg.Window))}, nil
}

// Analyze runs the rate, consecutive-failure and error-kind classifications.
func (d *APIError) Analyze(raw RawData) []*alert.Alert {
	data, ok := raw.(*CallData)
	if !ok {
		return d.unexpected(raw)
	}

	now := d.now()
	d.pruneCooldown(now)

	endpoints, global, kinds := SummariseCalls(data.Calls)

	var out []*alert.Alert
	for _, stats := range append(endpoints, global) {
		if stats.Total == 0 || stats.Total < d.cfg.MinCalls {
			continue
		}
		rate := stats.ErrorRate()
		sev, hit := d.cfg.ErrorRate.Classify(rate)
		if !hit {
			continue
		}
		key := stats.Endpoint + "_error_rate"
		if !d.admit(key, sev, now) {
			continue
		}
		boundary := d.cfg.ErrorRate.Boundary(sev)
		out = append(out, d.newAlert(key, sev, rate, boundary, stats, now,
			fmt.Sprintf("%s error rate %.1f%%", stats.Endpoint, rate*100),
			fmt.Sprintf("%d of %d calls to %s failed in the last %s (%.1f%%), at or above the %s threshold %.1f%%.", stats.Failed, stats.Total, stats.Endpoint, data.Window, rate*100, sev, boundary*100),
			"error_rate"))
	}

	for _, stats := range endpoints {
		sev, hit := d.cfg.Consecutive.Classify(float64(stats.LongestRun))
		if !hit {
			continue
		}
		key := stats.Endpoint + "_consecutive_failures"
		if !d.admit(key, sev, now) {
			continue
		}
		boundary := d.cfg.Consecutive.Boundary(sev)
		out = append(out, d.newAlert(key, sev, float64(stats.LongestRun), boundary, stats, now,
			fmt.Sprintf("%s failed %d times in a row", stats.Endpoint, stats.LongestRun),
			fmt.Sprintf("%s had a run of %d consecutive failures in the last %s (%s threshold %d).", stats.Endpoint, stats.LongestRun, data.Window, sev, int(boundary)),
			"consecutive_failures"))
	}

	kindNames := make([]string, 0, len(kinds))
	for k := range kinds {
		kindNames = append(kindNames, string(k))
	}
	sort.Strings(kindNames)
	for _, name := range kindNames {
		count := kinds[market.ErrorKind(name)]
		sev, hit := d.cfg.ErrorKindCount.Classify(float64(count))
		if !hit {
			continue
		}
		key := name + "_error_count"
		if !d.admit(key, sev, now) {
			continue
		}
		boundary := d.cfg.ErrorKindCount.Boundary(sev)
		a := d.newAlert(key, sev, float64(count), boundary, global, now,
			fmt.Sprintf("%d %s errors", count, name),
			fmt.Sprintf("%d upstream calls failed with %s in the last %s (%s threshold %d).", count, name, data.Window, sev, int(boundary)),
			"error_kind_count")
		a.Metadata.SetText("error_kind", name)
		out = append(out, a)
	}
	return out
}

func (d *APIError) newAlert(key string, sev alert.Severity, value, boundary float64, stats EndpointStats, now time.Time, title, desc, metric string) *alert.Alert {
	var meta alert.Attributes
	meta.SetText("endpoint", stats.Endpoint)
	meta.SetText("metric", metric)
	meta.SetFloat("total_calls", float64(stats.Total))
	meta.SetFloat("failed_calls", float64(stats.Failed))
	meta.SetFloat("error_rate", stats.ErrorRate())
	meta.SetFloat("longest_failure_run", float64(stats.LongestRun))

	var ctx alert.Attributes
	ctx.SetFloat("window_minutes", d.cfg.Window.Minutes())
	ctx.SetFloat("min_calls", float64(d.cfg.MinCalls))

	return alert.New(alert.Params{
		Type:                    alert.TypeApiErrorRateExceeded,
		Severity:                sev,
		Title:                   title,
		Description:             desc,
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

// SummariseCalls aggregates call records per endpoint (sorted by name),
// globally, and per error kind. Records must be in chronological order.
func SummariseCalls(calls []market.CallRecord) ([]EndpointStats, EndpointStats, map[market.ErrorKind]int) {
	per := make(map[string]*EndpointStats)
	current := make(map[string]int)
	global := EndpointStats{Endpoint: globalEndpoint}
	globalRun := 0
	kinds := make(map[market.ErrorKind]int)

	for _, rec := range calls {
		st, ok := per[rec.Endpoint]
		if !ok {
			st = &EndpointStats{Endpoint: rec.Endpoint}
			per[rec.Endpoint] = st
		}
		st.Total++
		global.Total++
		if rec.Success {
			current[rec.Endpoint] = 0
			globalRun = 0
			continue
		}
		st.Failed++
		global.Failed++
		current[rec.Endpoint]++
		if current[rec.Endpoint] > st.LongestRun {
			st.LongestRun = current[rec.Endpoint]
		}
		globalRun++
		if globalRun > global.LongestRun {
			global.LongestRun = globalRun
		}
		kind := rec.Kind
		if kind == "" {
			kind = "unknown"
		}
		kinds[kind]++
	}

	names := make([]string, 0, len(per))
	for name := range per {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]EndpointStats, 0, len(names))
	for _, name := range names {
		out = append(out, *per[name])
	}
	return out, global, kinds
}

// Report renders the API error alerts.
func (d *APIError) Report(alerts []*alert.Alert) string {
	return renderReport("API errors", alerts)
}

var _ Detector = (*APIError)(nil)
