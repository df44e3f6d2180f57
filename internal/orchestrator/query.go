package orchestrator

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"trading-monitor/internal/alert"
)

// Filter narrows alert queries. Zero fields match everything.
type Filter struct {
	Severity alert.Severity
	Type     alert.Type
	From     time.Time
	To       time.Time
}

func (f Filter) match(a *alert.Alert) bool {
	if f.Severity != 0 && a.Severity != f.Severity {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if !f.From.IsZero() && a.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && a.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// ActiveAlerts returns copies of the stored alerts matching f, most severe
// first and newest first within a severity. Time bounds are ignored.
func (o *Orchestrator) ActiveAlerts(f Filter) []*alert.Alert {
	f.From, f.To = time.Time{}, time.Time{}

	o.mu.RLock()
	var out []*alert.Alert
	for _, a := range o.active.All() {
		if f.match(a) {
			out = append(out, a.Clone())
		}
	}
	o.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Severity != out[j].Severity {
			return out[i].Severity > out[j].Severity
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// AlertHistory returns copies of the history entries matching f in creation
// order.
func (o *Orchestrator) AlertHistory(f Filter) []*alert.Alert {
	o.mu.RLock()
	var out []*alert.Alert
	for _, a := range o.history.All() {
		if f.match(a) {
			out = append(out, a.Clone())
		}
	}
	o.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ServiceInfo is the accumulated state of one detector.
type ServiceInfo struct {
	Name       string     `json:"name"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastAlerts int        `json:"last_alerts"`
	Runs       int        `json:"runs"`
	Failures   int        `json:"failures"`
}

// Status is the service-level snapshot returned by ServiceStatus.
type Status struct {
	Running          bool           `json:"running"`
	LastRun          *time.Time     `json:"last_run,omitempty"`
	LastCycleStatus  string         `json:"last_cycle_status,omitempty"`
	LastCycleMessage string         `json:"last_cycle_message,omitempty"`
	Services         []ServiceInfo  `json:"services"`
	ActiveAlerts     int            `json:"active_alerts"`
	Capacity         int            `json:"capacity"`
	HistorySize      int            `json:"history_size"`
	ActiveBySeverity map[string]int `json:"active_by_severity"`
	TotalGenerated   int            `json:"total_generated"`
	TotalResolved    int            `json:"total_resolved"`
	TotalIgnored     int            `json:"total_ignored"`
	RateLimitBuckets map[string]int `json:"rate_limit_buckets"`
}

// ServiceStatus reports counters, service health and store sizes.
func (o *Orchestrator) ServiceStatus() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()

	st := Status{
		Running:          o.running.Load(),
		ActiveAlerts:     o.active.Len(),
		Capacity:         o.active.Capacity(),
		HistorySize:      o.history.Len(),
		ActiveBySeverity: make(map[string]int),
		TotalGenerated:   o.totalGenerated,
		TotalResolved:    o.totalResolved,
		TotalIgnored:     o.totalIgnored,
		RateLimitBuckets: o.limiter.Buckets(o.now()),
	}
	if !o.lastRun.IsZero() {
		last := o.lastRun
		st.LastRun = &last
	}
	if o.lastCycle != nil {
		st.LastCycleStatus = o.lastCycle.Status
		st.LastCycleMessage = o.lastCycle.Message
	}
	for _, a := range o.active.All() {
		st.ActiveBySeverity[a.Severity.String()]++
	}
	for _, d := range o.detectors {
		s := o.services[d.Name()]
		info := ServiceInfo{Name: d.Name()}
		if s != nil {
			info.LastStatus = s.LastStatus
			info.LastError = s.LastError
			info.LastAlerts = s.LastAlerts
			info.Runs = s.Runs
			info.Failures = s.Failures
			if !s.LastRunAt.IsZero() {
				at := s.LastRunAt
				info.LastRunAt = &at
			}
		}
		st.Services = append(st.Services, info)
	}
	return st
}

// GenerateComprehensiveReport renders the overall state and each
// detector's report over its active alerts.
func (o *Orchestrator) GenerateComprehensiveReport() string {
	status := o.ServiceStatus()
	active := o.ActiveAlerts(Filter{})

	b := strings.Builder{}
	b.WriteString("=== TradeWatch monitoring report ===\n")
	b.WriteString(fmt.Sprintf("Generated: %s UTC\n", o.now().UTC().Format(time.RFC3339)))
	if status.LastRun != nil {
		b.WriteString(fmt.Sprintf("Last cycle: %s (%s)\n", status.LastRun.UTC().Format(time.RFC3339), status.LastCycleStatus))
		if status.LastCycleMessage != "" {
			b.WriteString(fmt.Sprintf("Last cycle message: %s\n", status.LastCycleMessage))
		}
	} else {
		b.WriteString("Last cycle: never\n")
	}
	b.WriteString(fmt.Sprintf("Active alerts: %d/%d", status.ActiveAlerts, status.Capacity))
	if len(status.ActiveBySeverity) > 0 {
		parts := make([]string, 0, len(alert.Severities))
		for i := len(alert.Severities) - 1; i >= 0; i-- {
			name := alert.Severities[i].String()
			if n := status.ActiveBySeverity[name]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s=%d", name, n))
			}
		}
		b.WriteString(" (" + strings.Join(parts, ", ") + ")")
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Totals: generated=%d resolved=%d ignored=%d history=%d\n",
		status.TotalGenerated, status.TotalResolved, status.TotalIgnored, status.HistorySize))

	b.WriteString("\n--- Services ---\n")
	for _, s := range status.Services {
		state := s.LastStatus
		if state == "" {
			state = "pending"
		}
		b.WriteString(fmt.Sprintf("%s: %s (runs=%d failures=%d)", s.Name, state, s.Runs, s.Failures))
		if s.LastError != "" {
			b.WriteString(" last error: " + s.LastError)
		}
		b.WriteString("\n")
	}

	bySource := make(map[string][]*alert.Alert)
	for _, a := range active {
		bySource[a.Source] = append(bySource[a.Source], a)
	}
	for _, d := range o.Detectors() {
		b.WriteString("\n")
		b.WriteString(d.Report(bySource[d.Name()]))
	}
	return b.String()
}
