package orchestrator

import (
	"errors"
	"time"

	"trading-monitor/internal/alert"
)

// ServiceResult is one detector's outcome within a cycle.
type ServiceResult struct {
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Alerts   int           `json:"alerts"`
	Duration time.Duration `json:"duration"`
}

// CycleResult summarises one cycle.
type CycleResult struct {
	Status     string                   `json:"status"`
	Message    string                   `json:"message,omitempty"`
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Services   map[string]ServiceResult `json:"services,omitempty"`

	Generated   int `json:"generated"`
	Admitted    int `json:"admitted"`
	RateLimited int `json:"rate_limited"`
	Evicted     int `json:"evicted"`

	BySeverity map[string]int `json:"by_severity,omitempty"`
	ByType     map[string]int `json:"by_type,omitempty"`
	ByDetector map[string]int `json:"by_detector,omitempty"`

	// Alerts are copies of the admitted alerts.
	Alerts []*alert.Alert `json:"alerts,omitempty"`

	rejected bool
}

func newCycleResult(started time.Time) CycleResult {
	return CycleResult{
		Status:     StatusSuccess,
		StartedAt:  started,
		Services:   make(map[string]ServiceResult),
		BySeverity: make(map[string]int),
		ByType:     make(map[string]int),
		ByDetector: make(map[string]int),
	}
}

func (r *CycleResult) count(a *alert.Alert) {
	r.BySeverity[a.Severity.String()]++
	r.ByType[string(a.Type)]++
	r.ByDetector[a.Source]++
}

// Rejected reports whether the cycle was refused because another was running.
func (r CycleResult) Rejected() bool {
	return r.rejected
}

// Err returns ErrAlreadyRunning for a rejected cycle, an error carrying the
// message for a failed cycle, and nil otherwise.
func (r CycleResult) Err() error {
	switch {
	case r.rejected:
		return ErrAlreadyRunning
	case r.Status == StatusError:
		return errors.New(r.Message)
	default:
		return nil
	}
}

// serviceState accumulates per-detector history across cycles.
type serviceState struct {
	Name       string
	LastStatus string
	LastError  string
	LastRunAt  time.Time
	LastAlerts int
	Runs       int
	Failures   int
}

// recordServices folds a cycle's service results into the running state.
// Callers hold o.mu.
func (o *Orchestrator) recordServices(r CycleResult) {
	for name, res := range r.Services {
		st, ok := o.services[name]
		if !ok {
			st = &serviceState{Name: name}
			o.services[name] = st
		}
		st.Runs++
		st.LastStatus = res.Status
		st.LastError = res.Error
		st.LastAlerts = res.Alerts
		st.LastRunAt = r.StartedAt
		if res.Status == StatusError {
			st.Failures++
		}
	}
}
