// Package alert defines the alert value object shared by detectors and the
// orchestrator, together with its lifecycle and severity classification.
package alert

import (
	"time"

	"github.com/google/uuid"
)

// Alert is one detected condition. ID, Type and CreatedAt never change after
// New; Status moves through the lifecycle via the transition methods.
type Alert struct {
	ID          string   `json:"id"`
	Type        Type     `json:"type"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	SubjectCoin string   `json:"subject_coin,omitempty"`
	SubjectPair string   `json:"subject_pair,omitempty"`

	ThresholdValue *float64 `json:"threshold_value,omitempty"`
	CurrentValue   *float64 `json:"current_value,omitempty"`

	// Source names the detector that raised the alert.
	Source   string     `json:"source,omitempty"`
	DedupKey string     `json:"dedup_key,omitempty"`
	Metadata Attributes `json:"metadata"`
	Context  Attributes `json:"context"`

	Status         Status     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`

	AcknowledgementRequired bool `json:"acknowledgement_required"`
	Resolvable              bool `json:"resolvable"`
}

// Params carries the creation-time fields of an alert.
type Params struct {
	Type        Type
	Severity    Severity
	Title       string
	Description string
	SubjectCoin string
	SubjectPair string
	DedupKey    string

	// Threshold and Current are copied into ThresholdValue/CurrentValue when
	// HasValues is set.
	HasValues bool
	Threshold float64
	Current   float64

	Metadata Attributes
	Context  Attributes

	AcknowledgementRequired bool
	Resolvable              bool
	CreatedAt               time.Time
}

// New creates an Active alert with a fresh identifier.
func New(p Params) *Alert {
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	a := &Alert{
		ID:                      uuid.NewString(),
		Type:                    p.Type,
		Severity:                p.Severity,
		Title:                   p.Title,
		Description:             p.Description,
		SubjectCoin:             p.SubjectCoin,
		SubjectPair:             p.SubjectPair,
		DedupKey:                p.DedupKey,
		Metadata:                p.Metadata.Clone(),
		Context:                 p.Context.Clone(),
		Status:                  StatusActive,
		CreatedAt:               created,
		AcknowledgementRequired: p.AcknowledgementRequired,
		Resolvable:              p.Resolvable,
	}
	if p.HasValues {
		threshold, current := p.Threshold, p.Current
		a.ThresholdValue = &threshold
		a.CurrentValue = &current
	}
	return a
}

// Acknowledge moves an Active alert to Acknowledged. It reports whether the
// transition happened.
func (a *Alert) Acknowledge(at time.Time) bool {
	if a.Status != StatusActive {
		return false
	}
	a.Status = StatusAcknowledged
	a.AcknowledgedAt = &at
	return true
}

// Resolve moves an Active or Acknowledged alert to Resolved when the alert is
// resolvable. Any other call is a no-op that returns false.
func (a *Alert) Resolve(at time.Time) bool {
	if !a.Resolvable {
		return false
	}
	if a.Status != StatusActive && a.Status != StatusAcknowledged {
		return false
	}
	a.Status = StatusResolved
	a.ResolvedAt = &at
	return true
}

// Suppress moves an Active alert to Suppressed.
func (a *Alert) Suppress() bool {
	if a.Status != StatusActive {
		return false
	}
	a.Status = StatusSuppressed
	return true
}

// Unsuppress is the manual reset of a Suppressed alert back to Active.
func (a *Alert) Unsuppress() bool {
	if a.Status != StatusSuppressed {
		return false
	}
	a.Status = StatusActive
	return true
}

// Terminal reports whether no automatic transition leaves the current state.
func (a *Alert) Terminal() bool {
	return a.Status == StatusResolved || a.Status == StatusSuppressed
}

// Clone returns a deep copy safe to hand to readers.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	out := *a
	out.Metadata = a.Metadata.Clone()
	out.Context = a.Context.Clone()
	if a.ThresholdValue != nil {
		v := *a.ThresholdValue
		out.ThresholdValue = &v
	}
	if a.CurrentValue != nil {
		v := *a.CurrentValue
		out.CurrentValue = &v
	}
	if a.AcknowledgedAt != nil {
		v := *a.AcknowledgedAt
		out.AcknowledgedAt = &v
	}
	if a.ResolvedAt != nil {
		v := *a.ResolvedAt
		out.ResolvedAt = &v
	}
	return &out
}

// Measurement returns the value persisted alongside the alert.
func (a *Alert) Measurement() float64 {
	if a.CurrentValue != nil {
		return *a.CurrentValue
	}
	return 0
}
