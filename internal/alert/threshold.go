package alert

import "fmt"

// ThresholdTable maps each severity tier to the numeric boundary that
// triggers it. Monotonicity is not required; see Classify.
type ThresholdTable struct {
	Low      float64 `mapstructure:"low" json:"low"`
	Medium   float64 `mapstructure:"medium" json:"medium"`
	High     float64 `mapstructure:"high" json:"high"`
	Critical float64 `mapstructure:"critical" json:"critical"`
}

// Boundary returns the boundary configured for tier s.
func (t ThresholdTable) Boundary(s Severity) float64 {
	switch s {
	case SeverityLow:
		return t.Low
	case SeverityMedium:
		return t.Medium
	case SeverityHigh:
		return t.High
	case SeverityCritical:
		return t.Critical
	default:
		return 0
	}
}

// Classify returns the most severe tier whose boundary v meets or exceeds,
// checking critical, high, medium, low in that order. ok is false when v is
// below the low boundary.
func (t ThresholdTable) Classify(v float64) (Severity, bool) {
	switch {
	case v >= t.Critical:
		return SeverityCritical, true
	case v >= t.High:
		return SeverityHigh, true
	case v >= t.Medium:
		return SeverityMedium, true
	case v >= t.Low:
		return SeverityLow, true
	default:
		return 0, false
	}
}

// ClassifyBelow is the inverse of Classify for metrics where smaller values
// are worse (holding periods, for example). Critical holds the smallest
// boundary and is checked first.
func (t ThresholdTable) ClassifyBelow(v float64) (Severity, bool) {
	switch {
	case v <= t.Critical:
		return SeverityCritical, true
	case v <= t.High:
		return SeverityHigh, true
	case v <= t.Medium:
		return SeverityMedium, true
	case v <= t.Low:
		return SeverityLow, true
	default:
		return 0, false
	}
}

// CheckAscending reports an error when low <= medium <= high <= critical
// does not hold.
func (t ThresholdTable) CheckAscending() error {
	if t.Low <= t.Medium && t.Medium <= t.High && t.High <= t.Critical {
		return nil
	}
	return fmt.Errorf("thresholds not ascending: low=%g medium=%g high=%g critical=%g", t.Low, t.Medium, t.High, t.Critical)
}

// CheckDescending is the counterpart of CheckAscending for tables used with
// ClassifyBelow.
func (t ThresholdTable) CheckDescending() error {
	if t.Low >= t.Medium && t.Medium >= t.High && t.High >= t.Critical {
		return nil
	}
	return fmt.Errorf("thresholds not descending: low=%g medium=%g high=%g critical=%g", t.Low, t.Medium, t.High, t.Critical)
}
