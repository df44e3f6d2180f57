package alert

import (
	"fmt"
	"strings"
)

// Severity is an ordered alert tier. The zero value is not a valid tier.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severities lists every tier from least to most severe.
var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Valid reports whether s is one of the four defined tiers.
func (s Severity) Valid() bool {
	return s >= SeverityLow && s <= SeverityCritical
}

// ParseSeverity accepts the lowercase tier names (case-insensitive).
func ParseSeverity(v string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "low":
		return SeverityLow, nil
	case "medium":
		return SeverityMedium, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Type tags the detector family that raised an alert.
type Type string

const (
	TypeVolatilitySpike      Type = "volatility_spike"
	TypePerformanceAnomaly   Type = "performance_anomaly"
	TypeFrequencyExceeded    Type = "frequency_exceeded"
	TypeApiErrorRateExceeded Type = "api_error_rate_exceeded"
	TypePortfolioChange      Type = "portfolio_change"
)

// Types lists every alert type.
var Types = []Type{
	TypeVolatilitySpike,
	TypePerformanceAnomaly,
	TypeFrequencyExceeded,
	TypeApiErrorRateExceeded,
	TypePortfolioChange,
}

// ParseType validates an alert type name.
func ParseType(v string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(v)))
	for _, known := range Types {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown alert type %q", v)
}

// Status is the lifecycle state of an alert.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusSuppressed   Status = "suppressed"
)
