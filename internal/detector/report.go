package detector

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"trading-monitor/internal/alert"
)

// FormatAlert renders one alert as a single line.
func FormatAlert(a *alert.Alert) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("[%s] %s", strings.ToUpper(a.Severity.String()), a.Title))
	if a.CurrentValue != nil && a.ThresholdValue != nil {
		b.WriteString(fmt.Sprintf(" (value %.4g, threshold %.4g)", *a.CurrentValue, *a.ThresholdValue))
	}
	return b.String()
}

// FormatDetail renders an alert with its description and timestamp.
func FormatDetail(a *alert.Alert) string {
	b := strings.Builder{}
	b.WriteString(FormatAlert(a))
	b.WriteString("\n")
	if a.Description != "" {
		b.WriteString(a.Description)
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("Time: %s UTC\n", a.CreatedAt.UTC().Format(time.RFC3339)))
	if actions, ok := a.Metadata.List("suggested_actions"); ok && len(actions) > 0 {
		b.WriteString("Suggested actions:\n")
		for _, action := range actions {
			b.WriteString("  - ")
			b.WriteString(action)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// renderReport is the shared Report body: a header and alerts sorted by
// severity then creation time.
func renderReport(heading string, alerts []*alert.Alert) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("[%s]\n", heading))
	if len(alerts) == 0 {
		b.WriteString("No alerts.\n")
		return b.String()
	}

	sorted := make([]*alert.Alert, len(alerts))
	copy(sorted, alerts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity != sorted[j].Severity {
			return sorted[i].Severity > sorted[j].Severity
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	counts := make(map[alert.Severity]int)
	for _, a := range sorted {
		counts[a.Severity]++
	}
	parts := make([]string, 0, len(alert.Severities))
	for i := len(alert.Severities) - 1; i >= 0; i-- {
		s := alert.Severities[i]
		if counts[s] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", s, counts[s]))
		}
	}
	b.WriteString(fmt.Sprintf("Alerts: %d (%s)\n", len(sorted), strings.Join(parts, ", ")))

	for _, a := range sorted {
		b.WriteString("- ")
		b.WriteString(FormatAlert(a))
		b.WriteString("\n")
		if a.Description != "" {
			b.WriteString("  ")
			b.WriteString(a.Description)
			b.WriteString("\n")
		}
	}
	return b.String()
}
