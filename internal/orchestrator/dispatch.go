package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/detector"
)

// dispatch sends one summary per non-empty severity group, one extra
// message per critical alert, and persists every admitted alert. Failures
// are logged and absorbed.
func (o *Orchestrator) dispatch(ctx context.Context, admitted []*alert.Alert) {
	if len(admitted) == 0 {
		return
	}

	// a started cycle runs to completion even if the driver is stopping
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.dispatchTimeout)
	defer cancel()

	if o.notifier != nil {
		groups := groupBySeverity(admitted)
		for i := len(alert.Severities) - 1; i >= 0; i-- {
			sev := alert.Severities[i]
			group := groups[sev]
			if len(group) == 0 {
				continue
			}
			if err := o.notifier.Notify(dctx, sev, SummaryMessage(sev, group)); err != nil {
				o.logDispatch(&DispatchError{Sink: "notifier", Err: err}, sev)
			}
		}
		for _, a := range groups[alert.SeverityCritical] {
			if err := o.notifier.Notify(dctx, a.Severity, CriticalMessage(a)); err != nil {
				o.logDispatch(&DispatchError{Sink: "notifier", AlertID: a.ID, Err: err}, a.Severity)
			}
		}
	}

	if o.store != nil {
		for _, a := range admitted {
			if err := o.store.SaveAlert(dctx, a, a.Measurement()); err != nil {
				o.logDispatch(&DispatchError{Sink: "store", AlertID: a.ID, Err: err}, a.Severity)
			}
		}
	}
}

func (o *Orchestrator) logDispatch(err *DispatchError, sev alert.Severity) {
	o.logger.Warn().Err(err).
		Str("sink", err.Sink).
		Str("alert_id", err.AlertID).
		Str("severity", sev.String()).
		Msg("dispatch failed")
}

func groupBySeverity(alerts []*alert.Alert) map[alert.Severity][]*alert.Alert {
	out := make(map[alert.Severity][]*alert.Alert)
	for _, a := range alerts {
		out[a.Severity] = append(out[a.Severity], a)
	}
	return out
}

// SummaryMessage renders the batched notification for one severity group.
func SummaryMessage(sev alert.Severity, group []*alert.Alert) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("[TradeWatch] %d %s alert(s)\n", len(group), strings.ToUpper(sev.String())))
	for _, a := range group {
		b.WriteString("- ")
		b.WriteString(detector.FormatAlert(a))
		if a.Source != "" {
			b.WriteString(" <")
			b.WriteString(a.Source)
			b.WriteString(">")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// CriticalMessage renders the individual notification of a critical alert.
func CriticalMessage(a *alert.Alert) string {
	b := strings.Builder{}
	b.WriteString("[TradeWatch CRITICAL]\n")
	b.WriteString(detector.FormatDetail(a))
	if a.Source != "" {
		b.WriteString(fmt.Sprintf("Detector: %s\n", a.Source))
	}
	b.WriteString(fmt.Sprintf("Alert ID: %s\n", a.ID))
	return b.String()
}
