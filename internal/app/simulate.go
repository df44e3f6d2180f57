package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/detector"
	"trading-monitor/internal/orchestrator"
)

// SimulateAlert 构造一条合成告警, 经由完整的调度与告警流程发送。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) (orchestrator.CycleResult, error) {
	sev, err := alert.ParseSeverity(opts.Severity)
	if err != nil {
		return orchestrator.CycleResult{}, err
	}
	title := opts.Title
	if title == "" {
		title = fmt.Sprintf("Simulated %s alert", sev)
	}

	orch := orchestrator.New(a.Config.Monitoring, a.newNotifier(), nil, a.Logger)
	orch.Register(&staticDetector{params: alert.Params{
		Type:                    alert.TypeVolatilitySpike,
		Severity:                sev,
		Title:                   title,
		Description:             "synthetic alert raised by simulate-alert",
		DedupKey:                "simulated",
		AcknowledgementRequired: sev >= alert.SeverityHigh,
		Resolvable:              true,
	}})

	result := orch.RunCycle(ctx)
	if err := result.Err(); err != nil {
		return result, err
	}
	if result.Admitted == 0 {
		return result, errors.New("模拟告警未被接纳")
	}
	return result, nil
}

// staticDetector always reports one alert built from params.
type staticDetector struct {
	params alert.Params
}

type staticData struct{ at time.Time }

func (d staticData) CollectedAt() time.Time { return d.at }

func (s *staticDetector) Name() string { return "simulated" }

func (s *staticDetector) Collect(context.Context) (detector.RawData, error) {
	return staticData{at: time.Now().UTC()}, nil
}

func (s *staticDetector) Analyze(raw detector.RawData) []*alert.Alert {
	p := s.params
	p.CreatedAt = raw.CollectedAt()
	return []*alert.Alert{alert.New(p)}
}

func (s *staticDetector) Report(alerts []*alert.Alert) string {
	out := "[simulated]\n"
	for _, al := range alerts {
		out += "  " + detector.FormatAlert(al) + "\n"
	}
	return out
}

var _ detector.Detector = (*staticDetector)(nil)
