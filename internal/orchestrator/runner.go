package orchestrator

import (
	"context"
	"fmt"
	"time"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/detector"
)

type detectorOutcome struct {
	name   string
	alerts []*alert.Alert
	result ServiceResult
}

// runDetectors runs every detector in parallel and joins them. A detector
// that fails, panics or exceeds the timeout contributes no alerts.
func (o *Orchestrator) runDetectors(ctx context.Context) []detectorOutcome {
	ds := o.Detectors()
	outcomes := make([]detectorOutcome, len(ds))
	done := make(chan struct{}, len(ds))

	for i, d := range ds {
		go func(i int, d detector.Detector) {
			outcomes[i] = o.runOne(ctx, d)
			done <- struct{}{}
		}(i, d)
	}
	for range ds {
		<-done
	}
	return outcomes
}

type runOutput struct {
	alerts []*alert.Alert
	err    error
}

func (o *Orchestrator) runOne(ctx context.Context, d detector.Detector) detectorOutcome {
	name := d.Name()
	started := o.now()
	logger := o.logger.With().Str("detector", name).Logger()

	// the per-detector timeout is the only intra-cycle cancellation point
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.detectorTimeout)
	defer cancel()

	// buffered so an abandoned detector goroutine can still finish
	ch := make(chan runOutput, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- runOutput{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		raw, err := d.Collect(dctx)
		if err != nil {
			ch <- runOutput{err: err}
			return
		}
		// past the deadline the outcome is discarded; analyzing would start
		// cooldowns for alerts nobody receives
		if err := dctx.Err(); err != nil {
			ch <- runOutput{err: err}
			return
		}
		ch <- runOutput{alerts: d.Analyze(raw)}
	}()

	var out runOutput
	select {
	case out = <-ch:
	case <-dctx.Done():
		out = runOutput{err: fmt.Errorf("detector timed out after %s: %w", o.detectorTimeout, dctx.Err())}
	}

	elapsed := time.Duration(0)
	if now := o.now(); now.After(started) {
		elapsed = now.Sub(started)
	}

	if out.err != nil {
		logger.Error().Err(out.err).Msg("detector failed, skipping for this cycle")
		return detectorOutcome{name: name, result: ServiceResult{Status: StatusError, Error: out.err.Error(), Duration: elapsed}}
	}

	logger.Debug().Int("alerts", len(out.alerts)).Dur("duration", elapsed).Msg("detector completed")
	return detectorOutcome{
		name:   name,
		alerts: out.alerts,
		result: ServiceResult{Status: StatusSuccess, Alerts: len(out.alerts), Duration: elapsed},
	}
}
