package orchestrator

import (
	"context"
	"time"

	"trading-monitor/internal/alert"
)

type transition func(a *alert.Alert, now time.Time) bool

// Acknowledge moves an active alert to Acknowledged. changed is false when
// the alert was not Active.
func (o *Orchestrator) Acknowledge(ctx context.Context, id string) (*alert.Alert, bool, error) {
	return o.transition(ctx, id, "acknowledge", func(a *alert.Alert, now time.Time) bool {
		return a.Acknowledge(now)
	})
}

// Resolve moves an Active or Acknowledged, resolvable alert to Resolved and
// removes it from the active store. Resolving a non-resolvable alert is a
// no-op reported as changed=false.
func (o *Orchestrator) Resolve(ctx context.Context, id string) (*alert.Alert, bool, error) {
	return o.transition(ctx, id, "resolve", func(a *alert.Alert, now time.Time) bool {
		if !a.Resolve(now) {
			return false
		}
		o.active.Remove(a.ID)
		o.totalResolved++
		o.metrics.activeAlerts.Set(float64(o.active.Len()))
		return true
	})
}

// Suppress silences an Active alert until Unsuppress.
func (o *Orchestrator) Suppress(ctx context.Context, id string) (*alert.Alert, bool, error) {
	return o.transition(ctx, id, "suppress", func(a *alert.Alert, _ time.Time) bool {
		return a.Suppress()
	})
}

// Unsuppress is the manual reset of a Suppressed alert to Active.
func (o *Orchestrator) Unsuppress(ctx context.Context, id string) (*alert.Alert, bool, error) {
	return o.transition(ctx, id, "unsuppress", func(a *alert.Alert, _ time.Time) bool {
		return a.Unsuppress()
	})
}

func (o *Orchestrator) transition(ctx context.Context, id, op string, fn transition) (*alert.Alert, bool, error) {
	o.mu.Lock()
	a, ok := o.active.Get(id)
	if !ok {
		o.mu.Unlock()
		return nil, false, ErrAlertNotFound
	}
	changed := fn(a, o.now())
	snapshot := a.Clone()
	o.mu.Unlock()

	logger := o.logger.With().Str("alert_id", id).Str("op", op).Logger()
	if !changed {
		logger.Debug().Str("status", string(snapshot.Status)).Msg("lifecycle transition not applicable")
		return snapshot, false, nil
	}
	logger.Info().Str("status", string(snapshot.Status)).Msg("alert status changed")

	if o.store != nil {
		if err := o.store.UpdateAlertStatus(ctx, snapshot); err != nil {
			logger.Warn().Err(&DispatchError{Sink: "store", AlertID: id, Err: err}).Msg("persist status change failed")
		}
	}
	return snapshot, true, nil
}
