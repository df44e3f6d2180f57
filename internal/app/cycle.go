package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"trading-monitor/internal/api"
	"trading-monitor/internal/scheduler"
	"trading-monitor/internal/service"
)

func (a *App) newService(sched *scheduler.Scheduler, rt *runtime) *service.Service {
	var portfolio service.SnapshotProvider
	if rt.portfolio != nil {
		portfolio = rt.portfolio
	}
	svc := service.New(sched, rt.orch, portfolio, rt.store, a.Logger)

	freq := a.Config.Detectors.Frequency
	creds := a.Config.Exchange.APIKey != "" && a.Config.Exchange.APISecret != ""
	if rt.store != nil && creds && freq.Enabled && len(freq.SyncSymbols) > 0 {
		svc.WithTradeSync(rt.client, rt.store, freq.SyncSymbols, freq.Lookback)
	}
	return svc
}

func (a *App) startAPI(rt *runtime) (func(), error) {
	if !a.Config.API.Enabled {
		return func() {}, nil
	}
	srv := api.New(api.Config{
		Listen:      a.Config.API.Listen,
		CORSOrigins: a.Config.API.CORSOrigins,
		Log:         a.Logger,
		Monitor:     rt.orch,
		Gatherer:    rt.orch.Metrics().Registry(),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	// surface bind failures before the loop starts
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("start api: %w", err)
		}
	case <-time.After(200 * time.Millisecond):
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("api shutdown failed")
		}
	}, nil
}

// Cycle runs a single monitoring cycle and writes its result as JSON.
func (a *App) Cycle(ctx context.Context, out io.Writer) error {
	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, cycleErr := a.newService(nil, rt).RunOnce(ctx, time.Now().UTC())

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	return cycleErr
}

// Report runs a single cycle and writes the comprehensive report.
func (a *App) Report(ctx context.Context, out io.Writer) error {
	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if _, err := a.newService(nil, rt).RunOnce(ctx, time.Now().UTC()); err != nil {
		a.Logger.Warn().Err(err).Msg("cycle finished with error; report reflects partial state")
	}
	_, err = io.WriteString(out, rt.orch.GenerateComprehensiveReport())
	return err
}
