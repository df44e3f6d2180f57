package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/alerting"
	"trading-monitor/internal/config"
	"trading-monitor/internal/detector"
	"trading-monitor/internal/market"
	"trading-monitor/internal/orchestrator"
	"trading-monitor/internal/scheduler"
	"trading-monitor/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// runtime is the object graph shared by run, cycle and report.
type runtime struct {
	orch      *orchestrator.Orchestrator
	client    *market.Client
	portfolio *detector.Portfolio
	notifier  alerting.Notifier
	store     storage.Backend
}

func (r *runtime) Close() {
	if r.store != nil {
		_ = r.store.Close()
	}
}

func (a *App) newClient() *market.Client {
	cfg := a.Config.Exchange
	return market.NewClient(market.ClientOptions{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		APISecret:         cfg.APISecret,
		UserAgent:         cfg.UserAgent,
		Timeout:           cfg.RequestTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}, market.NewCallLog(cfg.CallLogSize), a.Logger)
}

// newHoldings merges the exchange account and the on-chain wallet, whichever
// are configured. It returns nil when neither is.
func (a *App) newHoldings(client *market.Client) market.HoldingsProvider {
	var providers market.CombinedHoldings
	if a.Config.Exchange.APIKey != "" && a.Config.Exchange.APISecret != "" {
		providers = append(providers, client)
	}

	eth := a.Config.Ethereum
	if eth.RPCURL != "" && eth.WalletAddress != "" {
		tokens := make([]market.Token, 0, len(eth.Tokens))
		for _, t := range eth.Tokens {
			tokens = append(tokens, market.Token{Symbol: t.Symbol, Address: t.Address, Decimals: t.Decimals})
		}
		providers = append(providers, market.NewOnchain(market.OnchainOptions{
			RPCURL:        eth.RPCURL,
			WalletAddress: eth.WalletAddress,
			Tokens:        tokens,
			Timeout:       eth.RequestTimeout,
		}, client.Calls(), a.Logger))
	}

	if len(providers) == 0 {
		return nil
	}
	return providers
}

func (a *App) newNotifier() alerting.Notifier {
	sinks := alerting.Multi{alerting.NewLogNotifier(a.Logger)}
	if !a.Config.Alerting.Enabled {
		return sinks
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		sinks = append(sinks, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger))
	}
	return sinks
}

func (a *App) openStore(ctx context.Context) (storage.Backend, error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if errors.Is(err, storage.ErrNotConfigured) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// build wires the detectors enabled in config into an orchestrator.
func (a *App) build(ctx context.Context) (*runtime, error) {
	for _, w := range a.Config.ThresholdWarnings() {
		a.Logger.Warn().Str("table", w).Msg("threshold tiers out of order; most severe tier wins")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database not configured; persistence disabled")
	}

	rt := &runtime{
		client:   a.newClient(),
		notifier: a.newNotifier(),
		store:    store,
	}

	var writer storage.AlertWriter
	if store != nil {
		writer = store
	}
	rt.orch = orchestrator.New(a.Config.Monitoring, rt.notifier, writer, a.Logger)

	d := a.Config.Detectors
	if d.Volatility.Enabled {
		rt.orch.Register(detector.NewVolatility(d.Volatility, rt.client, a.Logger))
	}
	if d.Performance.Enabled {
		rt.orch.Register(detector.NewPerformance(d.Performance, rt.client, a.Logger))
	}
	if d.Frequency.Enabled {
		if store == nil {
			a.Logger.Warn().Msg("frequency detector needs trade storage; skipped")
		} else {
			rt.orch.Register(detector.NewFrequency(d.Frequency, store, a.Logger))
		}
	}
	if d.APIError.Enabled {
		rt.orch.Register(detector.NewAPIError(d.APIError, rt.client.Calls(), a.Logger))
	}
	if d.Portfolio.Enabled {
		holdings := a.newHoldings(rt.client)
		if holdings == nil {
			a.Logger.Warn().Msg("portfolio detector needs exchange credentials or a wallet; skipped")
		} else {
			var snapshots detector.SnapshotSource
			if store != nil {
				snapshots = store
			}
			rt.portfolio = detector.NewPortfolio(d.Portfolio, a.Config.Exchange.QuoteAsset, holdings, rt.client, snapshots, a.Logger)
			rt.orch.Register(rt.portfolio)
		}
	}

	names := make([]string, 0)
	for _, det := range rt.orch.Detectors() {
		names = append(names, det.Name())
	}
	a.Logger.Info().Strs("detectors", names).Msg("detectors registered")
	if len(names) == 0 {
		rt.Close()
		return nil, errors.New("no detector enabled")
	}
	return rt, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	sched, err := scheduler.New(scheduler.Options{
		Interval:        a.Config.Monitoring.Interval,
		AlignToInterval: a.Config.Monitoring.AlignToInterval,
		StartupDelay:    a.Config.Monitoring.StartupDelay,
		RunImmediately:  true,
	}, a.Logger)
	if err != nil {
		return err
	}

	svc := a.newService(sched, rt)

	stopAPI, err := a.startAPI(rt)
	if err != nil {
		return err
	}
	defer stopAPI()

	stopCron, err := a.startCron(rt)
	if err != nil {
		return err
	}
	defer stopCron()

	a.Logger.Info().Dur("interval", a.Config.Monitoring.Interval).Msg("starting monitoring service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

func (a *App) startCron(rt *runtime) (func(), error) {
	if !a.Config.Reporting.Enabled {
		return func() {}, nil
	}
	c := scheduler.NewCron(time.Minute, a.Logger)
	err := c.AddJob(a.Config.Reporting.Schedule, scheduler.JobFunc{
		JobName: "comprehensive_report",
		Fn: func(ctx context.Context) error {
			return rt.notifier.Notify(ctx, alert.SeverityLow, rt.orch.GenerateComprehensiveReport())
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reporting.schedule: %w", err)
	}
	c.Start()
	return c.Stop, nil
}

// ExportOptions hold parameters for exporting alert history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	// MinSeverity and Type narrow the exported alerts; empty keeps all.
	MinSeverity string
	Type        string
}

// SimulateOptions configure a synthetic alert.
type SimulateOptions struct {
	Severity string
	Title    string
}
