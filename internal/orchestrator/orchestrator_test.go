package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/config"
	"trading-monitor/internal/detector"
	"trading-monitor/internal/storage"
)

var t0 = time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

// testClock is read from detector goroutines, so it is locked.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type rawData struct{ at time.Time }

func (r rawData) CollectedAt() time.Time { return r.at }

// fakeDetector returns whatever produce yields on every cycle.
type fakeDetector struct {
	name    string
	collect func(ctx context.Context) error
	produce func() []*alert.Alert
}

func (f *fakeDetector) Name() string { return f.name }

func (f *fakeDetector) Collect(ctx context.Context) (detector.RawData, error) {
	if f.collect != nil {
		if err := f.collect(ctx); err != nil {
			return nil, err
		}
	}
	return rawData{at: t0}, nil
}

func (f *fakeDetector) Analyze(detector.RawData) []*alert.Alert {
	if f.produce == nil {
		return nil
	}
	return f.produce()
}

func (f *fakeDetector) Report(alerts []*alert.Alert) string {
	return fmt.Sprintf("[%s report] %d alert(s)\n", f.name, len(alerts))
}

type sent struct {
	severity alert.Severity
	message  string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, sev alert.Severity, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{severity: sev, message: msg})
	return n.err
}

type recordingStore struct {
	mu      sync.Mutex
	saved   []string
	updates []alert.Status
	err     error
}

func (s *recordingStore) SaveAlert(_ context.Context, a *alert.Alert, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, a.ID)
	return s.err
}

func (s *recordingStore) UpdateAlertStatus(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, a.Status)
	return s.err
}

func monitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		Interval:        5 * time.Minute,
		DetectorTimeout: time.Second,
		MaxActiveAlerts: 100,
		AlertRetention:  7 * 24 * time.Hour,
		RateLimit:       config.RateLimitConfig{MaxAlertsPerPeriod: 50, Period: time.Hour},
	}
}

func newAlert(clk *testClock, typ alert.Type, sev alert.Severity, title string) *alert.Alert {
	return alert.New(alert.Params{
		Type:       typ,
		Severity:   sev,
		Title:      title,
		HasValues:  true,
		Threshold:  1,
		Current:    2,
		Resolvable: true,
		CreatedAt:  clk.Now(),
	})
}

func emit(clk *testClock, typ alert.Type, sevs ...alert.Severity) func() []*alert.Alert {
	return func() []*alert.Alert {
		out := make([]*alert.Alert, 0, len(sevs))
		for i, sev := range sevs {
			out = append(out, newAlert(clk, typ, sev, fmt.Sprintf("%s #%d", sev, i)))
		}
		return out
	}
}

func quiet() zerolog.Logger { return zerolog.New(io.Discard) }

func newTestOrchestrator(t *testing.T, cfg config.MonitoringConfig, clk *testClock, n *recordingNotifier, s *recordingStore) *Orchestrator {
	t.Helper()
	var writer storage.AlertWriter
	if s != nil {
		writer = s
	}
	o := New(cfg, nil, writer, quiet(), WithClock(clk.Now), WithDispatchTimeout(time.Second))
	if n != nil {
		o.notifier = n
	}
	return o
}

func TestCycleIsolatesDetectorFailures(t *testing.T) {
	clk := &testClock{now: t0}
	cfg := monitoringConfig()
	cfg.DetectorTimeout = 50 * time.Millisecond
	o := newTestOrchestrator(t, cfg, clk, nil, nil)

	o.Register(
		&fakeDetector{name: "broken", collect: func(context.Context) error { return errors.New("exchange down") }},
		&fakeDetector{name: "panicky", produce: func() []*alert.Alert { panic("bad index") }},
		&fakeDetector{name: "slow", collect: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		&fakeDetector{name: "healthy", produce: emit(clk, alert.TypeVolatilitySpike, alert.SeverityLow, alert.SeverityMedium)},
	)

	res := o.RunCycle(context.Background())
	require.Equal(t, StatusSuccess, res.Status)
	assert.NoError(t, res.Err())
	assert.Equal(t, 2, res.Generated)
	assert.Equal(t, 2, res.Admitted)

	assert.Equal(t, StatusError, res.Services["broken"].Status)
	assert.Contains(t, res.Services["broken"].Error, "exchange down")
	assert.Equal(t, StatusError, res.Services["panicky"].Status)
	assert.Contains(t, res.Services["panicky"].Error, "panic")
	assert.Equal(t, StatusError, res.Services["slow"].Status)
	assert.Contains(t, res.Services["slow"].Error, "timed out")
	assert.Equal(t, StatusSuccess, res.Services["healthy"].Status)
	assert.Equal(t, 2, res.Services["healthy"].Alerts)

	for _, a := range res.Alerts {
		assert.Equal(t, "healthy", a.Source)
		src, ok := a.Metadata.Text("detector")
		require.True(t, ok)
		assert.Equal(t, "healthy", src)
	}

	status := o.ServiceStatus()
	require.Len(t, status.Services, 4)
	assert.Equal(t, 1, status.Services[0].Failures)
	assert.Equal(t, 0, status.Services[3].Failures)
	assert.Equal(t, 1.0, testutil.ToFloat64(o.Metrics().detectorRuns.WithLabelValues("broken", StatusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(o.Metrics().detectorRuns.WithLabelValues("healthy", StatusSuccess)))
}

func TestLateCollectSkipsAnalyze(t *testing.T) {
	clk := &testClock{now: t0}
	cfg := monitoringConfig()
	cfg.DetectorTimeout = 20 * time.Millisecond
	o := newTestOrchestrator(t, cfg, clk, nil, nil)

	returned := make(chan struct{})
	var analyzed atomic.Bool
	o.Register(&fakeDetector{
		name: "laggard",
		collect: func(context.Context) error {
			defer close(returned)
			time.Sleep(60 * time.Millisecond)
			return nil
		},
		produce: func() []*alert.Alert {
			analyzed.Store(true)
			return emit(clk, alert.TypeVolatilitySpike, alert.SeverityHigh)()
		},
	})

	res := o.RunCycle(context.Background())
	assert.Equal(t, StatusError, res.Services["laggard"].Status)
	assert.Equal(t, 0, res.Admitted)

	<-returned
	assert.Never(t, analyzed.Load, 50*time.Millisecond, 5*time.Millisecond)
}

func TestStartedCycleIgnoresCallerCancellation(t *testing.T) {
	clk := &testClock{now: t0}
	o := newTestOrchestrator(t, monitoringConfig(), clk, nil, nil)
	o.Register(&fakeDetector{
		name:    "careful",
		collect: func(ctx context.Context) error { return ctx.Err() },
		produce: emit(clk, alert.TypePortfolioChange, alert.SeverityHigh),
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := o.RunCycle(ctx)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, StatusSuccess, res.Services["careful"].Status)
	assert.Equal(t, 1, res.Admitted)
}

func TestActiveStoreEvictsOldestAtCapacity(t *testing.T) {
	clk := &testClock{now: t0}
	cfg := monitoringConfig()
	cfg.MaxActiveAlerts = 2
	o := newTestOrchestrator(t, cfg, clk, nil, nil)

	var created []*alert.Alert
	o.Register(&fakeDetector{name: "seq", produce: func() []*alert.Alert {
		a := newAlert(clk, alert.TypePerformanceAnomaly, alert.SeverityLow, "perf")
		created = append(created, a)
		return []*alert.Alert{a}
	}})

	for i := 0; i < 3; i++ {
		res := o.RunCycle(context.Background())
		require.Equal(t, StatusSuccess, res.Status)
		clk.Advance(time.Minute)
	}

	active := o.ActiveAlerts(Filter{})
	require.Len(t, active, 2)
	// newest first within the same severity
	assert.Equal(t, created[2].ID, active[0].ID)
	assert.Equal(t, created[1].ID, active[1].ID)

	status := o.ServiceStatus()
	assert.Equal(t, 1, status.TotalIgnored)
	assert.Equal(t, 3, status.TotalGenerated)
	assert.Equal(t, 3, status.HistorySize)
	assert.Equal(t, 2, status.Capacity)
	assert.Equal(t, 1.0, testutil.ToFloat64(o.Metrics().alertsIgnored.WithLabelValues("evicted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(o.Metrics().activeAlerts))
}

func TestGlobalRateLimitWindow(t *testing.T) {
	clk := &testClock{now: t0}
	cfg := monitoringConfig()
	cfg.RateLimit = config.RateLimitConfig{MaxAlertsPerPeriod: 2, Period: time.Hour}
	o := newTestOrchestrator(t, cfg, clk, nil, nil)
	o.Register(&fakeDetector{name: "burst", produce: func() []*alert.Alert {
		out := emit(clk, alert.TypeFrequencyExceeded, alert.SeverityHigh, alert.SeverityHigh, alert.SeverityHigh)()
		return append(out, newAlert(clk, alert.TypeFrequencyExceeded, alert.SeverityLow, "other bucket"))
	}})

	res := o.RunCycle(context.Background())
	assert.Equal(t, 4, res.Generated)
	assert.Equal(t, 3, res.Admitted)
	assert.Equal(t, 1, res.RateLimited)

	clk.Advance(59 * time.Minute)
	res = o.RunCycle(context.Background())
	assert.Equal(t, 0, res.BySeverity["high"])
	assert.Equal(t, 1, res.BySeverity["low"])
	assert.Equal(t, 3, res.RateLimited)

	clk.Advance(time.Minute)
	res = o.RunCycle(context.Background())
	assert.Equal(t, 2, res.BySeverity["high"])
	assert.Equal(t, 1, res.BySeverity["low"])
	assert.Equal(t, 1.0+3+1, testutil.ToFloat64(o.Metrics().alertsIgnored.WithLabelValues("rate_limited")))
}

func TestConcurrentCycleRejected(t *testing.T) {
	clk := &testClock{now: t0}
	o := newTestOrchestrator(t, monitoringConfig(), clk, nil, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	o.Register(&fakeDetector{name: "blocking", collect: func(context.Context) error {
		close(entered)
		<-release
		return nil
	}})

	done := make(chan CycleResult, 1)
	go func() { done <- o.RunCycle(context.Background()) }()
	<-entered
	require.True(t, o.Running())

	rejected := o.RunCycle(context.Background())
	assert.True(t, rejected.Rejected())
	assert.Equal(t, StatusError, rejected.Status)
	assert.ErrorIs(t, rejected.Err(), ErrAlreadyRunning)
	assert.Equal(t, "already running", rejected.Message)

	close(release)
	first := <-done
	assert.Equal(t, StatusSuccess, first.Status)
	assert.False(t, o.Running())
	assert.Equal(t, 1, o.ServiceStatus().Services[0].Runs)
}

func TestDispatchSummaryPerSeverityAndIndividualCriticals(t *testing.T) {
	clk := &testClock{now: t0}
	n := &recordingNotifier{}
	s := &recordingStore{}
	o := newTestOrchestrator(t, monitoringConfig(), clk, n, s)
	o.Register(&fakeDetector{name: "mixed", produce: emit(clk, alert.TypePortfolioChange,
		alert.SeverityMedium, alert.SeverityCritical, alert.SeverityLow, alert.SeverityMedium, alert.SeverityCritical)})

	res := o.RunCycle(context.Background())
	require.Equal(t, 5, res.Admitted)

	require.Len(t, n.sent, 5)
	assert.Equal(t, alert.SeverityCritical, n.sent[0].severity)
	assert.True(t, strings.HasPrefix(n.sent[0].message, "[TradeWatch] 2 CRITICAL alert(s)"))
	assert.Equal(t, alert.SeverityMedium, n.sent[1].severity)
	assert.True(t, strings.HasPrefix(n.sent[1].message, "[TradeWatch] 2 MEDIUM alert(s)"))
	assert.Equal(t, alert.SeverityLow, n.sent[2].severity)
	for _, m := range n.sent[3:] {
		assert.Equal(t, alert.SeverityCritical, m.severity)
		assert.True(t, strings.HasPrefix(m.message, "[TradeWatch CRITICAL]"))
		assert.Contains(t, m.message, "Detector: mixed")
	}
	assert.Len(t, s.saved, 5)
}

func TestDispatchFailuresAreAbsorbed(t *testing.T) {
	clk := &testClock{now: t0}
	n := &recordingNotifier{err: errors.New("telegram down")}
	s := &recordingStore{err: errors.New("db down")}
	o := newTestOrchestrator(t, monitoringConfig(), clk, n, s)
	o.Register(&fakeDetector{name: "one", produce: emit(clk, alert.TypeVolatilitySpike, alert.SeverityHigh)})

	res := o.RunCycle(context.Background())
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 1, res.Admitted)
	assert.Len(t, o.ActiveAlerts(Filter{}), 1)
}

func TestLifecycleTransitions(t *testing.T) {
	clk := &testClock{now: t0}
	s := &recordingStore{}
	o := newTestOrchestrator(t, monitoringConfig(), clk, nil, s)
	o.Register(&fakeDetector{name: "life", produce: emit(clk, alert.TypeApiErrorRateExceeded, alert.SeverityHigh, alert.SeverityLow)})
	res := o.RunCycle(context.Background())
	require.Len(t, res.Alerts, 2)
	high, low := res.Alerts[0].ID, res.Alerts[1].ID
	ctx := context.Background()

	_, _, err := o.Acknowledge(ctx, "missing")
	assert.ErrorIs(t, err, ErrAlertNotFound)

	clk.Advance(time.Minute)
	a, changed, err := o.Acknowledge(ctx, high)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, alert.StatusAcknowledged, a.Status)
	require.NotNil(t, a.AcknowledgedAt)
	assert.True(t, a.AcknowledgedAt.Equal(t0.Add(time.Minute)))

	_, changed, err = o.Acknowledge(ctx, high)
	require.NoError(t, err)
	assert.False(t, changed)

	a, changed, err = o.Resolve(ctx, high)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, alert.StatusResolved, a.Status)
	_, _, err = o.Resolve(ctx, high)
	assert.ErrorIs(t, err, ErrAlertNotFound)

	a, changed, err = o.Suppress(ctx, low)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, alert.StatusSuppressed, a.Status)
	_, changed, _ = o.Resolve(ctx, low)
	assert.False(t, changed)
	a, changed, _ = o.Unsuppress(ctx, low)
	assert.True(t, changed)
	assert.Equal(t, alert.StatusActive, a.Status)

	status := o.ServiceStatus()
	assert.Equal(t, 1, status.ActiveAlerts)
	assert.Equal(t, 1, status.TotalResolved)
	assert.Equal(t, 2, status.HistorySize)

	hist := o.AlertHistory(Filter{Severity: alert.SeverityHigh})
	require.Len(t, hist, 1)
	assert.Equal(t, alert.StatusResolved, hist[0].Status)

	assert.Equal(t, []alert.Status{
		alert.StatusAcknowledged, alert.StatusResolved, alert.StatusSuppressed, alert.StatusActive,
	}, s.updates)
}

func TestNonResolvableAlertStaysActive(t *testing.T) {
	clk := &testClock{now: t0}
	o := newTestOrchestrator(t, monitoringConfig(), clk, nil, nil)
	o.Register(&fakeDetector{name: "hold", produce: func() []*alert.Alert {
		return []*alert.Alert{alert.New(alert.Params{
			Type: alert.TypeFrequencyExceeded, Severity: alert.SeverityMedium, Title: "short hold", CreatedAt: clk.Now(),
		})}
	}})
	res := o.RunCycle(context.Background())
	require.Len(t, res.Alerts, 1)

	a, changed, err := o.Resolve(context.Background(), res.Alerts[0].ID)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, alert.StatusActive, a.Status)
	assert.Len(t, o.ActiveAlerts(Filter{}), 1)
}

func TestRetentionPrunesActiveAndHistory(t *testing.T) {
	clk := &testClock{now: t0}
	cfg := monitoringConfig()
	cfg.AlertRetention = time.Hour
	o := newTestOrchestrator(t, cfg, clk, nil, nil)

	fire := true
	o.Register(&fakeDetector{name: "once", produce: func() []*alert.Alert {
		if !fire {
			return nil
		}
		fire = false
		return emit(clk, alert.TypeVolatilitySpike, alert.SeverityLow)()
	}})

	o.RunCycle(context.Background())
	assert.Equal(t, 1, o.ServiceStatus().HistorySize)

	clk.Advance(30 * time.Minute)
	o.RunCycle(context.Background())
	assert.Equal(t, 1, o.ServiceStatus().ActiveAlerts)

	clk.Advance(31 * time.Minute)
	o.RunCycle(context.Background())
	status := o.ServiceStatus()
	assert.Equal(t, 0, status.ActiveAlerts)
	assert.Equal(t, 0, status.HistorySize)
}

func TestQueriesFilterAndOrder(t *testing.T) {
	clk := &testClock{now: t0}
	o := newTestOrchestrator(t, monitoringConfig(), clk, nil, nil)
	o.Register(&fakeDetector{name: "q", produce: func() []*alert.Alert {
		return []*alert.Alert{
			newAlert(clk, alert.TypeVolatilitySpike, alert.SeverityLow, "low"),
			newAlert(clk, alert.TypePortfolioChange, alert.SeverityCritical, "critical"),
		}
	}})
	o.RunCycle(context.Background())
	clk.Advance(time.Hour)
	o.RunCycle(context.Background())

	active := o.ActiveAlerts(Filter{})
	require.Len(t, active, 4)
	assert.Equal(t, alert.SeverityCritical, active[0].Severity)
	assert.True(t, active[0].CreatedAt.After(active[1].CreatedAt))
	assert.Equal(t, alert.SeverityLow, active[3].Severity)

	assert.Len(t, o.ActiveAlerts(Filter{Type: alert.TypeVolatilitySpike}), 2)
	assert.Len(t, o.ActiveAlerts(Filter{Severity: alert.SeverityCritical, Type: alert.TypeVolatilitySpike}), 0)

	hist := o.AlertHistory(Filter{From: t0.Add(30 * time.Minute)})
	require.Len(t, hist, 2)
	assert.True(t, hist[0].CreatedAt.Equal(t0.Add(time.Hour)))

	// returned alerts are copies
	active[0].Title = "changed"
	assert.NotEqual(t, "changed", o.ActiveAlerts(Filter{})[0].Title)
}

func TestComprehensiveReport(t *testing.T) {
	clk := &testClock{now: t0}
	o := newTestOrchestrator(t, monitoringConfig(), clk, nil, nil)
	o.Register(
		&fakeDetector{name: "alpha", produce: emit(clk, alert.TypeVolatilitySpike, alert.SeverityHigh)},
		&fakeDetector{name: "beta", collect: func(context.Context) error { return errors.New("no data") }},
	)

	before := o.GenerateComprehensiveReport()
	assert.Contains(t, before, "Last cycle: never")
	assert.Contains(t, before, "alpha: pending")

	o.RunCycle(context.Background())
	report := o.GenerateComprehensiveReport()
	assert.Contains(t, report, "=== TradeWatch monitoring report ===")
	assert.Contains(t, report, "Active alerts: 1/100 (high=1)")
	assert.Contains(t, report, "alpha: success (runs=1 failures=0)")
	assert.Contains(t, report, "beta: error (runs=1 failures=1) last error: no data")
	assert.Contains(t, report, "[alpha report] 1 alert(s)")
	assert.Contains(t, report, "[beta report] 0 alert(s)")
}

func TestActiveStoreInsertOrdering(t *testing.T) {
	s := NewActiveStore(2)
	mk := func(offset time.Duration) *alert.Alert {
		return alert.New(alert.Params{Type: alert.TypeVolatilitySpike, Severity: alert.SeverityLow, CreatedAt: t0.Add(offset)})
	}
	a, b, old := mk(time.Minute), mk(2*time.Minute), mk(0)
	assert.Nil(t, s.Insert(a))
	assert.Nil(t, s.Insert(b))
	// an alert older than every stored one is itself evicted
	assert.Equal(t, old.ID, s.Insert(old).ID)
	assert.Equal(t, 2, s.Len())

	assert.True(t, s.Remove(a.ID))
	assert.False(t, s.Remove(a.ID))
	assert.Equal(t, 1, s.PruneBefore(t0.Add(3*time.Minute)))
	assert.Equal(t, 0, s.Len())
}
