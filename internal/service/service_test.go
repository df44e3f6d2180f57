package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-monitor/internal/market"
	"trading-monitor/internal/orchestrator"
)

type stubRunner struct {
	results []orchestrator.CycleResult
	calls   int
}

func (r *stubRunner) RunCycle(context.Context) orchestrator.CycleResult {
	res := r.results[r.calls%len(r.results)]
	r.calls++
	return res
}

type stubPortfolio struct {
	snap market.Snapshot
	ok   bool
}

func (p *stubPortfolio) LastSnapshot() (market.Snapshot, bool) { return p.snap, p.ok }

type memorySnapshots struct {
	inserted []market.Snapshot
	err      error
}

func (m *memorySnapshots) InsertSnapshot(_ context.Context, s market.Snapshot) error {
	if m.err != nil {
		return m.err
	}
	m.inserted = append(m.inserted, s)
	return nil
}

func (m *memorySnapshots) SnapshotAtOrBefore(context.Context, time.Time) (market.Snapshot, bool, error) {
	return market.Snapshot{}, false, nil
}

func (m *memorySnapshots) SnapshotsBetween(context.Context, time.Time, time.Time) ([]market.Snapshot, error) {
	return nil, nil
}

func TestProcessTickRecordsSnapshotOnce(t *testing.T) {
	taken := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	runner := &stubRunner{results: []orchestrator.CycleResult{{Status: orchestrator.StatusSuccess}}}
	portfolio := &stubPortfolio{ok: true, snap: market.Snapshot{TakenAt: taken, TotalValue: decimal.NewFromInt(10000)}}
	store := &memorySnapshots{}
	svc := New(nil, runner, portfolio, store, zerolog.Nop())

	for i := 0; i < 2; i++ {
		if err := svc.ProcessTick(context.Background(), taken); err != nil {
			t.Fatalf("ProcessTick 不应失败: %v", err)
		}
	}
	if len(store.inserted) != 1 {
		t.Fatalf("同一快照只应写入一次, 实际 %d", len(store.inserted))
	}

	portfolio.snap.TakenAt = taken.Add(5 * time.Minute)
	_ = svc.ProcessTick(context.Background(), taken.Add(5*time.Minute))
	if len(store.inserted) != 2 {
		t.Fatalf("新快照应写入, 实际 %d", len(store.inserted))
	}
	if runner.calls != 3 {
		t.Fatalf("每个 tick 都应运行一次周期: %d", runner.calls)
	}
}

func TestProcessTickReportsCycleFailure(t *testing.T) {
	runner := &stubRunner{results: []orchestrator.CycleResult{{Status: orchestrator.StatusError, Message: "dispatch: panic"}}}
	svc := New(nil, runner, nil, nil, zerolog.Nop())
	err := svc.ProcessTick(context.Background(), time.Now())
	if err == nil {
		t.Fatal("失败的周期应返回错误")
	}
}

func TestProcessTickSnapshotFailureIsAbsorbed(t *testing.T) {
	runner := &stubRunner{results: []orchestrator.CycleResult{{Status: orchestrator.StatusSuccess}}}
	portfolio := &stubPortfolio{ok: true, snap: market.Snapshot{TakenAt: time.Now()}}
	store := &memorySnapshots{err: errors.New("disk full")}
	svc := New(nil, runner, portfolio, store, zerolog.Nop())
	if err := svc.ProcessTick(context.Background(), time.Now()); err != nil {
		t.Fatalf("快照写入失败不应中断周期: %v", err)
	}
}

func TestRunRequiresScheduler(t *testing.T) {
	svc := New(nil, &stubRunner{}, nil, nil, zerolog.Nop())
	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("缺少调度器应报错")
	}
}

type stubFetcher struct {
	fills map[string][]market.Trade
	err   map[string]error
	since map[string][]time.Time
}

func (f *stubFetcher) Trades(_ context.Context, symbol string, since time.Time) ([]market.Trade, error) {
	if f.since == nil {
		f.since = make(map[string][]time.Time)
	}
	f.since[symbol] = append(f.since[symbol], since)
	if err := f.err[symbol]; err != nil {
		return nil, err
	}
	return f.fills[symbol], nil
}

type memoryTrades struct {
	stored map[string]market.Trade
}

func (m *memoryTrades) InsertTrade(_ context.Context, t market.Trade) error {
	if m.stored == nil {
		m.stored = make(map[string]market.Trade)
	}
	m.stored[t.ID] = t
	return nil
}

func (m *memoryTrades) TradesSince(context.Context, time.Time) ([]market.Trade, error) {
	return nil, nil
}

func TestProcessTickSyncsTradesBeforeCycle(t *testing.T) {
	tick := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	fillAt := tick.Add(-10 * time.Minute)
	fetcher := &stubFetcher{
		fills: map[string][]market.Trade{
			"ETHUSDT": {{ID: "ETHUSDT-1", Symbol: "ETHUSDT", Side: market.SideBuy, ExecutedAt: fillAt}},
		},
		err: map[string]error{"BTCUSDT": errors.New("banned")},
	}
	store := &memoryTrades{}
	runner := &stubRunner{results: []orchestrator.CycleResult{{Status: orchestrator.StatusSuccess}}}
	svc := New(nil, runner, nil, nil, zerolog.Nop()).
		WithTradeSync(fetcher, store, []string{"ETHUSDT", "BTCUSDT"}, 24*time.Hour)

	if err := svc.ProcessTick(context.Background(), tick); err != nil {
		t.Fatalf("同步失败不应中断周期: %v", err)
	}
	if _, ok := store.stored["ETHUSDT-1"]; !ok {
		t.Fatalf("成交应写入存储: %+v", store.stored)
	}
	if got := fetcher.since["ETHUSDT"][0]; !got.Equal(tick.Add(-24 * time.Hour)) {
		t.Fatalf("首次同步应回溯 lookback, 实际 %s", got)
	}

	_ = svc.ProcessTick(context.Background(), tick.Add(5*time.Minute))
	if got := fetcher.since["ETHUSDT"][1]; !got.Equal(fillAt) {
		t.Fatalf("游标应推进到最新成交, 实际 %s", got)
	}
	if got := fetcher.since["BTCUSDT"][1]; !got.Equal(tick.Add(5*time.Minute - 24*time.Hour)) {
		t.Fatalf("从未成功的交易对应继续按 lookback 回溯, 实际 %s", got)
	}
}
