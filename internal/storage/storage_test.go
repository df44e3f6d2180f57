package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/config"
	"trading-monitor/internal/market"
)

func openMemory(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleAlert(created time.Time) *alert.Alert {
	var meta alert.Attributes
	meta.SetFloat("volatility", 0.07)
	meta.SetText("period", "24h")
	meta.SetList("suggested_actions", []string{"reduce size", "review stops"})
	a := alert.New(alert.Params{
		Type:        alert.TypeVolatilitySpike,
		Severity:    alert.SeverityMedium,
		Title:       "BTCUSDT volatility 7.00% over 24h",
		Description: "volatility above threshold",
		SubjectCoin: "BTC",
		SubjectPair: "BTCUSDT",
		DedupKey:    "BTCUSDT_volatility_24h",
		HasValues:   true,
		Threshold:   0.05,
		Current:     0.07,
		Metadata:    meta,
		Resolvable:  true,
		CreatedAt:   created,
	})
	a.Source = "volatility"
	return a
}

func TestSQLiteAlertRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := sampleAlert(base)
	require.NoError(t, s.SaveAlert(ctx, a, a.Measurement()))
	// saving twice is an upsert
	require.NoError(t, s.SaveAlert(ctx, a, a.Measurement()))

	records, err := s.ListAlertsBetween(ctx, base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, records, 1)

	got := records[0]
	assert.Equal(t, a.ID, got.Alert.ID)
	assert.Equal(t, alert.SeverityMedium, got.Alert.Severity)
	assert.Equal(t, alert.TypeVolatilitySpike, got.Alert.Type)
	assert.Equal(t, "volatility", got.Alert.Source)
	assert.InDelta(t, 0.07, got.Measurement, 1e-12)
	require.NotNil(t, got.Alert.ThresholdValue)
	assert.InDelta(t, 0.05, *got.Alert.ThresholdValue, 1e-12)
	assert.True(t, got.Alert.CreatedAt.Equal(base))

	vol, ok := got.Alert.Metadata.Float("volatility")
	require.True(t, ok)
	assert.InDelta(t, 0.07, vol, 1e-12)
	period, _ := got.Alert.Metadata.Text("period")
	assert.Equal(t, "24h", period)
	actions, _ := got.Alert.Metadata.List("suggested_actions")
	assert.Equal(t, []string{"reduce size", "review stops"}, actions)

	empty, err := s.ListAlertsBetween(ctx, base.Add(time.Minute), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSQLiteUpdateAlertStatus(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := sampleAlert(base)
	require.NoError(t, s.SaveAlert(ctx, a, a.Measurement()))
	require.True(t, a.Resolve(base.Add(time.Hour)))
	require.NoError(t, s.UpdateAlertStatus(ctx, a))

	records, err := s.ListAlertsBetween(ctx, base, base.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, alert.StatusResolved, records[0].Alert.Status)
	require.NotNil(t, records[0].Alert.ResolvedAt)
	assert.True(t, records[0].Alert.ResolvedAt.Equal(base.Add(time.Hour)))

	missing := sampleAlert(base)
	assert.ErrorIs(t, s.UpdateAlertStatus(ctx, missing), ErrNotFound)
}

func TestSQLiteTrades(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	trades := []market.Trade{
		{ID: "t2", Symbol: "ETHUSDT", Side: market.SideSell, Price: decimal.RequireFromString("3000.5"), Quantity: decimal.RequireFromString("1.25"), ExecutedAt: base.Add(2 * time.Hour)},
		{ID: "t1", Symbol: "BTCUSDT", Side: market.SideBuy, Price: decimal.RequireFromString("60000"), Quantity: decimal.RequireFromString("0.1"), ExecutedAt: base.Add(time.Hour)},
		{ID: "t0", Symbol: "BTCUSDT", Side: market.SideBuy, Price: decimal.RequireFromString("59000"), Quantity: decimal.RequireFromString("0.1"), ExecutedAt: base.Add(-time.Hour)},
	}
	for _, tr := range trades {
		require.NoError(t, s.InsertTrade(ctx, tr))
	}
	require.NoError(t, s.InsertTrade(ctx, trades[0]))

	got, err := s.TradesSince(ctx, base)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, "t2", got[1].ID)
	assert.Equal(t, market.SideSell, got[1].Side)
	assert.True(t, got[1].Price.Equal(decimal.RequireFromString("3000.5")))
	assert.True(t, got[1].ExecutedAt.Equal(base.Add(2*time.Hour)))
}

func TestSQLiteSnapshots(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, total := range []string{"10000", "10500", "11000"} {
		snap := market.Snapshot{
			TakenAt:     base.Add(time.Duration(i) * 24 * time.Hour),
			TotalValue:  decimal.RequireFromString(total),
			NetInvested: decimal.RequireFromString("10000"),
			Holdings: []market.Holding{
				{Asset: "BTC", Quantity: decimal.RequireFromString("0.15"), Value: decimal.RequireFromString(total), Source: "exchange"},
			},
		}
		require.NoError(t, s.InsertSnapshot(ctx, snap))
	}

	snap, ok, err := s.SnapshotAtOrBefore(ctx, base.Add(36*time.Hour))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, snap.TotalValue.Equal(decimal.RequireFromString("10500")))
	require.Len(t, snap.Holdings, 1)
	assert.Equal(t, "BTC", snap.Holdings[0].Asset)
	assert.True(t, snap.Holdings[0].Quantity.Equal(decimal.RequireFromString("0.15")))

	_, ok, err = s.SnapshotAtOrBefore(ctx, base.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	series, err := s.SnapshotsBetween(ctx, base, base.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.True(t, series[2].TotalValue.Equal(decimal.RequireFromString("11000")))
}

func TestUnconfiguredBackends(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, config.DatabaseConfig{Driver: "sqlite"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = Open(ctx, config.DatabaseConfig{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)

	var store *Store
	assert.ErrorIs(t, store.SaveAlert(ctx, sampleAlert(time.Now()), 0), ErrNotConfigured)
	_, err = NewStore(nil).TradesSince(ctx, time.Now())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.NoError(t, store.Close())
}

func TestMigrationURL(t *testing.T) {
	url, err := migrationURL("postgres://user:pw@localhost:5432/tradewatch?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://user:pw@localhost:5432/tradewatch?sslmode=disable", url)

	url, err = migrationURL("postgresql://localhost/db")
	require.NoError(t, err)
	assert.Equal(t, "pgx5://localhost/db", url)

	_, err = migrationURL("host=localhost dbname=db")
	assert.Error(t, err)
}
