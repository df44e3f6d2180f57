package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"trading-monitor/internal/alert"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCooldownSuppressesRepeat(t *testing.T) {
	c := NewCooldownTracker(30 * time.Minute)
	key := "BTC_volatility_24h"

	assert.True(t, c.Allow(key, alert.SeverityMedium, t0))
	assert.False(t, c.Allow(key, alert.SeverityMedium, t0.Add(10*time.Minute)))
	assert.False(t, c.Allow(key, alert.SeverityHigh, t0.Add(29*time.Minute)))
	assert.True(t, c.Allow(key, alert.SeverityMedium, t0.Add(30*time.Minute)))
}

func TestCooldownCriticalBypass(t *testing.T) {
	c := NewCooldownTracker(time.Hour)
	key := "ETH_volatility_1h"

	assert.True(t, c.Allow(key, alert.SeverityCritical, t0))
	assert.True(t, c.Allow(key, alert.SeverityCritical, t0.Add(time.Minute)))

	last, ok := c.LastFired(key)
	assert.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), last)

	// the critical firing refreshed the window for lower tiers too
	assert.False(t, c.Allow(key, alert.SeverityLow, t0.Add(30*time.Minute)))
}

func TestCooldownSuppressedFiringDoesNotExtendWindow(t *testing.T) {
	c := NewCooldownTracker(time.Hour)
	key := "k"
	assert.True(t, c.Allow(key, alert.SeverityLow, t0))
	assert.False(t, c.Allow(key, alert.SeverityLow, t0.Add(50*time.Minute)))
	assert.True(t, c.Allow(key, alert.SeverityLow, t0.Add(61*time.Minute)))
}

func TestCooldownReadyDoesNotRecord(t *testing.T) {
	c := NewCooldownTracker(time.Hour)
	key := "SOL_frequency_hourly"

	assert.True(t, c.Ready(key, alert.SeverityLow, t0))
	assert.True(t, c.Ready(key, alert.SeverityLow, t0.Add(time.Minute)))
	_, ok := c.LastFired(key)
	assert.False(t, ok)

	c.Record(key, t0.Add(time.Minute))
	assert.False(t, c.Ready(key, alert.SeverityMedium, t0.Add(30*time.Minute)))
	assert.True(t, c.Ready(key, alert.SeverityCritical, t0.Add(30*time.Minute)))
	assert.True(t, c.Ready(key, alert.SeverityLow, t0.Add(61*time.Minute)))
}

func TestCooldownPruneAndReset(t *testing.T) {
	c := NewCooldownTracker(time.Minute)
	c.Allow("a", alert.SeverityLow, t0)
	c.Allow("b", alert.SeverityLow, t0.Add(2*time.Minute))
	assert.Equal(t, 1, c.Prune(t0.Add(2*time.Minute)))
	assert.Equal(t, 1, c.Len())
	c.Reset("b")
	assert.Equal(t, 0, c.Len())
}

func TestRateLimitBoundary(t *testing.T) {
	const max = 5
	r := NewRateLimiter(max, time.Hour)
	key := "volatility_spike:medium"

	admitted, rejected := 0, 0
	for i := 0; i < max+1; i++ {
		if r.Allow(key, t0.Add(time.Duration(i)*time.Second)) {
			admitted++
		} else {
			rejected++
		}
	}
	assert.Equal(t, max, admitted)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, max, r.Count(key, t0.Add(time.Minute)))
}

func TestRateLimitWindowSlides(t *testing.T) {
	r := NewRateLimiter(2, time.Hour)
	key := "k"
	assert.True(t, r.Allow(key, t0))
	assert.True(t, r.Allow(key, t0.Add(30*time.Minute)))
	assert.False(t, r.Allow(key, t0.Add(59*time.Minute)))
	assert.True(t, r.Allow(key, t0.Add(61*time.Minute)))
	assert.Equal(t, 2, r.Count(key, t0.Add(61*time.Minute)))
	assert.Equal(t, 0, r.Count(key, t0.Add(5*time.Hour)))
}

func TestRateLimitBucketsAreIndependent(t *testing.T) {
	r := NewRateLimiter(1, time.Hour)
	assert.True(t, r.Allow("a", t0))
	assert.True(t, r.Allow("b", t0))
	assert.False(t, r.Allow("a", t0))
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, r.Buckets(t0))
}

func TestRateLimitDisabled(t *testing.T) {
	r := NewRateLimiter(0, time.Hour)
	for i := 0; i < 100; i++ {
		assert.True(t, r.Allow("k", t0))
	}
}
