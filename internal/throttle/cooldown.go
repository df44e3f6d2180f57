// Package throttle holds the two alert suppression primitives: per-key
// cooldowns owned by detectors and sliding-window rate limits.
package throttle

import (
	"sync"
	"time"

	"trading-monitor/internal/alert"
)

// CooldownTracker remembers when each dedup key last fired and suppresses
// repeats inside the cooldown period. Critical candidates always fire.
type CooldownTracker struct {
	mu     sync.Mutex
	period time.Duration
	last   map[string]time.Time
}

// NewCooldownTracker builds a tracker. A non-positive period disables
// suppression.
func NewCooldownTracker(period time.Duration) *CooldownTracker {
	return &CooldownTracker{period: period, last: make(map[string]time.Time)}
}

// Period returns the configured cooldown.
func (c *CooldownTracker) Period() time.Duration {
	return c.period
}

// Allow decides whether a candidate for key with severity sev may fire at
// now. A permitted firing records now as the key's last-fired time.
func (c *CooldownTracker) Allow(key string, sev alert.Severity, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready(key, sev, now) {
		return false
	}
	c.last[key] = now
	return true
}

// Ready reports whether key may fire at now without recording a firing.
// Callers that apply further gates record the firing with Record once the
// alert is actually emitted.
func (c *CooldownTracker) Ready(key string, sev alert.Severity, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready(key, sev, now)
}

// Record marks key as fired at now.
func (c *CooldownTracker) Record(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last[key] = now
}

func (c *CooldownTracker) ready(key string, sev alert.Severity, now time.Time) bool {
	if sev == alert.SeverityCritical || c.period <= 0 {
		return true
	}
	last, ok := c.last[key]
	return !ok || now.Sub(last) >= c.period
}

// LastFired returns the last recorded firing for key.
func (c *CooldownTracker) LastFired(key string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[key]
	return t, ok
}

// Reset forgets key.
func (c *CooldownTracker) Reset(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, key)
}

// Prune drops entries whose cooldown expired before now.
func (c *CooldownTracker) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, last := range c.last {
		if now.Sub(last) >= c.period {
			delete(c.last, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (c *CooldownTracker) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
