package alerting

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum enforced time between two alerts for the
// same zone unless configured otherwise.
const DefaultCooldown = 30 * time.Second

// Gate enforces a per-zone cooldown between alerts. The check and the stamp
// happen inside one critical section so two overlapping evaluations can
// never both fire within the cooldown window.
type Gate struct {
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastFire map[string]time.Time
}

// NewGate creates a gate with the given cooldown; non-positive values fall
// back to DefaultCooldown.
func NewGate(cooldown time.Duration) *Gate {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Gate{
		cooldown: cooldown,
		now:      time.Now,
		lastFire: make(map[string]time.Time),
	}
}

// SetClock replaces the gate's time source. Intended for tests.
func (g *Gate) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// ShouldFire reports whether an alert for the given zone set may fire now.
// If any zone in the set is still cooling down the whole batch is
// suppressed. On a true result every zone in the set is stamped with the
// current time before the gate is released.
func (g *Gate) ShouldFire(zoneIDs []string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for _, id := range zoneIDs {
		if last, ok := g.lastFire[id]; ok && now.Sub(last) < g.cooldown {
			return false
		}
	}
	for _, id := range zoneIDs {
		g.lastFire[id] = now
	}
	return true
}

// LastFired returns the last fire time for a zone, if any.
func (g *Gate) LastFired(zoneID string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.lastFire[zoneID]
	return t, ok
}
