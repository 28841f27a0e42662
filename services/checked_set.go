// services/checked_set.go
package services

import (
	"sync"
	"time"
)

// CheckedSet suppresses re-evaluation of a key for a bounded window. The
// deadline sweep uses it to avoid re-processing the same challenge from
// every tick; correctness never depends on it — the status guard does that.
type CheckedSet struct {
	mu  sync.Mutex
	ttl time.Duration
	set map[string]time.Time
}

func NewCheckedSet(ttl time.Duration) *CheckedSet {
	return &CheckedSet{
		ttl: ttl,
		set: make(map[string]time.Time),
	}
}

// MarkIfUnchecked returns true and records the key when it is not currently
// suppressed; returns false while the cool-down window is open.
func (c *CheckedSet) MarkIfUnchecked(key string) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	if until, ok := c.set[key]; ok && now.Before(until) {
		return false
	}
	c.set[key] = now.Add(c.ttl)

	// Opportunistic sweep of expired entries keeps the map bounded.
	for k, until := range c.set {
		if now.After(until) {
			delete(c.set, k)
		}
	}
	return true
}

// Forget clears a key so the next sweep re-evaluates it immediately.
func (c *CheckedSet) Forget(key string) {
	c.mu.Lock()
	delete(c.set, key)
	c.mu.Unlock()
}
