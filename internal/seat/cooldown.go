package seat

import (
	"sync"

	"hkwarrant/internal/core"
)

// CooldownTracker blocks new same-direction entries for a (symbol,
// direction) pair for a configured window after a protective
// clearance fill (spec §3, §4.7, §8 "cooldown minutes mode").
type CooldownTracker struct {
	mu      sync.RWMutex
	entries map[string]core.CooldownEntry // key: symbol|direction
}

func NewCooldownTracker() *CooldownTracker {
	return &CooldownTracker{entries: make(map[string]core.CooldownEntry)}
}

func key(symbol string, dir core.Direction) string {
	return symbol + "|" + string(dir)
}

// RecordClearance stores the time a protective clearance executed for
// (symbol, direction), starting its cooldown window.
func (c *CooldownTracker) RecordClearance(symbol string, dir core.Direction, executedAtMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key(symbol, dir)] = core.CooldownEntry{Symbol: symbol, Direction: dir, ExecutedAtMs: executedAtMs}
}

// GetRemainingMs returns how many milliseconds remain in the cooldown
// window for (symbol, direction) at nowMs, per rule. Only
// CooldownMinutes uses the formula max(0, minutes*60000 - elapsed); the
// one-day and half-day modes return 1, a non-zero sentinel, until the
// entry is removed by Clear or by ClearAll (the day lifecycle manager's
// midnight clear). There is no separate noon clear for half-day mode.
func (c *CooldownTracker) GetRemainingMs(symbol string, dir core.Direction, rule core.CooldownRule, nowMs int64) int64 {
	c.mu.RLock()
	entry, ok := c.entries[key(symbol, dir)]
	c.mu.RUnlock()
	if !ok {
		return 0
	}

	switch rule.Mode {
	case core.CooldownMinutes:
		elapsed := nowMs - entry.ExecutedAtMs
		remaining := int64(rule.Minutes)*60000 - elapsed
		if remaining < 0 {
			return 0
		}
		return remaining
	case core.CooldownOneDay, core.CooldownHalfDay:
		return 1 // non-zero sentinel: still active until explicitly cleared
	default:
		return 0
	}
}

// IsActive reports whether (symbol, direction) is still within its
// cooldown window at nowMs.
func (c *CooldownTracker) IsActive(symbol string, dir core.Direction, rule core.CooldownRule, nowMs int64) bool {
	return c.GetRemainingMs(symbol, dir, rule, nowMs) > 0
}

// Clear removes the cooldown entry for (symbol, direction). The day
// lifecycle manager's midnight clear uses ClearAll instead.
func (c *CooldownTracker) Clear(symbol string, dir core.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key(symbol, dir))
}

// ClearAll drops every cooldown entry, used on midnight clear.
func (c *CooldownTracker) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]core.CooldownEntry)
}
