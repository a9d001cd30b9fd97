// Package seat implements the seat registry, auto-symbol manager and
// cooldown tracker (spec §4.4).
package seat

import (
	"sync"

	"github.com/shopspring/decimal"

	"hkwarrant/internal/core"
)

// Registry owns the (monitor, direction) -> Seat state machine:
// EMPTY -> SEARCHING -> READY <-> SWITCHING, with SWITCHING able to
// fall back to frozen on repeated same-day search failure (spec §4.4).
// Every symbol change bumps the seat's version, which downstream order
// and signal processing uses as a fence token to drop stale work.
type Registry struct {
	mu    sync.RWMutex
	seats map[string]map[core.Direction]*core.Seat
}

func NewRegistry() *Registry {
	return &Registry{seats: make(map[string]map[core.Direction]*core.Seat)}
}

// seatLocked returns the seat for (monitor, dir), creating it in EMPTY
// state if absent. Callers must hold mu for writing.
func (r *Registry) seatLocked(monitor string, dir core.Direction) *core.Seat {
	m, ok := r.seats[monitor]
	if !ok {
		m = make(map[core.Direction]*core.Seat)
		r.seats[monitor] = m
	}
	s, ok := m[dir]
	if !ok {
		s = &core.Seat{Monitor: monitor, Direction: dir, Status: core.SeatEmpty}
		m[dir] = s
	}
	return s
}

// readSeatLocked returns a read-only snapshot for (monitor, dir) without
// inserting a missing entry. Callers must hold mu for reading.
func (r *Registry) readSeatLocked(monitor string, dir core.Direction) core.Seat {
	m, ok := r.seats[monitor]
	if !ok {
		return core.Seat{Monitor: monitor, Direction: dir, Status: core.SeatEmpty}
	}
	s, ok := m[dir]
	if !ok {
		return core.Seat{Monitor: monitor, Direction: dir, Status: core.SeatEmpty}
	}
	return *s
}

// Get returns a copy of the current seat state.
func (r *Registry) Get(monitor string, dir core.Direction) core.Seat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readSeatLocked(monitor, dir)
}

// GetAll returns a copy of every direction's seat for monitor, keyed by
// direction, for strategy and risk evaluation.
func (r *Registry) GetAll(monitor string) map[core.Direction]core.Seat {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[core.Direction]core.Seat)
	for dir, s := range r.seats[monitor] {
		out[dir] = *s
	}
	return out
}

// StartSearching transitions an EMPTY or frozen-idle seat into
// SEARCHING, recording the search attempt time.
func (r *Registry) StartSearching(monitor string, dir core.Direction, nowMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seatLocked(monitor, dir)
	s.Status = core.SeatSearching
	s.LastSearchTime = nowMs
}

// StartSwitching transitions a READY seat into SWITCHING while a
// replacement candidate is being adopted.
func (r *Registry) StartSwitching(monitor string, dir core.Direction, nowMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seatLocked(monitor, dir)
	s.Status = core.SeatSwitching
	s.LastSearchTime = nowMs
}

// Adopt installs symbol as the seat's warrant, bumps the version fence
// token, and marks the seat READY.
func (r *Registry) Adopt(monitor string, dir core.Direction, symbol, symbolName string, recallPrice decimal.Decimal, nowMs int64) core.Seat {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seatLocked(monitor, dir)
	s.Symbol = symbol
	s.SymbolName = symbolName
	s.RecallPrice = recallPrice
	s.Status = core.SeatReady
	s.LastSwitchTime = nowMs
	s.LastReadyTime = nowMs
	s.SearchFailCountToday = 0
	s.Version++
	return *s
}

// RecordSearchFailure increments today's failure count and returns it.
// The caller freezes the seat for the day once this reaches the
// configured max (spec §4.4).
func (r *Registry) RecordSearchFailure(monitor string, dir core.Direction) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seatLocked(monitor, dir)
	s.SearchFailCountToday++
	return s.SearchFailCountToday
}

// Freeze marks the seat unusable for the given HK trading day key,
// reverting it to EMPTY and bumping the version so in-flight orders
// against the old symbol are recognized as stale.
func (r *Registry) Freeze(monitor string, dir core.Direction, dayKey string) core.Seat {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seatLocked(monitor, dir)
	s.Status = core.SeatEmpty
	s.Symbol = ""
	s.SymbolName = ""
	s.FrozenTradingDayKey = dayKey
	s.Version++
	return *s
}

// RevertToReady cancels an in-flight SWITCHING attempt, keeping the
// existing symbol (used when the candidate search or adoption fails
// without cause to abandon the currently-held warrant).
func (r *Registry) RevertToReady(monitor string, dir core.Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seatLocked(monitor, dir)
	if s.Symbol != "" {
		s.Status = core.SeatReady
	} else {
		s.Status = core.SeatEmpty
	}
}

// Clear empties the seat entirely, bumping the version. The day
// lifecycle manager's midnight clear uses ClearAll instead.
func (r *Registry) Clear(monitor string, dir core.Direction) core.Seat {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seatLocked(monitor, dir)
	s.Symbol = ""
	s.SymbolName = ""
	s.Status = core.SeatEmpty
	s.FrozenTradingDayKey = ""
	s.SearchFailCountToday = 0
	s.Version++
	return *s
}

// ResetDailyFailures clears the frozen flag and today's failure count
// at the start of a new trading day without forcing a symbol switch.
func (r *Registry) ResetDailyFailures(monitor string, dir core.Direction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.seatLocked(monitor, dir)
	s.FrozenTradingDayKey = ""
	s.SearchFailCountToday = 0
}

// ClearAll empties every tracked seat across all monitors and
// directions, bumping each version. Used by the day lifecycle manager's
// midnight clear fan-out.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, byDir := range r.seats {
		for _, s := range byDir {
			s.Symbol = ""
			s.SymbolName = ""
			s.Status = core.SeatEmpty
			s.FrozenTradingDayKey = ""
			s.SearchFailCountToday = 0
			s.Version++
		}
	}
}

// IsStale reports whether version no longer matches the seat's current
// version, meaning work computed against the old seat must be dropped
// silently (spec §7: seat-version mismatch is not an error).
func (r *Registry) IsStale(monitor string, dir core.Direction, version int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readSeatLocked(monitor, dir).Version != version
}
