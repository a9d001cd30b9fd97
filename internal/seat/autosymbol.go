package seat

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"hkwarrant/internal/core"
)

// WarrantLister is the narrow broker surface the auto-symbol manager
// depends on (spec §4.4, §6).
type WarrantLister interface {
	WarrantList(ctx context.Context, underlying string, sortBy core.WarrantSortBy, order core.SortOrder, isBull bool, expiryFilters []string) ([]core.WarrantCandidate, error)
}

type cacheEntry struct {
	list       []core.WarrantCandidate
	fetchedAtMs int64
}

// AutoSymbolManager implements findBestWarrant and the switching
// decisions that drive the seat registry's auto-search path (spec
// §4.4). Warrant-list lookups are cached for cacheTTLMs and
// concurrent callers for the same underlying/direction share one
// in-flight broker call via singleflight.
type AutoSymbolManager struct {
	broker   WarrantLister
	registry *Registry
	logger   core.ILogger

	cacheTTLMs int64

	mu    sync.Mutex
	cache map[string]cacheEntry
	sf    singleflight.Group

	// droppedToday suppresses re-adopting a symbol the same day it was
	// switched away from or frozen out of (spec §4.4 "same-day
	// re-adoption suppression").
	droppedToday map[string]map[string]bool // dayKey -> symbol -> true
}

func NewAutoSymbolManager(broker WarrantLister, registry *Registry, logger core.ILogger, cacheTTLMs int64) *AutoSymbolManager {
	if cacheTTLMs <= 0 {
		cacheTTLMs = 3000
	}
	return &AutoSymbolManager{
		broker:       broker,
		registry:     registry,
		logger:       logger.WithField("component", "auto_symbol_manager"),
		cacheTTLMs:   cacheTTLMs,
		cache:        make(map[string]cacheEntry),
		droppedToday: make(map[string]map[string]bool),
	}
}

// MarkDropped records that symbol was dropped for dayKey, preventing
// FindBestWarrant from re-selecting it before the next trading day.
func (m *AutoSymbolManager) MarkDropped(dayKey, symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.droppedToday[dayKey]
	if !ok {
		set = make(map[string]bool)
		m.droppedToday[dayKey] = set
	}
	set[symbol] = true
}

// ResetDay discards the dropped-symbol suppression recorded for dayKey.
func (m *AutoSymbolManager) ResetDay(dayKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.droppedToday, dayKey)
}

func (m *AutoSymbolManager) isDroppedToday(dayKey, symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.droppedToday[dayKey][symbol]
}

// listWarrants returns the cached warrant list for (underlying, isBull)
// if fresh, otherwise performs a deduplicated broker fetch.
func (m *AutoSymbolManager) listWarrants(ctx context.Context, underlying string, isBull bool, expiryFilters []string, nowMs int64) ([]core.WarrantCandidate, error) {
	key := fmt.Sprintf("%s|%v", underlying, isBull)

	m.mu.Lock()
	if entry, ok := m.cache[key]; ok && nowMs-entry.fetchedAtMs < m.cacheTTLMs {
		m.mu.Unlock()
		return entry.list, nil
	}
	m.mu.Unlock()

	v, err, _ := m.sf.Do(key, func() (interface{}, error) {
		list, err := m.broker.WarrantList(ctx, underlying, core.SortByDistance, core.SortAscending, isBull, expiryFilters)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.cache[key] = cacheEntry{list: list, fetchedAtMs: nowMs}
		m.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]core.WarrantCandidate), nil
}

// FindBestWarrant selects the best candidate for (monitor, dir) from
// the broker's warrant list, applying the status/distance/turnover
// filters and the ascending-distance, descending-turnover ranking of
// spec §4.4. Returns nil, nil when no candidate qualifies.
func (m *AutoSymbolManager) FindBestWarrant(
	ctx context.Context,
	underlying string,
	dir core.Direction,
	cfg core.AutoSearchConfig,
	dayKey string,
	tradingMinutesSinceOpen decimal.Decimal,
	nowMs int64,
) (*core.WarrantCandidate, error) {
	isBull := dir == core.DirectionLong
	expiryFilters := expiryFiltersFor(cfg.ExpiryFloorMonths)

	candidates, err := m.listWarrants(ctx, underlying, isBull, expiryFilters, nowMs)
	if err != nil {
		return nil, err
	}

	postOpenElapsed := int(tradingMinutesSinceOpen.IntPart()) >= cfg.PostOpenDelayMinutes

	filtered := make([]core.WarrantCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Status != "Normal" {
			continue
		}
		if !c.RecallPrice.IsPositive() || !c.ToCallPrice.IsPositive() {
			continue
		}
		if c.IsBull != isBull {
			continue
		}
		if m.isDroppedToday(dayKey, c.Symbol) {
			continue
		}
		if !passesDistanceFilter(c.DistancePct, cfg.MinDistanceToRecallPct) {
			continue
		}
		if postOpenElapsed {
			minTurnover := cfg.MinTurnoverPerMinute.Mul(tradingMinutesSinceOpen)
			if c.Turnover.LessThan(minTurnover) {
				continue
			}
		}
		filtered = append(filtered, c)
	}

	if len(filtered) == 0 {
		return nil, nil
	}

	sort.Slice(filtered, func(i, j int) bool {
		di, dj := absDecimal(filtered[i].DistancePct), absDecimal(filtered[j].DistancePct)
		if !di.Equal(dj) {
			return di.LessThan(dj)
		}
		return filtered[i].TurnoverPerMinute.GreaterThan(filtered[j].TurnoverPerMinute)
	})

	best := filtered[0]
	return &best, nil
}

// MaybeSwitchOnDistance reports whether the currently-held seat's
// distance to recall has drifted outside the configured switch range,
// meaning the auto-symbol manager should start searching for a
// replacement (spec §4.4).
func MaybeSwitchOnDistance(currentDistancePct decimal.Decimal, cfg core.AutoSearchConfig) bool {
	abs := absDecimal(currentDistancePct)
	return abs.LessThan(cfg.SwitchDistanceRangeMin) || abs.GreaterThan(cfg.SwitchDistanceRangeMax)
}

func passesDistanceFilter(distancePct, minDistance decimal.Decimal) bool {
	return absDecimal(distancePct).GreaterThanOrEqual(minDistance)
}

func absDecimal(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return d.Neg()
	}
	return d
}

func expiryFiltersFor(floorMonths int) []string {
	if floorMonths <= 0 {
		return nil
	}
	return []string{fmt.Sprintf("expiry_floor_months:%d", floorMonths)}
}
