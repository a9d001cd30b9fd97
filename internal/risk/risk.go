// Package risk implements the unrealized-loss guard, the warrant
// distance-to-recall liquidation check, and the daily realized-loss
// tracker (spec §4.7).
package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"hkwarrant/internal/core"
	"hkwarrant/internal/order"
)

// diagnosticSampleLimit bounds how many recalculated positions get
// logged in detail during an open rebuild, to avoid flooding the log
// when many symbols are recovered at once (spec §4.7).
const diagnosticSampleLimit = 3

// PositionState is the unrealized-loss cache entry for one (monitor,
// direction) pair: an average cost basis R1, a position quantity N1,
// the day's starting base cost baseR1, and the realized-loss offset
// accrued so far today.
type PositionState struct {
	R1              decimal.Decimal
	N1              decimal.Decimal
	BaseR1          decimal.Decimal
	DailyLossOffset decimal.Decimal // <= 0
	LastUpdateMs    int64
}

// AdjustedR1 tightens the effective cost basis by the day's realized
// losses: adjustedR1 = baseR1 - min(dailyLossOffset, 0) (spec §4.7).
func (p PositionState) AdjustedR1() decimal.Decimal {
	offset := p.DailyLossOffset
	if offset.GreaterThan(decimal.Zero) {
		offset = decimal.Zero
	}
	return p.BaseR1.Sub(offset)
}

// UnrealizedLoss returns (currentPrice - adjustedR1) * N1, negative
// when the position is underwater.
func (p PositionState) UnrealizedLoss(currentPrice decimal.Decimal) decimal.Decimal {
	return currentPrice.Sub(p.AdjustedR1()).Mul(p.N1)
}

type positionKey struct {
	monitor string
	dir     core.Direction
}

// Manager owns the unrealized-loss cache and daily loss tracker for
// every monitored (monitor, direction) pair.
type Manager struct {
	logger core.ILogger

	mu        sync.RWMutex
	positions map[positionKey]*PositionState
}

func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		logger:    logger.WithField("component", "risk_manager"),
		positions: make(map[positionKey]*PositionState),
	}
}

// Update installs or replaces the position state for (monitor, dir).
func (m *Manager) Update(monitor string, dir core.Direction, state PositionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[positionKey{monitor, dir}] = &state
}

// Get returns the current position state for (monitor, dir), or the
// zero value if none is tracked.
func (m *Manager) Get(monitor string, dir core.Direction) PositionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.positions[positionKey{monitor, dir}]; ok {
		return *p
	}
	return PositionState{}
}

// HeldLotsSource is the subset of order.Recorder the risk manager
// depends on to rebuild a position's cost basis and daily loss offset.
// Kept as a narrow interface so this package doesn't couple to the
// recorder's broker/trade-log plumbing.
type HeldLotsSource interface {
	DailyTotals(symbol string) (totalBuy, totalSell decimal.Decimal, held []order.Lot)
}

// Refresh rebuilds the position state for (monitor, dir) from the
// recorder's current smart-close result and daily buy/sell totals. It
// must run after every fill and on the monitor-task schedule, so a
// tracked position's R1/N1 and daily loss offset never go stale between
// open rebuilds (spec §4.7).
func (m *Manager) Refresh(recorder HeldLotsSource, monitor, symbol string, dir core.Direction, nowMs int64) {
	totalBuy, totalSell, held := recorder.DailyTotals(symbol)

	n1 := decimal.Zero
	openBuyCost := decimal.Zero
	for _, lot := range held {
		n1 = n1.Add(lot.Qty)
		openBuyCost = openBuyCost.Add(lot.Price.Mul(lot.Qty))
	}

	baseR1 := decimal.Zero
	if n1.IsPositive() {
		baseR1 = openBuyCost.Div(n1)
	}

	offset := ComputeDailyLossOffset(totalSell, totalBuy, openBuyCost)

	m.Update(monitor, dir, PositionState{
		R1:              baseR1,
		N1:              n1,
		BaseR1:          baseR1,
		DailyLossOffset: offset,
		LastUpdateMs:    nowMs,
	})
}

// ShouldLiquidateByLoss reports whether the tracked position's
// unrealized loss at currentPrice breaches maxLoss (a positive
// magnitude): liquidate when unrealizedLoss < -maxLoss (spec §4.7).
func (m *Manager) ShouldLiquidateByLoss(monitor string, dir core.Direction, currentPrice, maxLoss decimal.Decimal) bool {
	state := m.Get(monitor, dir)
	if state.N1.IsZero() {
		return false
	}
	loss := state.UnrealizedLoss(currentPrice)
	return loss.LessThan(maxLoss.Neg())
}

// ShouldLiquidateByDistance reports whether a warrant's distance to
// recall has breached its configured threshold. Bull and bear
// warrants read the distance in opposite directions: a bull warrant
// liquidates when distance falls to or below the (positive)
// threshold, a bear warrant liquidates when distance rises to or
// above its (negative) threshold (spec §4.7).
func ShouldLiquidateByDistance(isBull bool, distancePct, thresholdBull, thresholdBear decimal.Decimal) bool {
	if isBull {
		return distancePct.LessThanOrEqual(thresholdBull)
	}
	return distancePct.GreaterThanOrEqual(thresholdBear)
}

// ComputeDailyLossOffset returns min(0, totalSell - totalBuy +
// openBuyCost), the realized-loss component fed into AdjustedR1 (spec
// §4.7).
func ComputeDailyLossOffset(totalSell, totalBuy, openBuyCost decimal.Decimal) decimal.Decimal {
	raw := totalSell.Sub(totalBuy).Add(openBuyCost)
	if raw.GreaterThan(decimal.Zero) {
		return decimal.Zero
	}
	return raw
}

// ResetAll clears every tracked position, called by the day lifecycle
// manager's midnight clear.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[positionKey]*PositionState)
}

// PositionOrders is the recovered order history for one (monitor,
// direction) pair, used to rebuild its daily loss state on open
// rebuild.
type PositionOrders struct {
	Monitor     string
	Direction   core.Direction
	BuyRecords  []core.OrderRecord
	SellRecords []core.OrderRecord
	OpenBuyCost decimal.Decimal
	BaseR1      decimal.Decimal
	N1          decimal.Decimal
	NowMs       int64
}

// RecalculateFromAllOrders rebuilds the unrealized-loss cache from
// recovered broker order history on open rebuild, logging a bounded
// number of samples in full detail for diagnostics (spec §4.7).
func (m *Manager) RecalculateFromAllOrders(positions []PositionOrders) {
	for i, p := range positions {
		totalBuy := sumExecuted(p.BuyRecords)
		totalSell := sumExecuted(p.SellRecords)
		offset := ComputeDailyLossOffset(totalSell, totalBuy, p.OpenBuyCost)

		state := PositionState{
			R1:              p.BaseR1,
			N1:              p.N1,
			BaseR1:          p.BaseR1,
			DailyLossOffset: offset,
			LastUpdateMs:    p.NowMs,
		}
		m.Update(p.Monitor, p.Direction, state)

		if i < diagnosticSampleLimit {
			m.logger.Info("recalculated daily loss state",
				"monitor", p.Monitor,
				"direction", p.Direction,
				"total_buy", totalBuy.String(),
				"total_sell", totalSell.String(),
				"offset", offset.String(),
			)
		}
	}
}

func sumExecuted(records []core.OrderRecord) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.ExecutedPrice.Mul(r.ExecutedQty))
	}
	return total
}
