// Package doomsday implements the close-window safety net: a cancel
// pass 15 minutes before close and a full liquidation pass 5 minutes
// before close, both idempotent per HK trading day (spec §4.9).
package doomsday

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"hkwarrant/internal/core"
	"hkwarrant/internal/order"
	"hkwarrant/internal/seat"
)

// CloseTimeFunc resolves today's configured close hour/minute in HK
// time, switching between the full-day and half-day close per the
// broker's trading calendar.
type CloseTimeFunc func(dayKey string) (hour, minute int)

// ClearCachesFunc clears whatever account/position caches the broker
// client layer keeps, invoked once the close-5-minute liquidation pass
// completes.
type ClearCachesFunc func()

// Manager runs the two close-window checks on every engine tick.
type Manager struct {
	logger   core.ILogger
	registry *seat.Registry
	monitor  *order.OrderMonitor
	recorder *order.Recorder

	monitors []string

	cancelBeforeMinutes    int
	liquidateBeforeMinutes int
	closeTime              CloseTimeFunc
	clearCaches            ClearCachesFunc

	cancelledDayKey  string
	liquidatedDayKey string
}

func NewManager(
	logger core.ILogger,
	registry *seat.Registry,
	monitor *order.OrderMonitor,
	recorder *order.Recorder,
	monitors []string,
	cancelBeforeMinutes, liquidateBeforeMinutes int,
	closeTime CloseTimeFunc,
	clearCaches ClearCachesFunc,
) *Manager {
	return &Manager{
		logger:                 logger.WithField("component", "doomsday_manager"),
		registry:               registry,
		monitor:                monitor,
		recorder:               recorder,
		monitors:               monitors,
		cancelBeforeMinutes:    cancelBeforeMinutes,
		liquidateBeforeMinutes: liquidateBeforeMinutes,
		closeTime:              closeTime,
		clearCaches:            clearCaches,
	}
}

// Tick runs both close-window checks against nowMs, each idempotent for
// the HK trading day nowMs falls on.
func (m *Manager) Tick(ctx context.Context, nowMs int64) {
	dayKey := core.DateKeyMs(nowMs)
	minutesToClose := m.minutesToClose(dayKey, nowMs)

	if minutesToClose <= m.cancelBeforeMinutes && m.cancelledDayKey != dayKey {
		m.runCancelPass(ctx)
		m.cancelledDayKey = dayKey
	}

	if minutesToClose <= m.liquidateBeforeMinutes && m.liquidatedDayKey != dayKey {
		m.runLiquidationPass(ctx, nowMs)
		m.liquidatedDayKey = dayKey
	}
}

// minutesToClose returns how many whole minutes remain until today's
// configured close time, which may be negative once close has passed.
func (m *Manager) minutesToClose(dayKey string, nowMs int64) int {
	hour, minute := m.closeTime(dayKey)
	now := time.UnixMilli(nowMs).In(core.HKLocation)
	close := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, core.HKLocation)
	return int(close.Sub(now) / time.Minute)
}

// runCancelPass cancels every pending buy order across every tracked
// symbol, once per day (spec §4.9 close-15-minute window).
func (m *Manager) runCancelPass(ctx context.Context) {
	errs := m.monitor.CancelAllPendingBuyOrders(ctx)
	if len(errs) > 0 {
		m.logger.Warn("doomsday cancel pass finished with errors", "error_count", len(errs))
	} else {
		m.logger.Info("doomsday cancel pass complete")
	}
}

// runLiquidationPass synthesizes market-order sells for every READY
// seat's held position across every monitor, clears the recorder's buy
// lots, and clears the account/position caches (spec §4.9 close-5-
// minute window).
func (m *Manager) runLiquidationPass(ctx context.Context, nowMs int64) {
	for _, monitorCode := range m.monitors {
		seats := m.registry.GetAll(monitorCode)
		long, hasLong := seats[core.DirectionLong]
		short, hasShort := seats[core.DirectionShort]
		if !hasLong || !hasShort || !long.IsUsableForTrading() || !short.IsUsableForTrading() {
			continue
		}

		m.liquidateSeat(ctx, monitorCode, long, core.ActionSellCall, nowMs)
		m.liquidateSeat(ctx, monitorCode, short, core.ActionSellPut, nowMs)
	}

	if m.clearCaches != nil {
		m.clearCaches()
	}
}

func (m *Manager) liquidateSeat(ctx context.Context, monitorCode string, s core.Seat, action core.Action, nowMs int64) {
	lots := m.recorder.GetBuyOrdersForSymbol(s.Symbol)
	qty := decimal.Zero
	for _, lot := range lots {
		qty = qty.Add(lot.Qty)
	}
	if !qty.IsPositive() {
		return
	}

	_, err := m.recorder.SubmitSellOrder(ctx, core.SubmitOrderRequest{
		Symbol:    s.Symbol,
		Side:      core.SideSell,
		OrderType: core.OrderTypeMO,
		Quantity:  qty,
	}, nowMs)
	if err != nil {
		m.logger.Error("doomsday liquidation order failed", "monitor", monitorCode, "symbol", s.Symbol, "action", action, "error", err)
		return
	}

	m.recorder.ClearBuyOrders(s.Symbol)
	m.logger.Info("doomsday liquidation submitted", "monitor", monitorCode, "symbol", s.Symbol, "action", action, "qty", qty.String())
}

// StandardCloseTime returns a CloseTimeFunc that always reports
// closeHHMM unless dayKey is in halfDays, in which case it reports
// halfDayHHMM (spec §4.9's "16:00 or 12:00 on half-days").
func StandardCloseTime(closeHHMM, halfDayHHMM string, halfDays map[string]bool) (CloseTimeFunc, error) {
	fullHour, fullMinute, err := parseHHMM(closeHHMM)
	if err != nil {
		return nil, fmt.Errorf("doomsday: close time: %w", err)
	}
	halfHour, halfMinute, err := parseHHMM(halfDayHHMM)
	if err != nil {
		return nil, fmt.Errorf("doomsday: half-day close time: %w", err)
	}
	return func(dayKey string) (int, int) {
		if halfDays[dayKey] {
			return halfHour, halfMinute
		}
		return fullHour, fullMinute
	}, nil
}

func parseHHMM(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid HH:MM %q: %w", s, err)
	}
	return hour, minute, nil
}
