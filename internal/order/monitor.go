package order

import (
	"context"

	"github.com/shopspring/decimal"

	"hkwarrant/internal/core"
)

// priceChangeThreshold is the minimum absolute price delta that
// justifies a replace-price call, to avoid hammering the broker on
// every tick (spec §4.6).
const priceChangeThreshold = "0.001"

// SellMergeDecision is the outcome of reconciling a new sell intent
// against the orders already pending for a symbol (spec §4.6).
type SellMergeDecision string

const (
	MergeSkip           SellMergeDecision = "SKIP"
	MergeSubmit         SellMergeDecision = "SUBMIT"
	MergeCancelAndSubmit SellMergeDecision = "CANCEL_AND_SUBMIT"
	MergeReplace        SellMergeDecision = "REPLACE"
)

// DecideSellMerge implements the sell-merge decision table of spec §4.6.
func DecideSellMerge(qty decimal.Decimal, pending []core.PendingOrder, isProtective bool, newType core.OrderType) SellMergeDecision {
	if !qty.IsPositive() {
		return MergeSkip
	}
	if len(pending) == 0 {
		return MergeSubmit
	}
	if isProtective || len(pending) > 1 {
		return MergeCancelAndSubmit
	}
	only := pending[0]
	if only.Type != newType || !newType.IsReplaceable() {
		return MergeCancelAndSubmit
	}
	return MergeReplace
}

// OrderMonitor is the order lifecycle manager: it tracks working
// orders, drives timeout and replace-price handling on each tick, and
// applies broker push events idempotently (spec §4.6).
type OrderMonitor struct {
	trade  core.IBrokerTradeClient
	logger core.ILogger

	buyTimeoutMs  int64
	sellTimeoutMs int64
	priceUpdateIntervalMs int64

	tracked map[string]*core.TrackedOrder // orderID -> tracked order
}

func NewOrderMonitor(trade core.IBrokerTradeClient, logger core.ILogger, buyTimeoutMs, sellTimeoutMs, priceUpdateIntervalMs int64) *OrderMonitor {
	return &OrderMonitor{
		trade:                 trade,
		logger:                logger.WithField("component", "order_monitor"),
		buyTimeoutMs:          buyTimeoutMs,
		sellTimeoutMs:         sellTimeoutMs,
		priceUpdateIntervalMs: priceUpdateIntervalMs,
		tracked:               make(map[string]*core.TrackedOrder),
	}
}

// TrackOrder registers a newly submitted order for lifecycle
// management.
func (m *OrderMonitor) TrackOrder(t *core.TrackedOrder) {
	m.tracked[t.Meta.OrderID] = t
}

// GetPendingSellOrders returns every tracked sell order currently in an
// active broker status.
func (m *OrderMonitor) GetPendingSellOrders(symbol string) []core.TrackedOrder {
	var out []core.TrackedOrder
	for _, t := range m.tracked {
		if t.Symbol == symbol && t.Meta.Side == core.SideSell && t.Meta.Status.IsActive() {
			out = append(out, *t)
		}
	}
	return out
}

// CancelAllPendingBuyOrders cancels every tracked buy order still in an
// active broker status, used by doomsday protection's close-15-minute
// window (spec §4.9). It keeps going past individual cancel failures
// and returns every error encountered.
func (m *OrderMonitor) CancelAllPendingBuyOrders(ctx context.Context) []error {
	var errs []error
	for _, t := range m.tracked {
		if t.Meta.Side != core.SideBuy || !t.Meta.Status.IsActive() {
			continue
		}
		if err := m.trade.CancelOrder(ctx, t.Meta.OrderID); err != nil {
			errs = append(errs, err)
			continue
		}
		t.MarkTerminalHandled()
	}
	return errs
}

// ProcessWithLatestQuotes advances every tracked order's timeout and
// replace-price logic given the current wall clock and latest quote
// for its symbol.
func (m *OrderMonitor) ProcessWithLatestQuotes(ctx context.Context, nowMs int64, quotes map[string]*core.Quote) {
	for _, t := range m.tracked {
		if t.TerminalHandled() || !t.Meta.Status.IsActive() {
			continue
		}
		if t.Meta.Status == core.OrderStatusWaitToReplace || t.Meta.Status == core.OrderStatusPendingReplace {
			continue // broker is already processing a prior request for this order
		}

		m.processTimeout(ctx, t, nowMs)
		if t.TerminalHandled() {
			continue
		}
		m.processReplacePrice(ctx, t, nowMs, quotes[t.Symbol])
	}
}

func (m *OrderMonitor) processTimeout(ctx context.Context, t *core.TrackedOrder, nowMs int64) {
	elapsed := nowMs - t.SubmitTimeMs
	switch t.Meta.Side {
	case core.SideBuy:
		if elapsed < m.buyTimeoutMs {
			return
		}
		if err := m.trade.CancelOrder(ctx, t.Meta.OrderID); err != nil {
			m.logger.Warn("buy timeout cancel failed", "order_id", t.Meta.OrderID, "error", err)
			return
		}
		m.logger.Info("buy order timed out, cancelled", "order_id", t.Meta.OrderID)
	case core.SideSell:
		if elapsed < m.sellTimeoutMs {
			return
		}
		if err := m.trade.CancelOrder(ctx, t.Meta.OrderID); err != nil {
			m.logger.Warn("sell timeout cancel failed", "order_id", t.Meta.OrderID, "error", err)
			return
		}
		t.ConvertedToMarket = true
		m.logger.Info("sell order timed out, cancelled and will be replaced at market", "order_id", t.Meta.OrderID)
	}
}

func (m *OrderMonitor) processReplacePrice(ctx context.Context, t *core.TrackedOrder, nowMs int64, quote *core.Quote) {
	if quote == nil {
		return
	}
	if !t.Meta.Type.IsReplaceable() {
		return
	}
	if t.Meta.Status == core.OrderStatusWaitToNew {
		return
	}
	if nowMs-t.LastPriceUpdateMs < m.priceUpdateIntervalMs {
		return
	}

	delta := quote.LastPrice.Sub(t.Meta.SubmittedPrice)
	if delta.IsNegative() {
		delta = delta.Neg()
	}
	threshold, _ := decimal.NewFromString(priceChangeThreshold)
	if delta.LessThan(threshold) {
		return
	}

	if err := m.trade.ReplaceOrder(ctx, core.ReplaceOrderRequest{
		OrderID:  t.Meta.OrderID,
		Price:    quote.LastPrice,
		Quantity: t.Meta.RemainingQty(),
	}); err != nil {
		m.logger.Warn("replace price failed", "order_id", t.Meta.OrderID, "error", err)
		return
	}
	t.Meta.SubmittedPrice = quote.LastPrice
	t.LastPriceUpdateMs = nowMs
}

// HandleOrderChanged applies a broker push event to the tracked order
// idempotently: once an order has reached a terminal status, later
// pushes for the same order are ignored rather than regressing state
// (spec §4.6, §7).
func (m *OrderMonitor) HandleOrderChanged(evt core.OrderChangedEvent) {
	t, ok := m.tracked[evt.OrderID]
	if !ok {
		return
	}
	if t.TerminalHandled() {
		return
	}

	t.Meta.Status = evt.Status
	t.Meta.ExecutedQty = evt.ExecutedQty
	if evt.SubmittedPrice.IsPositive() {
		t.Meta.SubmittedPrice = evt.SubmittedPrice
	}

	if evt.Status.IsTerminal() {
		t.MarkTerminalHandled()
	}
}
