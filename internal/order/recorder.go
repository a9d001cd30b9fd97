package order

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/google/uuid"

	"hkwarrant/internal/core"
)

// Recorder owns the working set of buy lots per symbol, the sell
// records matched against them, and the broker round-trips needed to
// recover that state after a restart (spec §4.5).
type Recorder struct {
	trade  core.IBrokerTradeClient
	logger core.ILogger

	mu      sync.RWMutex
	buys    map[string][]Lot               // symbol -> open buy lots
	sells   map[string][]core.OrderRecord   // symbol -> recorded sells
	pending map[string]*core.PendingOrder   // orderID -> in-flight sell

	tradeLogDir string
}

func NewRecorder(trade core.IBrokerTradeClient, logger core.ILogger, tradeLogDir string) *Recorder {
	if tradeLogDir == "" {
		tradeLogDir = "logs/trades"
	}
	return &Recorder{
		trade:       trade,
		logger:      logger.WithField("component", "order_recorder"),
		buys:        make(map[string][]Lot),
		sells:       make(map[string][]core.OrderRecord),
		pending:     make(map[string]*core.PendingOrder),
		tradeLogDir: tradeLogDir,
	}
}

// FetchAllOrdersFromAPI pulls today's and recent history orders from
// the broker for recovery after a restart.
func (r *Recorder) FetchAllOrdersFromAPI(ctx context.Context, filter *core.OrderFilter) ([]core.OrderRecord, error) {
	today, err := r.trade.TodayOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("order recorder: fetch today orders: %w", err)
	}
	history, err := r.trade.HistoryOrders(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("order recorder: fetch history orders: %w", err)
	}
	return append(today, history...), nil
}

// ClassifyAndConvertOrders splits broker order records into buy lots
// and sell records and installs them into the recorder's working set
// for symbol, replacing any prior state (used on open rebuild).
func (r *Recorder) ClassifyAndConvertOrders(symbol string, orders []core.OrderRecord) {
	var buyLots []Lot
	var sells []core.OrderRecord
	for _, o := range orders {
		switch o.Side {
		case core.SideBuy:
			buyLots = append(buyLots, Lot{
				OrderID:        o.OrderID,
				Price:          o.ExecutedPrice,
				ExecutedTimeMs: o.ExecutedTimeMs,
				Qty:            o.ExecutedQty,
			})
		case core.SideSell:
			sells = append(sells, o)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buys[symbol] = buyLots
	r.sells[symbol] = sells
}

// GetBuyOrdersForSymbol returns the open buy lots for symbol after
// applying smart-close filtering against its recorded sells.
func (r *Recorder) GetBuyOrdersForSymbol(symbol string) []Lot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return SmartClose(r.buys[symbol], r.sells[symbol])
}

// DailyTotals returns the day's total executed buy cost, total executed
// sell proceeds, and the currently open (post smart-close) buy lots for
// symbol. Consumed by the risk manager's per-fill and scheduled
// position refresh (spec §4.7).
func (r *Recorder) DailyTotals(symbol string) (totalBuy, totalSell decimal.Decimal, held []Lot) {
	r.mu.RLock()
	buys := append([]Lot(nil), r.buys[symbol]...)
	sells := append([]core.OrderRecord(nil), r.sells[symbol]...)
	r.mu.RUnlock()

	totalBuy = decimal.Zero
	for _, b := range buys {
		totalBuy = totalBuy.Add(b.Price.Mul(b.Qty))
	}
	totalSell = decimal.Zero
	for _, s := range sells {
		totalSell = totalSell.Add(s.ExecutedPrice.Mul(s.ExecutedQty))
	}
	return totalBuy, totalSell, SmartClose(buys, sells)
}

// RecordLocalBuy appends a buy fill to the in-memory working set so it
// is visible to smart-close filtering and the risk refresh without
// waiting for the next open rebuild.
func (r *Recorder) RecordLocalBuy(symbol string, lot Lot) {
	r.mu.Lock()
	r.buys[symbol] = append(r.buys[symbol], lot)
	r.mu.Unlock()
}

// SubmitSellOrder submits a sell order to the broker and registers it
// as a pending order under the recorder's tracking.
func (r *Recorder) SubmitSellOrder(ctx context.Context, req core.SubmitOrderRequest, nowMs int64) (string, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	orderID, err := r.trade.SubmitOrder(ctx, req)
	if err != nil {
		return "", fmt.Errorf("order recorder: submit sell: %w", err)
	}

	r.mu.Lock()
	r.pending[orderID] = &core.PendingOrder{
		OrderID:        orderID,
		Side:           core.SideSell,
		SubmittedPrice: req.Price,
		SubmittedQty:   req.Quantity,
		Status:         core.OrderStatusNew,
		Type:           req.OrderType,
		SubmitTimeMs:   nowMs,
	}
	r.mu.Unlock()
	return orderID, nil
}

// MarkSellFilled records a completed sell as local history and drops
// its pending-order entry.
func (r *Recorder) MarkSellFilled(symbol string, rec core.OrderRecord) {
	r.RecordLocalSell(symbol, rec)
	r.mu.Lock()
	delete(r.pending, rec.OrderID)
	r.mu.Unlock()
}

// MarkSellPartialFilled updates the pending order's executed quantity
// without removing it from tracking.
func (r *Recorder) MarkSellPartialFilled(orderID string, executedQty decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pending[orderID]; ok {
		p.ExecutedQty = executedQty
		p.Status = core.OrderStatusPartialFilled
	}
}

// MarkSellCancelled drops the pending-order entry for a cancelled sell.
func (r *Recorder) MarkSellCancelled(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, orderID)
}

// RecordLocalSell appends a sell fill to the in-memory working set and
// persists it to the daily trade log.
func (r *Recorder) RecordLocalSell(symbol string, rec core.OrderRecord) {
	r.mu.Lock()
	r.sells[symbol] = append(r.sells[symbol], rec)
	r.mu.Unlock()

	if err := r.appendTradeLog(rec); err != nil {
		r.logger.Warn("failed to persist trade log entry", "order_id", rec.OrderID, "error", err)
	}
}

// ClearBuyOrders drops the in-memory buy lots for symbol, used by
// doomsday protection after a protective clearance.
func (r *Recorder) ClearBuyOrders(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buys, symbol)
}

// ClearAll wipes every tracked buy lot, sell record and pending order,
// used by the day lifecycle manager's midnight clear fan-out.
func (r *Recorder) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buys = make(map[string][]Lot)
	r.sells = make(map[string][]core.OrderRecord)
	r.pending = make(map[string]*core.PendingOrder)
}

// RebuildFromBroker re-fetches and reclassifies order history for every
// symbol in symbols, used by the day lifecycle manager's open rebuild.
func (r *Recorder) RebuildFromBroker(ctx context.Context, symbols []string) error {
	for _, sym := range symbols {
		orders, err := r.FetchAllOrdersFromAPI(ctx, &core.OrderFilter{Symbol: sym})
		if err != nil {
			return fmt.Errorf("order recorder: rebuild %s: %w", sym, err)
		}
		r.ClassifyAndConvertOrders(sym, orders)
	}
	return nil
}

// AllocateRelatedBuyOrderIDsForRecovery returns the order IDs of the
// buy lots a recovered sell should be associated with, by taking the
// lowest-price-first lots up to the sell's executed quantity (mirrors
// the live submission path's FIFO accounting for a sell placed during
// a prior run).
func (r *Recorder) AllocateRelatedBuyOrderIDsForRecovery(symbol string, sellQty decimal.Decimal) []string {
	r.mu.RLock()
	lots := append([]Lot(nil), r.buys[symbol]...)
	r.mu.RUnlock()

	sort.Slice(lots, func(i, j int) bool { return lots[i].Price.LessThan(lots[j].Price) })

	var ids []string
	remaining := sellQty
	for _, lot := range lots {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		if lot.Qty.LessThanOrEqual(remaining) {
			ids = append(ids, lot.OrderID)
			remaining = remaining.Sub(lot.Qty)
		}
	}
	return ids
}

type tradeLogEntry struct {
	OrderID        string `json:"order_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	ExecutedPrice  string `json:"executed_price"`
	ExecutedQty    string `json:"executed_qty"`
	ExecutedTimeMs int64  `json:"executed_time_ms"`
}

func (r *Recorder) appendTradeLog(rec core.OrderRecord) error {
	if r.tradeLogDir == "" {
		return nil
	}
	if err := os.MkdirAll(r.tradeLogDir, 0o755); err != nil {
		return err
	}

	day := dayKeyFromMs(rec.ExecutedTimeMs)
	path := filepath.Join(r.tradeLogDir, day+".json")

	var entries []tradeLogEntry
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &entries)
	}
	entries = append(entries, tradeLogEntry{
		OrderID:        rec.OrderID,
		Symbol:         rec.Symbol,
		Side:           string(rec.Side),
		ExecutedPrice:  rec.ExecutedPrice.String(),
		ExecutedQty:    rec.ExecutedQty.String(),
		ExecutedTimeMs: rec.ExecutedTimeMs,
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func dayKeyFromMs(ms int64) string {
	return core.DateKeyMs(ms)
}
