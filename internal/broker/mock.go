package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"hkwarrant/internal/core"
)

// MockQuoteClient is an in-memory implementation of
// core.IBrokerQuoteClient for tests and local runs without a real
// broker connection (spec §4.13).
type MockQuoteClient struct {
	mu sync.Mutex

	quotes    map[string]*core.Quote
	statics   map[string]core.WarrantCandidate
	candles   map[string][]core.Candle
	warrants  map[string][]core.WarrantCandidate
	tradeDays []time.Time

	quotePushCbs      []func(*core.Quote)
	candlestickPushCb []func(core.Candle)
}

// NewMockQuoteClient returns an empty MockQuoteClient ready to be seeded
// via its Set* helpers.
func NewMockQuoteClient() *MockQuoteClient {
	return &MockQuoteClient{
		quotes:   make(map[string]*core.Quote),
		statics:  make(map[string]core.WarrantCandidate),
		candles:  make(map[string][]core.Candle),
		warrants: make(map[string][]core.WarrantCandidate),
	}
}

// SetQuote seeds the quote returned for symbol by Quote.
func (m *MockQuoteClient) SetQuote(symbol string, q *core.Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[symbol] = q
}

// SetStaticInfo seeds the static info returned for symbol by StaticInfo.
func (m *MockQuoteClient) SetStaticInfo(symbol string, c core.WarrantCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statics[symbol] = c
}

// SetCandles seeds the candle history returned for symbol by
// RealtimeCandlesticks.
func (m *MockQuoteClient) SetCandles(symbol string, bars []core.Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[symbol] = bars
}

// SetWarrantList seeds the candidate list returned for underlying by
// WarrantList.
func (m *MockQuoteClient) SetWarrantList(underlying string, candidates []core.WarrantCandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warrants[underlying] = candidates
}

// SetTradingDays seeds the days returned by TradingDays.
func (m *MockQuoteClient) SetTradingDays(days []time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradeDays = days
}

// PushQuote delivers q to every registered OnQuotePush subscriber.
func (m *MockQuoteClient) PushQuote(q *core.Quote) {
	m.mu.Lock()
	cbs := append([]func(*core.Quote){}, m.quotePushCbs...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(q)
	}
}

// PushCandle delivers c to every registered OnCandlestickPush subscriber.
func (m *MockQuoteClient) PushCandle(c core.Candle) {
	m.mu.Lock()
	cbs := append([]func(core.Candle){}, m.candlestickPushCb...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(c)
	}
}

func (m *MockQuoteClient) Quote(ctx context.Context, symbols []string) (map[string]*core.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*core.Quote, len(symbols))
	for _, s := range symbols {
		if q, ok := m.quotes[s]; ok {
			out[s] = q
		}
	}
	return out, nil
}

func (m *MockQuoteClient) StaticInfo(ctx context.Context, symbols []string) (map[string]core.WarrantCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]core.WarrantCandidate, len(symbols))
	for _, s := range symbols {
		if c, ok := m.statics[s]; ok {
			out[s] = c
		}
	}
	return out, nil
}

func (m *MockQuoteClient) Subscribe(ctx context.Context, symbols []string, subTypes []string) error {
	return nil
}

func (m *MockQuoteClient) Unsubscribe(ctx context.Context, symbols []string, subTypes []string) error {
	return nil
}

func (m *MockQuoteClient) SubscribeCandlesticks(ctx context.Context, symbol string, period string) error {
	return nil
}

func (m *MockQuoteClient) UnsubscribeCandlesticks(ctx context.Context, symbol string, period string) error {
	return nil
}

func (m *MockQuoteClient) RealtimeCandlesticks(ctx context.Context, symbol string, period string, count int) ([]core.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bars := m.candles[symbol]
	if count > 0 && count < len(bars) {
		bars = bars[len(bars)-count:]
	}
	return append([]core.Candle{}, bars...), nil
}

func (m *MockQuoteClient) TradingDays(ctx context.Context, market string, begin, end time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for _, d := range m.tradeDays {
		if !d.Before(begin) && d.Before(end) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *MockQuoteClient) WarrantList(ctx context.Context, underlying string, sortBy core.WarrantSortBy, order core.SortOrder, isBull bool, expiryFilters []string) ([]core.WarrantCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.WarrantCandidate
	for _, c := range m.warrants[underlying] {
		if c.IsBull == isBull {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MockQuoteClient) OnQuotePush(cb func(*core.Quote)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotePushCbs = append(m.quotePushCbs, cb)
}

func (m *MockQuoteClient) OnCandlestickPush(cb func(core.Candle)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candlestickPushCb = append(m.candlestickPushCb, cb)
}

// MockTradeClient is an in-memory implementation of
// core.IBrokerTradeClient for tests and local runs without a real
// broker connection (spec §4.13).
type MockTradeClient struct {
	mu sync.Mutex

	balances  map[string]decimal.Decimal
	positions map[string]decimal.Decimal
	orders    map[string]core.OrderRecord
	nextOrder int64

	orderChangedCbs []func(core.OrderChangedEvent)
}

// NewMockTradeClient returns an empty MockTradeClient ready to be seeded
// via its Set* helpers.
func NewMockTradeClient() *MockTradeClient {
	return &MockTradeClient{
		balances:  make(map[string]decimal.Decimal),
		positions: make(map[string]decimal.Decimal),
		orders:    make(map[string]core.OrderRecord),
	}
}

// SetBalance seeds the balance returned for currency by AccountBalance.
func (m *MockTradeClient) SetBalance(currency string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[currency] = amount
}

// SetPosition seeds the position returned for symbol by StockPositions.
func (m *MockTradeClient) SetPosition(symbol string, qty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[symbol] = qty
}

// PushOrderChanged delivers ev to every registered OnOrderChanged
// subscriber.
func (m *MockTradeClient) PushOrderChanged(ev core.OrderChangedEvent) {
	m.mu.Lock()
	cbs := append([]func(core.OrderChangedEvent){}, m.orderChangedCbs...)
	m.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

func (m *MockTradeClient) SubmitOrder(ctx context.Context, opts core.SubmitOrderRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextOrder++
	orderID := fmt.Sprintf("MOCK-%d", m.nextOrder)
	m.orders[orderID] = core.OrderRecord{
		OrderID:      orderID,
		Symbol:       opts.Symbol,
		Side:         opts.Side,
		SubmitTimeMs: time.Now().UnixMilli(),
	}
	return orderID, nil
}

func (m *MockTradeClient) CancelOrder(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return fmt.Errorf("mock broker: unknown order %s", orderID)
	}
	return nil
}

func (m *MockTradeClient) ReplaceOrder(ctx context.Context, opts core.ReplaceOrderRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[opts.OrderID]; !ok {
		return fmt.Errorf("mock broker: unknown order %s", opts.OrderID)
	}
	return nil
}

func (m *MockTradeClient) TodayOrders(ctx context.Context, filter *core.OrderFilter) ([]core.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.OrderRecord
	for _, o := range m.orders {
		if filter != nil && filter.Symbol != "" && o.Symbol != filter.Symbol {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *MockTradeClient) HistoryOrders(ctx context.Context, filter *core.OrderFilter) ([]core.OrderRecord, error) {
	return m.TodayOrders(ctx, filter)
}

func (m *MockTradeClient) TodayExecutions(ctx context.Context, filter *core.OrderFilter) ([]core.OrderRecord, error) {
	return m.TodayOrders(ctx, filter)
}

func (m *MockTradeClient) AccountBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[currency], nil
}

func (m *MockTradeClient) StockPositions(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		out[s] = m.positions[s]
	}
	return out, nil
}

func (m *MockTradeClient) OnOrderChanged(cb func(core.OrderChangedEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderChangedCbs = append(m.orderChangedCbs, cb)
}

func (m *MockTradeClient) Subscribe(ctx context.Context, topics []string) error   { return nil }
func (m *MockTradeClient) Unsubscribe(ctx context.Context, topics []string) error { return nil }
