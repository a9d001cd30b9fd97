package order

import (
	"context"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hkwarrant/internal/core"
	"hkwarrant/internal/logging"
)

type fakeTradeClient struct {
	cancelled []string
	replaced  []core.ReplaceOrderRequest
	cancelErr error
	replaceErr error
}

func (f *fakeTradeClient) SubmitOrder(ctx context.Context, opts core.SubmitOrderRequest) (string, error) {
	return "order-1", nil
}
func (f *fakeTradeClient) CancelOrder(ctx context.Context, orderID string) error {
	f.cancelled = append(f.cancelled, orderID)
	return f.cancelErr
}
func (f *fakeTradeClient) ReplaceOrder(ctx context.Context, opts core.ReplaceOrderRequest) error {
	f.replaced = append(f.replaced, opts)
	return f.replaceErr
}
func (f *fakeTradeClient) TodayOrders(ctx context.Context, filter *core.OrderFilter) ([]core.OrderRecord, error) {
	return nil, nil
}
func (f *fakeTradeClient) HistoryOrders(ctx context.Context, filter *core.OrderFilter) ([]core.OrderRecord, error) {
	return nil, nil
}
func (f *fakeTradeClient) TodayExecutions(ctx context.Context, filter *core.OrderFilter) ([]core.OrderRecord, error) {
	return nil, nil
}
func (f *fakeTradeClient) AccountBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeTradeClient) StockPositions(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	return nil, nil
}
func (f *fakeTradeClient) OnOrderChanged(cb func(core.OrderChangedEvent)) {}
func (f *fakeTradeClient) Subscribe(ctx context.Context, topics []string) error   { return nil }
func (f *fakeTradeClient) Unsubscribe(ctx context.Context, topics []string) error { return nil }

func newTestMonitor(trade core.IBrokerTradeClient) *OrderMonitor {
	return NewOrderMonitor(trade, logging.NewLogger(logging.FatalLevel, io.Discard), 30000, 30000, 5000)
}

func TestOrderMonitor_BuyTimeoutCancelsOnly(t *testing.T) {
	trade := &fakeTradeClient{}
	m := newTestMonitor(trade)

	tracked := &core.TrackedOrder{
		Meta:         core.PendingOrder{OrderID: "o1", Side: core.SideBuy, Status: core.OrderStatusNew, Type: core.OrderTypeLO, SubmittedPrice: decimal.NewFromInt(10)},
		Symbol:       "HSI",
		SubmitTimeMs: 0,
	}
	m.TrackOrder(tracked)

	m.ProcessWithLatestQuotes(context.Background(), 31000, map[string]*core.Quote{})

	assert.Contains(t, trade.cancelled, "o1")
	assert.False(t, tracked.ConvertedToMarket)
}

func TestOrderMonitor_SellTimeoutConvertsToMarket(t *testing.T) {
	trade := &fakeTradeClient{}
	m := newTestMonitor(trade)

	tracked := &core.TrackedOrder{
		Meta:         core.PendingOrder{OrderID: "o1", Side: core.SideSell, Status: core.OrderStatusNew, Type: core.OrderTypeLO, SubmittedPrice: decimal.NewFromInt(10)},
		Symbol:       "HSI",
		SubmitTimeMs: 0,
	}
	m.TrackOrder(tracked)

	m.ProcessWithLatestQuotes(context.Background(), 31000, map[string]*core.Quote{})

	assert.Contains(t, trade.cancelled, "o1")
	assert.True(t, tracked.ConvertedToMarket)
}

func TestOrderMonitor_ReplacesPriceWhenDeltaExceedsThreshold(t *testing.T) {
	trade := &fakeTradeClient{}
	m := newTestMonitor(trade)

	tracked := &core.TrackedOrder{
		Meta:              core.PendingOrder{OrderID: "o1", Side: core.SideSell, Status: core.OrderStatusNew, Type: core.OrderTypeLO, SubmittedPrice: decimal.NewFromFloat(10.0), SubmittedQty: decimal.NewFromInt(100)},
		Symbol:            "HSI",
		SubmitTimeMs:      0,
		LastPriceUpdateMs: 0,
	}
	m.TrackOrder(tracked)

	quotes := map[string]*core.Quote{"HSI": {Symbol: "HSI", LastPrice: decimal.NewFromFloat(10.05)}}
	m.ProcessWithLatestQuotes(context.Background(), 6000, quotes)

	require.Len(t, trade.replaced, 1)
	assert.True(t, trade.replaced[0].Price.Equal(decimal.NewFromFloat(10.05)))
}

func TestOrderMonitor_SkipsNonReplaceableMarketOrder(t *testing.T) {
	trade := &fakeTradeClient{}
	m := newTestMonitor(trade)

	tracked := &core.TrackedOrder{
		Meta:         core.PendingOrder{OrderID: "o1", Side: core.SideSell, Status: core.OrderStatusNew, Type: core.OrderTypeMO, SubmittedPrice: decimal.NewFromInt(10)},
		Symbol:       "HSI",
		SubmitTimeMs: 0,
	}
	m.TrackOrder(tracked)

	quotes := map[string]*core.Quote{"HSI": {Symbol: "HSI", LastPrice: decimal.NewFromInt(20)}}
	m.ProcessWithLatestQuotes(context.Background(), 6000, quotes)

	assert.Empty(t, trade.replaced)
}

func TestOrderMonitor_HandleOrderChangedIsIdempotentAfterTerminal(t *testing.T) {
	m := newTestMonitor(&fakeTradeClient{})
	tracked := &core.TrackedOrder{Meta: core.PendingOrder{OrderID: "o1", Status: core.OrderStatusNew}}
	m.TrackOrder(tracked)

	m.HandleOrderChanged(core.OrderChangedEvent{OrderID: "o1", Status: core.OrderStatusFilled, ExecutedQty: decimal.NewFromInt(100)})
	assert.True(t, tracked.TerminalHandled())

	// A stale out-of-order push arrives after the terminal status; it
	// must not regress the tracked state.
	m.HandleOrderChanged(core.OrderChangedEvent{OrderID: "o1", Status: core.OrderStatusCanceled})
	assert.Equal(t, core.OrderStatusFilled, tracked.Meta.Status)
}

func TestDecideSellMerge(t *testing.T) {
	assert.Equal(t, MergeSkip, DecideSellMerge(decimal.Zero, nil, false, core.OrderTypeLO))
	assert.Equal(t, MergeSubmit, DecideSellMerge(decimal.NewFromInt(1), nil, false, core.OrderTypeLO))

	protective := DecideSellMerge(decimal.NewFromInt(1), []core.PendingOrder{{Type: core.OrderTypeLO}}, true, core.OrderTypeLO)
	assert.Equal(t, MergeCancelAndSubmit, protective)

	multi := DecideSellMerge(decimal.NewFromInt(1), []core.PendingOrder{{Type: core.OrderTypeLO}, {Type: core.OrderTypeLO}}, false, core.OrderTypeLO)
	assert.Equal(t, MergeCancelAndSubmit, multi)

	typeMismatch := DecideSellMerge(decimal.NewFromInt(1), []core.PendingOrder{{Type: core.OrderTypeMO}}, false, core.OrderTypeLO)
	assert.Equal(t, MergeCancelAndSubmit, typeMismatch)

	replace := DecideSellMerge(decimal.NewFromInt(1), []core.PendingOrder{{Type: core.OrderTypeLO}}, false, core.OrderTypeLO)
	assert.Equal(t, MergeReplace, replace)
}
