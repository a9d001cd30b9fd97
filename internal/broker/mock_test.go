package broker

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hkwarrant/internal/core"
)

func TestMockQuoteClient_QuotePushDeliversToSubscribers(t *testing.T) {
	m := NewMockQuoteClient()
	var received *core.Quote
	m.OnQuotePush(func(q *core.Quote) { received = q })

	q := &core.Quote{Symbol: "700.HK", LastPrice: decimal.NewFromInt(50)}
	m.PushQuote(q)
	require.NotNil(t, received)
	assert.Equal(t, "700.HK", received.Symbol)
}

func TestMockQuoteClient_TradingDaysFiltersByWindow(t *testing.T) {
	m := NewMockQuoteClient()
	d1 := time.Date(2026, 7, 29, 0, 0, 0, 0, core.HKLocation)
	d2 := time.Date(2026, 7, 30, 0, 0, 0, 0, core.HKLocation)
	m.SetTradingDays([]time.Time{d1, d2})

	days, err := m.TradingDays(context.Background(), "HK", d2, d2.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, days, 1)
}

func TestMockQuoteClient_RealtimeCandlesticksRespectsCount(t *testing.T) {
	m := NewMockQuoteClient()
	bars := []core.Candle{{Symbol: "68XXX"}, {Symbol: "68XXX"}, {Symbol: "68XXX"}}
	m.SetCandles("68XXX", bars)

	out, err := m.RealtimeCandlesticks(context.Background(), "68XXX", "1m", 2)
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestMockTradeClient_SubmitThenTodayOrdersIncludesIt(t *testing.T) {
	m := NewMockTradeClient()
	orderID, err := m.SubmitOrder(context.Background(), core.SubmitOrderRequest{Symbol: "68XXX", Side: core.SideBuy})
	require.NoError(t, err)

	orders, err := m.TodayOrders(context.Background(), &core.OrderFilter{Symbol: "68XXX"})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, orderID, orders[0].OrderID)
}

func TestMockTradeClient_OrderChangedPushDeliversToSubscribers(t *testing.T) {
	m := NewMockTradeClient()
	var got core.OrderChangedEvent
	m.OnOrderChanged(func(ev core.OrderChangedEvent) { got = ev })

	m.PushOrderChanged(core.OrderChangedEvent{OrderID: "o1", Status: core.OrderStatusFilled})
	assert.Equal(t, "o1", got.OrderID)
}
