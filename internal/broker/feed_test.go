package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hkwarrant/internal/core"
)

func TestPushFeed_HandleMessage_DispatchesQuote(t *testing.T) {
	f := NewPushFeed("wss://example.invalid", nil)

	var got *core.Quote
	f.OnQuotePush(func(q *core.Quote) { got = q })

	f.handleMessage([]byte(`{"type":"quote","quote":{"Symbol":"700.HK","LastPrice":"50"}}`))

	require.NotNil(t, got)
	assert.Equal(t, "700.HK", got.Symbol)
}

func TestPushFeed_HandleMessage_DispatchesCandlestick(t *testing.T) {
	f := NewPushFeed("wss://example.invalid", nil)

	var got core.Candle
	var called bool
	f.OnCandlestickPush(func(c core.Candle) { got = c; called = true })

	f.handleMessage([]byte(`{"type":"candlestick","candle":{"Symbol":"68XXX","Closed":true}}`))

	require.True(t, called)
	assert.Equal(t, "68XXX", got.Symbol)
	assert.True(t, got.Closed)
}

func TestPushFeed_HandleMessage_DispatchesOrderChanged(t *testing.T) {
	f := NewPushFeed("wss://example.invalid", nil)

	var got core.OrderChangedEvent
	f.OnOrderChanged(func(ev core.OrderChangedEvent) { got = ev })

	f.handleMessage([]byte(`{"type":"order_changed","order_changed":{"OrderID":"o1","Status":"Filled"}}`))

	assert.Equal(t, "o1", got.OrderID)
}

func TestPushFeed_HandleMessage_IgnoresMalformedPayload(t *testing.T) {
	f := NewPushFeed("wss://example.invalid", nil)

	called := false
	f.OnQuotePush(func(*core.Quote) { called = true })

	f.handleMessage([]byte(`not json`))
	assert.False(t, called)
}

func TestPushFeed_HandleMessage_IgnoresUnknownType(t *testing.T) {
	f := NewPushFeed("wss://example.invalid", nil)

	called := false
	f.OnQuotePush(func(*core.Quote) { called = true })

	f.handleMessage([]byte(`{"type":"heartbeat"}`))
	assert.False(t, called)
}
