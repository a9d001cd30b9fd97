package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hkwarrant/internal/core"
)

// flakyQuoteClient fails the first N Quote calls then succeeds, to
// exercise the retry policy without a real broker.
type flakyQuoteClient struct {
	*MockQuoteClient
	failuresLeft atomic.Int64
}

func (f *flakyQuoteClient) Quote(ctx context.Context, symbols []string) (map[string]*core.Quote, error) {
	if f.failuresLeft.Add(-1) >= 0 {
		return nil, errors.New("transient network error")
	}
	return f.MockQuoteClient.Quote(ctx, symbols)
}

func TestQuoteClient_RetriesTransientErrorsThenSucceeds(t *testing.T) {
	inner := &flakyQuoteClient{MockQuoteClient: NewMockQuoteClient()}
	inner.failuresLeft.Store(2)
	inner.SetQuote("700.HK", &core.Quote{Symbol: "700.HK", LastPrice: decimal.NewFromInt(100)})

	c := NewQuoteClient(inner, NewThrottle(time.Millisecond))
	out, err := c.Quote(context.Background(), []string{"700.HK"})
	require.NoError(t, err)
	assert.Equal(t, decimal.NewFromInt(100).String(), out["700.HK"].LastPrice.String())
}

func TestQuoteClient_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyQuoteClient{MockQuoteClient: NewMockQuoteClient()}
	inner.failuresLeft.Store(100)

	c := NewQuoteClient(inner, NewThrottle(time.Millisecond))
	_, err := c.Quote(context.Background(), []string{"700.HK"})
	assert.Error(t, err)
}

func TestQuoteClient_PassesThroughStaticInfo(t *testing.T) {
	inner := NewMockQuoteClient()
	inner.SetStaticInfo("68XXX", core.WarrantCandidate{Symbol: "68XXX", IsBull: true})

	c := NewQuoteClient(inner, NewThrottle(time.Millisecond))
	out, err := c.StaticInfo(context.Background(), []string{"68XXX"})
	require.NoError(t, err)
	assert.True(t, out["68XXX"].IsBull)
}

func TestTradeClient_SubmitOrderDelegatesToInner(t *testing.T) {
	inner := NewMockTradeClient()
	c := NewTradeClient(inner, NewThrottle(time.Millisecond))

	orderID, err := c.SubmitOrder(context.Background(), core.SubmitOrderRequest{
		Symbol: "68XXX", Side: core.SideBuy, OrderType: core.OrderTypeLO,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, orderID)

	require.NoError(t, c.CancelOrder(context.Background(), orderID))
}

func TestTradeClient_CancelUnknownOrderReturnsError(t *testing.T) {
	inner := NewMockTradeClient()
	c := NewTradeClient(inner, NewThrottle(time.Millisecond))

	err := c.CancelOrder(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(errors.New("boom")))
}
