package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"hkwarrant/internal/core"
	"hkwarrant/pkg/telemetry"
)

// ErrThrottled surfaces a throttle-wait failure (context cancelled while
// waiting for a broker call slot) distinctly from a broker-side error.
var ErrThrottled = errors.New("broker: throttle wait cancelled")

// IsTransient reports whether err should be retried: anything other than
// a context cancellation/deadline is treated as a transient broker/network
// fault, mirroring how the broker's own error surface conflates network
// and exchange-side failures (spec §6 leaves wire errors unspecified).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// resilience is the shared throttle/retry/circuit-breaker/telemetry core
// behind both QuoteClient and TradeClient (spec §4.13, §6).
type resilience struct {
	throttle *Throttle
	pipeline failsafe.Executor[any]

	tracer      trace.Tracer
	callCount   metric.Int64Counter
	errCount    metric.Int64Counter
	latencyHist metric.Float64Histogram
}

func newResilience(name string, throttle *Throttle) *resilience {
	retryPolicy := retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return IsTransient(err) }).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return IsTransient(err) }).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	tracer := telemetry.GetTracer(name)
	meter := telemetry.GetMeter(name)
	callCount, _ := meter.Int64Counter("broker_calls_total",
		metric.WithDescription("Total number of broker API calls"))
	errCount, _ := meter.Int64Counter("broker_errors_total",
		metric.WithDescription("Total number of broker API errors"))
	latencyHist, _ := meter.Float64Histogram("broker_call_duration_seconds",
		metric.WithDescription("Broker API call latency in seconds"))

	return &resilience{
		throttle:    throttle,
		pipeline:    failsafe.With[any](retryPolicy, breaker),
		tracer:      tracer,
		callCount:   callCount,
		errCount:    errCount,
		latencyHist: latencyHist,
	}
}

// call runs fn through the throttle and the retry/circuit-breaker
// pipeline, recording a span and metrics keyed by op.
func (r *resilience) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := r.throttle.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrThrottled, err)
	}

	start := time.Now()
	ctx, span := r.tracer.Start(ctx, op)
	defer span.End()

	_, err := r.pipeline.GetWithExecution(func(exec failsafe.Execution[any]) (any, error) {
		return nil, fn(ctx)
	})

	r.callCount.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	r.latencyHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("op", op)))
	if err != nil {
		span.RecordError(err)
		r.errCount.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
		return fmt.Errorf("broker: %s: %w", op, err)
	}
	return nil
}

// QuoteClient wraps a core.IBrokerQuoteClient with rate limiting, retry,
// and circuit-breaker resilience around transient broker errors.
type QuoteClient struct {
	inner core.IBrokerQuoteClient
	res   *resilience
}

// NewQuoteClient builds a resilient wrapper around quote, spacing calls
// via throttle and retrying/breaking on transient errors.
func NewQuoteClient(quote core.IBrokerQuoteClient, throttle *Throttle) *QuoteClient {
	return &QuoteClient{inner: quote, res: newResilience("broker-quote-client", throttle)}
}

func (c *QuoteClient) Quote(ctx context.Context, symbols []string) (map[string]*core.Quote, error) {
	var out map[string]*core.Quote
	err := c.res.call(ctx, "quote", func(ctx context.Context) error {
		var err error
		out, err = c.inner.Quote(ctx, symbols)
		return err
	})
	return out, err
}

func (c *QuoteClient) StaticInfo(ctx context.Context, symbols []string) (map[string]core.WarrantCandidate, error) {
	var out map[string]core.WarrantCandidate
	err := c.res.call(ctx, "static_info", func(ctx context.Context) error {
		var err error
		out, err = c.inner.StaticInfo(ctx, symbols)
		return err
	})
	return out, err
}

func (c *QuoteClient) Subscribe(ctx context.Context, symbols []string, subTypes []string) error {
	return c.res.call(ctx, "subscribe", func(ctx context.Context) error {
		return c.inner.Subscribe(ctx, symbols, subTypes)
	})
}

func (c *QuoteClient) Unsubscribe(ctx context.Context, symbols []string, subTypes []string) error {
	return c.res.call(ctx, "unsubscribe", func(ctx context.Context) error {
		return c.inner.Unsubscribe(ctx, symbols, subTypes)
	})
}

func (c *QuoteClient) SubscribeCandlesticks(ctx context.Context, symbol string, period string) error {
	return c.res.call(ctx, "subscribe_candlesticks", func(ctx context.Context) error {
		return c.inner.SubscribeCandlesticks(ctx, symbol, period)
	})
}

func (c *QuoteClient) UnsubscribeCandlesticks(ctx context.Context, symbol string, period string) error {
	return c.res.call(ctx, "unsubscribe_candlesticks", func(ctx context.Context) error {
		return c.inner.UnsubscribeCandlesticks(ctx, symbol, period)
	})
}

func (c *QuoteClient) RealtimeCandlesticks(ctx context.Context, symbol string, period string, count int) ([]core.Candle, error) {
	var out []core.Candle
	err := c.res.call(ctx, "realtime_candlesticks", func(ctx context.Context) error {
		var err error
		out, err = c.inner.RealtimeCandlesticks(ctx, symbol, period, count)
		return err
	})
	return out, err
}

func (c *QuoteClient) TradingDays(ctx context.Context, market string, begin, end time.Time) ([]time.Time, error) {
	var out []time.Time
	err := c.res.call(ctx, "trading_days", func(ctx context.Context) error {
		var err error
		out, err = c.inner.TradingDays(ctx, market, begin, end)
		return err
	})
	return out, err
}

func (c *QuoteClient) WarrantList(ctx context.Context, underlying string, sortBy core.WarrantSortBy, order core.SortOrder, isBull bool, expiryFilters []string) ([]core.WarrantCandidate, error) {
	var out []core.WarrantCandidate
	err := c.res.call(ctx, "warrant_list", func(ctx context.Context) error {
		var err error
		out, err = c.inner.WarrantList(ctx, underlying, sortBy, order, isBull, expiryFilters)
		return err
	})
	return out, err
}

func (c *QuoteClient) OnQuotePush(cb func(*core.Quote)) { c.inner.OnQuotePush(cb) }

func (c *QuoteClient) OnCandlestickPush(cb func(core.Candle)) { c.inner.OnCandlestickPush(cb) }

// TradeClient wraps a core.IBrokerTradeClient with the same resilience
// shape as QuoteClient, sharing the Throttle so order submission and
// quote polling compete for the same rate budget (spec §6).
type TradeClient struct {
	inner core.IBrokerTradeClient
	res   *resilience
}

// NewTradeClient builds a resilient wrapper around trade.
func NewTradeClient(trade core.IBrokerTradeClient, throttle *Throttle) *TradeClient {
	return &TradeClient{inner: trade, res: newResilience("broker-trade-client", throttle)}
}

func (c *TradeClient) SubmitOrder(ctx context.Context, opts core.SubmitOrderRequest) (string, error) {
	var orderID string
	err := c.res.call(ctx, "submit_order", func(ctx context.Context) error {
		var err error
		orderID, err = c.inner.SubmitOrder(ctx, opts)
		return err
	})
	return orderID, err
}

func (c *TradeClient) CancelOrder(ctx context.Context, orderID string) error {
	return c.res.call(ctx, "cancel_order", func(ctx context.Context) error {
		return c.inner.CancelOrder(ctx, orderID)
	})
}

func (c *TradeClient) ReplaceOrder(ctx context.Context, opts core.ReplaceOrderRequest) error {
	return c.res.call(ctx, "replace_order", func(ctx context.Context) error {
		return c.inner.ReplaceOrder(ctx, opts)
	})
}

func (c *TradeClient) TodayOrders(ctx context.Context, filter *core.OrderFilter) ([]core.OrderRecord, error) {
	var out []core.OrderRecord
	err := c.res.call(ctx, "today_orders", func(ctx context.Context) error {
		var err error
		out, err = c.inner.TodayOrders(ctx, filter)
		return err
	})
	return out, err
}

func (c *TradeClient) HistoryOrders(ctx context.Context, filter *core.OrderFilter) ([]core.OrderRecord, error) {
	var out []core.OrderRecord
	err := c.res.call(ctx, "history_orders", func(ctx context.Context) error {
		var err error
		out, err = c.inner.HistoryOrders(ctx, filter)
		return err
	})
	return out, err
}

func (c *TradeClient) TodayExecutions(ctx context.Context, filter *core.OrderFilter) ([]core.OrderRecord, error) {
	var out []core.OrderRecord
	err := c.res.call(ctx, "today_executions", func(ctx context.Context) error {
		var err error
		out, err = c.inner.TodayExecutions(ctx, filter)
		return err
	})
	return out, err
}

func (c *TradeClient) AccountBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := c.res.call(ctx, "account_balance", func(ctx context.Context) error {
		var err error
		out, err = c.inner.AccountBalance(ctx, currency)
		return err
	})
	return out, err
}

func (c *TradeClient) StockPositions(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	var out map[string]decimal.Decimal
	err := c.res.call(ctx, "stock_positions", func(ctx context.Context) error {
		var err error
		out, err = c.inner.StockPositions(ctx, symbols)
		return err
	})
	return out, err
}

func (c *TradeClient) OnOrderChanged(cb func(core.OrderChangedEvent)) { c.inner.OnOrderChanged(cb) }

func (c *TradeClient) Subscribe(ctx context.Context, topics []string) error {
	return c.res.call(ctx, "subscribe_trade", func(ctx context.Context) error {
		return c.inner.Subscribe(ctx, topics)
	})
}

func (c *TradeClient) Unsubscribe(ctx context.Context, topics []string) error {
	return c.res.call(ctx, "unsubscribe_trade", func(ctx context.Context) error {
		return c.inner.Unsubscribe(ctx, topics)
	})
}
