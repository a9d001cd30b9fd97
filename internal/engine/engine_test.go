package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hkwarrant/internal/broker"
	"hkwarrant/internal/core"
	"hkwarrant/internal/doomsday"
	"hkwarrant/internal/indicator"
	"hkwarrant/internal/lifecycle"
	"hkwarrant/internal/logging"
	"hkwarrant/internal/order"
	"hkwarrant/internal/queue"
	"hkwarrant/internal/risk"
	"hkwarrant/internal/safety"
	"hkwarrant/internal/seat"
	"hkwarrant/internal/signal"
	"hkwarrant/internal/startup"
	"hkwarrant/pkg/concurrency"
)

func testLogger() core.ILogger {
	return logging.NewLogger(logging.FatalLevel, io.Discard)
}

type fakeClock struct{ nowMs int64 }

func (c *fakeClock) NowMs() int64   { return c.nowMs }
func (c *fakeClock) Now() time.Time { return time.UnixMilli(c.nowMs) }

// passThroughStrategy never produces its own signals, so tests exercise
// the tick loop's wiring rather than any particular strategy's logic.
type passThroughStrategy struct{}

func (passThroughStrategy) GenerateCloseSignals(monitor string, snapshot *core.IndicatorSnapshot, seats map[core.Direction]core.Seat) ([]core.Signal, []core.Signal) {
	return nil, nil
}

func testMonitorConfig() core.MonitorConfig {
	return core.MonitorConfig{
		Code:                      "HSI",
		IndicatorPeriodsRSI:       []int{6},
		IndicatorPeriodsEMA:       []int{6},
		IndicatorPeriodsPSY:       []int{6},
		VerificationDelaysSeconds: []int{5},
		VerificationByDirection: map[core.Direction]core.VerificationConfig{
			core.DirectionLong:  {Indicators: []string{"K"}},
			core.DirectionShort: {Indicators: []string{"K"}},
		},
		RiskMaxUnrealizedLossPerSymbol: decimal.NewFromInt(1000),
		TargetNotional:                decimal.NewFromInt(10000),
		LotSize:                       100,
	}
}

// testHarness builds a fully wired Engine backed by mock broker clients,
// returning the engine plus the mocks so a test can seed market data and
// inspect submitted orders.
type testHarness struct {
	engine *Engine
	quote  *broker.MockQuoteClient
	trade  *broker.MockTradeClient
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	logger := testLogger()
	mockQuote := broker.NewMockQuoteClient()
	mockTrade := broker.NewMockTradeClient()

	quoteClient := broker.NewQuoteClient(mockQuote, broker.NewThrottle(time.Millisecond))
	tradeClient := broker.NewTradeClient(mockTrade, broker.NewThrottle(time.Millisecond))

	registry := seat.NewRegistry()
	autoSymbol := seat.NewAutoSymbolManager(quoteClient, registry, logger, 1000)
	cooldown := seat.NewCooldownTracker()
	recorder := order.NewRecorder(tradeClient, logger, t.TempDir())
	monitor := order.NewOrderMonitor(tradeClient, logger, 30000, 30000, 5000)
	riskManager := risk.NewManager(logger)
	checker := safety.NewChecker(logger)
	indicatorCache := indicator.NewCache(10)
	verifier := signal.NewVerifier(indicatorCache, logger)

	lifecycleMgr := lifecycle.NewManager(logger, &fakeClock{nowMs: 1000}, time.Millisecond)
	lifecycleMgr.RegisterDomain(lifecycle.NewSeatRegistryDomain(registry))
	lifecycleMgr.RegisterDomain(lifecycle.NewCooldownTrackerDomain(cooldown))

	doomsdayMgr := doomsday.NewManager(logger, registry, monitor, recorder, []string{"HSI"}, 15, 5,
		func(dayKey string) (int, int) { return 16, 10 }, func() {})

	gate := startup.NewGate(logger, quoteClient, "HK",
		startup.SessionWindow{StartHour: 0, StartMinute: 0, EndHour: 23, EndMinute: 59},
		0, time.Millisecond, false)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "test", MaxWorkers: 2, MaxCapacity: 16}, logger)

	cfg := testMonitorConfig()
	computer := indicator.NewComputer(indicator.Periods{RSI: cfg.IndicatorPeriodsRSI, EMA: cfg.IndicatorPeriodsEMA, PSY: cfg.IndicatorPeriodsPSY})

	monitors := map[string]MonitorRuntime{
		"HSI": {Config: cfg, Computer: computer, Strategy: passThroughStrategy{}},
	}

	e := New(Deps{
		Logger:         logger,
		Quote:          quoteClient,
		Trade:          tradeClient,
		Registry:       registry,
		AutoSymbol:     autoSymbol,
		Cooldown:       cooldown,
		Recorder:       recorder,
		Monitor:        monitor,
		RiskManager:    riskManager,
		Checker:        checker,
		IndicatorCache: indicatorCache,
		Verifier:       verifier,
		Lifecycle:      lifecycleMgr,
		Doomsday:       doomsdayMgr,
		Gate:           gate,
		Pool:           pool,
		Monitors:       monitors,
	})

	return &testHarness{engine: e, quote: mockQuote, trade: mockTrade}
}

func seedCandles(n int) []core.Candle {
	out := make([]core.Candle, n)
	for i := 0; i < n; i++ {
		p := decimal.NewFromInt(int64(10 + i))
		out[i] = core.Candle{Open: p, High: p, Low: p, Close: p, Volume: decimal.NewFromInt(1), TimestampMs: int64(i) * 60000, Closed: true}
	}
	return out
}

func TestEngine_Tick_SkipsWorkWhenTradingDisabled(t *testing.T) {
	h := newTestHarness(t)

	// Force the lifecycle manager out of ACTIVE by running a midnight
	// clear that never completes its rebuild.
	h.engine.lifecycle.RegisterDomain(failingDomain{})
	err := h.engine.lifecycle.RunMidnightClear(context.Background(), "2026-07-30")
	require.Error(t, err)

	h.engine.tick(context.Background(), 1000)
	assert.True(t, h.engine.buyQueue.IsEmpty())
	assert.True(t, h.engine.sellQueue.IsEmpty())
}

type failingDomain struct{}

func (failingDomain) Name() string                       { return "failing" }
func (failingDomain) MidnightClear(context.Context) error { return assert.AnError }
func (failingDomain) OpenRebuild(context.Context) error   { return nil }

func TestEngine_ProcessMonitor_IgnoresUnusableSeats(t *testing.T) {
	h := newTestHarness(t)
	h.quote.SetCandles("68XXX", seedCandles(30))

	// No seat has been adopted for HSI/long yet, so it's EMPTY and
	// unusable; processMonitor must skip it without touching the queues.
	h.engine.processMonitor(context.Background(), "HSI", h.engine.monitors["HSI"], 2000000)
	assert.True(t, h.engine.buyQueue.IsEmpty())
	assert.True(t, h.engine.sellQueue.IsEmpty())
}

func TestEngine_DispatchSignal_RoutesBuyAndSellByAction(t *testing.T) {
	h := newTestHarness(t)
	h.engine.registry.Adopt("HSI", core.DirectionLong, "68XXX", "Bull WNT", decimal.NewFromInt(20), 1000)

	h.engine.dispatchSignal(context.Background(), "HSI", core.DirectionLong, core.Signal{Monitor: "HSI", Symbol: "68XXX", Action: core.ActionBuyCall})
	assert.Equal(t, 1, h.engine.buyQueue.Len())
	assert.Equal(t, 0, h.engine.sellQueue.Len())

	h.engine.dispatchSignal(context.Background(), "HSI", core.DirectionLong, core.Signal{Monitor: "HSI", Symbol: "68XXX", Action: core.ActionSellCall})
	assert.Equal(t, 1, h.engine.buyQueue.Len())
	assert.Equal(t, 1, h.engine.sellQueue.Len())
}

func TestEngine_HandleBuyTask_DropsStaleSeatVersion(t *testing.T) {
	h := newTestHarness(t)
	adopted := h.engine.registry.Adopt("HSI", core.DirectionLong, "68XXX", "Bull WNT", decimal.NewFromInt(20), 1000)

	task := queue.BuyTask{
		Monitor: "HSI", Symbol: "68XXX", SeatVersion: adopted.Version - 1,
		Payload: core.Signal{Monitor: "HSI", Symbol: "68XXX", Action: core.ActionBuyCall},
	}
	release, err := h.engine.handleBuyTask(context.Background(), task)
	require.NoError(t, err)
	assert.Nil(t, release)

	orders, _ := h.trade.TodayOrders(context.Background(), nil)
	assert.Empty(t, orders)
}

func TestEngine_HandleBuyTask_SubmitsOrderForFreshSeat(t *testing.T) {
	h := newTestHarness(t)
	adopted := h.engine.registry.Adopt("HSI", core.DirectionLong, "68XXX", "Bull WNT", decimal.NewFromInt(20), 1000)

	task := queue.BuyTask{
		Monitor: "HSI", Symbol: "68XXX", SeatVersion: adopted.Version,
		Payload: core.Signal{Monitor: "HSI", Symbol: "68XXX", Action: core.ActionBuyCall},
	}
	_, err := h.engine.handleBuyTask(context.Background(), task)
	require.NoError(t, err)

	orders, _ := h.trade.TodayOrders(context.Background(), &core.OrderFilter{Symbol: "68XXX"})
	require.Len(t, orders, 1)
	assert.Equal(t, core.SideBuy, orders[0].Side)
}

func TestEngine_HandleSellTask_SkipsWhenNoOpenLots(t *testing.T) {
	h := newTestHarness(t)

	_, err := h.engine.handleSellTask(context.Background(), queue.SellTask{Monitor: "HSI", Symbol: "68XXX"})
	require.NoError(t, err)

	orders, _ := h.trade.TodayOrders(context.Background(), &core.OrderFilter{Symbol: "68XXX"})
	assert.Empty(t, orders)
}

func TestEngine_OnOrderChanged_FilledSellMarksRecorderAndCooldown(t *testing.T) {
	h := newTestHarness(t)
	h.engine.registry.Adopt("HSI", core.DirectionLong, "68XXX", "Bull WNT", decimal.NewFromInt(20), 1000)

	h.engine.onOrderChanged(core.OrderChangedEvent{
		OrderID: "o1", Symbol: "68XXX", Side: core.SideSell, Status: core.OrderStatusFilled,
		ExecutedQty: decimal.NewFromInt(100), ExecutedPrice: decimal.NewFromInt(21), UpdatedAtMs: 5000,
	})

	rule := core.CooldownRule{Mode: core.CooldownMinutes, Minutes: 5}
	assert.True(t, h.engine.cooldown.IsActive("68XXX", core.DirectionLong, rule, 5000))
}

func TestEngine_OnOrderChanged_FilledBuyRefreshesRiskPosition(t *testing.T) {
	h := newTestHarness(t)
	h.engine.registry.Adopt("HSI", core.DirectionLong, "68XXX", "Bull WNT", decimal.NewFromInt(20), 1000)

	h.engine.onOrderChanged(core.OrderChangedEvent{
		OrderID: "o1", Symbol: "68XXX", Side: core.SideBuy, Status: core.OrderStatusFilled,
		ExecutedQty: decimal.NewFromInt(100), ExecutedPrice: decimal.NewFromInt(20), UpdatedAtMs: 5000,
	})

	state := h.engine.riskManager.Get("HSI", core.DirectionLong)
	assert.True(t, state.N1.Equal(decimal.NewFromInt(100)))
	assert.True(t, state.BaseR1.Equal(decimal.NewFromInt(20)))
}

func TestEngine_OnOrderChanged_FilledSellRefreshesRiskPositionToFlat(t *testing.T) {
	h := newTestHarness(t)
	h.engine.registry.Adopt("HSI", core.DirectionLong, "68XXX", "Bull WNT", decimal.NewFromInt(20), 1000)

	h.engine.onOrderChanged(core.OrderChangedEvent{
		OrderID: "o1", Symbol: "68XXX", Side: core.SideBuy, Status: core.OrderStatusFilled,
		ExecutedQty: decimal.NewFromInt(100), ExecutedPrice: decimal.NewFromInt(20), UpdatedAtMs: 1000,
	})
	h.engine.onOrderChanged(core.OrderChangedEvent{
		OrderID: "o2", Symbol: "68XXX", Side: core.SideSell, Status: core.OrderStatusFilled,
		ExecutedQty: decimal.NewFromInt(100), ExecutedPrice: decimal.NewFromInt(19), UpdatedAtMs: 5000,
	})

	state := h.engine.riskManager.Get("HSI", core.DirectionLong)
	assert.True(t, state.N1.IsZero(), "position fully closed: N1 must go back to zero")
	assert.True(t, state.DailyLossOffset.IsNegative(), "a loss-making round trip leaves a negative daily offset")
}

func TestClosActionFor_MapsDirectionToSellAction(t *testing.T) {
	assert.Equal(t, core.ActionSellCall, closeActionFor(core.DirectionLong))
	assert.Equal(t, core.ActionSellPut, closeActionFor(core.DirectionShort))
}

func TestDirectionOf_MapsActionToDirection(t *testing.T) {
	assert.Equal(t, core.DirectionLong, directionOf(core.ActionBuyCall))
	assert.Equal(t, core.DirectionShort, directionOf(core.ActionBuyPut))
}
