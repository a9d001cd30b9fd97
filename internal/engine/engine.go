// Package engine wires every subsystem together into the main tick
// loop: per-monitor signal generation, order lifecycle processing, risk
// and doomsday checks, and the day lifecycle manager (spec §4.12).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"hkwarrant/internal/core"
	"hkwarrant/internal/doomsday"
	"hkwarrant/internal/indicator"
	"hkwarrant/internal/lifecycle"
	"hkwarrant/internal/order"
	"hkwarrant/internal/queue"
	"hkwarrant/internal/risk"
	"hkwarrant/internal/safety"
	"hkwarrant/internal/seat"
	"hkwarrant/internal/signal"
	"hkwarrant/internal/startup"
	"hkwarrant/pkg/concurrency"
	"hkwarrant/pkg/telemetry"
)

// CandlePeriod is the K-line period the indicator pipeline is computed
// from on every tick (spec §4.1, §4.3).
const CandlePeriod = "1m"

// MonitorRuntime bundles one monitor's static config with the runtime
// dependencies the tick loop needs, built once at startup from
// config.MonitorYAML.ToCore() plus a per-monitor strategy.
type MonitorRuntime struct {
	Config   core.MonitorConfig
	Computer *indicator.Computer
	Strategy core.IStrategy
}

// Engine is the main tick loop driving every registered monitor through
// signal generation, order lifecycle processing, risk checks, the day
// lifecycle manager, and the doomsday safety net.
type Engine struct {
	logger core.ILogger

	quote core.IBrokerQuoteClient
	trade core.IBrokerTradeClient

	registry    *seat.Registry
	autoSymbol  *seat.AutoSymbolManager
	cooldown    *seat.CooldownTracker
	recorder    *order.Recorder
	monitor     *order.OrderMonitor
	riskManager *risk.Manager
	checker     *safety.Checker

	indicatorCache *indicator.Cache
	verifier       *signal.Verifier
	pipelines      map[string]*signal.Pipeline

	lifecycle *lifecycle.Manager
	doomsday  *doomsday.Manager
	gate      *startup.Gate

	buyQueue         *queue.FIFOQueue
	sellQueue        *queue.FIFOQueue
	monitorTaskQueue *queue.MonitorTaskQueue
	buyProcessor     *queue.TaskProcessor
	sellProcessor    *queue.TaskProcessor
	taskProcessor    *queue.MonitorTaskProcessor

	pool *concurrency.WorkerPool

	monitors map[string]MonitorRuntime

	// sessionOpenMs is the tick timestamp of the last successful open
	// rebuild, used to estimate elapsed trading minutes for the
	// auto-symbol manager's post-open turnover gate.
	sessionOpenMs int64

	tracer      trace.Tracer
	tickHist    metric.Float64Histogram
	signalCount metric.Int64Counter

	mu sync.Mutex
}

// Deps bundles every dependency Engine needs, constructed by the caller
// (cmd/engine/main.go) from config.Config.
type Deps struct {
	Logger         core.ILogger
	Quote          core.IBrokerQuoteClient
	Trade          core.IBrokerTradeClient
	Registry       *seat.Registry
	AutoSymbol     *seat.AutoSymbolManager
	Cooldown       *seat.CooldownTracker
	Recorder       *order.Recorder
	Monitor        *order.OrderMonitor
	RiskManager    *risk.Manager
	Checker        *safety.Checker
	IndicatorCache *indicator.Cache
	Verifier       *signal.Verifier
	Lifecycle      *lifecycle.Manager
	Doomsday       *doomsday.Manager
	Gate           *startup.Gate
	Pool           *concurrency.WorkerPool
	Monitors       map[string]MonitorRuntime
}

// New assembles the Engine and its internal task queues/processors.
func New(d Deps) *Engine {
	logger := d.Logger.WithField("component", "engine")

	pipelines := make(map[string]*signal.Pipeline, len(d.Monitors))
	for code, mr := range d.Monitors {
		pipelines[code] = signal.NewPipeline(d.IndicatorCache, mr.Computer, mr.Strategy, d.Verifier, logger)
	}

	e := &Engine{
		logger:           logger,
		quote:            d.Quote,
		trade:            d.Trade,
		registry:         d.Registry,
		autoSymbol:       d.AutoSymbol,
		cooldown:         d.Cooldown,
		recorder:         d.Recorder,
		monitor:          d.Monitor,
		riskManager:      d.RiskManager,
		checker:          d.Checker,
		indicatorCache:   d.IndicatorCache,
		verifier:         d.Verifier,
		pipelines:        pipelines,
		lifecycle:        d.Lifecycle,
		doomsday:         d.Doomsday,
		gate:             d.Gate,
		pool:             d.Pool,
		monitors:         d.Monitors,
		buyQueue:         queue.NewFIFOQueue(),
		sellQueue:        queue.NewFIFOQueue(),
		monitorTaskQueue: queue.NewMonitorTaskQueue(),
	}

	e.buyProcessor = queue.NewTaskProcessor("buy", e.buyQueue, e.handleBuyTask, e.tradingGate, logger)
	e.sellProcessor = queue.NewTaskProcessor("sell", e.sellQueue, e.handleSellTask, nil, logger)
	e.taskProcessor = queue.NewMonitorTaskProcessor("monitor", e.monitorTaskQueue, e.handleMonitorTask, nil, logger)

	e.trade.OnOrderChanged(e.onOrderChanged)
	e.quote.OnQuotePush(e.onQuotePush)

	e.tracer = telemetry.GetTracer("engine")
	meter := telemetry.GetMeter("engine")
	e.tickHist, _ = meter.Float64Histogram("engine_tick_duration_seconds",
		metric.WithDescription("Main tick loop duration in seconds"))
	e.signalCount, _ = meter.Int64Counter("engine_signals_total",
		metric.WithDescription("Total number of signals generated"))

	return e
}

// tradingGate pauses the buy processor whenever the lifecycle manager
// isn't in ACTIVE state, so queued buy tasks wait rather than submit
// into a midnight-clearing or rebuilding day (spec §4.8).
func (e *Engine) tradingGate() bool { return e.lifecycle.IsTradingEnabled() }

// Run blocks until ctx is cancelled, first waiting on the startup gate,
// then running the main tick loop at interval (spec §4.11, §4.12).
func (e *Engine) Run(ctx context.Context, interval time.Duration, nowMs func() int64) error {
	if err := e.gate.Wait(ctx, nowMs); err != nil {
		return fmt.Errorf("engine: startup gate: %w", err)
	}

	e.buyProcessor.Start(ctx)
	e.sellProcessor.Start(ctx)
	e.taskProcessor.Start(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.buyProcessor.StopAndDrain()
			e.sellProcessor.StopAndDrain()
			e.taskProcessor.StopAndDrain()
			return ctx.Err()
		case <-ticker.C:
			e.tick(ctx, nowMs())
		}
	}
}

// tick runs one full pass over every monitor plus the ambient checks
// (verifier, doomsday, lifecycle day-key transition).
func (e *Engine) tick(ctx context.Context, nowMs int64) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "tick")
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()

	dayKey := core.DateKeyMs(nowMs)
	if e.lifecycle.CurrentDayKey() != "" && e.lifecycle.CurrentDayKey() != dayKey && e.lifecycle.IsTradingEnabled() {
		if err := e.lifecycle.RunMidnightClear(ctx, dayKey); err != nil {
			e.logger.Error("midnight clear failed", "error", err)
		} else if err := e.lifecycle.RunOpenRebuild(ctx); err != nil {
			e.logger.Error("open rebuild failed", "error", err)
		} else {
			e.sessionOpenMs = nowMs
		}
	}

	e.verifier.Tick(nowMs)
	e.doomsday.Tick(ctx, nowMs)

	if !e.lifecycle.IsTradingEnabled() {
		span.AddEvent("trading_disabled")
		return
	}

	symbols := e.activeSymbols()
	quotes, err := e.quote.Quote(ctx, symbols)
	if err != nil {
		e.logger.Error("quote fetch failed", "error", err)
		quotes = map[string]*core.Quote{}
	}
	e.monitor.ProcessWithLatestQuotes(ctx, nowMs, quotes)

	var wg sync.WaitGroup
	for code, mr := range e.monitors {
		code, mr := code, mr
		wg.Add(1)
		_ = e.pool.Submit(func() {
			defer wg.Done()
			e.processMonitor(ctx, code, mr, nowMs)
		})
	}
	wg.Wait()

	e.tickHist.Record(ctx, time.Since(start).Seconds())
}

// bothDirections is every (monitor, direction) slot a monitor owns;
// registry.GetAll only reflects slots some mutation has already
// touched, so seat bring-up must walk this fixed pair instead.
var bothDirections = [2]core.Direction{core.DirectionLong, core.DirectionShort}

// activeSymbols collects every symbol currently held by a usable seat,
// across every monitor, deduplicated.
func (e *Engine) activeSymbols() []string {
	seen := make(map[string]bool)
	var out []string
	for code := range e.monitors {
		for _, dir := range bothDirections {
			s := e.registry.Get(code, dir)
			if s.Symbol == "" || seen[s.Symbol] {
				continue
			}
			seen[s.Symbol] = true
			out = append(out, s.Symbol)
		}
	}
	return out
}

// processMonitor ensures both of a monitor's seats are populated (via
// static config or auto-search), then runs candle fetch, the indicator
// pipeline, and close-signal dispatch for each usable one. Runs
// concurrently across monitors via the worker pool, but only touches
// that monitor's own seats/queues.
func (e *Engine) processMonitor(ctx context.Context, code string, mr MonitorRuntime, nowMs int64) {
	dayKey := core.DateKeyMs(nowMs)

	seats := make(map[core.Direction]core.Seat, 2)
	for _, dir := range bothDirections {
		seats[dir] = e.ensureSeat(ctx, code, dir, mr.Config, dayKey, nowMs)
	}

	for dir, s := range seats {
		if !s.IsUsableForTrading() {
			continue
		}

		candles, err := e.quote.RealtimeCandlesticks(ctx, s.Symbol, CandlePeriod, 200)
		if err != nil {
			e.logger.Error("candlestick fetch failed", "monitor", code, "symbol", s.Symbol, "error", err)
			continue
		}

		immediate, err := e.pipelines[code].Process(code, nowMs, candles, mr.Config, seats)
		if err != nil {
			e.logger.Error("indicator pipeline failed", "monitor", code, "symbol", s.Symbol, "error", err)
			continue
		}

		for _, sig := range immediate {
			e.dispatchSignal(ctx, code, dir, sig)
		}

		e.checkRiskLiquidation(ctx, code, dir, s, mr.Config, nowMs)
	}
}

// staticWarrantFor returns the monitor's configured static symbol for
// dir, or "" when auto-search owns that direction.
func staticWarrantFor(cfg core.MonitorConfig, dir core.Direction) string {
	if dir == core.DirectionLong {
		return cfg.StaticLongWarrant
	}
	return cfg.StaticShortWarrant
}

// tradingMinutesSinceOpen estimates elapsed trading minutes from the
// session-open timestamp the engine recorded at its last successful
// open rebuild; zero before the first one this run.
func (e *Engine) tradingMinutesSinceOpen(nowMs int64) decimal.Decimal {
	if e.sessionOpenMs <= 0 || nowMs <= e.sessionOpenMs {
		return decimal.Zero
	}
	return decimal.NewFromInt((nowMs - e.sessionOpenMs) / 60000)
}

// distanceToRecallPct expresses how far price sits from the seat's
// recall price as a signed percentage, mirroring
// core.WarrantCandidate.DistancePct's convention: positive means
// further from recall on the side the warrant profits from.
func distanceToRecallPct(isBull bool, price, recallPrice decimal.Decimal) decimal.Decimal {
	if !recallPrice.IsPositive() {
		return decimal.Zero
	}
	pct := price.Sub(recallPrice).Div(recallPrice).Mul(decimal.NewFromInt(100))
	if !isBull {
		return pct.Neg()
	}
	return pct
}

// ensureSeat brings one (monitor, direction) seat up to date: adopting
// a configured static warrant once, driving the auto-symbol manager's
// search when the seat is empty, and triggering a distance-based
// switch when a held seat has drifted out of its configured range
// (spec §4.4).
func (e *Engine) ensureSeat(ctx context.Context, code string, dir core.Direction, cfg core.MonitorConfig, dayKey string, nowMs int64) core.Seat {
	s := e.registry.Get(code, dir)

	if static := staticWarrantFor(cfg, dir); static != "" {
		if s.Symbol == "" {
			return e.registry.Adopt(code, dir, static, static, decimal.Zero, nowMs)
		}
		return s
	}

	if !cfg.AutoSearch.Enabled {
		return s
	}

	if s.Symbol == "" {
		e.registry.StartSearching(code, dir, nowMs)
		candidate, err := e.autoSymbol.FindBestWarrant(ctx, cfg.Code, dir, cfg.AutoSearch, dayKey, e.tradingMinutesSinceOpen(nowMs), nowMs)
		if err != nil {
			e.logger.Error("auto-symbol search failed", "monitor", code, "direction", dir, "error", err)
			return e.registry.Get(code, dir)
		}
		if candidate == nil {
			e.registry.RecordSearchFailure(code, dir)
			return e.registry.Get(code, dir)
		}
		return e.registry.Adopt(code, dir, candidate.Symbol, candidate.SymbolName, candidate.RecallPrice, nowMs)
	}

	if !s.IsUsableForTrading() {
		return s
	}

	quotes, err := e.quote.Quote(ctx, []string{s.Symbol})
	if err != nil || quotes[s.Symbol] == nil {
		return s
	}
	distance := distanceToRecallPct(dir == core.DirectionLong, quotes[s.Symbol].LastPrice, s.RecallPrice)
	if !seat.MaybeSwitchOnDistance(distance, cfg.AutoSearch) {
		return s
	}

	e.registry.StartSwitching(code, dir, nowMs)
	candidate, err := e.autoSymbol.FindBestWarrant(ctx, cfg.Code, dir, cfg.AutoSearch, dayKey, e.tradingMinutesSinceOpen(nowMs), nowMs)
	if err != nil {
		e.logger.Error("auto-symbol switch search failed", "monitor", code, "direction", dir, "error", err)
		return e.registry.Get(code, dir)
	}
	if candidate == nil || candidate.Symbol == s.Symbol {
		e.registry.RevertToReady(code, dir)
		return e.registry.Get(code, dir)
	}

	e.autoSymbol.MarkDropped(dayKey, s.Symbol)
	return e.registry.Adopt(code, dir, candidate.Symbol, candidate.SymbolName, candidate.RecallPrice, nowMs)
}

// dispatchSignal routes a strategy close signal to the buy or sell
// queue depending on whether the action opens or closes a seat.
func (e *Engine) dispatchSignal(ctx context.Context, code string, dir core.Direction, sig core.Signal) {
	e.signalCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("monitor", code),
		attribute.String("action", string(sig.Action)),
	))

	seatVersion := e.registry.Get(code, dir).Version
	if sig.Action.IsBuy() {
		e.buyQueue.Push(queue.BuyTask{Monitor: code, Symbol: sig.Symbol, SeatVersion: seatVersion, Payload: sig})
		return
	}
	e.sellQueue.Push(queue.SellTask{Monitor: code, Symbol: sig.Symbol, SeatVersion: seatVersion, Payload: sig})
}

// checkRiskLiquidation refreshes the seat's unrealized-loss position
// state from the recorder's current holdings (spec §4.7's scheduled
// refresh) and schedules a deduped liquidation task if either the
// refreshed loss or the recall distance has breached its configured
// threshold.
func (e *Engine) checkRiskLiquidation(ctx context.Context, code string, dir core.Direction, s core.Seat, cfg core.MonitorConfig, nowMs int64) {
	quotes, err := e.quote.Quote(ctx, []string{s.Symbol})
	if err != nil || quotes[s.Symbol] == nil {
		return
	}
	price := quotes[s.Symbol].LastPrice

	e.riskManager.Refresh(e.recorder, code, s.Symbol, dir, nowMs)

	byLoss := e.riskManager.ShouldLiquidateByLoss(code, dir, price, cfg.RiskMaxUnrealizedLossPerSymbol)
	distance := distanceToRecallPct(dir == core.DirectionLong, price, s.RecallPrice)
	byDistance := risk.ShouldLiquidateByDistance(dir == core.DirectionLong, distance,
		cfg.RiskLiquidationDistancePctBull, cfg.RiskLiquidationDistancePctBear)

	if byLoss || byDistance {
		e.monitorTaskQueue.ScheduleLatest(fmt.Sprintf("UNREALIZED_LOSS_CHECK:%s:%s", code, dir),
			liquidationTask{Monitor: code, Direction: dir, Symbol: s.Symbol})
	}
}

// liquidationTask is the monitor-task payload dispatched by risk checks
// (spec §4.7's liquidation-distance / unrealized-loss checks).
type liquidationTask struct {
	Monitor   string
	Direction core.Direction
	Symbol    string
}

// handleBuyTask submits a buy order for a queued signal, guarded by the
// pre-trade safety checker and the seat's cooldown.
func (e *Engine) handleBuyTask(ctx context.Context, task interface{}) (func(), error) {
	t, ok := task.(queue.BuyTask)
	if !ok {
		return nil, fmt.Errorf("engine: unexpected buy task type %T", task)
	}
	sig, _ := t.Payload.(core.Signal)

	cfg, ok := e.monitorConfig(t.Monitor)
	if !ok {
		return nil, fmt.Errorf("engine: unknown monitor %s", t.Monitor)
	}

	if e.registry.IsStale(t.Monitor, directionOf(sig.Action), t.SeatVersion) {
		e.logger.Warn("buy task dropped: seat is stale", "monitor", t.Monitor, "symbol", t.Symbol)
		return nil, nil
	}

	if e.cooldown.IsActive(t.Symbol, directionOf(sig.Action), cfg.Cooldown, time.Now().UnixMilli()) {
		e.logger.Info("buy task dropped: cooldown active", "monitor", t.Monitor, "symbol", t.Symbol)
		return nil, nil
	}

	qty := cfg.TargetNotional.Div(decimal.NewFromInt(1)).DivRound(decimal.NewFromInt(cfg.LotSize), 0).Mul(decimal.NewFromInt(cfg.LotSize))
	if err := e.checker.ValidateOrderRequest(cfg.LotSize, qty, decimal.Zero); err != nil {
		return nil, fmt.Errorf("engine: buy validation: %w", err)
	}

	_, err := e.trade.SubmitOrder(ctx, core.SubmitOrderRequest{
		Symbol:    t.Symbol,
		Side:      core.SideBuy,
		OrderType: core.OrderTypeLO,
		Quantity:  qty,
	})
	return nil, err
}

// handleSellTask submits a sell order for a queued close signal.
func (e *Engine) handleSellTask(ctx context.Context, task interface{}) (func(), error) {
	t, ok := task.(queue.SellTask)
	if !ok {
		return nil, fmt.Errorf("engine: unexpected sell task type %T", task)
	}

	lots := e.recorder.GetBuyOrdersForSymbol(t.Symbol)
	qty := decimal.Zero
	for _, lot := range lots {
		qty = qty.Add(lot.Qty)
	}
	if !qty.IsPositive() {
		return nil, nil
	}

	_, err := e.recorder.SubmitSellOrder(ctx, core.SubmitOrderRequest{
		Symbol:    t.Symbol,
		Side:      core.SideSell,
		OrderType: core.OrderTypeMO,
		Quantity:  qty,
	}, time.Now().UnixMilli())
	return nil, err
}

// handleMonitorTask dispatches a deduplicated monitor-level task, e.g. a
// risk-triggered liquidation (spec §4.7).
func (e *Engine) handleMonitorTask(ctx context.Context, task queue.MonitorTask) error {
	lt, ok := task.Data.(liquidationTask)
	if !ok {
		return fmt.Errorf("engine: unexpected monitor task payload %T", task.Data)
	}

	e.sellQueue.Push(queue.SellTask{Monitor: lt.Monitor, Symbol: lt.Symbol, Payload: core.Signal{
		Monitor: lt.Monitor, Symbol: lt.Symbol, Action: closeActionFor(lt.Direction),
	}})
	return nil
}

func closeActionFor(dir core.Direction) core.Action {
	if dir == core.DirectionLong {
		return core.ActionSellCall
	}
	return core.ActionSellPut
}

func directionOf(a core.Action) core.Direction {
	if a == core.ActionBuyCall || a == core.ActionSellCall {
		return core.DirectionLong
	}
	return core.DirectionShort
}

func (e *Engine) monitorConfig(code string) (core.MonitorConfig, bool) {
	mr, ok := e.monitors[code]
	return mr.Config, ok
}

// onQuotePush feeds live quote pushes into the order monitor's replace-
// price logic between ticks (spec §4.6).
func (e *Engine) onQuotePush(q *core.Quote) {
	e.monitor.ProcessWithLatestQuotes(context.Background(), time.Now().UnixMilli(), map[string]*core.Quote{q.Symbol: q})
}

// seatLocationForSymbol finds which (monitor, direction) slot currently
// holds symbol, by scanning every monitor's two seats. Used to recover
// the monitor and direction a broker push doesn't carry directly.
func (e *Engine) seatLocationForSymbol(symbol string) (string, core.Direction, bool) {
	for code := range e.monitors {
		for _, dir := range bothDirections {
			if e.registry.Get(code, dir).Symbol == symbol {
				return code, dir, true
			}
		}
	}
	return "", core.Direction(""), false
}

// onOrderChanged routes a broker push into the order monitor and, for
// fills, the recorder's FIFO bookkeeping and the risk manager's
// position refresh (spec §4.6, §4.7).
func (e *Engine) onOrderChanged(evt core.OrderChangedEvent) {
	e.monitor.HandleOrderChanged(evt)

	if evt.Status != core.OrderStatusFilled {
		return
	}

	switch evt.Side {
	case core.SideBuy:
		e.recorder.RecordLocalBuy(evt.Symbol, order.Lot{
			OrderID:        evt.OrderID,
			Price:          evt.ExecutedPrice,
			ExecutedTimeMs: evt.UpdatedAtMs,
			Qty:            evt.ExecutedQty,
		})
	case core.SideSell:
		e.recorder.MarkSellFilled(evt.Symbol, core.OrderRecord{
			OrderID:        evt.OrderID,
			Symbol:         evt.Symbol,
			Side:           evt.Side,
			ExecutedPrice:  evt.ExecutedPrice,
			ExecutedQty:    evt.ExecutedQty,
			ExecutedTimeMs: evt.UpdatedAtMs,
		})
	default:
		return
	}

	code, dir, ok := e.seatLocationForSymbol(evt.Symbol)
	if !ok {
		code, dir = "", core.DirectionLong
	}
	e.riskManager.Refresh(e.recorder, code, evt.Symbol, dir, evt.UpdatedAtMs)

	if evt.Side == core.SideSell {
		e.cooldown.RecordClearance(evt.Symbol, dir, evt.UpdatedAtMs)
	}
}

