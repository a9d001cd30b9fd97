package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSeatState          = "hkwarrant_seat_state"
	MetricSeatVersion        = "hkwarrant_seat_version"
	MetricOrdersActive       = "hkwarrant_orders_active"
	MetricOrdersPlacedTotal  = "hkwarrant_orders_placed_total"
	MetricOrdersFilledTotal  = "hkwarrant_orders_filled_total"
	MetricOrdersCancelTotal  = "hkwarrant_orders_cancelled_total"
	MetricSearchFailsTotal   = "hkwarrant_search_failures_total"
	MetricQueueDepth         = "hkwarrant_queue_depth"
	MetricRiskTriggered      = "hkwarrant_risk_triggered"
	MetricLifecycleState     = "hkwarrant_lifecycle_state"
	MetricLatencyBrokerCall  = "hkwarrant_latency_broker_call_ms"
	MetricLatencyTickToTrade = "hkwarrant_latency_tick_to_trade_ms"
	MetricUnrealizedPnL      = "hkwarrant_unrealized_pnl"
)

// MetricsHolder holds initialized instruments for the engine. Gauges are
// implemented as OpenTelemetry observable gauges backed by an in-process
// map, following the teacher's pattern of sampling application state at
// collection time rather than pushing on every mutation.
type MetricsHolder struct {
	OrdersPlacedTotal  metric.Int64Counter
	OrdersFilledTotal  metric.Int64Counter
	OrdersCancelTotal  metric.Int64Counter
	SearchFailsTotal   metric.Int64Counter
	LatencyBrokerCall  metric.Float64Histogram
	LatencyTickToTrade metric.Float64Histogram

	SeatState      metric.Int64ObservableGauge
	OrdersActive   metric.Int64ObservableGauge
	QueueDepth     metric.Int64ObservableGauge
	RiskTriggered  metric.Int64ObservableGauge
	LifecycleState metric.Int64ObservableGauge
	UnrealizedPnL  metric.Float64ObservableGauge

	mu               sync.RWMutex
	seatStateMap     map[string]int64
	activeOrdersMap  map[string]int64
	queueDepthMap    map[string]int64
	riskTriggeredMap map[string]int64
	lifecycleMap     map[string]int64
	unrealizedPnLMap map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			seatStateMap:     make(map[string]int64),
			activeOrdersMap:  make(map[string]int64),
			queueDepthMap:    make(map[string]int64),
			riskTriggeredMap: make(map[string]int64),
			lifecycleMap:     make(map[string]int64),
			unrealizedPnLMap: make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics registers the instruments against the given meter.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("total orders submitted to the broker")); err != nil {
		return err
	}
	if m.OrdersFilledTotal, err = meter.Int64Counter(MetricOrdersFilledTotal, metric.WithDescription("total orders filled")); err != nil {
		return err
	}
	if m.OrdersCancelTotal, err = meter.Int64Counter(MetricOrdersCancelTotal, metric.WithDescription("total orders cancelled")); err != nil {
		return err
	}
	if m.SearchFailsTotal, err = meter.Int64Counter(MetricSearchFailsTotal, metric.WithDescription("total auto-symbol search failures")); err != nil {
		return err
	}
	if m.LatencyBrokerCall, err = meter.Float64Histogram(MetricLatencyBrokerCall, metric.WithDescription("broker call latency"), metric.WithUnit("ms")); err != nil {
		return err
	}
	if m.LatencyTickToTrade, err = meter.Float64Histogram(MetricLatencyTickToTrade, metric.WithDescription("time from signal emission to order submission"), metric.WithUnit("ms")); err != nil {
		return err
	}

	if m.SeatState, err = meter.Int64ObservableGauge(MetricSeatState, metric.WithDescription("seat state: 0=EMPTY 1=SEARCHING 2=READY 3=SWITCHING"),
		metric.WithInt64Callback(m.observeInt64(&m.seatStateMap))); err != nil {
		return err
	}
	if m.OrdersActive, err = meter.Int64ObservableGauge(MetricOrdersActive, metric.WithDescription("currently tracked active orders per symbol"),
		metric.WithInt64Callback(m.observeInt64(&m.activeOrdersMap))); err != nil {
		return err
	}
	if m.QueueDepth, err = meter.Int64ObservableGauge(MetricQueueDepth, metric.WithDescription("pending task count per queue"),
		metric.WithInt64Callback(m.observeInt64(&m.queueDepthMap))); err != nil {
		return err
	}
	if m.RiskTriggered, err = meter.Int64ObservableGauge(MetricRiskTriggered, metric.WithDescription("risk trigger state per (monitor,direction): 1=triggered"),
		metric.WithInt64Callback(m.observeInt64(&m.riskTriggeredMap))); err != nil {
		return err
	}
	if m.LifecycleState, err = meter.Int64ObservableGauge(MetricLifecycleState, metric.WithDescription("day lifecycle state enum"),
		metric.WithInt64Callback(m.observeInt64(&m.lifecycleMap))); err != nil {
		return err
	}
	if m.UnrealizedPnL, err = meter.Float64ObservableGauge(MetricUnrealizedPnL, metric.WithDescription("unrealized P&L per (monitor,direction)"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for k, v := range m.unrealizedPnLMap {
				obs.Observe(v, metric.WithAttributes(attribute.String("key", k)))
			}
			return nil
		})); err != nil {
		return err
	}

	return nil
}

func (m *MetricsHolder) observeInt64(src *map[string]int64) metric.Int64Callback {
	return func(ctx context.Context, obs metric.Int64Observer) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for k, v := range *src {
			obs.Observe(v, metric.WithAttributes(attribute.String("key", k)))
		}
		return nil
	}
}

// Setters

func (m *MetricsHolder) SetSeatState(monitor string, direction string, state int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seatStateMap[monitor+":"+direction] = state
}

func (m *MetricsHolder) SetActiveOrders(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeOrdersMap[symbol] = count
}

func (m *MetricsHolder) SetQueueDepth(queue string, depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepthMap[queue] = depth
}

func (m *MetricsHolder) SetRiskTriggered(key string, triggered bool) {
	val := int64(0)
	if triggered {
		val = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskTriggeredMap[key] = val
}

func (m *MetricsHolder) SetLifecycleState(state int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lifecycleMap["global"] = state
}

func (m *MetricsHolder) SetUnrealizedPnL(key string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unrealizedPnLMap[key] = value
}

// Getters (used by the health server's /health JSON payload)

func (m *MetricsHolder) GetActiveOrders() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.activeOrdersMap))
	for k, v := range m.activeOrdersMap {
		out[k] = v
	}
	return out
}

func (m *MetricsHolder) GetUnrealizedPnL() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(m.unrealizedPnLMap))
	for k, v := range m.unrealizedPnLMap {
		out[k] = v
	}
	return out
}
