package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ILogger is the structured logging interface every component depends on
// (spec §1a ambient stack). Concrete implementations live in
// internal/logging (plain) and pkg/logging (zap + otel bridge).
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// SortOrder and WarrantType mirror the broker warrant-list query shape
// (spec §6).
type SortOrder string

const (
	SortAscending  SortOrder = "ASC"
	SortDescending SortOrder = "DESC"
)

type WarrantSortBy string

const (
	SortByDistance  WarrantSortBy = "DISTANCE"
	SortByTurnover  WarrantSortBy = "TURNOVER"
)

// IBrokerQuoteClient is the consumed broker quote/market-data interface
// (spec §6). Wire-level payload shapes are out of scope; only the Go
// method surface is specified.
type IBrokerQuoteClient interface {
	Quote(ctx context.Context, symbols []string) (map[string]*Quote, error)
	StaticInfo(ctx context.Context, symbols []string) (map[string]WarrantCandidate, error)
	Subscribe(ctx context.Context, symbols []string, subTypes []string) error
	Unsubscribe(ctx context.Context, symbols []string, subTypes []string) error
	SubscribeCandlesticks(ctx context.Context, symbol string, period string) error
	UnsubscribeCandlesticks(ctx context.Context, symbol string, period string) error
	RealtimeCandlesticks(ctx context.Context, symbol string, period string, count int) ([]Candle, error)
	TradingDays(ctx context.Context, market string, begin, end time.Time) ([]time.Time, error)
	WarrantList(ctx context.Context, underlying string, sortBy WarrantSortBy, order SortOrder, isBull bool, expiryFilters []string) ([]WarrantCandidate, error)

	OnQuotePush(cb func(*Quote))
	OnCandlestickPush(cb func(Candle))
}

// IBrokerTradeClient is the consumed broker trade/order interface
// (spec §6).
type IBrokerTradeClient interface {
	SubmitOrder(ctx context.Context, opts SubmitOrderRequest) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	ReplaceOrder(ctx context.Context, opts ReplaceOrderRequest) error
	TodayOrders(ctx context.Context, filter *OrderFilter) ([]OrderRecord, error)
	HistoryOrders(ctx context.Context, filter *OrderFilter) ([]OrderRecord, error)
	TodayExecutions(ctx context.Context, filter *OrderFilter) ([]OrderRecord, error)
	AccountBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	StockPositions(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)

	OnOrderChanged(cb func(OrderChangedEvent))
	Subscribe(ctx context.Context, topics []string) error
	Unsubscribe(ctx context.Context, topics []string) error
}

// SubmitOrderRequest is the broker order-submission payload shape.
type SubmitOrderRequest struct {
	Symbol        string
	Side          OrderSide
	OrderType     OrderType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ClientOrderID string
	StockName     string // raw broker-side stock name, for ownership resolution
}

// ReplaceOrderRequest is the broker replace-price payload shape.
type ReplaceOrderRequest struct {
	OrderID  string
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// OrderFilter narrows broker order queries by symbol and time window.
type OrderFilter struct {
	Symbol string
	Since  time.Time
}

// OrderChangedEvent is a broker push notification (spec §4.6).
type OrderChangedEvent struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	StockName     string
	Side          OrderSide
	Status        OrderStatus
	Type          OrderType
	SubmittedQty  decimal.Decimal
	ExecutedQty   decimal.Decimal
	ExecutedPrice decimal.Decimal
	SubmittedPrice decimal.Decimal
	UpdatedAtMs   int64
	Err           error
}

// IStrategy is the pluggable strategy interface behind
// generateCloseSignals (spec §1 non-goals, §4.3).
type IStrategy interface {
	GenerateCloseSignals(
		monitor string,
		snapshot *IndicatorSnapshot,
		seats map[Direction]Seat,
	) (immediate []Signal, delayed []Signal)
}

// ICacheDomain is one registered participant in the day lifecycle
// manager's midnight-clear / open-rebuild fan-out (spec §4.8).
type ICacheDomain interface {
	Name() string
	MidnightClear(ctx context.Context) error
	OpenRebuild(ctx context.Context) error
}

// IClock abstracts wall-clock access so lifecycle/cooldown logic can be
// tested deterministically.
type IClock interface {
	NowMs() int64
	Now() time.Time
}
