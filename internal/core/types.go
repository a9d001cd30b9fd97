// Package core defines the domain types and collaborator interfaces shared
// across the engine: monitors, seats, signals, orders and indicator
// snapshots. Nothing in this package owns mutable state — it is the
// vocabulary the other packages share.
package core

import (
	"github.com/shopspring/decimal"
)

// Direction is the warrant side a seat holds: bull (call) or bear (put).
type Direction string

const (
	DirectionLong  Direction = "LONG"  // bull / call warrant
	DirectionShort Direction = "SHORT" // bear / put warrant
)

// Action is the signal action emitted by the strategy layer.
type Action string

const (
	ActionBuyCall  Action = "BUYCALL"
	ActionBuyPut   Action = "BUYPUT"
	ActionSellCall Action = "SELLCALL"
	ActionSellPut  Action = "SELLPUT"
	ActionHold     Action = "HOLD"
)

// IsUpTrend reports whether the action corresponds to an up-trend
// confirmation requirement in the delayed signal verifier (spec §4.2).
func (a Action) IsUpTrend() bool {
	return a == ActionBuyCall || a == ActionSellPut
}

// IsDownTrend reports whether the action corresponds to a down-trend
// confirmation requirement in the delayed signal verifier.
func (a Action) IsDownTrend() bool {
	return a == ActionBuyPut || a == ActionSellCall
}

// IsBuy reports whether the action opens a seat (as opposed to closing
// one), used to route a signal to the buy or sell task queue.
func (a Action) IsBuy() bool {
	return a == ActionBuyCall || a == ActionBuyPut
}

// SeatStatus is the seat state machine's state (spec §4.4).
type SeatStatus string

const (
	SeatEmpty     SeatStatus = "EMPTY"
	SeatSearching SeatStatus = "SEARCHING"
	SeatReady     SeatStatus = "READY"
	SeatSwitching SeatStatus = "SWITCHING"
)

// LifecycleState is the day lifecycle manager's state (spec §4.8).
type LifecycleState string

const (
	LifecycleActive            LifecycleState = "ACTIVE"
	LifecycleMidnightCleaning  LifecycleState = "MIDNIGHT_CLEANING"
	LifecycleMidnightCleaned   LifecycleState = "MIDNIGHT_CLEANED"
	LifecycleOpenRebuilding    LifecycleState = "OPEN_REBUILDING"
	LifecycleOpenRebuildFailed LifecycleState = "OPEN_REBUILD_FAILED"
)

// OrderTypeKind is the discriminant of OrderTypeChoice (spec §9 "dynamic
// optional fields" modeled as a closed sum type).
type OrderTypeKind int

const (
	OrderTypeDefault OrderTypeKind = iota
	OrderTypeProtective
	OrderTypeOverride
)

// OrderTypeChoice models the signal's optional order-type override as a
// closed sum type instead of a set of loosely-related optional fields.
type OrderTypeChoice struct {
	Kind     OrderTypeKind
	Override string // only meaningful when Kind == OrderTypeOverride
}

// CooldownMode is the per-monitor cooldown rule shape (spec §3).
type CooldownMode string

const (
	CooldownMinutes CooldownMode = "minutes"
	CooldownOneDay  CooldownMode = "one-day"
	CooldownHalfDay CooldownMode = "half-day"
)

// CooldownRule configures how long a (symbol, direction) pair is blocked
// from new same-direction entries after a protective clearance fill.
type CooldownRule struct {
	Mode    CooldownMode
	Minutes int // only meaningful when Mode == CooldownMinutes
}

// AutoSearchConfig configures the auto-symbol manager (spec §3, §4.4).
type AutoSearchConfig struct {
	Enabled                 bool
	MinDistanceToRecallPct  decimal.Decimal
	MinTurnoverPerMinute    decimal.Decimal
	ExpiryFloorMonths       int
	PostOpenDelayMinutes    int
	SwitchDistanceRangeMin  decimal.Decimal
	SwitchDistanceRangeMax  decimal.Decimal
	MaxSearchFailuresPerDay int
	ShouldRebuy             bool
}

// VerificationConfig names, per direction, the indicators that must
// confirm a delayed signal (spec §4.2).
type VerificationConfig struct {
	Indicators []string
}

// MonitorConfig is the static per-monitor configuration (spec §3).
type MonitorConfig struct {
	Code string // e.g. "HSI"

	StaticLongWarrant  string // optional; empty when auto-search is used
	StaticShortWarrant string

	AutoSearch AutoSearchConfig

	IndicatorPeriodsRSI []int
	IndicatorPeriodsEMA []int
	IndicatorPeriodsPSY []int

	VerificationDelaysSeconds []int // e.g. [5, 10]
	VerificationByDirection   map[Direction]VerificationConfig

	RiskMaxUnrealizedLossPerSymbol decimal.Decimal
	RiskLiquidationDistancePctBull decimal.Decimal
	RiskLiquidationDistancePctBear decimal.Decimal

	Cooldown CooldownRule

	// OwnershipSubstrings maps substrings found in a broker stockName to
	// this monitor, used by resolveOrderOwnership (spec §4.5).
	OwnershipSubstrings []string

	TargetNotional decimal.Decimal

	LotSize int64
}

// Seat binds one (monitor, direction) slot to a live warrant (spec §3).
type Seat struct {
	Monitor   string
	Direction Direction

	Symbol     string // empty when EMPTY
	SymbolName string
	Status     SeatStatus

	LastSwitchTime int64 // unix ms
	LastSearchTime int64
	LastReadyTime  int64

	RecallPrice decimal.Decimal

	SearchFailCountToday int
	FrozenTradingDayKey  string // non-empty => frozen for that HK date

	Version int64
}

// IsUsableForTrading reports the seat invariant from spec §3.
func (s *Seat) IsUsableForTrading() bool {
	return s.Status == SeatReady && s.Symbol != "" && s.FrozenTradingDayKey == ""
}

// Signal is an immediate or delayed trading decision (spec §3).
type Signal struct {
	Monitor     string
	Symbol      string
	SymbolName  string
	Action      Action
	Reason      string
	SeatVersion int64
	TriggerTime int64 // unix ms

	Price    decimal.Decimal
	HasPrice bool

	LotSize int64

	// Indicators1 carries a shallow snapshot of indicator values at
	// emission time, keyed by indicator name, used by the delayed
	// verifier and for diagnostics.
	Indicators1 map[string]decimal.Decimal

	OrderTypeOverride       OrderTypeChoice
	IsProtectiveLiquidation bool
	UseMarketOrder          bool

	HasQuantity bool
	Quantity    decimal.Decimal
}

// IndicatorSnapshot is a deeply-owned technical snapshot for one monitor
// at one point in time (spec §3, §4.1).
type IndicatorSnapshot struct {
	Price     decimal.Decimal
	ChangePct decimal.Decimal

	EMA map[int]decimal.Decimal
	RSI map[int]decimal.Decimal
	PSY map[int]decimal.Decimal

	MFI decimal.Decimal

	KDJ_K decimal.Decimal
	KDJ_D decimal.Decimal
	KDJ_J decimal.Decimal

	MACD_DIF  decimal.Decimal
	MACD_DEA  decimal.Decimal
	MACD_HIST decimal.Decimal
}

// Clone returns a deep copy immune to mutation by the producer, as
// required by the indicator cache invariant (spec §4.1).
func (s *IndicatorSnapshot) Clone() *IndicatorSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.EMA = cloneDecimalMap(s.EMA)
	out.RSI = cloneDecimalMap(s.RSI)
	out.PSY = cloneDecimalMap(s.PSY)
	return &out
}

func cloneDecimalMap(m map[int]decimal.Decimal) map[int]decimal.Decimal {
	if m == nil {
		return nil
	}
	out := make(map[int]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Value looks up an indicator by name for the delayed verifier, which
// addresses indicators by configured string name (e.g. "K", "RSI6").
func (s *IndicatorSnapshot) Value(name string) (decimal.Decimal, bool) {
	switch name {
	case "K":
		return s.KDJ_K, true
	case "D":
		return s.KDJ_D, true
	case "J":
		return s.KDJ_J, true
	case "MFI":
		return s.MFI, true
	case "MACD_DIF":
		return s.MACD_DIF, true
	case "MACD_DEA":
		return s.MACD_DEA, true
	case "MACD_HIST":
		return s.MACD_HIST, true
	case "PRICE":
		return s.Price, true
	}
	if len(name) > 3 && name[:3] == "RSI" {
		if p, ok := parsePeriodSuffix(name[3:]); ok {
			if v, ok := s.RSI[p]; ok {
				return v, true
			}
		}
	}
	if len(name) > 3 && name[:3] == "EMA" {
		if p, ok := parsePeriodSuffix(name[3:]); ok {
			if v, ok := s.EMA[p]; ok {
				return v, true
			}
		}
	}
	if len(name) > 3 && name[:3] == "PSY" {
		if p, ok := parsePeriodSuffix(name[3:]); ok {
			if v, ok := s.PSY[p]; ok {
				return v, true
			}
		}
	}
	return decimal.Zero, false
}

func parsePeriodSuffix(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// OrderSide mirrors the broker's side enum.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus mirrors the broker's push status enum (spec §4.6).
type OrderStatus string

const (
	OrderStatusNew            OrderStatus = "New"
	OrderStatusPartialFilled  OrderStatus = "PartialFilled"
	OrderStatusFilled         OrderStatus = "Filled"
	OrderStatusCanceled       OrderStatus = "Canceled"
	OrderStatusRejected       OrderStatus = "Rejected"
	OrderStatusWaitToNew      OrderStatus = "WaitToNew"
	OrderStatusWaitToReplace  OrderStatus = "WaitToReplace"
	OrderStatusPendingReplace OrderStatus = "PendingReplace"
)

// IsActive reports whether the status belongs to the "pending sell"
// active set (spec §4.6 get_pending_sell_orders).
func (s OrderStatus) IsActive() bool {
	switch s {
	case OrderStatusNew, OrderStatusPartialFilled, OrderStatusWaitToNew,
		OrderStatusWaitToReplace, OrderStatusPendingReplace:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a terminal push status for
// idempotence purposes (spec §4.6, §7).
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusRejected
}

// OrderType mirrors the broker's order-type enum. Only LO/ELO/ALO/SLO are
// replaceable (spec §9 open question resolution); MO is not.
type OrderType string

const (
	OrderTypeLO  OrderType = "LO"
	OrderTypeELO OrderType = "ELO"
	OrderTypeALO OrderType = "ALO"
	OrderTypeSLO OrderType = "SLO"
	OrderTypeMO  OrderType = "MO"
)

// IsReplaceable implements the conservative allow-list from spec §9.
func (t OrderType) IsReplaceable() bool {
	switch t {
	case OrderTypeLO, OrderTypeELO, OrderTypeALO, OrderTypeSLO:
		return true
	}
	return false
}

// OrderRecord is a filled order as retained by the order recorder
// (spec §3).
type OrderRecord struct {
	OrderID        string
	Symbol         string
	Side           OrderSide
	ExecutedPrice  decimal.Decimal
	ExecutedQty    decimal.Decimal
	ExecutedTimeMs int64
	SubmitTimeMs   int64
	UpdateTimeMs   int64

	IsProtectiveClearance bool
}

// PendingOrder is the monitor-held snapshot of a working order (spec §3).
type PendingOrder struct {
	OrderID        string
	Side           OrderSide
	SubmittedPrice decimal.Decimal
	SubmittedQty   decimal.Decimal
	ExecutedQty    decimal.Decimal
	Status         OrderStatus
	Type           OrderType
	SubmitTimeMs   int64
}

// RemainingQty is the quantity still unfilled on this pending order.
func (p *PendingOrder) RemainingQty() decimal.Decimal {
	return p.SubmittedQty.Sub(p.ExecutedQty)
}

// TrackedOrder is managed by the order lifecycle manager (spec §3, §4.6).
type TrackedOrder struct {
	Meta               PendingOrder
	Symbol             string
	Direction          Direction
	SubmitTimeMs       int64
	LastPriceUpdateMs  int64
	ConvertedToMarket  bool
	RelatedBuyOrderIDs []string

	// terminalHandled guards against regressing state on duplicate or
	// out-of-order pushes after a terminal status (spec §4.6, §7).
	terminalHandled bool
}

func (t *TrackedOrder) MarkTerminalHandled()  { t.terminalHandled = true }
func (t *TrackedOrder) TerminalHandled() bool { return t.terminalHandled }

// WarrantCandidate is a row from the broker's warrant list, filtered and
// ranked by the auto-symbol manager (spec §4.4, SPEC_FULL §3a).
type WarrantCandidate struct {
	Symbol            string
	SymbolName        string
	IsBull            bool
	Status            string // "Normal" etc.
	RecallPrice       decimal.Decimal
	ToCallPrice       decimal.Decimal
	DistancePct       decimal.Decimal
	Turnover          decimal.Decimal
	TurnoverPerMinute decimal.Decimal
	ExpiryMonths      int
	LotSize           int64
}

// Quote is a minimal per-symbol market data tick (SPEC_FULL §3a).
type Quote struct {
	Symbol      string
	LastPrice   decimal.Decimal
	Volume      decimal.Decimal
	TimestampMs int64
}

// Candle is a K-line bar (SPEC_FULL §3a).
type Candle struct {
	Open, High, Low, Close decimal.Decimal
	Symbol                 string
	Volume                 decimal.Decimal
	TimestampMs            int64
	Closed                 bool
}

// DailyLossState tracks today's realized P&L for one (monitor, direction)
// pair (spec §3, §4.7).
type DailyLossState struct {
	DayKey      string
	BuyRecords  []OrderRecord
	SellRecords []OrderRecord
	LossOffset  decimal.Decimal // <= 0
}

// CooldownEntry is a (symbol, direction) -> executed-at-ms mapping
// (spec §3).
type CooldownEntry struct {
	Symbol       string
	Direction    Direction
	ExecutedAtMs int64
}
