package signal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hkwarrant/internal/core"
)

// RSIReversalStrategy is a reference core.IStrategy: it closes a held
// seat when its RSI has crossed into overbought/oversold territory,
// a simple mean-reversion exit. The actual decision logic behind
// generateCloseSignals is external/pluggable (spec §1 non-goals,
// §4.3); this is the default wired by cmd/engine for local runs, not
// a proprietary trading strategy.
type RSIReversalStrategy struct {
	period     int
	overbought decimal.Decimal
	oversold   decimal.Decimal
}

// NewRSIReversalStrategy builds a strategy reading RSI(period) from the
// snapshot, closing longs above overbought and shorts below oversold.
// period, overbought and oversold fall back to sane defaults (14, 70,
// 30) when given as zero.
func NewRSIReversalStrategy(period int, overbought, oversold decimal.Decimal) *RSIReversalStrategy {
	if period <= 0 {
		period = 14
	}
	if overbought.IsZero() {
		overbought = decimal.NewFromInt(70)
	}
	if oversold.IsZero() {
		oversold = decimal.NewFromInt(30)
	}
	return &RSIReversalStrategy{period: period, overbought: overbought, oversold: oversold}
}

// NewDistanceCloseStrategy is an alias constructor using the default
// RSI(14) 70/30 thresholds, for callers that just want a working
// default without tuning it (cmd/engine's local-run wiring).
func NewDistanceCloseStrategy() *RSIReversalStrategy {
	return NewRSIReversalStrategy(14, decimal.Zero, decimal.Zero)
}

// GenerateCloseSignals implements core.IStrategy. Every close it emits
// is immediate (no delayed/verified path) since an RSI extreme is
// itself already a multi-candle-confirmed condition.
func (s *RSIReversalStrategy) GenerateCloseSignals(
	monitor string,
	snapshot *core.IndicatorSnapshot,
	seats map[core.Direction]core.Seat,
) (immediate []core.Signal, delayed []core.Signal) {
	if snapshot == nil {
		return nil, nil
	}
	rsi, ok := snapshot.RSI[s.period]
	if !ok {
		return nil, nil
	}

	if long, ok := seats[core.DirectionLong]; ok && long.IsUsableForTrading() && rsi.GreaterThanOrEqual(s.overbought) {
		immediate = append(immediate, s.closeSignal(monitor, long, core.ActionSellCall, rsi))
	}
	if short, ok := seats[core.DirectionShort]; ok && short.IsUsableForTrading() && rsi.LessThanOrEqual(s.oversold) {
		immediate = append(immediate, s.closeSignal(monitor, short, core.ActionSellPut, rsi))
	}
	return immediate, nil
}

func (s *RSIReversalStrategy) closeSignal(monitor string, seat core.Seat, action core.Action, rsi decimal.Decimal) core.Signal {
	return core.Signal{
		Monitor:     monitor,
		Symbol:      seat.Symbol,
		SymbolName:  seat.SymbolName,
		Action:      action,
		Reason:      fmt.Sprintf("rsi(%d)=%s crossed reversal threshold", s.period, rsi.String()),
		SeatVersion: seat.Version,
		Indicators1: map[string]decimal.Decimal{fmt.Sprintf("RSI%d", s.period): rsi},
	}
}
