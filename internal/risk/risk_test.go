package risk

import (
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"hkwarrant/internal/core"
	"hkwarrant/internal/logging"
	"hkwarrant/internal/order"
)

func newTestManager() *Manager {
	return NewManager(logging.NewLogger(logging.FatalLevel, io.Discard))
}

func TestPositionState_AdjustedR1_WithNegativeOffset(t *testing.T) {
	p := PositionState{BaseR1: decimal.NewFromInt(10), DailyLossOffset: decimal.NewFromInt(-2)}
	assert.True(t, p.AdjustedR1().Equal(decimal.NewFromInt(12)))
}

func TestPositionState_AdjustedR1_PositiveOffsetClampedToZero(t *testing.T) {
	p := PositionState{BaseR1: decimal.NewFromInt(10), DailyLossOffset: decimal.NewFromInt(5)}
	assert.True(t, p.AdjustedR1().Equal(decimal.NewFromInt(10)))
}

func TestManager_ShouldLiquidateByLoss_ExactThresholdBoundary(t *testing.T) {
	m := newTestManager()
	m.Update("HSI", core.DirectionLong, PositionState{BaseR1: decimal.NewFromInt(10), N1: decimal.NewFromInt(100)})

	// unrealized loss at price 9.95: (9.95-10)*100 = -5, exactly at
	// -threshold(5): spec requires strictly less than, so this must NOT
	// trigger liquidation.
	assert.False(t, m.ShouldLiquidateByLoss("HSI", core.DirectionLong, decimal.NewFromFloat(9.95), decimal.NewFromInt(5)))

	// one cent further underwater must trigger it.
	assert.True(t, m.ShouldLiquidateByLoss("HSI", core.DirectionLong, decimal.NewFromFloat(9.94), decimal.NewFromInt(5)))
}

func TestManager_ShouldLiquidateByLoss_NoPositionNeverLiquidates(t *testing.T) {
	m := newTestManager()
	assert.False(t, m.ShouldLiquidateByLoss("HSI", core.DirectionLong, decimal.NewFromInt(0), decimal.NewFromInt(5)))
}

func TestShouldLiquidateByDistance_BullAndBearSignsDiffer(t *testing.T) {
	thresholdBull := decimal.NewFromInt(1)
	thresholdBear := decimal.NewFromInt(-1)

	assert.True(t, ShouldLiquidateByDistance(true, decimal.NewFromFloat(0.5), thresholdBull, thresholdBear))
	assert.False(t, ShouldLiquidateByDistance(true, decimal.NewFromInt(2), thresholdBull, thresholdBear))

	assert.True(t, ShouldLiquidateByDistance(false, decimal.NewFromFloat(-0.5), thresholdBull, thresholdBear))
	assert.False(t, ShouldLiquidateByDistance(false, decimal.NewFromInt(-2), thresholdBull, thresholdBear))
}

func TestComputeDailyLossOffset_ClampsToZeroWhenProfitable(t *testing.T) {
	offset := ComputeDailyLossOffset(decimal.NewFromInt(1000), decimal.NewFromInt(500), decimal.NewFromInt(0))
	assert.True(t, offset.IsZero())
}

func TestComputeDailyLossOffset_NegativeWhenLossy(t *testing.T) {
	offset := ComputeDailyLossOffset(decimal.NewFromInt(500), decimal.NewFromInt(1000), decimal.NewFromInt(0))
	assert.True(t, offset.Equal(decimal.NewFromInt(-500)))
}

func TestManager_ResetAllClearsPositions(t *testing.T) {
	m := newTestManager()
	m.Update("HSI", core.DirectionLong, PositionState{N1: decimal.NewFromInt(100)})
	m.ResetAll()
	assert.True(t, m.Get("HSI", core.DirectionLong).N1.IsZero())
}

func TestManager_RecalculateFromAllOrders(t *testing.T) {
	m := newTestManager()
	m.RecalculateFromAllOrders([]PositionOrders{
		{
			Monitor:   "HSI",
			Direction: core.DirectionLong,
			BuyRecords: []core.OrderRecord{
				{ExecutedPrice: decimal.NewFromInt(10), ExecutedQty: decimal.NewFromInt(100)},
			},
			SellRecords: []core.OrderRecord{
				{ExecutedPrice: decimal.NewFromInt(9), ExecutedQty: decimal.NewFromInt(50)},
			},
			OpenBuyCost: decimal.NewFromInt(0),
			BaseR1:      decimal.NewFromInt(10),
			N1:          decimal.NewFromInt(50),
			NowMs:       1000,
		},
	})

	state := m.Get("HSI", core.DirectionLong)
	// totalBuy=1000, totalSell=450, offset=min(0,450-1000+0)=-550
	assert.True(t, state.DailyLossOffset.Equal(decimal.NewFromInt(-550)))
}

type fakeHeldLotsSource struct {
	totalBuy, totalSell decimal.Decimal
	held                []order.Lot
}

func (f fakeHeldLotsSource) DailyTotals(string) (decimal.Decimal, decimal.Decimal, []order.Lot) {
	return f.totalBuy, f.totalSell, f.held
}

func TestManager_Refresh_RebuildsCostBasisFromHeldLots(t *testing.T) {
	m := newTestManager()
	src := fakeHeldLotsSource{
		totalBuy:  decimal.NewFromInt(1000),
		totalSell: decimal.NewFromInt(0),
		held: []order.Lot{
			{OrderID: "b1", Price: decimal.NewFromInt(10), Qty: decimal.NewFromInt(60)},
			{OrderID: "b2", Price: decimal.NewFromInt(12), Qty: decimal.NewFromInt(40)},
		},
	}

	m.Refresh(src, "HSI", "68XXX", core.DirectionLong, 5000)

	state := m.Get("HSI", core.DirectionLong)
	assert.True(t, state.N1.Equal(decimal.NewFromInt(100)))
	// openBuyCost = 10*60 + 12*40 = 1080, baseR1 = 1080/100 = 10.8
	assert.True(t, state.BaseR1.Equal(decimal.NewFromFloat(10.8)))
	assert.Equal(t, int64(5000), state.LastUpdateMs)
}

func TestManager_Refresh_NoHeldLotsClearsPosition(t *testing.T) {
	m := newTestManager()
	m.Update("HSI", core.DirectionLong, PositionState{BaseR1: decimal.NewFromInt(10), N1: decimal.NewFromInt(100)})

	m.Refresh(fakeHeldLotsSource{totalBuy: decimal.NewFromInt(1000), totalSell: decimal.NewFromInt(1000)}, "HSI", "68XXX", core.DirectionLong, 5000)

	state := m.Get("HSI", core.DirectionLong)
	assert.True(t, state.N1.IsZero())
	assert.True(t, state.BaseR1.IsZero())
}
