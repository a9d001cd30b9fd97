package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"hkwarrant/internal/core"
)

func lot(id string, price, qty, execMs int64) Lot {
	return Lot{OrderID: id, Price: decimal.NewFromInt(price), Qty: decimal.NewFromInt(qty), ExecutedTimeMs: execMs}
}

func sell(id string, qty, execMs int64) core.OrderRecord {
	return core.OrderRecord{OrderID: id, Side: core.SideSell, ExecutedQty: decimal.NewFromInt(qty), ExecutedTimeMs: execMs}
}

func TestSmartClose_NoSellsReturnsAllBuys(t *testing.T) {
	buys := []Lot{lot("b1", 10, 100, 1000)}
	result := SmartClose(buys, nil)
	assert.Len(t, result, 1)
}

func TestSmartClose_BuysAfterLatestSellAreUntouched(t *testing.T) {
	buys := []Lot{lot("b1", 10, 100, 1000), lot("b2", 12, 200, 5000)}
	sells := []core.OrderRecord{sell("s1", 100, 2000)}

	result := SmartClose(buys, sells)

	var ids []string
	for _, r := range result {
		ids = append(ids, r.OrderID)
	}
	assert.Contains(t, ids, "b2", "b2 executed after the latest sell must survive untouched")
	assert.NotContains(t, ids, "b1", "b1 was fully consumed by the sell")
}

func TestSmartClose_LowestPriceEliminatedFirst(t *testing.T) {
	buys := []Lot{
		lot("cheap", 10, 100, 1000),
		lot("mid", 12, 100, 1500),
		lot("expensive", 15, 100, 1800),
	}
	sells := []core.OrderRecord{sell("s1", 100, 2000)}

	result := SmartClose(buys, sells)

	var ids []string
	for _, r := range result {
		ids = append(ids, r.OrderID)
	}
	assert.NotContains(t, ids, "cheap")
	assert.Contains(t, ids, "mid")
	assert.Contains(t, ids, "expensive")
}

func TestSmartClose_DropsWholeLotEvenWhenLargerThanSellQty(t *testing.T) {
	// Spec §4.5's stopping condition is "remaining summed quantity <=
	// totalBuy - sell.Qty", not "remaining sell quantity reaches zero":
	// a single indivisible lot larger than the sell still gets dropped
	// in full, since any partial amount would require splitting it.
	buys := []Lot{lot("b1", 10, 500, 1000)}
	sells := []core.OrderRecord{sell("s1", 100, 2000)} // smaller than the lot

	result := SmartClose(buys, sells)

	assert.Empty(t, result, "the only eligible lot is dropped whole rather than split")
}

func TestSmartClose_OverdropsMultipleLotsPastSellQty(t *testing.T) {
	buys := []Lot{lot("cheap", 1, 3, 1000), lot("dear", 2, 5, 1000)}
	sells := []core.OrderRecord{sell("s1", 4, 2000)}

	result := SmartClose(buys, sells)

	assert.Empty(t, result, "both lots are eliminated: remaining 0 <= totalBuy(8) - sellQty(4)")
}

func TestSmartClose_MultipleSellsOldestFirst(t *testing.T) {
	buys := []Lot{
		lot("b1", 10, 100, 1000),
		lot("b2", 11, 100, 1100),
		lot("b3", 12, 100, 1200),
	}
	sells := []core.OrderRecord{
		sell("s2", 100, 3000),
		sell("s1", 100, 2000),
	}

	result := SmartClose(buys, sells)

	var ids []string
	for _, r := range result {
		ids = append(ids, r.OrderID)
	}
	assert.Len(t, ids, 1)
	assert.Contains(t, ids, "b3")
}

func TestSmartClose_ConservesTotalQuantityAcrossResult(t *testing.T) {
	buys := []Lot{lot("b1", 10, 300, 1000), lot("b2", 20, 300, 1500)}
	sells := []core.OrderRecord{sell("s1", 300, 2000)}

	result := SmartClose(buys, sells)

	total := decimal.Zero
	for _, r := range result {
		total = total.Add(r.Qty)
	}
	assert.True(t, total.Equal(decimal.NewFromInt(300)))
}
