package order

import (
	"sort"

	"github.com/shopspring/decimal"

	"hkwarrant/internal/core"
)

// Lot is one buy fill available for smart-close matching. SmartClose
// eliminates a lot whole by setting its Qty to zero; a lot is never
// partially reduced.
type Lot struct {
	OrderID       string
	Price         decimal.Decimal
	ExecutedTimeMs int64
	Qty           decimal.Decimal
}

// SmartClose computes which buy lots remain open after accounting for
// every recorded sell, using the lowest-price-first whole-lot
// elimination rule (spec §4.5): lots never split, so a sell can drop a
// lot larger than its own quantity.
//
// Sells are processed oldest to newest. For each sell, the buys
// executed strictly before that sell ("buysBefore") are candidates for
// elimination. Lots are dropped lowest-price-first, one whole lot at a
// time, until the summed remaining quantity of buysBefore falls to or
// below (totalBuy - sell.Qty) — spec §4.5's literal stopping condition,
// which can eliminate a lot whose own quantity exceeds what the sell
// alone would account for when lots are indivisible. Buys placed after
// the latest sell (M0) are never touched. The result is M0 union
// whatever remains of the pre-latest-sell buys (Mn) after every sell
// has been applied.
func SmartClose(buys []Lot, sells []core.OrderRecord) []Lot {
	if len(sells) == 0 {
		return append([]Lot(nil), buys...)
	}

	sortedSells := append([]core.OrderRecord(nil), sells...)
	sort.Slice(sortedSells, func(i, j int) bool {
		return sortedSells[i].ExecutedTimeMs < sortedSells[j].ExecutedTimeMs
	})
	latestSellTime := sortedSells[len(sortedSells)-1].ExecutedTimeMs

	var m0 []Lot       // buys after the latest sell: untouched
	candidates := make([]Lot, 0, len(buys))
	for _, b := range buys {
		cp := b
		if cp.ExecutedTimeMs > latestSellTime {
			m0 = append(m0, cp)
		} else {
			candidates = append(candidates, cp)
		}
	}

	for _, sell := range sortedSells {
		// buysBefore: candidates executed strictly before this sell.
		eligible := make([]int, 0, len(candidates))
		totalBuy := decimal.Zero
		for i, c := range candidates {
			if c.ExecutedTimeMs < sell.ExecutedTimeMs && c.Qty.IsPositive() {
				eligible = append(eligible, i)
				totalBuy = totalBuy.Add(c.Qty)
			}
		}
		sort.Slice(eligible, func(i, j int) bool {
			return candidates[eligible[i]].Price.LessThan(candidates[eligible[j]].Price)
		})

		target := totalBuy.Sub(sell.ExecutedQty)
		remainingSum := totalBuy
		for _, idx := range eligible {
			if remainingSum.LessThanOrEqual(target) {
				break
			}
			lot := &candidates[idx]
			remainingSum = remainingSum.Sub(lot.Qty)
			lot.Qty = decimal.Zero
		}
	}

	mn := make([]Lot, 0, len(candidates))
	for _, c := range candidates {
		if c.Qty.IsPositive() {
			mn = append(mn, c)
		}
	}

	return append(mn, m0...)
}
