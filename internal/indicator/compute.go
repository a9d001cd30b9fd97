package indicator

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"hkwarrant/internal/core"
)

// mfiPeriod, kdjPeriod and kdjSmooth are fixed regardless of monitor
// configuration (spec §4.3): MFI(14), KDJ(9, EMA-smoothed 5).
const (
	mfiPeriod  = 14
	kdjPeriod  = 9
	kdjSmooth  = 5
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

// Periods is the per-monitor set of configurable lookback periods for
// RSI, EMA and PSY (spec §4.3).
type Periods struct {
	RSI []int
	EMA []int
	PSY []int
}

// Fingerprint identifies a candle series well enough to decide whether a
// previously computed snapshot can be reused instead of recomputed
// (spec §4.3: "fingerprint-based reuse, length_lastClose").
func Fingerprint(candles []core.Candle) string {
	if len(candles) == 0 {
		return "empty"
	}
	last := candles[len(candles)-1]
	return strconv.Itoa(len(candles)) + "_" + last.Close.String()
}

// Computer turns a closed-candle series into an IndicatorSnapshot,
// reusing the previous snapshot when the fingerprint is unchanged.
type Computer struct {
	periods Periods

	lastFingerprint map[string]string
	lastSnapshot    map[string]*core.IndicatorSnapshot
}

func NewComputer(periods Periods) *Computer {
	return &Computer{
		periods:         periods,
		lastFingerprint: make(map[string]string),
		lastSnapshot:    make(map[string]*core.IndicatorSnapshot),
	}
}

// Compute returns the indicator snapshot for monitor given its current
// closed-candle series, reusing the cached snapshot when the series
// fingerprint has not changed since the last call.
func (c *Computer) Compute(monitor string, candles []core.Candle) (*core.IndicatorSnapshot, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("indicator: no candles for %s", monitor)
	}

	fp := Fingerprint(candles)
	if prev, ok := c.lastFingerprint[monitor]; ok && prev == fp {
		return c.lastSnapshot[monitor].Clone(), nil
	}

	closes := closesOf(candles)
	highs := highsOf(candles)
	lows := lowsOf(candles)
	volumes := volumesOf(candles)

	snap := &core.IndicatorSnapshot{
		Price:     closes[len(closes)-1],
		ChangePct: changePct(closes),
		EMA:       make(map[int]decimal.Decimal),
		RSI:       make(map[int]decimal.Decimal),
		PSY:       make(map[int]decimal.Decimal),
	}

	for _, p := range c.periods.EMA {
		snap.EMA[p] = ema(closes, p)
	}
	for _, p := range c.periods.RSI {
		snap.RSI[p] = rsi(closes, p)
	}
	for _, p := range c.periods.PSY {
		snap.PSY[p] = psy(closes, p)
	}

	snap.MFI = mfi(highs, lows, closes, volumes, mfiPeriod)

	k, d, j := kdj(highs, lows, closes, kdjPeriod, kdjSmooth)
	snap.KDJ_K, snap.KDJ_D, snap.KDJ_J = k, d, j

	dif, dea, hist := macd(closes, macdFast, macdSlow, macdSignal)
	snap.MACD_DIF, snap.MACD_DEA, snap.MACD_HIST = dif, dea, hist

	c.lastFingerprint[monitor] = fp
	c.lastSnapshot[monitor] = snap
	return snap.Clone(), nil
}

func closesOf(candles []core.Candle) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func highsOf(candles []core.Candle) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		out[i] = c.High
	}
	return out
}

func lowsOf(candles []core.Candle) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		out[i] = c.Low
	}
	return out
}

func volumesOf(candles []core.Candle) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		out[i] = c.Volume
	}
	return out
}

func changePct(closes []decimal.Decimal) decimal.Decimal {
	if len(closes) < 2 {
		return decimal.Zero
	}
	prev := closes[len(closes)-2]
	if prev.IsZero() {
		return decimal.Zero
	}
	cur := closes[len(closes)-1]
	return cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))
}

// ema computes the exponential moving average over the given period,
// seeded with a simple average of the first `period` closes.
func ema(closes []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(closes) == 0 {
		return decimal.Zero
	}
	if len(closes) < period {
		period = len(closes)
	}
	sum := decimal.Zero
	for i := 0; i < period; i++ {
		sum = sum.Add(closes[i])
	}
	avg := sum.Div(decimal.NewFromInt(int64(period)))

	multiplier := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period) + 1))
	result := avg
	for i := period; i < len(closes); i++ {
		result = closes[i].Sub(result).Mul(multiplier).Add(result)
	}
	return result
}

// rsi computes the standard Wilder relative strength index over period.
func rsi(closes []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(closes) <= period {
		return decimal.Zero
	}
	gainSum, lossSum := decimal.Zero, decimal.Zero
	for i := 1; i <= period; i++ {
		delta := closes[i].Sub(closes[i-1])
		if delta.IsPositive() {
			gainSum = gainSum.Add(delta)
		} else {
			lossSum = lossSum.Add(delta.Neg())
		}
	}
	avgGain := gainSum.Div(decimal.NewFromInt(int64(period)))
	avgLoss := lossSum.Div(decimal.NewFromInt(int64(period)))

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i].Sub(closes[i-1])
		gain, loss := decimal.Zero, decimal.Zero
		if delta.IsPositive() {
			gain = delta
		} else {
			loss = delta.Neg()
		}
		pd := decimal.NewFromInt(int64(period))
		avgGain = avgGain.Mul(pd.Sub(decimal.NewFromInt(1))).Add(gain).Div(pd)
		avgLoss = avgLoss.Mul(pd.Sub(decimal.NewFromInt(1))).Add(loss).Div(pd)
	}

	if avgLoss.IsZero() {
		return decimal.NewFromInt(100)
	}
	rs := avgGain.Div(avgLoss)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// psy is the psychological line: percentage of up-closes over period.
func psy(closes []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(closes) <= period {
		return decimal.Zero
	}
	start := len(closes) - period
	upCount := 0
	for i := start; i < len(closes); i++ {
		if i == 0 {
			continue
		}
		if closes[i].GreaterThan(closes[i-1]) {
			upCount++
		}
	}
	return decimal.NewFromInt(int64(upCount)).Div(decimal.NewFromInt(int64(period))).Mul(decimal.NewFromInt(100))
}

// mfi is the money flow index over period.
func mfi(highs, lows, closes, volumes []decimal.Decimal, period int) decimal.Decimal {
	n := len(closes)
	if n <= period {
		return decimal.Zero
	}
	typicalPrices := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		typicalPrices[i] = highs[i].Add(lows[i]).Add(closes[i]).Div(decimal.NewFromInt(3))
	}

	posFlow, negFlow := decimal.Zero, decimal.Zero
	start := n - period
	for i := start; i < n; i++ {
		if i == 0 {
			continue
		}
		rawFlow := typicalPrices[i].Mul(volumes[i])
		if typicalPrices[i].GreaterThan(typicalPrices[i-1]) {
			posFlow = posFlow.Add(rawFlow)
		} else if typicalPrices[i].LessThan(typicalPrices[i-1]) {
			negFlow = negFlow.Add(rawFlow)
		}
	}
	if negFlow.IsZero() {
		return decimal.NewFromInt(100)
	}
	ratio := posFlow.Div(negFlow)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(ratio)))
}

// kdj computes the stochastic KDJ oscillator. K and D are EMA-smoothed
// with the given smooth period; J = 3K - 2D (spec §4.3).
func kdj(highs, lows, closes []decimal.Decimal, period, smooth int) (k, d, j decimal.Decimal) {
	n := len(closes)
	if n < period {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}

	rsvs := make([]decimal.Decimal, 0, n-period+1)
	for end := period - 1; end < n; end++ {
		start := end - period + 1
		highest, lowest := highs[start], lows[start]
		for i := start + 1; i <= end; i++ {
			if highs[i].GreaterThan(highest) {
				highest = highs[i]
			}
			if lows[i].LessThan(lowest) {
				lowest = lows[i]
			}
		}
		rangeVal := highest.Sub(lowest)
		if rangeVal.IsZero() {
			rsvs = append(rsvs, decimal.NewFromInt(50))
			continue
		}
		rsv := closes[end].Sub(lowest).Div(rangeVal).Mul(decimal.NewFromInt(100))
		rsvs = append(rsvs, rsv)
	}

	kVal := ema(rsvs, smooth)
	// D is the smoothed average of the K series; approximate by
	// re-smoothing the RSV series' running K values.
	ks := make([]decimal.Decimal, 0, len(rsvs))
	running := decimal.NewFromInt(50)
	multiplier := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(smooth) + 1))
	for _, rsv := range rsvs {
		running = rsv.Sub(running).Mul(multiplier).Add(running)
		ks = append(ks, running)
	}
	dVal := ema(ks, smooth)

	jVal := decimal.NewFromInt(3).Mul(kVal).Sub(decimal.NewFromInt(2).Mul(dVal))
	return kVal, dVal, jVal
}

// macd computes the moving average convergence/divergence line, its
// signal line, and the histogram.
func macd(closes []decimal.Decimal, fast, slow, signal int) (dif, dea, hist decimal.Decimal) {
	if len(closes) < slow {
		return decimal.Zero, decimal.Zero, decimal.Zero
	}
	difSeries := make([]decimal.Decimal, 0, len(closes))
	for i := slow - 1; i < len(closes); i++ {
		window := closes[:i+1]
		difSeries = append(difSeries, ema(window, fast).Sub(ema(window, slow)))
	}
	dif = difSeries[len(difSeries)-1]
	dea = ema(difSeries, signal)
	hist = dif.Sub(dea).Mul(decimal.NewFromInt(2))
	return dif, dea, hist
}

// ParsePeriods parses comma-separated period lists like "6,12,24" used
// in configuration into an int slice.
func ParsePeriods(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("indicator: invalid period %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
