package signal

import (
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hkwarrant/internal/core"
	"hkwarrant/internal/logging"
)

type fakeCache struct {
	entries map[int64]*core.IndicatorSnapshot
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[int64]*core.IndicatorSnapshot)}
}

func (f *fakeCache) set(ms int64, k decimal.Decimal) {
	f.entries[ms] = &core.IndicatorSnapshot{KDJ_K: k}
}

// GetAt returns the entry nearest targetMs within toleranceMs, as
// indicator.Cache does.
func (f *fakeCache) GetAt(monitor string, targetMs, toleranceMs int64) *core.IndicatorSnapshot {
	var best *core.IndicatorSnapshot
	var bestDiff int64
	for ts, snap := range f.entries {
		diff := ts - targetMs
		if diff < 0 {
			diff = -diff
		}
		if diff <= toleranceMs && (best == nil || diff < bestDiff) {
			best, bestDiff = snap, diff
		}
	}
	return best
}

func testConfig() core.MonitorConfig {
	return core.MonitorConfig{
		Code:                      "HSI",
		VerificationDelaysSeconds: []int{5, 10},
		VerificationByDirection: map[core.Direction]core.VerificationConfig{
			core.DirectionLong:  {Indicators: []string{"K"}},
			core.DirectionShort: {Indicators: []string{"K"}},
		},
	}
}

func newTestLogger() core.ILogger {
	return logging.NewLogger(logging.FatalLevel, io.Discard)
}

func TestVerifier_PassesOnStrictlyIncreasingUpTrend(t *testing.T) {
	cache := newFakeCache()
	cache.set(0, decimal.NewFromInt(20))
	cache.set(5000, decimal.NewFromInt(22))
	cache.set(10000, decimal.NewFromInt(24))

	v := NewVerifier(cache, newTestLogger())
	var verified []core.Signal
	v.OnVerified(func(s core.Signal) { verified = append(verified, s) })

	sig := core.Signal{Monitor: "HSI", Action: core.ActionBuyCall, TriggerTime: 0}
	v.AddSignal(sig, testConfig())

	v.Tick(0)
	v.Tick(5000)
	v.Tick(10000)

	require.Len(t, verified, 1)
	assert.Equal(t, 0, v.GetPendingCount())
}

func TestVerifier_FailsOnNonMonotonicUpTrend(t *testing.T) {
	cache := newFakeCache()
	cache.set(0, decimal.NewFromInt(20))
	cache.set(5000, decimal.NewFromInt(22))
	cache.set(10000, decimal.NewFromInt(19))

	v := NewVerifier(cache, newTestLogger())
	var reason string
	v.OnRejected(func(s core.Signal, r string) { reason = r })

	sig := core.Signal{Monitor: "HSI", Action: core.ActionBuyCall, TriggerTime: 0}
	v.AddSignal(sig, testConfig())

	v.Tick(0)
	v.Tick(5000)
	v.Tick(10000)

	assert.NotEmpty(t, reason)
	assert.Equal(t, 0, v.GetPendingCount())
}

func TestVerifier_FailsOnMissingCheckpointData(t *testing.T) {
	cache := newFakeCache()
	cache.set(-1000, decimal.NewFromInt(20)) // T0 present (1s early, outside the +/-5s window of T0+5s); only the +5s checkpoint is missing
	v := NewVerifier(cache, newTestLogger())

	var reason string
	v.OnRejected(func(s core.Signal, r string) { reason = r })

	sig := core.Signal{Monitor: "HSI", Action: core.ActionBuyCall, TriggerTime: 0}
	v.AddSignal(sig, core.MonitorConfig{
		VerificationDelaysSeconds: []int{5},
		VerificationByDirection: map[core.Direction]core.VerificationConfig{
			core.DirectionLong: {Indicators: []string{"K"}},
		},
	})

	v.Tick(20000) // well past T0+5s +/- tolerance with no cache entry

	assert.Contains(t, reason, "T0+5s")
}

func TestVerifier_FailsOnMissingT0Data(t *testing.T) {
	cache := newFakeCache()
	v := NewVerifier(cache, newTestLogger())

	var reason string
	v.OnRejected(func(s core.Signal, r string) { reason = r })

	sig := core.Signal{Monitor: "HSI", Action: core.ActionBuyCall, TriggerTime: 0}
	v.AddSignal(sig, core.MonitorConfig{
		VerificationDelaysSeconds: []int{5},
		VerificationByDirection: map[core.Direction]core.VerificationConfig{
			core.DirectionLong: {Indicators: []string{"K"}},
		},
	})

	v.Tick(20000) // well past T0 +/- tolerance with no cache entry at all

	assert.Contains(t, reason, "T0")
}

// TestVerifier_ChecksAgainstT0NotPreviousCheckpoint: +5s=18 is below
// T0=20, so the verifier fails at the first checkpoint with a reason
// that compares against the T0 value; the later +10s=19, although
// above the +5s value, does not turn the rejection into a pass.
func TestVerifier_ChecksAgainstT0NotPreviousCheckpoint(t *testing.T) {
	cache := newFakeCache()
	cache.set(0, decimal.NewFromInt(20))
	cache.set(5000, decimal.NewFromInt(18))
	cache.set(10000, decimal.NewFromInt(19))

	v := NewVerifier(cache, newTestLogger())
	var reason string
	var verified bool
	v.OnRejected(func(s core.Signal, r string) { reason = r })
	v.OnVerified(func(s core.Signal) { verified = true })

	sig := core.Signal{Monitor: "HSI", Action: core.ActionBuyCall, TriggerTime: 0}
	v.AddSignal(sig, testConfig())

	v.Tick(0)
	v.Tick(5000)
	v.Tick(10000)

	assert.False(t, verified)
	assert.Equal(t, "K=18.000<=20.000", reason)
}

func TestVerifier_DownTrendRequiresStrictDecrease(t *testing.T) {
	cache := newFakeCache()
	cache.set(0, decimal.NewFromInt(80))
	cache.set(5000, decimal.NewFromInt(70))
	cache.set(10000, decimal.NewFromInt(60))

	v := NewVerifier(cache, newTestLogger())
	var verified []core.Signal
	v.OnVerified(func(s core.Signal) { verified = append(verified, s) })

	sig := core.Signal{Monitor: "HSI", Action: core.ActionBuyPut, TriggerTime: 0}
	v.AddSignal(sig, testConfig())

	v.Tick(0)
	v.Tick(5000)
	v.Tick(10000)

	require.Len(t, verified, 1)
}

func TestVerifier_CancelAllForSymbol(t *testing.T) {
	cache := newFakeCache()
	v := NewVerifier(cache, newTestLogger())

	var rejected int
	v.OnRejected(func(core.Signal, string) { rejected++ })

	v.AddSignal(core.Signal{Monitor: "HSI", Symbol: "A", Action: core.ActionBuyCall}, testConfig())
	v.AddSignal(core.Signal{Monitor: "HSI", Symbol: "B", Action: core.ActionBuyCall}, testConfig())

	v.CancelAllForSymbol("A")

	assert.Equal(t, 1, rejected)
	assert.Equal(t, 1, v.GetPendingCount())
}

func TestVerifier_CancelAllForDirection(t *testing.T) {
	cache := newFakeCache()
	v := NewVerifier(cache, newTestLogger())

	v.AddSignal(core.Signal{Monitor: "HSI", Action: core.ActionBuyCall}, testConfig())
	v.AddSignal(core.Signal{Monitor: "HSI", Action: core.ActionBuyPut}, testConfig())

	v.CancelAllForDirection(core.DirectionLong)

	assert.Equal(t, 1, v.GetPendingCount())
}

func TestVerifier_CancelAll(t *testing.T) {
	cache := newFakeCache()
	v := NewVerifier(cache, newTestLogger())

	v.AddSignal(core.Signal{Monitor: "HSI", Action: core.ActionBuyCall}, testConfig())
	v.AddSignal(core.Signal{Monitor: "HSI", Action: core.ActionBuyPut}, testConfig())

	v.CancelAll()

	assert.Equal(t, 0, v.GetPendingCount())
}
