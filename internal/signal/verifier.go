// Package signal holds the delayed signal verifier and the per-tick
// pipeline that feeds it from freshly computed indicator snapshots
// (spec §4.2, §4.3).
package signal

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hkwarrant/internal/core"
)

// State is the delayed signal verifier's per-signal state machine
// (spec §4.2): waiting_for_ready_delay -> verifying -> passed|failed|cancelled.
type State string

const (
	StateWaitingForReadyDelay State = "waiting_for_ready_delay"
	StateVerifying            State = "verifying"
	StatePassed               State = "passed"
	StateFailed               State = "failed"
	StateCancelled            State = "cancelled"
)

// toleranceMs is the fixed +/-5s window the verifier accepts when
// looking up an indicator cache entry for a checkpoint (spec §4.2).
const toleranceMs = 5000

// IndicatorCache is the subset of internal/indicator.Cache the verifier
// depends on, kept as a narrow interface to avoid coupling the package
// to the cache's concrete ring implementation.
type IndicatorCache interface {
	GetAt(monitor string, targetMs, toleranceMs int64) *core.IndicatorSnapshot
}

// pending tracks one in-flight delayed signal.
type pending struct {
	signal     core.Signal
	delaysMs   []int64
	indicators []string
	t0         int64

	state      State
	checked    []bool                        // parallel to delaysMs
	values     map[string][]decimal.Decimal  // indicator name -> observed values, in checkpoint order
	t0Values   map[string]decimal.Decimal    // indicator name -> value at T0, fetched once
	failReason string
}

// Verifier implements the delayed signal verifier (spec §4.2).
type Verifier struct {
	cache  IndicatorCache
	logger core.ILogger

	onVerified func(core.Signal)
	onRejected func(core.Signal, string)

	items []*pending
}

func NewVerifier(cache IndicatorCache, logger core.ILogger) *Verifier {
	return &Verifier{
		cache:  cache,
		logger: logger.WithField("component", "delayed_verifier"),
	}
}

// OnVerified registers the callback invoked when a signal passes
// verification at every configured checkpoint.
func (v *Verifier) OnVerified(cb func(core.Signal)) { v.onVerified = cb }

// OnRejected registers the callback invoked when a signal fails or is
// cancelled, with a human-readable reason.
func (v *Verifier) OnRejected(cb func(core.Signal, string)) { v.onRejected = cb }

// AddSignal enqueues a delayed signal for verification using the
// monitor's configured delay checkpoints and the indicator list
// registered for the signal's direction.
func (v *Verifier) AddSignal(sig core.Signal, cfg core.MonitorConfig) {
	dir := directionOf(sig.Action)
	vc := cfg.VerificationByDirection[dir]

	delaysMs := make([]int64, len(cfg.VerificationDelaysSeconds))
	for i, s := range cfg.VerificationDelaysSeconds {
		delaysMs[i] = int64(s) * 1000
	}

	p := &pending{
		signal:     sig,
		delaysMs:   delaysMs,
		indicators: vc.Indicators,
		t0:         sig.TriggerTime,
		state:      StateWaitingForReadyDelay,
		checked:    make([]bool, len(delaysMs)),
		values:     make(map[string][]decimal.Decimal, len(vc.Indicators)),
	}
	v.items = append(v.items, p)
}

// directionOf maps an action to the seat direction it concerns. BUYCALL
// opens and SELLCALL closes the long (bull) seat; BUYPUT opens and
// SELLPUT closes the short (bear) seat.
func directionOf(a core.Action) core.Direction {
	switch a {
	case core.ActionBuyCall, core.ActionSellCall:
		return core.DirectionLong
	default:
		return core.DirectionShort
	}
}

// CancelAllForSymbol cancels every pending signal for symbol.
func (v *Verifier) CancelAllForSymbol(symbol string) {
	v.cancelWhere(func(p *pending) bool { return p.signal.Symbol == symbol })
}

// CancelAllForDirection cancels every pending signal whose action
// belongs to direction.
func (v *Verifier) CancelAllForDirection(dir core.Direction) {
	v.cancelWhere(func(p *pending) bool { return directionOf(p.signal.Action) == dir })
}

// CancelAll cancels every pending signal.
func (v *Verifier) CancelAll() {
	v.cancelWhere(func(*pending) bool { return true })
}

func (v *Verifier) cancelWhere(match func(*pending) bool) {
	for _, p := range v.items {
		if isTerminal(p.state) || !match(p) {
			continue
		}
		p.state = StateCancelled
		p.failReason = "cancelled"
		if v.onRejected != nil {
			v.onRejected(p.signal, p.failReason)
		}
	}
	v.compact()
}

// GetPendingCount returns the number of signals still awaiting a
// verdict.
func (v *Verifier) GetPendingCount() int {
	n := 0
	for _, p := range v.items {
		if !isTerminal(p.state) {
			n++
		}
	}
	return n
}

func isTerminal(s State) bool {
	return s == StatePassed || s == StateFailed || s == StateCancelled
}

// Tick advances every pending signal's state given the current wall
// clock, looking up due checkpoints in the indicator cache and
// resolving pass/fail verdicts.
func (v *Verifier) Tick(nowMs int64) {
	for _, p := range v.items {
		if isTerminal(p.state) {
			continue
		}
		v.advance(p, nowMs)
	}
	v.compact()
}

func (v *Verifier) advance(p *pending, nowMs int64) {
	if p.t0Values == nil {
		snap := v.cache.GetAt(p.signal.Monitor, p.t0, toleranceMs)
		if snap == nil {
			if nowMs <= p.t0+toleranceMs {
				return // still within the window; try again next tick
			}
			v.fail(p, "缺少时间点数据: T0")
			return
		}
		vals := make(map[string]decimal.Decimal, len(p.indicators))
		for _, name := range p.indicators {
			val, ok := snap.Value(name)
			if !ok {
				v.fail(p, fmt.Sprintf("缺少指标数据: %s @ T0", name))
				return
			}
			vals[name] = val
		}
		p.t0Values = vals
	}

	for i, delay := range p.delaysMs {
		if p.checked[i] {
			continue
		}
		checkpoint := p.t0 + delay
		if nowMs < checkpoint-toleranceMs {
			return // this and all later checkpoints are still in the future
		}

		p.state = StateVerifying
		snap := v.cache.GetAt(p.signal.Monitor, checkpoint, toleranceMs)
		if snap == nil {
			if nowMs <= checkpoint+toleranceMs {
				return // still within the window; try again next tick
			}
			v.fail(p, fmt.Sprintf("缺少时间点数据: T0+%ds", delay/1000))
			return
		}

		for _, name := range p.indicators {
			val, ok := snap.Value(name)
			if !ok {
				v.fail(p, fmt.Sprintf("缺少指标数据: %s @ T0+%ds", name, delay/1000))
				return
			}
			p.values[name] = append(p.values[name], val)
		}
		p.checked[i] = true

		if reason, ok := checkAgainstT0(p); !ok {
			v.fail(p, reason)
			return
		}
	}

	allChecked := true
	for _, c := range p.checked {
		if !c {
			allChecked = false
			break
		}
	}
	if allChecked {
		p.state = StatePassed
		if v.onVerified != nil {
			v.onVerified(p.signal)
		}
	}
}

// checkAgainstT0 reports whether every indicator's most recently
// observed checkpoint value is still strictly beyond its T0 value in
// the expected direction — strictly greater for up-trend actions,
// strictly less for down-trend actions — per spec §4.2's confirmation
// rule (TESTABLE property 10): every checkpoint is compared to T0, not
// to the previous checkpoint. Returns the failing "name=value<=>t0value"
// reason on the first violation.
func checkAgainstT0(p *pending) (string, bool) {
	up := p.signal.Action.IsUpTrend()
	for _, name := range p.indicators {
		series := p.values[name]
		if len(series) == 0 {
			continue
		}
		latest := series[len(series)-1]
		t0Val := p.t0Values[name]
		if up && !latest.GreaterThan(t0Val) {
			return fmt.Sprintf("%s=%s<=%s", name, latest.StringFixed(3), t0Val.StringFixed(3)), false
		}
		if !up && !latest.LessThan(t0Val) {
			return fmt.Sprintf("%s=%s>=%s", name, latest.StringFixed(3), t0Val.StringFixed(3)), false
		}
	}
	return "", true
}

func (v *Verifier) fail(p *pending, reason string) {
	p.state = StateFailed
	p.failReason = reason
	if v.onRejected != nil {
		v.onRejected(p.signal, reason)
	}
}

// compact drops terminal entries so the pending list doesn't grow
// without bound across a trading day.
func (v *Verifier) compact() {
	live := v.items[:0]
	for _, p := range v.items {
		if !isTerminal(p.state) {
			live = append(live, p)
		}
	}
	v.items = live
}
