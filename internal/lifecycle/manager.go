// Package lifecycle implements the day lifecycle manager: the state
// machine that carries the engine through midnight clearing and
// open-of-day rebuild for every registered cache domain (spec §4.8).
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"hkwarrant/internal/core"
)

// backoffCapMultiplier bounds the exponential retry backoff at
// baseDelay * 16 (spec §4.8, §7).
const backoffCapMultiplier = 16

// Manager drives the ACTIVE -> MIDNIGHT_CLEANING -> MIDNIGHT_CLEANED ->
// OPEN_REBUILDING -> ACTIVE cycle. currentDayKey only advances once
// every registered domain's midnight clear has succeeded; trading is
// enabled only while the state is ACTIVE.
type Manager struct {
	logger core.ILogger
	clock  core.IClock

	state          core.LifecycleState
	currentDayKey  string
	domains        []core.ICacheDomain
	baseBackoff    time.Duration
	sleep          func(time.Duration)
}

func NewManager(logger core.ILogger, clock core.IClock, baseBackoff time.Duration) *Manager {
	return &Manager{
		logger:      logger.WithField("component", "day_lifecycle_manager"),
		clock:       clock,
		state:       core.LifecycleActive,
		baseBackoff: baseBackoff,
		sleep:       time.Sleep,
	}
}

// RegisterDomain adds a participant to the midnight-clear / open-rebuild
// fan-out. Domains clear in registration order and rebuild in reverse.
func (m *Manager) RegisterDomain(d core.ICacheDomain) {
	m.domains = append(m.domains, d)
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() core.LifecycleState { return m.state }

// CurrentDayKey returns the HK date key the manager last committed to
// after a fully successful midnight clear.
func (m *Manager) CurrentDayKey() string { return m.currentDayKey }

// IsTradingEnabled reports whether new trading activity may proceed;
// true only while ACTIVE (spec §4.8).
func (m *Manager) IsTradingEnabled() bool { return m.state == core.LifecycleActive }

// RunMidnightClear transitions into MIDNIGHT_CLEANING and runs every
// registered domain's MidnightClear in forward registration order,
// retrying a failing domain with exponential backoff capped at
// baseDelay*16 before giving up. currentDayKey only advances to
// newDayKey once every domain has cleared; a failure anywhere leaves
// the prior day key and state in MIDNIGHT_CLEANING intact for the next
// attempt rather than silently half-advancing (spec §4.8 atomicity).
func (m *Manager) RunMidnightClear(ctx context.Context, newDayKey string) error {
	m.state = core.LifecycleMidnightCleaning

	for _, d := range m.domains {
		if err := m.withBackoff(ctx, fmt.Sprintf("midnight_clear:%s", d.Name()), func() error {
			return d.MidnightClear(ctx)
		}); err != nil {
			m.logger.Error("midnight clear failed, staying in MIDNIGHT_CLEANING", "domain", d.Name(), "error", err)
			return fmt.Errorf("lifecycle: midnight clear failed for %s: %w", d.Name(), err)
		}
	}

	m.currentDayKey = newDayKey
	m.state = core.LifecycleMidnightCleaned
	m.logger.Info("midnight clear complete", "day_key", newDayKey)
	return nil
}

// RunOpenRebuild transitions into OPEN_REBUILDING and runs every
// registered domain's OpenRebuild in reverse registration order,
// returning to ACTIVE only once every domain succeeds. On failure the
// state becomes OPEN_REBUILD_FAILED and trading stays disabled.
func (m *Manager) RunOpenRebuild(ctx context.Context) error {
	m.state = core.LifecycleOpenRebuilding

	for i := len(m.domains) - 1; i >= 0; i-- {
		d := m.domains[i]
		if err := m.withBackoff(ctx, fmt.Sprintf("open_rebuild:%s", d.Name()), func() error {
			return d.OpenRebuild(ctx)
		}); err != nil {
			m.state = core.LifecycleOpenRebuildFailed
			m.logger.Error("open rebuild failed", "domain", d.Name(), "error", err)
			return fmt.Errorf("lifecycle: open rebuild failed for %s: %w", d.Name(), err)
		}
	}

	m.state = core.LifecycleActive
	m.logger.Info("open rebuild complete, trading enabled")
	return nil
}

// withBackoff retries fn with exponential backoff (baseDelay *
// 2^(attempt-1)) until the multiplier would exceed backoffCapMultiplier,
// then gives up and returns the last error.
func (m *Manager) withBackoff(ctx context.Context, opName string, fn func() error) error {
	var lastErr error
	multiplier := 1
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		m.logger.Warn("lifecycle step failed, retrying", "op", opName, "attempt", attempt, "error", lastErr)

		if multiplier > backoffCapMultiplier {
			return lastErr
		}
		delay := m.baseBackoff * time.Duration(multiplier)
		m.sleep(delay)
		multiplier *= 2
	}
}
