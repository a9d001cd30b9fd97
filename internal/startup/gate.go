// Package startup implements the startup gate that blocks the main
// tick loop from entering until the market is actually open for
// trading (spec §4.11).
package startup

import (
	"context"
	"fmt"
	"time"

	"hkwarrant/internal/core"
)

// SessionWindow is a single continuous HK-time trading session.
type SessionWindow struct {
	StartHour, StartMinute int
	EndHour, EndMinute     int
}

// Gate blocks entry into the main loop until, in strict mode, today is
// a trading day, the current HK time falls within the configured
// session, and the open-protection window since session start has
// elapsed. Skip mode (Strict == false) is a no-op.
type Gate struct {
	logger core.ILogger
	quote  core.IBrokerQuoteClient

	market               string
	session              SessionWindow
	openProtectionWindow time.Duration
	pollInterval         time.Duration
	strict               bool

	lastLoggedReason string
}

func NewGate(
	logger core.ILogger,
	quote core.IBrokerQuoteClient,
	market string,
	session SessionWindow,
	openProtectionWindow time.Duration,
	pollInterval time.Duration,
	strict bool,
) *Gate {
	return &Gate{
		logger:               logger.WithField("component", "startup_gate"),
		quote:                quote,
		market:               market,
		session:              session,
		openProtectionWindow: openProtectionWindow,
		pollInterval:         pollInterval,
		strict:               strict,
	}
}

// Wait blocks until the gate is open, polling at pollInterval and
// logging only when the blocking reason changes. It returns early if
// ctx is cancelled.
func (g *Gate) Wait(ctx context.Context, nowMs func() int64) error {
	if !g.strict {
		g.logger.Info("startup gate in skip mode, entering immediately")
		return nil
	}

	for {
		ready, reason, err := g.checkOnce(ctx, nowMs())
		if err != nil {
			return fmt.Errorf("startup gate: %w", err)
		}
		if ready {
			g.logState("trading session open, entering main loop")
			return nil
		}
		g.logState(reason)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.pollInterval):
		}
	}
}

func (g *Gate) logState(reason string) {
	if reason == g.lastLoggedReason {
		return
	}
	g.lastLoggedReason = reason
	g.logger.Info("startup gate state", "reason", reason)
}

// checkOnce evaluates strict-mode readiness against nowMs, in order:
// trading day, session window, open-protection window.
func (g *Gate) checkOnce(ctx context.Context, nowMs int64) (ready bool, reason string, err error) {
	now := time.UnixMilli(nowMs).In(core.HKLocation)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, core.HKLocation)
	dayEnd := dayStart.Add(24 * time.Hour)

	days, err := g.quote.TradingDays(ctx, g.market, dayStart, dayEnd)
	if err != nil {
		return false, "", fmt.Errorf("check trading day: %w", err)
	}
	if len(days) == 0 {
		return false, "not a trading day", nil
	}

	sessionStart := time.Date(now.Year(), now.Month(), now.Day(), g.session.StartHour, g.session.StartMinute, 0, 0, core.HKLocation)
	sessionEnd := time.Date(now.Year(), now.Month(), now.Day(), g.session.EndHour, g.session.EndMinute, 0, 0, core.HKLocation)
	if now.Before(sessionStart) || !now.Before(sessionEnd) {
		return false, "outside trading session", nil
	}

	protectedUntil := sessionStart.Add(g.openProtectionWindow)
	if now.Before(protectedUntil) {
		return false, "within open-protection window", nil
	}

	return true, "", nil
}
