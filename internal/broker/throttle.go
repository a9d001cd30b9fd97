// Package broker implements the thin client side of the external
// broker interfaces: rate limiting, retry/circuit-breaker resilience
// around transient errors, and a push-event receiver shape (spec §6,
// §4.13).
package broker

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// minSpacing is the minimum interval enforced between broker calls
// (spec §6 "the broker API must not be called more often than once per
// ~30ms").
const minSpacing = 30 * time.Millisecond

// Throttle spaces out broker calls so a burst of per-monitor work never
// exceeds the broker's rate limit.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle builds a Throttle enforcing at most one call per spacing;
// spacing defaults to minSpacing when zero or negative.
func NewThrottle(spacing time.Duration) *Throttle {
	if spacing <= 0 {
		spacing = minSpacing
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Every(spacing), 1)}
}

// Wait blocks until the next call is allowed or ctx is cancelled.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
