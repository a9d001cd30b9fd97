// Package safety provides pre-trade sanity checks that run before the
// engine is allowed to submit live orders.
package safety

import (
	"fmt"

	"github.com/shopspring/decimal"

	"hkwarrant/internal/core"
)

// Checker validates monitor configuration and individual order requests
// for obviously unsafe parameters before they reach the broker.
type Checker struct {
	logger core.ILogger
}

// NewChecker creates a new pre-trade checker.
func NewChecker(logger core.ILogger) *Checker {
	return &Checker{logger: logger.WithField("component", "safety_checker")}
}

// ValidateMonitorConfig checks a monitor's static configuration for
// internally-inconsistent or unsafe values before the monitor is started.
func (c *Checker) ValidateMonitorConfig(cfg core.MonitorConfig) error {
	if cfg.Code == "" {
		return fmt.Errorf("monitor code cannot be empty")
	}

	if cfg.LotSize <= 0 {
		return fmt.Errorf("monitor %s: lot size must be positive: %d", cfg.Code, cfg.LotSize)
	}

	if cfg.TargetNotional.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("monitor %s: target notional must be positive: %s", cfg.Code, cfg.TargetNotional)
	}

	if cfg.AutoSearch.Enabled {
		if cfg.AutoSearch.MinDistanceToRecallPct.IsZero() {
			c.logger.Warn("auto-search min distance to recall is zero, may select near-knockout warrants", "monitor", cfg.Code)
		}
		if cfg.AutoSearch.MaxSearchFailuresPerDay <= 0 {
			return fmt.Errorf("monitor %s: max_search_failures_per_day must be positive", cfg.Code)
		}
		if cfg.AutoSearch.SwitchDistanceRangeMin.GreaterThanOrEqual(cfg.AutoSearch.SwitchDistanceRangeMax) {
			return fmt.Errorf("monitor %s: switch distance range min must be < max", cfg.Code)
		}
	} else if cfg.StaticLongWarrant == "" && cfg.StaticShortWarrant == "" {
		return fmt.Errorf("monitor %s: auto-search disabled but no static warrant configured", cfg.Code)
	}

	if cfg.RiskMaxUnrealizedLossPerSymbol.LessThan(decimal.Zero) {
		return fmt.Errorf("monitor %s: risk_max_unrealized_loss_per_symbol cannot be negative", cfg.Code)
	}

	return nil
}

// ValidateOrderRequest checks an about-to-be-submitted order's quantity is
// a positive integer multiple of the instrument's lot size and that the
// price is not negative (zero is accepted, for orders sent without a
// limit price).
func (c *Checker) ValidateOrderRequest(lotSize int64, qty decimal.Decimal, price decimal.Decimal) error {
	if lotSize <= 0 {
		return fmt.Errorf("invalid lot size: %d", lotSize)
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("order quantity must be positive: %s", qty)
	}
	if !price.IsZero() && price.LessThan(decimal.Zero) {
		return fmt.Errorf("order price cannot be negative: %s", price)
	}
	lot := decimal.NewFromInt(lotSize)
	if !qty.Div(lot).Equal(qty.Div(lot).Truncate(0)) {
		return fmt.Errorf("order quantity %s is not an integer multiple of lot size %d", qty, lotSize)
	}
	return nil
}
