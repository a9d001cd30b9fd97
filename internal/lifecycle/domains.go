package lifecycle

import (
	"context"

	"hkwarrant/internal/core"
	"hkwarrant/internal/order"
	"hkwarrant/internal/risk"
	"hkwarrant/internal/seat"
)

// seatRegistryDomain adapts seat.Registry into an ICacheDomain. Seat
// re-adoption after open rebuild is driven by the auto-symbol manager
// during normal trading ticks, not by the lifecycle fan-out itself, so
// OpenRebuild is a no-op here.
type seatRegistryDomain struct {
	registry *seat.Registry
}

func NewSeatRegistryDomain(r *seat.Registry) core.ICacheDomain {
	return &seatRegistryDomain{registry: r}
}

func (d *seatRegistryDomain) Name() string { return "seat_registry" }

func (d *seatRegistryDomain) MidnightClear(ctx context.Context) error {
	d.registry.ClearAll()
	return nil
}

func (d *seatRegistryDomain) OpenRebuild(ctx context.Context) error { return nil }

// cooldownTrackerDomain adapts seat.CooldownTracker into an ICacheDomain.
type cooldownTrackerDomain struct {
	tracker *seat.CooldownTracker
}

func NewCooldownTrackerDomain(t *seat.CooldownTracker) core.ICacheDomain {
	return &cooldownTrackerDomain{tracker: t}
}

func (d *cooldownTrackerDomain) Name() string { return "cooldown_tracker" }

func (d *cooldownTrackerDomain) MidnightClear(ctx context.Context) error {
	d.tracker.ClearAll()
	return nil
}

func (d *cooldownTrackerDomain) OpenRebuild(ctx context.Context) error { return nil }

// RiskRebuildFunc supplies the recovered order history the risk manager
// needs to recompute its daily loss offsets on open rebuild.
type RiskRebuildFunc func(ctx context.Context) ([]risk.PositionOrders, error)

// riskManagerDomain adapts risk.Manager into an ICacheDomain. OpenRebuild
// is a no-op when no rebuild hook is supplied, since a freshly started
// engine with no broker history has nothing to recalculate from.
type riskManagerDomain struct {
	manager *risk.Manager
	rebuild RiskRebuildFunc
}

func NewRiskManagerDomain(m *risk.Manager, rebuild RiskRebuildFunc) core.ICacheDomain {
	return &riskManagerDomain{manager: m, rebuild: rebuild}
}

func (d *riskManagerDomain) Name() string { return "risk_manager" }

func (d *riskManagerDomain) MidnightClear(ctx context.Context) error {
	d.manager.ResetAll()
	return nil
}

func (d *riskManagerDomain) OpenRebuild(ctx context.Context) error {
	if d.rebuild == nil {
		return nil
	}
	positions, err := d.rebuild(ctx)
	if err != nil {
		return err
	}
	d.manager.RecalculateFromAllOrders(positions)
	return nil
}

// RecorderSymbolsFunc supplies the set of symbols the order recorder
// should re-fetch order history for on open rebuild.
type RecorderSymbolsFunc func(ctx context.Context) ([]string, error)

// orderRecorderDomain adapts order.Recorder into an ICacheDomain.
type orderRecorderDomain struct {
	recorder *order.Recorder
	symbols  RecorderSymbolsFunc
}

func NewOrderRecorderDomain(r *order.Recorder, symbols RecorderSymbolsFunc) core.ICacheDomain {
	return &orderRecorderDomain{recorder: r, symbols: symbols}
}

func (d *orderRecorderDomain) Name() string { return "order_recorder" }

func (d *orderRecorderDomain) MidnightClear(ctx context.Context) error {
	d.recorder.ClearAll()
	return nil
}

func (d *orderRecorderDomain) OpenRebuild(ctx context.Context) error {
	if d.symbols == nil {
		return nil
	}
	symbols, err := d.symbols(ctx)
	if err != nil {
		return err
	}
	return d.recorder.RebuildFromBroker(ctx, symbols)
}
