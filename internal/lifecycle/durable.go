package lifecycle

import (
	"context"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"hkwarrant/internal/core"
)

// DurableManager wraps Manager's midnight-clear and open-rebuild steps
// in DBOS workflows so a crash mid-clear resumes the same steps rather
// than silently skipping ahead (spec §4.8 durability). The caller
// supplies an already-constructed dbos.DBOSContext; DurableManager only
// registers workflows against it and drives them.
type DurableManager struct {
	dbosCtx dbos.DBOSContext
	inner   *Manager
	logger  core.ILogger
}

func NewDurableManager(dbosCtx dbos.DBOSContext, inner *Manager, logger core.ILogger) *DurableManager {
	return &DurableManager{
		dbosCtx: dbosCtx,
		inner:   inner,
		logger:  logger.WithField("component", "durable_day_lifecycle_manager"),
	}
}

// Start launches the DBOS runtime so workflows registered against
// dbosCtx can be dispatched and recovered.
func (d *DurableManager) Start() error {
	return d.dbosCtx.Launch()
}

// Stop shuts the DBOS runtime down, giving in-flight workflows up to
// 30 seconds to finish their current step.
func (d *DurableManager) Stop() error {
	return d.dbosCtx.Shutdown(30 * time.Second)
}

// midnightClearInput carries the new day key through the workflow
// boundary, which only accepts a single any-typed input.
type midnightClearInput struct {
	NewDayKey string
}

// MidnightClearWorkflow runs RunMidnightClear as a single durable step;
// on replay after a crash, DBOS returns the step's already-committed
// result instead of re-running it.
func (d *DurableManager) MidnightClearWorkflow(ctx dbos.DBOSContext, input any) (any, error) {
	in := input.(midnightClearInput)
	return ctx.RunAsStep(ctx, func(ctx context.Context) (any, error) {
		return nil, d.inner.RunMidnightClear(ctx, in.NewDayKey)
	})
}

// OpenRebuildWorkflow runs RunOpenRebuild as a single durable step.
func (d *DurableManager) OpenRebuildWorkflow(ctx dbos.DBOSContext, input any) (any, error) {
	return ctx.RunAsStep(ctx, func(ctx context.Context) (any, error) {
		return nil, d.inner.RunOpenRebuild(ctx)
	})
}

// RunMidnightClear dispatches MidnightClearWorkflow and blocks for its
// result.
func (d *DurableManager) RunMidnightClear(ctx context.Context, newDayKey string) error {
	handle, err := d.dbosCtx.RunWorkflow(d.dbosCtx, d.MidnightClearWorkflow, midnightClearInput{NewDayKey: newDayKey})
	if err != nil {
		return err
	}
	_, err = handle.GetResult()
	return err
}

// RunOpenRebuild dispatches OpenRebuildWorkflow and blocks for its
// result.
func (d *DurableManager) RunOpenRebuild(ctx context.Context) error {
	handle, err := d.dbosCtx.RunWorkflow(d.dbosCtx, d.OpenRebuildWorkflow, nil)
	if err != nil {
		return err
	}
	_, err = handle.GetResult()
	return err
}

// State, CurrentDayKey and IsTradingEnabled pass through to the
// wrapped in-memory manager; they are read-only and need no durability
// wrapper of their own.
func (d *DurableManager) State() core.LifecycleState    { return d.inner.State() }
func (d *DurableManager) CurrentDayKey() string         { return d.inner.CurrentDayKey() }
func (d *DurableManager) IsTradingEnabled() bool        { return d.inner.IsTradingEnabled() }
func (d *DurableManager) RegisterDomain(dom core.ICacheDomain) { d.inner.RegisterDomain(dom) }
