package signal

import (
	"hkwarrant/internal/core"
	"hkwarrant/internal/indicator"
)

// Cache is the indicator cache surface the pipeline writes to and the
// verifier reads from.
type Cache interface {
	IndicatorCache
	Push(monitor string, nowMs int64, snapshot *core.IndicatorSnapshot)
}

// Pipeline computes a fresh indicator snapshot per tick, pushes it to
// the cache, asks the strategy for close signals, and routes delayed
// signals into the verifier (spec §4.3).
type Pipeline struct {
	cache    Cache
	computer *indicator.Computer
	strategy core.IStrategy
	verifier *Verifier
	logger   core.ILogger
}

func NewPipeline(cache Cache, computer *indicator.Computer, strategy core.IStrategy, verifier *Verifier, logger core.ILogger) *Pipeline {
	return &Pipeline{
		cache:    cache,
		computer: computer,
		strategy: strategy,
		verifier: verifier,
		logger:   logger.WithField("component", "indicator_pipeline"),
	}
}

// Process computes the snapshot for monitor from its latest closed
// candles, caches it, and returns the strategy's immediate signals
// after enqueueing its delayed ones with the verifier.
func (p *Pipeline) Process(
	monitor string,
	nowMs int64,
	candles []core.Candle,
	cfg core.MonitorConfig,
	seats map[core.Direction]core.Seat,
) ([]core.Signal, error) {
	snapshot, err := p.computer.Compute(monitor, candles)
	if err != nil {
		return nil, err
	}
	p.cache.Push(monitor, nowMs, snapshot)

	immediate, delayed := p.strategy.GenerateCloseSignals(monitor, snapshot, seats)
	for _, sig := range delayed {
		if sig.TriggerTime == 0 {
			sig.TriggerTime = nowMs
		}
		p.verifier.AddSignal(sig, cfg)
	}
	return immediate, nil
}
