package eventship

import (
	"runtime"
	"sync"

	"github.com/bft-labs/eventship/pkg/log"
)

// ResourceGatingConfig holds configuration options for resource gating.
// Resource gating pauses delivery workers while the host process is under
// heavy load. Tasks stay queued and are claimed once load drops.
type ResourceGatingConfig struct {
	// Enabled controls whether resource gating is active.
	Enabled bool

	// CPUThreshold is the approximate CPU usage fraction (0.0-1.0) above
	// which claiming is paused. Default: 0.85
	CPUThreshold float64
}

// DefaultResourceGatingConfig returns a ResourceGatingConfig with sensible defaults.
func DefaultResourceGatingConfig() ResourceGatingConfig {
	return ResourceGatingConfig{
		Enabled:      true,
		CPUThreshold: 0.85,
	}
}

// WithResourceGatingConfig enables resource gating with the specified configuration.
//
// Usage:
//
//	h, err := eventship.Install(ctx, cfg,
//	    eventship.WithResourceGatingConfig(eventship.ResourceGatingConfig{
//	        Enabled:      true,
//	        CPUThreshold: 0.90,
//	    }),
//	)
func WithResourceGatingConfig(cfg ResourceGatingConfig) Option {
	if !cfg.Enabled {
		return func(o *options) {}
	}
	if cfg.CPUThreshold <= 0 {
		cfg.CPUThreshold = 0.85
	}
	return func(o *options) {
		o.resourceGatingConfig = &cfg
	}
}

// resourceGate implements queue.Gate.
type resourceGate struct {
	mu           sync.RWMutex
	cpuThreshold float64
	logger       log.Logger

	numGoroutine func() int
	numCPU       func() int
}

func newResourceGate(cfg ResourceGatingConfig, logger log.Logger) *resourceGate {
	return &resourceGate{
		cpuThreshold: cfg.CPUThreshold,
		logger:       log.OrNoop(logger),
		numGoroutine: runtime.NumGoroutine,
		numCPU:       runtime.NumCPU,
	}
}

// goroutinesPerCPUAtFullLoad maps goroutine count to an approximate CPU
// load: 12 goroutines per CPU counts as fully loaded.
const goroutinesPerCPUAtFullLoad = 12.0

// OK reports whether workers may claim more tasks.
// Uses goroutine count as a proxy for load.
func (g *resourceGate) OK() bool {
	g.mu.RLock()
	threshold := g.cpuThreshold
	g.mu.RUnlock()

	numGoroutines := g.numGoroutine()
	numCPU := g.numCPU()
	if numCPU <= 0 {
		numCPU = 1
	}

	approxLoad := float64(numGoroutines) / float64(numCPU) / goroutinesPerCPUAtFullLoad
	if approxLoad > 1.0 {
		approxLoad = 1.0
	}

	if approxLoad > threshold {
		g.logger.Debug("resource gate: high load, pausing delivery",
			log.Int("goroutines", numGoroutines),
			log.Int("cpus", numCPU),
			log.Float64("approx_load", approxLoad),
			log.Float64("threshold", threshold),
		)
		return false
	}
	return true
}
