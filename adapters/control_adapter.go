// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control interface using control package primitives.

package adapters

import (
	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
)

// ControlAdapter bundles the config store, metrics and debug probes of one process.
type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
}

var _ api.Control = (*ControlAdapter)(nil)

// NewControlAdapter wires a fresh control plane. pages may be nil when no
// hugepage counters are available.
func NewControlAdapter(metricsNamespace string, pages control.PageCounters) *ControlAdapter {
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(),
		metrics: control.NewMetricsRegistry(metricsNamespace),
		debug:   control.NewDebugProbes(),
	}
	control.RegisterPlatformProbes(adapter.debug, pages)
	return adapter
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	c.config.SetConfigSync(cfg)
	return nil
}

// Stats merges metric values with the output of every debug probe.
func (c *ControlAdapter) Stats() map[string]any {
	stats := c.metrics.GetSnapshot()
	debugStats := c.debug.DumpState()
	combined := make(map[string]any, len(stats)+len(debugStats))
	for k, v := range stats {
		combined[k] = v
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(fn)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// Config exposes the underlying store for typed reads.
func (c *ControlAdapter) Config() *control.ConfigStore { return c.config }

// Metrics exposes the metrics registry.
func (c *ControlAdapter) Metrics() *control.MetricsRegistry { return c.metrics }
