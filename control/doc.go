// Package control
// Author: momentics <momentics@gmail.com>
//
// Hot-reload, runtime metrics, configuration control, and debug introspection layer.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot config reads, YAML file loading and typed accessors
//   - Reload listeners that let long-lived components re-read timing
//   - Prometheus-backed counters and gauges
//   - Debug probe registration for hugepage and platform state
package control
