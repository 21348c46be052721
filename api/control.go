// File: api/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Control interface for dynamic config and runtime metrics.

package api

// Control manages dynamic config and runtime metrics.
type Control interface {
	GetConfig() map[string]any
	SetConfig(cfg map[string]any) error
	Stats() map[string]any
	OnReload(fn func())
	RegisterDebugProbe(name string, fn func() any)
}

// GracefulShutdown stops internal services and releases their resources.
type GracefulShutdown interface {
	Shutdown() error
}
