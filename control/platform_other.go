//go:build !linux

// control/platform_other.go
// Author: momentics <momentics@gmail.com>

package control

import "runtime"

// PageCounters reports hugepage totals and free counts per NUMA socket.
type PageCounters interface {
	Sockets() int
	Free(socket int) (uint64, error)
	Total(socket int) (uint64, error)
}

// RegisterPlatformProbes only reports the CPU count off Linux.
func RegisterPlatformProbes(dp *DebugProbes, _ PageCounters) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
}
