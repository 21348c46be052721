//go:build linux
// +build linux

// control/platform_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux-specific platform metrics or debug probe integrations.

package control

import (
	"fmt"
	"runtime"
)

// PageCounters reports hugepage totals and free counts per NUMA socket.
type PageCounters interface {
	Sockets() int
	Free(socket int) (uint64, error)
	Total(socket int) (uint64, error)
}

// RegisterPlatformProbes sets Linux-specific debug metrics. pages may be nil.
func RegisterPlatformProbes(dp *DebugProbes, pages PageCounters) {
	dp.RegisterProbe("platform.cpus", func() any {
		return runtime.NumCPU()
	})
	if pages == nil {
		return
	}
	for s := 0; s < pages.Sockets(); s++ {
		socket := s
		dp.RegisterProbe(fmt.Sprintf("hugepages.socket%d.free", socket), func() any {
			n, err := pages.Free(socket)
			if err != nil {
				return err.Error()
			}
			return n
		})
		dp.RegisterProbe(fmt.Sprintf("hugepages.socket%d.total", socket), func() any {
			n, err := pages.Total(socket)
			if err != nil {
				return err.Error()
			}
			return n
		})
	}
}
