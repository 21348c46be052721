//go:build !linux
// +build !linux

// File: pool/numa_stub.go
// Author: momentics <momentics@gmail.com>
//
// Arenas are Linux only; other platforms get no allocator.

package pool

func createNUMAAllocator() NUMAAllocator {
	return nil
}
