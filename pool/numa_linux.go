//go:build linux
// +build linux

// File: pool/numa_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux allocator: shared file mappings placed with mbind(2).

package pool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mpolBind = 2
	// MADV_POPULATE_WRITE, Linux 5.14+.
	madvPopulateWrite = 23
)

// linuxNUMAAllocator is a NUMA allocator implementation for Linux.
type linuxNUMAAllocator struct{}

func createNUMAAllocator() NUMAAllocator {
	return &linuxNUMAAllocator{}
}

// Alloc maps f and faults its pages in. With node >= 0 the policy is set
// before the first fault: mbind does not move pages that already exist.
func (l *linuxNUMAAllocator) Alloc(f *os.File, size int, node int) ([]byte, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	if node >= 0 {
		if err := bindNode(mem, node); err != nil {
			unix.Munmap(mem)
			return nil, err
		}
	}
	if err := populate(mem); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("populate %s: %w", f.Name(), err)
	}
	return mem, nil
}

func bindNode(mem []byte, node int) error {
	var mask [16]uint64
	if node >= len(mask)*64 {
		return fmt.Errorf("numa node %d out of range", node)
	}
	mask[node/64] |= 1 << (uint(node) % 64)
	_, _, errno := unix.Syscall6(unix.SYS_MBIND,
		uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)), mpolBind,
		uintptr(unsafe.Pointer(&mask[0])), uintptr(len(mask)*64), 0)
	if errno != 0 {
		return fmt.Errorf("mbind node %d: %w", node, errno)
	}
	return nil
}

// populate faults every page of mem for writing. Kernels without
// MADV_POPULATE_WRITE get one store per base page instead.
func populate(mem []byte) error {
	err := unix.Madvise(mem, madvPopulateWrite)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINVAL) {
		return err
	}
	step := os.Getpagesize()
	for i := 0; i < len(mem); i += step {
		mem[i] = 0
	}
	return nil
}

func (l *linuxNUMAAllocator) Free(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	return unix.Munmap(buf)
}

func (l *linuxNUMAAllocator) Nodes() (int, error) {
	matches, err := filepath.Glob("/sys/devices/system/node/node[0-9]*")
	if err != nil || len(matches) == 0 {
		return 1, fmt.Errorf("NUMA not available")
	}
	return len(matches), nil
}
