// File: pool/sysfs.go
// Author: momentics <momentics@gmail.com>
//
// Hugepage counters read from sysfs.

package pool

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Counters reports hugepage totals and free counts per NUMA socket.
type Counters interface {
	Sockets() int
	Free(socket int) (uint64, error)
	Total(socket int) (uint64, error)
}

// DefaultPageSizeKB is the 2 MiB hugepage size.
const DefaultPageSizeKB = 2048

// SysfsCounters reads <Root>/devices/system/node/node<N>/hugepages/hugepages-<KB>kB.
// Hosts without per-node directories are reported as one socket backed by
// <Root>/kernel/mm/hugepages.
type SysfsCounters struct {
	Root       string
	PageSizeKB int
}

// NewSysfsCounters returns counters over /sys for the default page size.
func NewSysfsCounters() *SysfsCounters {
	return &SysfsCounters{Root: "/sys", PageSizeKB: DefaultPageSizeKB}
}

func (c *SysfsCounters) pageDir(socket int) string {
	leaf := fmt.Sprintf("hugepages-%dkB", c.pageSizeKB())
	nodeDir := filepath.Join(c.Root, "devices", "system", "node", fmt.Sprintf("node%d", socket), "hugepages", leaf)
	if _, err := os.Stat(nodeDir); err == nil || socket > 0 {
		return nodeDir
	}
	return filepath.Join(c.Root, "kernel", "mm", "hugepages", leaf)
}

func (c *SysfsCounters) pageSizeKB() int {
	if c.PageSizeKB <= 0 {
		return DefaultPageSizeKB
	}
	return c.PageSizeKB
}

// Sockets counts node<N> directories; at least one socket is always reported.
func (c *SysfsCounters) Sockets() int {
	matches, _ := filepath.Glob(filepath.Join(c.Root, "devices", "system", "node", "node[0-9]*"))
	if len(matches) == 0 {
		return 1
	}
	return len(matches)
}

// Free returns free_hugepages for socket.
func (c *SysfsCounters) Free(socket int) (uint64, error) {
	return readCounter(filepath.Join(c.pageDir(socket), "free_hugepages"))
}

// Total returns nr_hugepages for socket.
func (c *SysfsCounters) Total(socket int) (uint64, error) {
	return readCounter(filepath.Join(c.pageDir(socket), "nr_hugepages"))
}

// Reclaimed reports whether every socket has all of its pages free.
func Reclaimed(c Counters) (bool, error) {
	for s := 0; s < c.Sockets(); s++ {
		free, err := c.Free(s)
		if err != nil {
			return false, err
		}
		total, err := c.Total(s)
		if err != nil {
			return false, err
		}
		if free < total {
			return false, nil
		}
	}
	return true, nil
}

func readCounter(path string) (uint64, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("hugepages: %w", err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("hugepages: parse %s: %w", path, err)
	}
	return n, nil
}
