// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral API for CPU affinity. Platform-specific implementations are
// located in separate files guarded by build tags.

package affinity

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// NodeRoot is the sysfs directory listing NUMA nodes.
var NodeRoot = "/sys/devices/system/node"

// SetAffinity pins the current OS thread to a single logical CPU.
// The caller must hold runtime.LockOSThread for the pin to stick.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform([]int{cpuID})
}

// PinToNode pins the current OS thread to every CPU of a NUMA node.
func PinToNode(node int) error {
	cpus, err := NodeCPUs(node)
	if err != nil {
		return err
	}
	return setAffinityPlatform(cpus)
}

// NodeCPUs returns the CPUs that belong to node.
func NodeCPUs(node int) ([]int, error) {
	raw, err := os.ReadFile(filepath.Join(NodeRoot, fmt.Sprintf("node%d", node), "cpulist"))
	if err != nil {
		return nil, fmt.Errorf("affinity: node %d: %w", node, err)
	}
	cpus, err := ParseCPUList(string(raw))
	if err != nil {
		return nil, fmt.Errorf("affinity: node %d: %w", node, err)
	}
	if len(cpus) == 0 {
		return nil, fmt.Errorf("affinity: node %d has no cpus", node)
	}
	return cpus, nil
}

// ParseCPUList parses the kernel list format ("0-3,8,10-11").
func ParseCPUList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		lo, hi, ranged := strings.Cut(part, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("cpu list %q: %w", s, err)
		}
		b := a
		if ranged {
			if b, err = strconv.Atoi(hi); err != nil {
				return nil, fmt.Errorf("cpu list %q: %w", s, err)
			}
		}
		if a < 0 || b < a {
			return nil, fmt.Errorf("cpu list %q: bad range %q", s, part)
		}
		for c := a; c <= b; c++ {
			out = append(out, c)
		}
	}
	return out, nil
}
