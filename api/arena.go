// File: api/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Arena data model shared by the controller, the wire protocol and clients.

package api

import (
	"fmt"
	"strings"
)

const (
	// MaxNamespaceLen bounds the namespace field of the fixed-layout request.
	MaxNamespaceLen = 64
	// MaxSockets bounds the per-socket budget array.
	MaxSockets = 8
)

// ArenaState is the lifecycle state reported for an arena record.
type ArenaState uint8

const (
	ArenaUninitialized ArenaState = iota
	ArenaInitialized
	ArenaFailed
)

func (s ArenaState) String() string {
	switch s {
	case ArenaUninitialized:
		return "UNINITIALIZED"
	case ArenaInitialized:
		return "INITIALIZED"
	case ArenaFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("ArenaState(%d)", uint8(s))
	}
}

// Budget is a per-NUMA-socket hugepage count.
type Budget [MaxSockets]uint32

// Total returns the number of pages across all sockets.
func (b Budget) Total() uint64 {
	var n uint64
	for _, v := range b {
		n += uint64(v)
	}
	return n
}

// BudgetOf builds a Budget from a short per-socket list.
func BudgetOf(pages ...uint32) (Budget, error) {
	var b Budget
	if len(pages) > MaxSockets {
		return b, fmt.Errorf("%w: %d sockets exceeds %d", ErrInvalidArgument, len(pages), MaxSockets)
	}
	copy(b[:], pages)
	return b, nil
}

// ArenaRecord describes one arena known to the controller.
type ArenaRecord struct {
	Namespace string
	PID       int
	Budget    Budget
	State     ArenaState
	Version   string
}

// ValidateNamespace rejects namespaces that cannot be used as a directory
// name or do not fit the wire field.
func ValidateNamespace(ns string) error {
	switch {
	case ns == "":
		return fmt.Errorf("%w: empty namespace", ErrInvalidArgument)
	case len(ns) >= MaxNamespaceLen:
		return fmt.Errorf("%w: namespace %q longer than %d", ErrInvalidArgument, ns, MaxNamespaceLen-1)
	case strings.ContainsAny(ns, "/\x00") || ns == "." || ns == "..":
		return fmt.Errorf("%w: namespace %q is not a path element", ErrInvalidArgument, ns)
	}
	return nil
}
