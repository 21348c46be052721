// Package api
// Author: momentics <momentics@gmail.com>
//
// Descriptor queue contract shared by DMA endpoints and their test doubles.

package api

import (
	"context"
	"time"
)

// OpState is the ownership state of a ring slot.
type OpState uint32

const (
	OpFree  OpState = 0
	OpReady OpState = 1
	OpDone  OpState = 2
)

// AddrMode selects how Enqueue resolves a buffer address to a physical one.
type AddrMode uint8

const (
	// AddrValidated looks the range up in the address registry and requires a
	// contiguous, 1 KiB aligned physical mapping.
	AddrValidated AddrMode = iota
	// AddrUnvalidated translates virtual to physical without checks. Debug only.
	AddrUnvalidated
	// AddrRaw treats the address as already physical. Debug only.
	AddrRaw
)

// Transfer is the caller's view of one descriptor.
type Transfer struct {
	TaskID uint64
	Addr   uint64
	Length uint32
	Status uint32
}

// DescriptorQueue is a hardware-shared descriptor ring endpoint.
type DescriptorQueue interface {
	// Enqueue hands a buffer to the device. It never blocks and never retries
	// on a full ring.
	Enqueue(t Transfer, mode AddrMode) error
	// Dequeue returns the next completed transfer in ring order, polling every
	// interval until timeout elapses.
	Dequeue(ctx context.Context, timeout, interval time.Duration) (Transfer, error)
	// Cap returns the ring capacity.
	Cap() int
}
