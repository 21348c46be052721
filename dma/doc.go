// Package dma
// Author: momentics <momentics@gmail.com>
//
// DMA channel allocation and descriptor queue endpoints.
//
// A channel is bound through the kernel control plane (Driver/Handle),
// its descriptor ring is mapped into the process, and an Endpoint moves
// transfers through the ring. The ring is shared with the device: the
// head and tail cursors advance by compare-and-swap and every slot changes
// owner through its op state, so the hot path takes no locks.
//
// Results come back strictly in ring completion order. A caller cannot
// pick its own task out of order; any task-id matching belongs on top of
// that ordering.
package dma
