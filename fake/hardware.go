// File: fake/hardware.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"context"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/dma"
)

// Hardware is the device side of one ring. It walks the ring in order and
// completes READY descriptors. It is not safe for concurrent use.
type Hardware struct {
	ring   *dma.Ring
	cursor int

	// Status is written into every completed descriptor.
	Status uint32
}

// NewHardware attaches a simulated device to ring.
func NewHardware(ring *dma.Ring) *Hardware {
	return &Hardware{ring: ring}
}

// Step completes up to max READY descriptors starting at the device
// cursor and returns how many it completed. Slots already DONE are passed
// over; it stops at the first FREE slot.
func (h *Hardware) Step(max int) int {
	n := 0
	for steps := 0; n < max && steps < h.ring.Cap(); steps++ {
		switch h.ring.State(h.cursor) {
		case api.OpReady:
			if !h.ring.Complete(h.cursor, h.Status) {
				return n
			}
			n++
		case api.OpDone:
		default:
			return n
		}
		h.cursor = (h.cursor + 1) % h.ring.Cap()
	}
	return n
}

// CompleteAt completes slot i regardless of the cursor, modelling a
// device that finishes work out of order.
func (h *Hardware) CompleteAt(i int, status uint32) bool {
	return h.ring.Complete(i, status)
}

// Run completes descriptors every interval until ctx ends.
func (h *Hardware) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Step(h.ring.Cap())
		}
	}
}
