// File: dma/driver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Kernel control-plane contract. The required call sequence on a channel is
// bind, map, enqueue/dequeue, release.

package dma

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/momentics/hioload-accel/api"
)

// ChannelStatus is the per-direction channel bitmap reported by a device.
// Bit n is channel n.
type ChannelStatus struct {
	Available *roaring.Bitmap // implemented in the bitstream
	Active    *roaring.Bitmap // currently bound by some handle
}

// P2PLink wires one side of a peer-to-peer connection.
type P2PLink struct {
	PeerDevice int
	PeerDir    api.Direction
	PeerChan   int
	BufAddr    uint64
	BufSize    uint32
}

// Driver opens device handles.
type Driver interface {
	// Open returns an exclusive handle on device. Channels bound through a
	// handle are freed by the driver when the handle closes.
	Open(device int) (Handle, error)
}

// Handle is one open device handle.
type Handle interface {
	Status(dir api.Direction) (ChannelStatus, error)
	// Bind allocates the channel to this handle. A channel bound elsewhere
	// fails with api.ErrAlreadyBound.
	Bind(dir api.Direction, ch int) error
	// Map maps the channel's descriptor ring into the process.
	Map(dir api.Direction, ch, capacity int) (*Ring, error)
	// Release frees the channel. It fails with api.ErrBusy while transfers
	// are in flight.
	Release(dir api.Direction, ch int) error
	P2PConnect(dir api.Direction, ch int, link P2PLink) error
	P2PRelease(dir api.Direction, ch int) error
	Close() error
}
