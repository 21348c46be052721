// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory doubles for the DMA control plane, the address registry and
// the device side of a descriptor ring.

package fake

import (
	"errors"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/dma"
)

// Driver simulates devices whose channels are freed when their owning
// handle closes.
type Driver struct {
	mu      sync.Mutex
	devices map[int]*device

	// Hooks let tests inject control-plane failures. A nil hook succeeds.
	BindHook       func(key api.ChannelKey) error
	ReleaseHook    func(key api.ChannelKey) error
	P2PConnectHook func(key api.ChannelKey, link dma.P2PLink) error
}

type device struct {
	available [2]*roaring.Bitmap
	owners    map[api.ChannelKey]*Handle
	rings     map[api.ChannelKey]*dma.Ring
	p2p       map[api.ChannelKey]dma.P2PLink
}

// NewDriver returns a driver with no devices.
func NewDriver() *Driver {
	return &Driver{devices: make(map[int]*device)}
}

// AddDevice registers a device implementing channels 0..channels-1 in
// both directions.
func (d *Driver) AddDevice(id, channels int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := &device{
		owners: make(map[api.ChannelKey]*Handle),
		rings:  make(map[api.ChannelKey]*dma.Ring),
		p2p:    make(map[api.ChannelKey]dma.P2PLink),
	}
	for i := range dev.available {
		dev.available[i] = roaring.New()
		dev.available[i].AddRange(0, uint64(channels))
	}
	d.devices[id] = dev
}

// Open implements dma.Driver.
func (d *Driver) Open(id int) (dma.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.devices[id]; !ok {
		return nil, fmt.Errorf("%w: device %d", api.ErrNotFound, id)
	}
	return &Handle{drv: d, dev: id}, nil
}

// Bound reports whether key is bound by any handle.
func (d *Driver) Bound(key api.ChannelKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	dev := d.devices[key.Device]
	if dev == nil {
		return false
	}
	_, ok := dev.owners[key]
	return ok
}

// Ring returns the ring mapped for key, if any.
func (d *Driver) Ring(key api.ChannelKey) *dma.Ring {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dev := d.devices[key.Device]; dev != nil {
		return dev.rings[key]
	}
	return nil
}

// Link returns the p2p wiring of key, if any.
func (d *Driver) Link(key api.ChannelKey) (dma.P2PLink, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dev := d.devices[key.Device]; dev != nil {
		l, ok := dev.p2p[key]
		return l, ok
	}
	return dma.P2PLink{}, false
}

// BindExternal marks key as bound by another process.
func (d *Driver) BindExternal(key api.ChannelKey) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := &Handle{drv: d, dev: key.Device}
	d.devices[key.Device].owners[key] = h
	return h
}

// Handle is an open fake device handle.
type Handle struct {
	drv    *Driver
	dev    int
	closed bool
}

func (h *Handle) key(dir api.Direction, ch int) api.ChannelKey {
	return api.ChannelKey{Device: h.dev, Direction: dir, Channel: ch}
}

func (h *Handle) device() (*device, error) {
	if h.closed {
		return nil, errors.New("fake: handle closed")
	}
	return h.drv.devices[h.dev], nil
}

// Status implements dma.Handle.
func (h *Handle) Status(dir api.Direction) (dma.ChannelStatus, error) {
	h.drv.mu.Lock()
	defer h.drv.mu.Unlock()
	dev, err := h.device()
	if err != nil {
		return dma.ChannelStatus{}, err
	}
	active := roaring.New()
	for k := range dev.owners {
		if k.Direction == dir {
			active.Add(uint32(k.Channel))
		}
	}
	return dma.ChannelStatus{Available: dev.available[dir].Clone(), Active: active}, nil
}

// Bind implements dma.Handle.
func (h *Handle) Bind(dir api.Direction, ch int) error {
	key := h.key(dir, ch)
	if hook := h.drv.BindHook; hook != nil {
		if err := hook(key); err != nil {
			return err
		}
	}
	h.drv.mu.Lock()
	defer h.drv.mu.Unlock()
	dev, err := h.device()
	if err != nil {
		return err
	}
	if !dev.available[dir].Contains(uint32(ch)) {
		return fmt.Errorf("fake: channel %s not implemented", key)
	}
	if _, ok := dev.owners[key]; ok {
		return api.ErrAlreadyBound
	}
	dev.owners[key] = h
	return nil
}

// Map implements dma.Handle.
func (h *Handle) Map(dir api.Direction, ch, capacity int) (*dma.Ring, error) {
	key := h.key(dir, ch)
	h.drv.mu.Lock()
	defer h.drv.mu.Unlock()
	dev, err := h.device()
	if err != nil {
		return nil, err
	}
	if dev.owners[key] != h {
		return nil, fmt.Errorf("fake: %s not bound by this handle", key)
	}
	r, err := dma.AllocRing(capacity)
	if err != nil {
		return nil, err
	}
	dev.rings[key] = r
	return r, nil
}

// Release implements dma.Handle.
func (h *Handle) Release(dir api.Direction, ch int) error {
	key := h.key(dir, ch)
	if hook := h.drv.ReleaseHook; hook != nil {
		if err := hook(key); err != nil {
			return err
		}
	}
	h.drv.mu.Lock()
	defer h.drv.mu.Unlock()
	dev, err := h.device()
	if err != nil {
		return err
	}
	if dev.owners[key] != h {
		return fmt.Errorf("fake: %s not bound by this handle", key)
	}
	h.drv.freeLocked(dev, key)
	return nil
}

// P2PConnect implements dma.Handle.
func (h *Handle) P2PConnect(dir api.Direction, ch int, link dma.P2PLink) error {
	key := h.key(dir, ch)
	if hook := h.drv.P2PConnectHook; hook != nil {
		if err := hook(key, link); err != nil {
			return err
		}
	}
	h.drv.mu.Lock()
	defer h.drv.mu.Unlock()
	dev, err := h.device()
	if err != nil {
		return err
	}
	if dev.owners[key] != h {
		return fmt.Errorf("fake: %s not bound by this handle", key)
	}
	dev.p2p[key] = link
	return nil
}

// P2PRelease implements dma.Handle.
func (h *Handle) P2PRelease(dir api.Direction, ch int) error {
	h.drv.mu.Lock()
	defer h.drv.mu.Unlock()
	dev, err := h.device()
	if err != nil {
		return err
	}
	delete(dev.p2p, h.key(dir, ch))
	return nil
}

// Close implements dma.Handle. Channels still bound by h are freed.
func (h *Handle) Close() error {
	h.drv.mu.Lock()
	defer h.drv.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	dev := h.drv.devices[h.dev]
	for k, owner := range dev.owners {
		if owner == h {
			h.drv.freeLocked(dev, k)
		}
	}
	return nil
}

func (d *Driver) freeLocked(dev *device, key api.ChannelKey) {
	delete(dev.owners, key)
	delete(dev.p2p, key)
	delete(dev.rings, key)
}
