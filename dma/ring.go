// File: dma/ring.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Descriptor ring over hardware-visible memory.
//
// Layout (little-endian, all fields naturally aligned):
//
//	0    head  uint32  (own cache line)
//	64   tail  uint32  (own cache line)
//	128  descriptors, 32 bytes each:
//	       0  op state uint32
//	       4  status   uint32
//	       8  task id  uint64 (0 = empty)
//	      16  address  uint64 (physical)
//	      24  length   uint32
//	      28  reserved

package dma

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-accel/api"
)

const (
	headOffset     = 0
	tailOffset     = 64
	HeaderSize     = 128
	DescriptorSize = 32

	offOp     = 0
	offStatus = 4
	offTask   = 8
	offAddr   = 16
	offLen    = 24
)

// RingSize returns the bytes needed for a ring of capacity descriptors.
func RingSize(capacity int) int {
	return HeaderSize + capacity*DescriptorSize
}

// Descriptor is a snapshot of one ring slot.
type Descriptor struct {
	State api.OpState
	api.Transfer
}

// Ring is a fixed-capacity descriptor ring. All accesses go through
// sync/atomic, whose operations are sequentially consistent; the op-state
// store is the point at which a slot changes owner.
type Ring struct {
	buf      []byte
	base     unsafe.Pointer
	capacity uint32
	unmap    func([]byte) error
}

// NewRing views buf as a ring of capacity descriptors. buf must be 8-byte
// aligned and at least RingSize(capacity) long.
func NewRing(buf []byte, capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: ring capacity %d", api.ErrInvalidArgument, capacity)
	}
	if len(buf) < RingSize(capacity) {
		return nil, fmt.Errorf("%w: %d bytes cannot hold %d descriptors", api.ErrInvalidArgument, len(buf), capacity)
	}
	base := unsafe.Pointer(unsafe.SliceData(buf))
	if uintptr(base)%8 != 0 {
		return nil, fmt.Errorf("%w: ring memory not 8-byte aligned", api.ErrInvalidArgument)
	}
	return &Ring{buf: buf, base: base, capacity: uint32(capacity)}, nil
}

// AllocRing maps anonymous shared memory for a ring. It backs rings that
// are not provided by a device, such as software loopback and tests.
func AllocRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: ring capacity %d", api.ErrInvalidArgument, capacity)
	}
	buf, err := unix.Mmap(-1, 0, RingSize(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("%w: map ring: %w", api.ErrResourceExhausted, err)
	}
	return mappedRing(buf, capacity)
}

func mappedRing(buf []byte, capacity int) (*Ring, error) {
	r, err := NewRing(buf, capacity)
	if err != nil {
		_ = unix.Munmap(buf)
		return nil, err
	}
	r.unmap = unix.Munmap
	return r, nil
}

// Close unmaps ring memory it owns.
func (r *Ring) Close() error {
	if r.unmap == nil || r.buf == nil {
		return nil
	}
	err := r.unmap(r.buf)
	r.buf, r.base = nil, nil
	return err
}

// Cap returns the number of descriptors.
func (r *Ring) Cap() int { return int(r.capacity) }

func (r *Ring) u32(off uintptr) *uint32 { return (*uint32)(unsafe.Add(r.base, off)) }
func (r *Ring) u64(off uintptr) *uint64 { return (*uint64)(unsafe.Add(r.base, off)) }

func slotOff(i uint32) uintptr { return HeaderSize + uintptr(i)*DescriptorSize }

// Head returns the producer cursor.
func (r *Ring) Head() int { return int(atomic.LoadUint32(r.u32(headOffset))) }

// Tail returns the consumer cursor.
func (r *Ring) Tail() int { return int(atomic.LoadUint32(r.u32(tailOffset))) }

func (r *Ring) next(i uint32) uint32 { return (i + 1) % r.capacity }

// State returns the op state of slot i.
func (r *Ring) State(i int) api.OpState {
	return api.OpState(atomic.LoadUint32(r.u32(slotOff(uint32(i)) + offOp)))
}

// Load returns a snapshot of slot i.
func (r *Ring) Load(i int) Descriptor {
	off := slotOff(uint32(i))
	return Descriptor{
		State: api.OpState(atomic.LoadUint32(r.u32(off + offOp))),
		Transfer: api.Transfer{
			TaskID: atomic.LoadUint64(r.u64(off + offTask)),
			Addr:   atomic.LoadUint64(r.u64(off + offAddr)),
			Length: atomic.LoadUint32(r.u32(off + offLen)),
			Status: atomic.LoadUint32(r.u32(off + offStatus)),
		},
	}
}

// claim reserves the slot at head. A non-zero task id at head means the
// ring is full; that is reported at once and never retried. A lost CAS
// means another producer took the slot, so the head is read again.
func (r *Ring) claim() (uint32, error) {
	head := r.u32(headOffset)
	for {
		h := atomic.LoadUint32(head)
		if atomic.LoadUint64(r.u64(slotOff(h)+offTask)) != 0 {
			return 0, api.ErrRingFull
		}
		if atomic.CompareAndSwapUint32(head, h, r.next(h)) {
			return h, nil
		}
	}
}

// publish fills a claimed slot and hands it to the device. The payload
// stores complete before the READY store; after it the slot belongs to the
// device and cannot be taken back.
func (r *Ring) publish(i uint32, taskID, phys uint64, length uint32) {
	off := slotOff(i)
	atomic.StoreUint64(r.u64(off+offTask), taskID)
	atomic.StoreUint64(r.u64(off+offAddr), phys)
	atomic.StoreUint32(r.u32(off+offLen), length)
	atomic.StoreUint32(r.u32(off+offStatus), 0)
	atomic.StoreUint32(r.u32(off+offOp), uint32(api.OpReady))
}

// consume takes the completed slot at tail, if any. It reports false when
// the tail slot is not DONE yet.
func (r *Ring) consume() (api.Transfer, bool) {
	tail := r.u32(tailOffset)
	for {
		t := atomic.LoadUint32(tail)
		off := slotOff(t)
		if api.OpState(atomic.LoadUint32(r.u32(off+offOp))) != api.OpDone {
			return api.Transfer{}, false
		}
		if !atomic.CompareAndSwapUint32(tail, t, r.next(t)) {
			continue
		}
		out := api.Transfer{
			TaskID: atomic.LoadUint64(r.u64(off + offTask)),
			Addr:   atomic.LoadUint64(r.u64(off + offAddr)),
			Length: atomic.LoadUint32(r.u32(off + offLen)),
			Status: atomic.LoadUint32(r.u32(off + offStatus)),
		}
		atomic.StoreUint64(r.u64(off+offAddr), 0)
		atomic.StoreUint32(r.u32(off+offLen), 0)
		atomic.StoreUint32(r.u32(off+offStatus), 0)
		atomic.StoreUint32(r.u32(off+offOp), uint32(api.OpFree))
		// Producers test the task id, so it is cleared last.
		atomic.StoreUint64(r.u64(off+offTask), 0)
		return out, true
	}
}

// Complete is the device side of a slot: it records status and moves a
// READY slot to DONE. It reports false if slot i was not READY.
func (r *Ring) Complete(i int, status uint32) bool {
	off := slotOff(uint32(i))
	if api.OpState(atomic.LoadUint32(r.u32(off+offOp))) != api.OpReady {
		return false
	}
	atomic.StoreUint32(r.u32(off+offStatus), status)
	return atomic.CompareAndSwapUint32(r.u32(off+offOp), uint32(api.OpReady), uint32(api.OpDone))
}
