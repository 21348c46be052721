// File: dma/devdriver.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Character-device control plane. Each device node accepts a small set of
// ioctls and exposes one descriptor ring per channel through mmap.

package dma

import (
	"errors"
	"fmt"
	"math/bits"
	"os"
	"unsafe"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-accel/api"
)

const (
	iocWrite = 1
	iocRead  = 2
	iocMagic = 'x'
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | iocMagic<<8 | nr
}

type statusArg struct {
	Dir       uint32
	_         uint32
	Available uint64
	Active    uint64
}

type chanArg struct {
	Dir     uint32
	Channel uint32
}

type p2pArg struct {
	Dir      uint32
	Channel  uint32
	PeerDev  uint32
	PeerDir  uint32
	PeerChan uint32
	BufSize  uint32
	BufAddr  uint64
}

var (
	ioctlStatus     = ioc(iocRead|iocWrite, 1, unsafe.Sizeof(statusArg{}))
	ioctlBind       = ioc(iocWrite, 2, unsafe.Sizeof(chanArg{}))
	ioctlRelease    = ioc(iocWrite, 3, unsafe.Sizeof(chanArg{}))
	ioctlP2PConnect = ioc(iocWrite, 4, unsafe.Sizeof(p2pArg{}))
	ioctlP2PRelease = ioc(iocWrite, 5, unsafe.Sizeof(chanArg{}))
)

// MaxChannels bounds the channel ids a device reports per direction.
const MaxChannels = 64

// DevDriver opens device nodes named by Pattern, e.g. "/dev/accel%d".
type DevDriver struct {
	Pattern string
}

// NewDevDriver returns a driver over /dev/accel<N>.
func NewDevDriver() *DevDriver {
	return &DevDriver{Pattern: "/dev/accel%d"}
}

// Open implements Driver.
func (d *DevDriver) Open(device int) (Handle, error) {
	path := fmt.Sprintf(d.Pattern, device)
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", api.ErrNotFound, path)
		}
		return nil, err
	}
	return &devHandle{f: f}, nil
}

type devHandle struct {
	f *os.File
}

func (h *devHandle) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, h.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func bitmapOf(mask uint64) *roaring.Bitmap {
	bm := roaring.New()
	for mask != 0 {
		i := bits.TrailingZeros64(mask)
		bm.Add(uint32(i))
		mask &^= 1 << i
	}
	return bm
}

func (h *devHandle) Status(dir api.Direction) (ChannelStatus, error) {
	arg := statusArg{Dir: uint32(dir)}
	if err := h.ioctl(ioctlStatus, unsafe.Pointer(&arg)); err != nil {
		return ChannelStatus{}, fmt.Errorf("status ioctl: %w", err)
	}
	return ChannelStatus{Available: bitmapOf(arg.Available), Active: bitmapOf(arg.Active)}, nil
}

func (h *devHandle) Bind(dir api.Direction, ch int) error {
	arg := chanArg{Dir: uint32(dir), Channel: uint32(ch)}
	err := h.ioctl(ioctlBind, unsafe.Pointer(&arg))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EEXIST), errors.Is(err, unix.EBUSY):
		return api.ErrAlreadyBound
	default:
		return fmt.Errorf("bind ioctl: %w", err)
	}
}

// ringOffset is the mmap offset selecting a channel's ring.
func ringOffset(dir api.Direction, ch int) int64 {
	return int64((int(dir)*MaxChannels + ch) * os.Getpagesize())
}

func (h *devHandle) Map(dir api.Direction, ch, capacity int) (*Ring, error) {
	if ch < 0 || ch >= MaxChannels {
		return nil, fmt.Errorf("%w: channel %d", api.ErrInvalidArgument, ch)
	}
	buf, err := unix.Mmap(int(h.f.Fd()), ringOffset(dir, ch), RingSize(capacity),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("map ring: %w", err)
	}
	return mappedRing(buf, capacity)
}

func (h *devHandle) Release(dir api.Direction, ch int) error {
	arg := chanArg{Dir: uint32(dir), Channel: uint32(ch)}
	err := h.ioctl(ioctlRelease, unsafe.Pointer(&arg))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EBUSY):
		return api.ErrBusy
	default:
		return fmt.Errorf("release ioctl: %w", err)
	}
}

func (h *devHandle) P2PConnect(dir api.Direction, ch int, link P2PLink) error {
	arg := p2pArg{
		Dir:      uint32(dir),
		Channel:  uint32(ch),
		PeerDev:  uint32(link.PeerDevice),
		PeerDir:  uint32(link.PeerDir),
		PeerChan: uint32(link.PeerChan),
		BufSize:  link.BufSize,
		BufAddr:  link.BufAddr,
	}
	if err := h.ioctl(ioctlP2PConnect, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("p2p connect ioctl: %w", err)
	}
	return nil
}

func (h *devHandle) P2PRelease(dir api.Direction, ch int) error {
	arg := chanArg{Dir: uint32(dir), Channel: uint32(ch)}
	if err := h.ioctl(ioctlP2PRelease, unsafe.Pointer(&arg)); err != nil {
		return fmt.Errorf("p2p release ioctl: %w", err)
	}
	return nil
}

func (h *devHandle) Close() error { return h.f.Close() }
