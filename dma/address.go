// File: dma/address.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Virtual to physical address resolution for descriptor buffers.

package dma

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/momentics/hioload-accel/api"
)

// PhysAlign is the physical alignment required on the validated path.
const PhysAlign = 1024

// Registry is the address-registration service. Lookup returns the
// physical address of virt and how many bytes from virt, up to length, are
// physically contiguous.
type Registry interface {
	Lookup(virt uint64, length uint32) (phys uint64, contiguous uint32, err error)
}

// Translator maps one virtual address to its physical address.
type Translator interface {
	Translate(virt uint64) (uint64, error)
}

// resolve returns the device address of t per mode.
func resolve(reg Registry, xlate Translator, addr uint64, length uint32, mode api.AddrMode) (uint64, error) {
	switch mode {
	case api.AddrValidated:
		if reg == nil {
			return 0, fmt.Errorf("%w: no address registry", api.ErrAddressInvalid)
		}
		phys, contig, err := reg.Lookup(addr, length)
		if err != nil {
			return 0, fmt.Errorf("%w: %#x: %w", api.ErrAddressInvalid, addr, err)
		}
		if contig != length {
			return 0, fmt.Errorf("%w: %#x: %d of %d bytes contiguous", api.ErrAddressInvalid, addr, contig, length)
		}
		if phys%PhysAlign != 0 {
			return 0, fmt.Errorf("%w: physical %#x not %d-byte aligned", api.ErrAddressInvalid, phys, PhysAlign)
		}
		return phys, nil
	case api.AddrUnvalidated:
		if xlate == nil {
			return 0, fmt.Errorf("%w: no address translator", api.ErrAddressInvalid)
		}
		phys, err := xlate.Translate(addr)
		if err != nil {
			return 0, fmt.Errorf("%w: %#x: %w", api.ErrAddressInvalid, addr, err)
		}
		return phys, nil
	case api.AddrRaw:
		return addr, nil
	default:
		return 0, fmt.Errorf("%w: address mode %d", api.ErrInvalidArgument, mode)
	}
}

const (
	pagemapEntry   = 8
	pagemapPresent = 1 << 63
	pagemapPFNMask = 1<<55 - 1
)

// PagemapTranslator reads /proc/self/pagemap. Physical frame numbers are
// only visible with CAP_SYS_ADMIN; without it every frame reads as zero and
// translation fails.
type PagemapTranslator struct {
	Path     string
	PageSize uint64

	once sync.Once
	f    *os.File
	err  error
}

// NewPagemapTranslator translates addresses of the calling process.
func NewPagemapTranslator() *PagemapTranslator {
	return &PagemapTranslator{Path: "/proc/self/pagemap", PageSize: uint64(os.Getpagesize())}
}

func (p *PagemapTranslator) open() (*os.File, error) {
	p.once.Do(func() {
		p.f, p.err = os.Open(p.Path)
	})
	return p.f, p.err
}

// Translate returns the physical address of virt.
func (p *PagemapTranslator) Translate(virt uint64) (uint64, error) {
	f, err := p.open()
	if err != nil {
		return 0, fmt.Errorf("pagemap: %w", err)
	}
	var raw [pagemapEntry]byte
	if _, err := f.ReadAt(raw[:], int64(virt/p.PageSize*pagemapEntry)); err != nil {
		return 0, fmt.Errorf("pagemap: %w", err)
	}
	e := binary.LittleEndian.Uint64(raw[:])
	if e&pagemapPresent == 0 {
		return 0, fmt.Errorf("pagemap: page %#x not present", virt)
	}
	pfn := e & pagemapPFNMask
	if pfn == 0 {
		return 0, fmt.Errorf("pagemap: frame numbers hidden (CAP_SYS_ADMIN required)")
	}
	return pfn*p.PageSize + virt%p.PageSize, nil
}

// Close releases the pagemap file.
func (p *PagemapTranslator) Close() error {
	if p.f == nil {
		return nil
	}
	return p.f.Close()
}

// PagemapRegistry answers registry lookups by walking the pagemap page by
// page and counting how far the physical range stays contiguous.
type PagemapRegistry struct {
	T *PagemapTranslator
}

// Lookup implements Registry.
func (r PagemapRegistry) Lookup(virt uint64, length uint32) (uint64, uint32, error) {
	phys, err := r.T.Translate(virt)
	if err != nil {
		return 0, 0, err
	}
	ps := r.T.PageSize
	end := virt + uint64(length)
	contig := ps - virt%ps
	for page := virt - virt%ps + ps; page < end; page += ps {
		next, err := r.T.Translate(page)
		if err != nil || next != phys+(page-virt) {
			break
		}
		contig += ps
	}
	if contig > uint64(length) {
		contig = uint64(length)
	}
	return phys, uint32(contig), nil
}
