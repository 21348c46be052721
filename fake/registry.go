// File: fake/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"fmt"
	"sync"
)

type region struct {
	virt, phys uint64
	length     uint64
}

// Registry is an address registry over explicitly registered regions.
type Registry struct {
	mu      sync.Mutex
	regions []region
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register maps [virt, virt+length) onto [phys, phys+length).
func (r *Registry) Register(virt, phys, length uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regions = append(r.regions, region{virt: virt, phys: phys, length: length})
}

// Lookup implements dma.Registry.
func (r *Registry) Lookup(virt uint64, length uint32) (uint64, uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.regions {
		if virt < g.virt || virt >= g.virt+g.length {
			continue
		}
		off := virt - g.virt
		contig := g.length - off
		if contig > uint64(length) {
			contig = uint64(length)
		}
		return g.phys + off, uint32(contig), nil
	}
	return 0, 0, fmt.Errorf("fake: %#x not registered", virt)
}

// Translator maps virtual to physical by a fixed offset.
type Translator struct {
	Offset uint64
}

// Translate implements dma.Translator.
func (t Translator) Translate(virt uint64) (uint64, error) {
	return virt + t.Offset, nil
}
