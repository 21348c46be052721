// File: pool/numapool.go
// Author: momentics <momentics@gmail.com>
//
// Page-backed arena memory. Each page is a file in the arena's hugepage
// directory, mapped shared and optionally bound to its NUMA socket. Concrete
// allocators are selected through platform-specific factories.

package pool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/momentics/hioload-accel/api"
)

// NUMAAllocator maps file-backed memory and binds it to a NUMA node.
// node < 0 leaves placement to the kernel.
type NUMAAllocator interface {
	Alloc(f *os.File, size int, node int) ([]byte, error)
	Free([]byte) error
	Nodes() (int, error)
}

// ArenaConfig describes where and how an arena maps its pages.
type ArenaConfig struct {
	Dir      string // hugepage directory of the namespace (on hugetlbfs in production)
	PageSize int    // bytes per page
	Bind     bool   // mbind each page to its socket
}

// HugepageArena owns the pages of one namespace.
type HugepageArena struct {
	cfg   ArenaConfig
	alloc NUMAAllocator

	mu       sync.Mutex
	files    []*os.File
	mappings [][]byte
}

// NewHugepageArena creates an arena with the platform allocator.
func NewHugepageArena(cfg ArenaConfig) *HugepageArena {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSizeKB * 1024
	}
	return &HugepageArena{cfg: cfg, alloc: createNUMAAllocator()}
}

// Init maps budget[s] pages for each socket s. Partial mappings are undone
// on failure.
func (a *HugepageArena) Init(budget api.Budget) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.alloc == nil {
		return fmt.Errorf("%w: no page allocator on this platform", api.ErrInitFailed)
	}
	if a.cfg.Bind {
		if err := a.checkNodes(budget); err != nil {
			return fmt.Errorf("%w: %w", api.ErrInitFailed, err)
		}
	}
	if err := os.MkdirAll(a.cfg.Dir, 0o700); err != nil {
		return fmt.Errorf("%w: %w", api.ErrInitFailed, err)
	}
	for socket, pages := range budget {
		node := -1
		if a.cfg.Bind {
			node = socket
		}
		for i := 0; i < int(pages); i++ {
			if err := a.mapPage(socket, i, node); err != nil {
				a.unmapLocked()
				return fmt.Errorf("%w: socket %d page %d: %w", api.ErrInitFailed, socket, i, err)
			}
		}
	}
	return nil
}

// checkNodes rejects budgets that place pages on sockets the host does not
// have. Hosts without NUMA topology count as a single node.
func (a *HugepageArena) checkNodes(budget api.Budget) error {
	nodes, err := a.alloc.Nodes()
	if err != nil {
		nodes = 1
	}
	for socket, pages := range budget {
		if pages > 0 && socket >= nodes {
			return fmt.Errorf("%w: socket %d has %d pages, host has %d numa nodes",
				api.ErrInvalidArgument, socket, pages, nodes)
		}
	}
	return nil
}

func (a *HugepageArena) mapPage(socket, idx, node int) error {
	path := filepath.Join(a.cfg.Dir, fmt.Sprintf("map_%d_%d", socket, idx))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if err := f.Truncate(int64(a.cfg.PageSize)); err != nil {
		f.Close()
		return err
	}
	mem, err := a.alloc.Alloc(f, a.cfg.PageSize, node)
	if err != nil {
		f.Close()
		return err
	}
	a.files = append(a.files, f)
	a.mappings = append(a.mappings, mem)
	return nil
}

// Pages returns the number of mapped pages.
func (a *HugepageArena) Pages() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.mappings)
}

// Close unmaps every page. Backing files are left for directory cleanup.
func (a *HugepageArena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unmapLocked()
}

func (a *HugepageArena) unmapLocked() error {
	var errs []error
	for _, m := range a.mappings {
		if err := a.alloc.Free(m); err != nil {
			errs = append(errs, err)
		}
	}
	for _, f := range a.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.mappings, a.files = nil, nil
	return errors.Join(errs...)
}
