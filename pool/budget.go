// File: pool/budget.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-socket hugepage reservation. Reservations never block: the controller
// fails a START immediately when a socket cannot cover the requested pages.

package pool

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/momentics/hioload-accel/api"
)

// Budget tracks pages promised to arenas on each NUMA socket.
type Budget struct {
	limits []int64
	sems   []*semaphore.Weighted
	used   []atomic.Int64
}

// NewBudget creates a budget with one page limit per socket.
func NewBudget(limits []int64) *Budget {
	b := &Budget{
		limits: append([]int64(nil), limits...),
		sems:   make([]*semaphore.Weighted, len(limits)),
		used:   make([]atomic.Int64, len(limits)),
	}
	for i, l := range limits {
		b.sems[i] = semaphore.NewWeighted(l)
	}
	return b
}

// BudgetFromCounters sizes a budget from the host's total hugepage counts.
func BudgetFromCounters(c Counters) (*Budget, error) {
	n := c.Sockets()
	if n > api.MaxSockets {
		n = api.MaxSockets
	}
	limits := make([]int64, n)
	for s := 0; s < n; s++ {
		total, err := c.Total(s)
		if err != nil {
			return nil, err
		}
		limits[s] = int64(total)
	}
	return NewBudget(limits), nil
}

// Reserve takes pages on every socket or none at all.
func (b *Budget) Reserve(req api.Budget) error {
	for s, pages := range req {
		if pages == 0 {
			continue
		}
		if s >= len(b.sems) {
			b.release(req, s)
			return fmt.Errorf("%w: socket %d not present", api.ErrInvalidArgument, s)
		}
		if !b.sems[s].TryAcquire(int64(pages)) {
			b.release(req, s)
			return fmt.Errorf("%w: socket %d cannot cover %d pages (%d of %d reserved)",
				api.ErrResourceExhausted, s, pages, b.used[s].Load(), b.limits[s])
		}
		b.used[s].Add(int64(pages))
	}
	return nil
}

// Release returns a reservation made by Reserve.
func (b *Budget) Release(req api.Budget) {
	b.release(req, len(req))
}

func (b *Budget) release(req api.Budget, upTo int) {
	for s := 0; s < upTo && s < len(b.sems); s++ {
		if req[s] == 0 {
			continue
		}
		b.sems[s].Release(int64(req[s]))
		b.used[s].Add(-int64(req[s]))
	}
}

// Reserved returns pages currently promised on socket.
func (b *Budget) Reserved(socket int) int64 {
	if socket < 0 || socket >= len(b.used) {
		return 0
	}
	return b.used[socket].Load()
}

// Sockets returns the number of sockets tracked.
func (b *Budget) Sockets() int { return len(b.limits) }

// Limit returns the page limit of socket, or 0 for an unknown socket.
func (b *Budget) Limit(socket int) int64 {
	if socket < 0 || socket >= len(b.limits) {
		return 0
	}
	return b.limits[socket]
}

// Available returns pages on socket not yet promised to an arena.
func (b *Budget) Available(socket int) int64 {
	return b.Limit(socket) - b.Reserved(socket)
}
