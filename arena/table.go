// File: arena/table.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package arena

import (
	"fmt"
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/momentics/hioload-accel/api"
)

type entry struct {
	slot    int
	ns      string
	pid     int
	budget  api.Budget
	state   api.ArenaState
	version string
}

func (e *entry) record() api.ArenaRecord {
	return api.ArenaRecord{
		Namespace: e.ns,
		PID:       e.pid,
		Budget:    e.budget,
		State:     e.state,
		Version:   e.version,
	}
}

// table is the controller's fixed-size arena table. Slots are handed out
// smallest-first.
type table struct {
	used  *bitset.BitSet
	slots []*entry
	byNS  map[string]*entry
}

func newTable(size int) *table {
	return &table{
		used:  bitset.New(uint(size)),
		slots: make([]*entry, size),
		byNS:  make(map[string]*entry, size),
	}
}

// alloc reserves the smallest free slot.
func (t *table) alloc() (int, error) {
	i, ok := t.used.NextClear(0)
	if !ok || int(i) >= len(t.slots) {
		return -1, fmt.Errorf("%w: %d slots in use", api.ErrTableFull, len(t.slots))
	}
	t.used.Set(i)
	return int(i), nil
}

// put records e in its reserved slot.
func (t *table) put(e *entry) {
	t.slots[e.slot] = e
	t.byNS[e.ns] = e
}

// free releases slot and its entry, if any.
func (t *table) free(slot int) {
	if slot < 0 || slot >= len(t.slots) {
		return
	}
	if e := t.slots[slot]; e != nil {
		delete(t.byNS, e.ns)
		t.slots[slot] = nil
	}
	t.used.Clear(uint(slot))
}

func (t *table) lookup(ns string) *entry {
	return t.byNS[ns]
}

func (t *table) byPID(pid int) *entry {
	for _, e := range t.byNS {
		if e.pid == pid {
			return e
		}
	}
	return nil
}

// entries returns live entries ordered by slot.
func (t *table) entries() []*entry {
	out := make([]*entry, 0, len(t.byNS))
	for _, e := range t.byNS {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].slot < out[j].slot })
	return out
}

func (t *table) len() int { return len(t.byNS) }

// check verifies that the slot bitmap agrees with the table contents.
func (t *table) check() error {
	if n := int(t.used.Count()); n != len(t.byNS) {
		return fmt.Errorf("%w: %d slots marked used, %d arenas recorded", api.ErrInconsistentState, n, len(t.byNS))
	}
	for ns, e := range t.byNS {
		if t.slots[e.slot] != e || !t.used.Test(uint(e.slot)) {
			return fmt.Errorf("%w: arena %q not in slot %d", api.ErrInconsistentState, ns, e.slot)
		}
	}
	return nil
}
