// File: dma/timing.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dma

import (
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-accel/control"
)

// Timing holds the process-wide polling bounds.
type Timing struct {
	DequeueTimeout  time.Duration
	DequeueInterval time.Duration
	SetupTimeout    time.Duration
	SetupInterval   time.Duration
}

// DefaultTiming returns the production polling bounds.
func DefaultTiming() Timing {
	return Timing{
		DequeueTimeout:  10 * time.Second,
		DequeueInterval: time.Millisecond,
		SetupTimeout:    5 * time.Second,
		SetupInterval:   10 * time.Millisecond,
	}
}

// TimingFrom reads "dma.*" keys from cs over the defaults.
func TimingFrom(cs *control.ConfigStore) Timing {
	t := DefaultTiming()
	t.DequeueTimeout = cs.Duration("dma.dequeue_timeout", t.DequeueTimeout)
	t.DequeueInterval = cs.Duration("dma.dequeue_interval", t.DequeueInterval)
	t.SetupTimeout = cs.Duration("dma.setup_timeout", t.SetupTimeout)
	t.SetupInterval = cs.Duration("dma.setup_interval", t.SetupInterval)
	return t
}

// timingSource is shared by an allocator and every endpoint it opened, so
// a reload reaches rings already in use.
type timingSource struct {
	v atomic.Pointer[Timing]
}

func newTimingSource(t Timing) *timingSource {
	s := &timingSource{}
	s.v.Store(&t)
	return s
}

func (s *timingSource) load() Timing   { return *s.v.Load() }
func (s *timingSource) store(t Timing) { s.v.Store(&t) }
