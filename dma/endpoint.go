// File: dma/endpoint.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dma

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/internal/concurrency"
)

const (
	// MinTransfer is the smallest accepted descriptor length.
	MinTransfer = 1024
	// TransferAlign is the required length granularity.
	TransferAlign = 64
)

// Endpoint moves transfers through one ring.
type Endpoint struct {
	ring    *Ring
	reg     Registry
	xlate   Translator
	timing  *timingSource
	metrics *control.MetricsRegistry
	closer  func() error
}

var _ api.DescriptorQueue = (*Endpoint)(nil)

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithRegistry sets the registry used by api.AddrValidated.
func WithRegistry(r Registry) EndpointOption {
	return func(e *Endpoint) { e.reg = r }
}

// WithTranslator sets the translator used by api.AddrUnvalidated.
func WithTranslator(t Translator) EndpointOption {
	return func(e *Endpoint) { e.xlate = t }
}

// WithEndpointMetrics counts enqueues, dequeues, full rings and timeouts.
func WithEndpointMetrics(m *control.MetricsRegistry) EndpointOption {
	return func(e *Endpoint) { e.metrics = m }
}

// NewEndpoint wraps ring with default timing.
func NewEndpoint(ring *Ring, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{ring: ring, timing: newTimingSource(DefaultTiming())}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Ring returns the underlying ring.
func (e *Endpoint) Ring() *Ring { return e.ring }

// Cap implements api.DescriptorQueue.
func (e *Endpoint) Cap() int { return e.ring.Cap() }

// Enqueue validates t, resolves its address per mode and publishes it. It
// never blocks: a full ring fails with api.ErrRingFull.
func (e *Endpoint) Enqueue(t api.Transfer, mode api.AddrMode) error {
	if err := ValidateTransfer(t); err != nil {
		return err
	}
	phys, err := resolve(e.reg, e.xlate, t.Addr, t.Length, mode)
	if err != nil {
		return err
	}
	idx, err := e.ring.claim()
	if err != nil {
		e.metrics.Inc("ring.full")
		return err
	}
	e.ring.publish(idx, t.TaskID, phys, t.Length)
	e.metrics.Inc("ring.enqueued")
	return nil
}

// ValidateTransfer checks the fields Enqueue requires before touching the
// ring.
func ValidateTransfer(t api.Transfer) error {
	switch {
	case t.Length < MinTransfer:
		return fmt.Errorf("%w: length %d below %d", api.ErrInvalidArgument, t.Length, MinTransfer)
	case t.Length%TransferAlign != 0:
		return fmt.Errorf("%w: length %d not a multiple of %d", api.ErrInvalidArgument, t.Length, TransferAlign)
	case t.Addr == 0:
		return fmt.Errorf("%w: null address", api.ErrInvalidArgument)
	case t.TaskID == 0:
		return fmt.Errorf("%w: task id 0 is reserved", api.ErrInvalidArgument)
	}
	return nil
}

// Dequeue returns the transfer at the ring tail once the device marks it
// DONE. Completions are returned in ring order regardless of task id. On
// timeout the tail slot is left exactly as the device wrote it.
func (e *Endpoint) Dequeue(ctx context.Context, timeout, interval time.Duration) (api.Transfer, error) {
	var out api.Transfer
	err := concurrency.Poll(ctx, interval, timeout, api.ErrDequeueTimeout, func() (bool, error) {
		t, ok := e.ring.consume()
		if ok {
			out = t
		}
		return ok, nil
	})
	switch {
	case err == nil:
		e.metrics.Inc("ring.dequeued")
	case errors.Is(err, api.ErrDequeueTimeout):
		e.metrics.Inc("ring.timeouts")
	}
	return out, err
}

// Next dequeues with the process-wide timing.
func (e *Endpoint) Next(ctx context.Context) (api.Transfer, error) {
	t := e.timing.load()
	return e.Dequeue(ctx, t.DequeueTimeout, t.DequeueInterval)
}

// Close unmaps the ring and releases the channel of an endpoint opened by
// OpenQueue. Endpoints built with NewEndpoint leave the ring to the caller.
func (e *Endpoint) Close() error {
	if e.closer == nil {
		return nil
	}
	c := e.closer
	e.closer = nil
	return c()
}
