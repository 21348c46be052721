// File: dma/allocator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Exclusive channel ownership. One open handle owns one channel; the
// allocator keeps the table of channels owned by this process.

package dma

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/internal/concurrency"
)

// Reservation is a bound channel and the handle that owns it.
type Reservation struct {
	Key    api.ChannelKey
	handle Handle
}

// Handle returns the owning device handle.
func (r *Reservation) Handle() Handle { return r.handle }

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithAllocatorLogger sets the logger.
func WithAllocatorLogger(l *zap.Logger) AllocatorOption {
	return func(a *Allocator) { a.log = l }
}

// WithAllocatorMetrics sets the metrics registry shared with endpoints.
func WithAllocatorMetrics(m *control.MetricsRegistry) AllocatorOption {
	return func(a *Allocator) { a.metrics = m }
}

// WithTiming overrides the default polling bounds.
func WithTiming(t Timing) AllocatorOption {
	return func(a *Allocator) { a.timing.store(t) }
}

// Allocator acquires and releases hardware channels.
type Allocator struct {
	driver  Driver
	log     *zap.Logger
	metrics *control.MetricsRegistry
	timing  *timingSource

	mu    sync.Mutex
	owned map[api.ChannelKey]*Reservation
}

// NewAllocator creates an allocator over driver.
func NewAllocator(driver Driver, opts ...AllocatorOption) *Allocator {
	a := &Allocator{
		driver: driver,
		log:    zap.NewNop(),
		timing: newTimingSource(DefaultTiming()),
		owned:  make(map[api.ChannelKey]*Reservation),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Timing returns the current polling bounds.
func (a *Allocator) Timing() Timing { return a.timing.load() }

// SetTiming replaces the polling bounds for the allocator and every
// endpoint it opened.
func (a *Allocator) SetTiming(t Timing) { a.timing.store(t) }

// Watch re-reads timing from cs on every reload.
func (a *Allocator) Watch(cs *control.ConfigStore) {
	a.SetTiming(TimingFrom(cs))
	cs.OnReload(func() {
		t := TimingFrom(cs)
		a.SetTiming(t)
		a.log.Info("dma timing reloaded",
			zap.Duration("dequeue_timeout", t.DequeueTimeout),
			zap.Duration("setup_timeout", t.SetupTimeout))
	})
}

func (a *Allocator) logger(key api.ChannelKey) *zap.Logger {
	return a.log.With(
		zap.Int("device", key.Device),
		zap.Stringer("direction", key.Direction),
		zap.Int("channel", key.Channel))
}

// Check opens a handle on the key's device and verifies the channel is
// implemented and not bound by anyone. On success the caller owns the
// returned handle.
func (a *Allocator) Check(key api.ChannelKey) (Handle, error) {
	if key.Channel < 0 || key.Device < 0 {
		return nil, fmt.Errorf("%w: channel %s", api.ErrInvalidArgument, key)
	}
	a.mu.Lock()
	_, mine := a.owned[key]
	a.mu.Unlock()
	if mine {
		return nil, fmt.Errorf("%w: %s owned by this process", api.ErrAlreadyActive, key)
	}
	h, err := a.driver.Open(key.Device)
	if err != nil {
		return nil, fmt.Errorf("open device %d: %w", key.Device, err)
	}
	st, err := h.Status(key.Direction)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("status %s: %w", key, err)
	}
	ch := uint32(key.Channel)
	switch {
	case st.Available == nil || !st.Available.Contains(ch):
		h.Close()
		return nil, fmt.Errorf("%w: %s", api.ErrUnavailableChannel, key)
	case st.Active != nil && st.Active.Contains(ch):
		h.Close()
		return nil, fmt.Errorf("%w: %s", api.ErrAlreadyActive, key)
	}
	return h, nil
}

// Init checks and binds the channel. A channel bound between the check and
// the bind fails with api.ErrAlreadyBound.
func (a *Allocator) Init(key api.ChannelKey) (*Reservation, error) {
	h, err := a.Check(key)
	if err != nil {
		return nil, err
	}
	if err := h.Bind(key.Direction, key.Channel); err != nil {
		h.Close()
		if errors.Is(err, api.ErrAlreadyBound) {
			a.logger(key).Info("channel bound by another owner")
		}
		return nil, fmt.Errorf("bind %s: %w", key, err)
	}
	r := &Reservation{Key: key, handle: h}
	a.mu.Lock()
	a.owned[key] = r
	a.mu.Unlock()
	a.metrics.Inc("dma.channels_bound")
	a.logger(key).Debug("channel bound")
	return r, nil
}

// Finish releases the channel and closes its handle. A busy channel stays
// reserved and api.ErrBusy is returned so the caller can drain and retry.
func (a *Allocator) Finish(r *Reservation) error {
	return a.finish(r, false)
}

// finish releases r. With force the handle is closed even when the driver
// reports the channel busy; closing the owning handle frees the channel.
func (a *Allocator) finish(r *Reservation, force bool) error {
	key := r.Key
	var busy error
	if err := r.handle.Release(key.Direction, key.Channel); err != nil {
		switch {
		case errors.Is(err, api.ErrBusy) && !force:
			return fmt.Errorf("release %s: %w", key, err)
		case errors.Is(err, api.ErrBusy):
			busy = fmt.Errorf("release %s: %w", key, err)
			a.logger(key).Warn("channel busy, closing handle", zap.Error(err))
		default:
			a.logger(key).Warn("release failed, closing handle", zap.Error(err))
		}
	}
	a.mu.Lock()
	delete(a.owned, key)
	a.mu.Unlock()
	a.metrics.Inc("dma.channels_released")
	if err := r.handle.Close(); err != nil {
		return errors.Join(busy, fmt.Errorf("close %s: %w", key, err))
	}
	a.logger(key).Debug("channel released")
	return busy
}

// Owned returns the channels held by this allocator.
func (a *Allocator) Owned() []api.ChannelKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]api.ChannelKey, 0, len(a.owned))
	for k := range a.owned {
		out = append(out, k)
	}
	return out
}

// Close finishes every channel still owned.
func (a *Allocator) Close() error {
	a.mu.Lock()
	rs := make([]*Reservation, 0, len(a.owned))
	for _, r := range a.owned {
		rs = append(rs, r)
	}
	a.mu.Unlock()
	var errs []error
	for _, r := range rs {
		errs = append(errs, a.Finish(r))
	}
	return errors.Join(errs...)
}

// OpenQueue binds key, maps its ring and returns an endpoint. A channel
// active under another owner is retried every SetupInterval until
// SetupTimeout; an unimplemented channel fails at once.
func (a *Allocator) OpenQueue(ctx context.Context, key api.ChannelKey, capacity int, opts ...EndpointOption) (*Endpoint, error) {
	t := a.timing.load()
	var res *Reservation
	err := concurrency.Poll(ctx, t.SetupInterval, t.SetupTimeout, api.ErrSetupTimeout, func() (bool, error) {
		r, err := a.Init(key)
		switch {
		case err == nil:
			res = r
			return true, nil
		case errors.Is(err, api.ErrAlreadyActive), errors.Is(err, api.ErrAlreadyBound):
			return false, nil
		default:
			return false, err
		}
	})
	if err != nil {
		a.logger(key).Debug("queue setup failed", zap.Error(err))
		return nil, err
	}
	ring, err := res.handle.Map(key.Direction, key.Channel, capacity)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("map %s: %w", key, err), a.Finish(res))
	}
	e := NewEndpoint(ring, append([]EndpointOption{WithEndpointMetrics(a.metrics)}, opts...)...)
	e.timing = a.timing
	e.closer = func() error {
		return errors.Join(ring.Close(), a.Finish(res))
	}
	return e, nil
}
