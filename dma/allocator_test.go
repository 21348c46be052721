// File: dma/allocator_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dma_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/dma"
	"github.com/momentics/hioload-accel/fake"
)

func h2c(dev, ch int) api.ChannelKey {
	return api.ChannelKey{Device: dev, Direction: api.HostToCard, Channel: ch}
}

func c2h(dev, ch int) api.ChannelKey {
	return api.ChannelKey{Device: dev, Direction: api.CardToHost, Channel: ch}
}

func newAllocator(t *testing.T) (*dma.Allocator, *fake.Driver) {
	t.Helper()
	drv := fake.NewDriver()
	drv.AddDevice(0, 4)
	drv.AddDevice(1, 4)
	a := dma.NewAllocator(drv, dma.WithTiming(dma.Timing{
		DequeueTimeout:  time.Second,
		DequeueInterval: time.Millisecond,
		SetupTimeout:    500 * time.Millisecond,
		SetupInterval:   5 * time.Millisecond,
	}))
	t.Cleanup(func() { a.Close() })
	return a, drv
}

func TestCheckUnavailableChannel(t *testing.T) {
	a, _ := newAllocator(t)
	_, err := a.Check(h2c(0, 9))
	assert.ErrorIs(t, err, api.ErrUnavailableChannel)
	_, err = a.Check(h2c(5, 0))
	assert.ErrorIs(t, err, api.ErrNotFound)
	_, err = a.Check(h2c(0, -1))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestCheckActiveChannel(t *testing.T) {
	a, drv := newAllocator(t)
	other := drv.BindExternal(c2h(0, 1))

	_, err := a.Check(c2h(0, 1))
	assert.ErrorIs(t, err, api.ErrAlreadyActive)

	require.NoError(t, other.Close())
	h, err := a.Check(c2h(0, 1))
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestInitAndFinish(t *testing.T) {
	a, drv := newAllocator(t)
	key := h2c(0, 2)

	r, err := a.Init(key)
	require.NoError(t, err)
	assert.True(t, drv.Bound(key))
	assert.Equal(t, []api.ChannelKey{key}, a.Owned())

	_, err = a.Init(key)
	assert.ErrorIs(t, err, api.ErrAlreadyActive)

	require.NoError(t, a.Finish(r))
	assert.False(t, drv.Bound(key))
	assert.Empty(t, a.Owned())
}

func TestInitSurfacesAlreadyBound(t *testing.T) {
	a, drv := newAllocator(t)
	key := h2c(0, 0)
	drv.BindHook = func(api.ChannelKey) error { return api.ErrAlreadyBound }

	_, err := a.Init(key)
	assert.ErrorIs(t, err, api.ErrAlreadyBound)
	assert.False(t, drv.Bound(key))

	drv.BindHook = func(api.ChannelKey) error { return errors.New("bus error") }
	_, err = a.Init(key)
	require.Error(t, err)
	assert.NotErrorIs(t, err, api.ErrAlreadyBound)
}

func TestFinishBusyKeepsReservation(t *testing.T) {
	a, drv := newAllocator(t)
	key := c2h(1, 3)
	r, err := a.Init(key)
	require.NoError(t, err)

	drv.ReleaseHook = func(api.ChannelKey) error { return api.ErrBusy }
	assert.ErrorIs(t, a.Finish(r), api.ErrBusy)
	assert.True(t, drv.Bound(key))

	drv.ReleaseHook = nil
	require.NoError(t, a.Finish(r))
	assert.False(t, drv.Bound(key))
}

func TestOpenQueueRetriesActiveChannel(t *testing.T) {
	a, drv := newAllocator(t)
	key := h2c(0, 1)
	other := drv.BindExternal(key)
	go func() {
		time.Sleep(30 * time.Millisecond)
		other.Close()
	}()

	e, err := a.OpenQueue(context.Background(), key, 16)
	require.NoError(t, err)
	assert.Equal(t, 16, e.Cap())
	require.NoError(t, e.Close())
	assert.False(t, drv.Bound(key))
}

func TestOpenQueueSetupTimeout(t *testing.T) {
	a, drv := newAllocator(t)
	key := h2c(0, 1)
	drv.BindExternal(key)

	_, err := a.OpenQueue(context.Background(), key, 16)
	assert.ErrorIs(t, err, api.ErrSetupTimeout)
}

func TestOpenQueueUnavailableFailsFast(t *testing.T) {
	a, _ := newAllocator(t)
	start := time.Now()
	_, err := a.OpenQueue(context.Background(), h2c(0, 8), 16)
	assert.ErrorIs(t, err, api.ErrUnavailableChannel)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestOpenQueueTransfers(t *testing.T) {
	a, drv := newAllocator(t)
	key := c2h(1, 0)
	reg := fake.NewRegistry()
	reg.Register(bufVirt, bufPhys, bufLen)

	e, err := a.OpenQueue(context.Background(), key, 8, dma.WithRegistry(reg))
	require.NoError(t, err)
	ring := drv.Ring(key)
	require.NotNil(t, ring)
	hw := fake.NewHardware(ring)

	require.NoError(t, e.Enqueue(xfer(1), api.AddrValidated))
	require.NoError(t, e.Enqueue(xfer(2), api.AddrValidated))
	hw.Step(8)
	first, err := e.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.TaskID)

	a.SetTiming(dma.Timing{DequeueTimeout: 10 * time.Millisecond, DequeueInterval: time.Millisecond})
	_, err = e.Next(context.Background())
	require.NoError(t, err)
	_, err = e.Next(context.Background())
	assert.ErrorIs(t, err, api.ErrDequeueTimeout)

	require.NoError(t, e.Close())
	assert.False(t, drv.Bound(key))
	require.NoError(t, e.Close())
}

func TestWatchReloadsTiming(t *testing.T) {
	a, _ := newAllocator(t)
	cs := control.NewConfigStore()
	a.Watch(cs)
	assert.Equal(t, dma.DefaultTiming(), a.Timing())

	cs.SetConfigSync(map[string]any{"dma.dequeue_timeout": "250ms", "dma.setup_interval": 3})
	assert.Equal(t, 250*time.Millisecond, a.Timing().DequeueTimeout)
	assert.Equal(t, 3*time.Millisecond, a.Timing().SetupInterval)
}

func p2pConfig() dma.P2PConfig {
	return dma.P2PConfig{TX: h2c(0, 0), RX: c2h(1, 2), BufAddr: bufPhys, BufSize: 1 << 16}
}

func TestConnectP2P(t *testing.T) {
	a, drv := newAllocator(t)
	cfg := p2pConfig()

	conn, err := a.ConnectP2P(cfg)
	require.NoError(t, err)
	txLink, ok := drv.Link(cfg.TX)
	require.True(t, ok)
	assert.Equal(t, 1, txLink.PeerDevice)
	assert.Equal(t, 2, txLink.PeerChan)
	rxLink, ok := drv.Link(cfg.RX)
	require.True(t, ok)
	assert.Equal(t, 0, rxLink.PeerDevice)
	assert.Equal(t, uint32(1<<16), rxLink.BufSize)

	require.NoError(t, conn.Close())
	assert.False(t, drv.Bound(cfg.TX))
	assert.False(t, drv.Bound(cfg.RX))
}

func TestConnectP2PRollsBackTx(t *testing.T) {
	a, drv := newAllocator(t)
	cfg := p2pConfig()
	var txWired bool
	drv.P2PConnectHook = func(key api.ChannelKey, _ dma.P2PLink) error {
		if key == cfg.RX {
			_, txWired = drv.Link(cfg.TX)
			return errors.New("peer rejected buffer")
		}
		return nil
	}

	_, err := a.ConnectP2P(cfg)
	require.ErrorContains(t, err, "peer rejected buffer")
	assert.True(t, txWired, "tx side was wired before rx failed")
	_, ok := drv.Link(cfg.TX)
	assert.False(t, ok)
	assert.False(t, drv.Bound(cfg.TX))
	assert.False(t, drv.Bound(cfg.RX))
	assert.Empty(t, a.Owned())
}

func TestConnectP2PRxUnavailable(t *testing.T) {
	a, drv := newAllocator(t)
	cfg := p2pConfig()
	drv.BindExternal(cfg.RX)

	_, err := a.ConnectP2P(cfg)
	assert.ErrorIs(t, err, api.ErrAlreadyActive)
	assert.False(t, drv.Bound(cfg.TX))
}

func TestConnectP2PValidates(t *testing.T) {
	a, _ := newAllocator(t)
	cfg := p2pConfig()
	cfg.RX.Device = 0
	_, err := a.ConnectP2P(cfg)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	cfg = p2pConfig()
	cfg.TX, cfg.RX = cfg.RX, cfg.TX
	_, err = a.ConnectP2P(cfg)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestConnectP2PRollbackClosesBusyChannels(t *testing.T) {
	a, drv := newAllocator(t)
	cfg := p2pConfig()
	drv.P2PConnectHook = func(key api.ChannelKey, _ dma.P2PLink) error {
		if key == cfg.RX {
			return errors.New("peer rejected buffer")
		}
		return nil
	}
	drv.ReleaseHook = func(api.ChannelKey) error { return api.ErrBusy }

	_, err := a.ConnectP2P(cfg)
	require.ErrorContains(t, err, "peer rejected buffer")
	assert.ErrorIs(t, err, api.ErrBusy)
	assert.False(t, drv.Bound(cfg.TX))
	assert.False(t, drv.Bound(cfg.RX))
	assert.Empty(t, a.Owned())
}

func TestConnectP2PRxInitFailureClosesBusyTx(t *testing.T) {
	a, drv := newAllocator(t)
	cfg := p2pConfig()
	drv.BindExternal(cfg.RX)
	drv.ReleaseHook = func(api.ChannelKey) error { return api.ErrBusy }

	_, err := a.ConnectP2P(cfg)
	assert.ErrorIs(t, err, api.ErrAlreadyActive)
	assert.False(t, drv.Bound(cfg.TX))
	assert.Empty(t, a.Owned())
}
