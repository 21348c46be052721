// File: dma/endpoint_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dma_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/dma"
	"github.com/momentics/hioload-accel/fake"
)

const (
	bufVirt = 0x7f0000000000
	bufPhys = 0x80000000
	bufLen  = 1 << 20
)

func newEndpoint(t *testing.T, capacity int) (*dma.Endpoint, *fake.Hardware) {
	t.Helper()
	ring, err := dma.AllocRing(capacity)
	require.NoError(t, err)
	t.Cleanup(func() { ring.Close() })
	reg := fake.NewRegistry()
	reg.Register(bufVirt, bufPhys, bufLen)
	e := dma.NewEndpoint(ring, dma.WithRegistry(reg), dma.WithTranslator(fake.Translator{Offset: 0x1000}))
	return e, fake.NewHardware(ring)
}

func xfer(id uint64) api.Transfer {
	return api.Transfer{TaskID: id, Addr: bufVirt + (id%16)*4096, Length: 4096}
}

func dequeue(t *testing.T, e *dma.Endpoint) api.Transfer {
	t.Helper()
	out, err := e.Dequeue(context.Background(), time.Second, time.Millisecond)
	require.NoError(t, err)
	return out
}

func requireUntouched(t *testing.T, r *dma.Ring) {
	t.Helper()
	assert.Zero(t, r.Head())
	for i := 0; i < r.Cap(); i++ {
		d := r.Load(i)
		assert.Equal(t, api.OpFree, d.State)
		assert.Zero(t, d.TaskID)
	}
}

func TestEnqueueRejectsInvalidTransfer(t *testing.T) {
	e, _ := newEndpoint(t, 8)
	cases := []api.Transfer{
		{TaskID: 1, Addr: bufVirt, Length: 0},
		{TaskID: 1, Addr: bufVirt, Length: 960},
		{TaskID: 1, Addr: bufVirt, Length: 1023},
		{TaskID: 1, Addr: bufVirt, Length: 1030},
		{TaskID: 1, Addr: bufVirt, Length: 4097},
		{TaskID: 1, Addr: 0, Length: 4096},
		{TaskID: 0, Addr: bufVirt, Length: 4096},
	}
	for _, tc := range cases {
		for _, mode := range []api.AddrMode{api.AddrValidated, api.AddrUnvalidated, api.AddrRaw} {
			err := e.Enqueue(tc, mode)
			assert.ErrorIs(t, err, api.ErrInvalidArgument, "%+v mode %d", tc, mode)
		}
	}
	requireUntouched(t, e.Ring())
}

func TestEnqueueMinimumLength(t *testing.T) {
	e, _ := newEndpoint(t, 2)
	require.NoError(t, e.Enqueue(api.Transfer{TaskID: 1, Addr: bufVirt, Length: 1024}, api.AddrValidated))
	require.NoError(t, e.Enqueue(api.Transfer{TaskID: 2, Addr: bufVirt + 1024, Length: 1088}, api.AddrValidated))
}

func TestEnqueuePublishesReadyDescriptor(t *testing.T) {
	e, _ := newEndpoint(t, 4)
	require.NoError(t, e.Enqueue(api.Transfer{TaskID: 9, Addr: bufVirt + 0x400, Length: 2048}, api.AddrValidated))

	d := e.Ring().Load(0)
	assert.Equal(t, api.OpReady, d.State)
	assert.Equal(t, uint64(9), d.TaskID)
	assert.Equal(t, uint64(bufPhys+0x400), d.Addr)
	assert.Equal(t, uint32(2048), d.Length)
	assert.Equal(t, 1, e.Ring().Head())
}

func TestEnqueueValidatedAddress(t *testing.T) {
	e, _ := newEndpoint(t, 4)

	err := e.Enqueue(api.Transfer{TaskID: 1, Addr: 0x1000, Length: 4096}, api.AddrValidated)
	assert.ErrorIs(t, err, api.ErrAddressInvalid, "unregistered")

	err = e.Enqueue(api.Transfer{TaskID: 1, Addr: bufVirt + bufLen - 1024, Length: 4096}, api.AddrValidated)
	assert.ErrorIs(t, err, api.ErrAddressInvalid, "runs past the contiguous region")

	err = e.Enqueue(api.Transfer{TaskID: 1, Addr: bufVirt + 64, Length: 4096}, api.AddrValidated)
	assert.ErrorIs(t, err, api.ErrAddressInvalid, "physical address not 1 KiB aligned")

	requireUntouched(t, e.Ring())
}

func TestEnqueueDebugAddressModes(t *testing.T) {
	e, _ := newEndpoint(t, 4)
	require.NoError(t, e.Enqueue(api.Transfer{TaskID: 1, Addr: 0x2040, Length: 1024}, api.AddrUnvalidated))
	require.NoError(t, e.Enqueue(api.Transfer{TaskID: 2, Addr: 0x3000, Length: 1024}, api.AddrRaw))

	assert.Equal(t, uint64(0x3040), e.Ring().Load(0).Addr)
	assert.Equal(t, uint64(0x3000), e.Ring().Load(1).Addr)

	err := e.Enqueue(api.Transfer{TaskID: 3, Addr: 0x3000, Length: 1024}, api.AddrMode(7))
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestDequeueStrictRingOrder(t *testing.T) {
	e, hw := newEndpoint(t, 8)
	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, e.Enqueue(xfer(id), api.AddrValidated))
	}

	// The device finishes task 2 first; the tail still waits for task 1.
	require.True(t, hw.CompleteAt(1, 0))
	_, err := e.Dequeue(context.Background(), 20*time.Millisecond, time.Millisecond)
	require.ErrorIs(t, err, api.ErrDequeueTimeout)
	assert.Equal(t, api.OpDone, e.Ring().Load(1).State)

	require.True(t, hw.CompleteAt(0, 0))
	assert.Equal(t, uint64(1), dequeue(t, e).TaskID)
	second := dequeue(t, e)
	assert.Equal(t, uint64(2), second.TaskID)
	assert.Equal(t, xfer(2).Length, second.Length)

	require.True(t, hw.CompleteAt(2, 5))
	third := dequeue(t, e)
	assert.Equal(t, uint64(3), third.TaskID)
	assert.Equal(t, uint32(5), third.Status)
}

func TestDequeueTimeoutLeavesSlot(t *testing.T) {
	e, _ := newEndpoint(t, 4)
	require.NoError(t, e.Enqueue(xfer(7), api.AddrValidated))
	before := e.Ring().Load(0)

	start := time.Now()
	_, err := e.Dequeue(context.Background(), 30*time.Millisecond, 5*time.Millisecond)
	assert.ErrorIs(t, err, api.ErrDequeueTimeout)
	assert.ErrorIs(t, err, api.ErrOperationTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	assert.Equal(t, before, e.Ring().Load(0))
	assert.Zero(t, e.Ring().Tail())
}

func TestDequeueClearsSlot(t *testing.T) {
	e, hw := newEndpoint(t, 4)
	require.NoError(t, e.Enqueue(xfer(3), api.AddrValidated))
	hw.Step(1)
	dequeue(t, e)

	d := e.Ring().Load(0)
	assert.Equal(t, dma.Descriptor{State: api.OpFree}, d)
}

func TestRingWraparound(t *testing.T) {
	const capacity = 4
	e, hw := newEndpoint(t, capacity)
	r := e.Ring()

	for id := uint64(1); id <= capacity; id++ {
		require.NoError(t, e.Enqueue(xfer(id), api.AddrValidated))
		require.Equal(t, 1, hw.Step(1))
		assert.Equal(t, id, dequeue(t, e).TaskID)
	}
	assert.Zero(t, r.Head())
	assert.Zero(t, r.Tail())

	for id := uint64(10); id < 10+capacity; id++ {
		require.NoError(t, e.Enqueue(xfer(id), api.AddrValidated))
	}
	err := e.Enqueue(xfer(99), api.AddrValidated)
	assert.ErrorIs(t, err, api.ErrRingFull)
	assert.ErrorIs(t, err, api.ErrResourceExhausted)
	assert.Zero(t, r.Head(), "a full ring does not move the head")
}

func TestConcurrentProducersAndConsumers(t *testing.T) {
	const (
		capacity  = 256
		producers = 8
		perWorker = capacity / producers
	)
	e, hw := newEndpoint(t, capacity)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id := uint64(p*perWorker + i + 1)
				assert.NoError(t, e.Enqueue(xfer(id), api.AddrValidated))
			}
		}(p)
	}
	wg.Wait()
	require.Equal(t, capacity, hw.Step(capacity))

	var (
		mu  sync.Mutex
		got []uint64
	)
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < capacity/4; i++ {
				out, err := e.Dequeue(context.Background(), time.Second, time.Millisecond)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				got = append(got, out.TaskID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	require.Len(t, got, capacity)
	for i, id := range got {
		assert.Equal(t, uint64(i+1), id)
	}
	assert.Zero(t, e.Ring().Head())
	assert.Zero(t, e.Ring().Tail())
}

func TestNewRingValidation(t *testing.T) {
	_, err := dma.NewRing(make([]byte, dma.RingSize(4)-1), 4)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = dma.NewRing(make([]byte, 1024), 0)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)

	r, err := dma.NewRing(make([]byte, dma.RingSize(4)), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Cap())
	require.NoError(t, r.Close())
}
