// File: arena/server_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package arena

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/protocol"
)

func call(t *testing.T, conn net.Conn, req *protocol.Request) *protocol.Response {
	t.Helper()
	require.NoError(t, protocol.WriteRequest(conn, req))
	resp, err := protocol.ReadResponse(conn, req.Op)
	require.NoError(t, err)
	return resp
}

func TestServerSequentialClients(t *testing.T) {
	c := newTestController(t, testConfig(t))
	ln := listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- NewServer(c, nil).Serve(ctx, ln) }()

	first, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	b, _ := api.BudgetOf(1)
	assert.Equal(t, protocol.StatusOK, call(t, first, &protocol.Request{Op: protocol.OpPing}).Status)
	assert.Equal(t, protocol.StatusOK, call(t, first, &protocol.Request{Op: protocol.OpStart, Namespace: "srv", Budget: b}).Status)

	// A second client is accepted by the kernel but not served until the
	// first disconnects.
	second, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, protocol.WriteRequest(second, &protocol.Request{Op: protocol.OpGetPID, Namespace: "srv"}))
	require.NoError(t, second.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = protocol.ReadResponse(second, protocol.OpGetPID)
	require.Error(t, err)

	require.NoError(t, first.Close())
	require.NoError(t, second.SetReadDeadline(time.Now().Add(5*time.Second)))
	resp, err := protocol.ReadResponse(second, protocol.OpGetPID)
	require.NoError(t, err)
	assert.Greater(t, resp.PID, int64(0))

	limit := call(t, second, &protocol.Request{Op: protocol.OpGetLimit, Socket: 1})
	assert.Equal(t, uint64(4), limit.Value)

	quit := call(t, second, &protocol.Request{Op: protocol.OpFinishAll})
	assert.Equal(t, protocol.StatusQuit, quit.Status)
	require.NoError(t, <-served)
	cancel()
}

func TestServerStopsOnCancel(t *testing.T) {
	c := newTestController(t, testConfig(t))
	ln := listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- NewServer(c, nil).Serve(ctx, ln) }()

	cancel()
	assert.ErrorIs(t, <-served, context.Canceled)
}
