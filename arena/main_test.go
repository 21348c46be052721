// File: arena/main_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package arena

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/pool"
	"github.com/momentics/hioload-accel/protocol"
)

const (
	envManager  = "ARENA_TEST_MANAGER"
	envFailInit = "ARENA_TEST_FAIL_INIT"
)

// TestMain turns the test binary into a manager process when re-executed
// by the ExecSpawner.
func TestMain(m *testing.M) {
	if os.Getenv(envManager) == "1" {
		args := os.Args[1:]
		if len(args) > 0 && args[0] == "manager" {
			args = args[1:]
		}
		var opts []ManagerOption
		if msg := os.Getenv(envFailInit); msg != "" {
			opts = append(opts, WithMemory(failingMemory{msg: msg}))
		}
		if err := ManagerMain(args, opts...); err != nil {
			fmt.Fprintln(os.Stderr, "manager:", err)
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type failingMemory struct{ msg string }

func (f failingMemory) Init(api.Budget) error { return errors.New(f.msg) }
func (failingMemory) Close() error            { return nil }

type nopMemory struct{ closed bool }

func (*nopMemory) Init(api.Budget) error { return nil }
func (m *nopMemory) Close() error        { m.closed = true; return nil }

// staticCounters reports every page free.
type staticCounters []uint64

func (c staticCounters) Sockets() int                { return len(c) }
func (c staticCounters) Free(s int) (uint64, error)  { return c[s], nil }
func (c staticCounters) Total(s int) (uint64, error) { return c[s], nil }

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.HugepageRoot = filepath.Join(dir, "hugepages")
	cfg.RuntimeRoot = filepath.Join(dir, "run")
	cfg.TableSize = 4
	cfg.HandshakeInterval = 10 * time.Millisecond
	cfg.HandshakeTimeout = 10 * time.Second
	cfg.StopGrace = 5 * time.Second
	cfg.FinishInterval = 10 * time.Millisecond
	cfg.FinishTimeout = 10 * time.Second
	cfg.MonitorInterval = 10 * time.Millisecond
	cfg.PageSize = os.Getpagesize()
	cfg.BindNUMA = false
	cfg.CrashAddr = "127.0.0.1:1"
	return cfg
}

func testSpawner(env ...string) *ExecSpawner {
	return &ExecSpawner{
		Path:   os.Args[0],
		Args:   []string{"manager"},
		Env:    append([]string{envManager + "=1"}, env...),
		Stderr: os.Stderr,
	}
}

func newTestController(t *testing.T, cfg Config, opts ...Option) *Controller {
	t.Helper()
	base := []Option{
		WithSpawner(testSpawner()),
		WithCounters(staticCounters{4, 4}),
		WithBudget(pool.NewBudget([]int64{4, 4})),
	}
	c, err := NewController(cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func serveCrash(t *testing.T, ln net.Listener, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = NewServer(c, nil).ServeCrash(ctx, ln)
	}()
	t.Cleanup(func() { cancel(); <-done })
}

func run(t *testing.T, c *Controller, op protocol.Opcode, ns string, pages ...uint32) *protocol.Response {
	t.Helper()
	b, err := api.BudgetOf(pages...)
	require.NoError(t, err)
	return c.Execute(context.Background(), &protocol.Request{Op: op, Namespace: ns, Budget: b})
}

func pidOf(t *testing.T, c *Controller, ns string) int64 {
	t.Helper()
	r := run(t, c, protocol.OpGetPID, ns)
	require.Equal(t, protocol.StatusOK, r.Status)
	return r.PID
}
