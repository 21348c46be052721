// File: arena/support_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package arena

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
)

func TestCrashListLIFO(t *testing.T) {
	l := NewCrashList()
	_, ok := l.Latest()
	assert.False(t, ok)

	l.Push("a")
	l.Push("b")
	l.Push("c")
	latest, _ := l.Latest()
	assert.Equal(t, "c", latest)
	assert.Equal(t, []string{"c", "b", "a"}, l.Snapshot())

	l.Push("a")
	assert.Equal(t, []string{"a", "c", "b"}, l.Snapshot(), "duplicate moves to the top")

	assert.True(t, l.Remove("c"))
	assert.False(t, l.Remove("c"))
	assert.False(t, l.Contains("c"))
	assert.True(t, l.Contains("b"))
	assert.Equal(t, 2, l.Len())
}

func TestNotifyCrash(t *testing.T) {
	c := newTestController(t, testConfig(t))
	ln := listen(t)
	serveCrash(t, ln, c)

	require.NoError(t, NotifyCrash(context.Background(), ln.Addr().String(), "ns1", time.Second))
	require.True(t, c.Crashes().Contains("ns1"))

	err := NotifyCrash(context.Background(), "127.0.0.1:1", "ns1", 100*time.Millisecond)
	assert.ErrorIs(t, err, api.ErrTransport)
}

func TestTableSmallestFreeSlot(t *testing.T) {
	tb := newTable(3)
	for i := 0; i < 3; i++ {
		slot, err := tb.alloc()
		require.NoError(t, err)
		assert.Equal(t, i, slot)
		tb.put(&entry{slot: slot, ns: string(rune('a' + i)), pid: 100 + i})
	}
	_, err := tb.alloc()
	assert.ErrorIs(t, err, api.ErrTableFull)
	assert.ErrorIs(t, err, api.ErrResourceExhausted)

	tb.free(tb.lookup("b").slot)
	require.NoError(t, tb.check())
	slot, err := tb.alloc()
	require.NoError(t, err)
	assert.Equal(t, 1, slot)
	assert.ErrorIs(t, tb.check(), api.ErrInconsistentState, "reserved slot without an entry")

	tb.put(&entry{slot: slot, ns: "d", pid: 200})
	require.NoError(t, tb.check())
	assert.Equal(t, "d", tb.byPID(200).ns)
	assert.Nil(t, tb.byPID(101))

	var names []string
	for _, e := range tb.entries() {
		names = append(names, e.ns)
	}
	assert.Equal(t, []string{"a", "d", "c"}, names)
}

func TestHandshake(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ns", ".handshake")

	done, err := ReadHandshake(path)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, WriteHandshake(path, nil))
	done, err = ReadHandshake(path)
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, WriteHandshake(path, errors.New("mbind failed")))
	done, err = ReadHandshake(path)
	assert.True(t, done)
	assert.ErrorIs(t, err, api.ErrInitFailed)
	assert.ErrorContains(t, err, "mbind failed")
	assert.NoFileExists(t, path+".tmp")
}

func TestPathsRemoveIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	p := Paths{HugepageRoot: filepath.Join(dir, "hp"), RuntimeRoot: filepath.Join(dir, "run")}
	require.NoError(t, os.MkdirAll(p.HugepageDir("x"), 0o755))
	require.NoError(t, os.MkdirAll(p.RuntimeDir("x"), 0o755))
	require.NoError(t, os.WriteFile(p.LockFile("x"), nil, 0o644))

	require.NoError(t, p.Remove("x"))
	assert.NoDirExists(t, p.RuntimeDir("x"))
	require.NoError(t, p.Remove("x"))
	require.NoError(t, p.RemoveLegacyLock("x"))

	require.NoError(t, WriteHandshake(p.HandshakeFile("x"), nil))
	require.NoError(t, p.Remove("x"))
	assert.FileExists(t, p.HandshakeFile("x"), "manager cleanup keeps the handshake")
	require.NoError(t, p.RemoveHandshake("x"))
	assert.NoFileExists(t, p.HandshakeFile("x"))
	require.NoError(t, p.RemoveHandshake("x"))
}

func TestConfigFromStore(t *testing.T) {
	cs := control.NewConfigStore()
	cs.SetConfigSync(map[string]any{
		"arena.listen":             "127.0.0.1:9000",
		"arena.table_size":         16,
		"arena.handshake_interval": "20ms",
		"arena.default_budget":     "2,3",
		"arena.bind_numa":          "false",
	})
	cfg := ConfigFrom(cs)
	assert.Equal(t, "127.0.0.1:9000", cfg.ControlAddr)
	assert.Equal(t, 16, cfg.TableSize)
	assert.Equal(t, 20*time.Millisecond, cfg.HandshakeInterval)
	assert.Equal(t, 60*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, api.Budget{2, 3}, cfg.DefaultBudget)
	assert.False(t, cfg.BindNUMA)
}
