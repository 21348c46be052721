package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigStoreLoadFileFlattens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accel.yaml")
	doc := `
arena:
  listen: 127.0.0.1:18000
  handshake_interval: 25ms
  table_size: 4
  default_budget: [1, 1]
dma:
  dequeue_timeout: 250
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cs := NewConfigStore()
	reloaded := 0
	cs.OnReload(func() { reloaded++ })
	require.NoError(t, cs.LoadFile(path))

	assert.Equal(t, 1, reloaded)
	assert.Equal(t, "127.0.0.1:18000", cs.String("arena.listen", ""))
	assert.Equal(t, 25*time.Millisecond, cs.Duration("arena.handshake_interval", 0))
	assert.Equal(t, 4, cs.Int("arena.table_size", 0))
	assert.Equal(t, []uint32{1, 1}, cs.Uint32s("arena.default_budget", nil))
	assert.Equal(t, 250*time.Millisecond, cs.Duration("dma.dequeue_timeout", 0))
}

func TestConfigStoreDefaults(t *testing.T) {
	cs := NewConfigStore()
	cs.SetConfigSync(map[string]any{"bad.duration": "soon", "budget": "2, 3", "flag": "false", "odd": "maybe"})

	assert.Equal(t, time.Second, cs.Duration("bad.duration", time.Second))
	assert.Equal(t, 7, cs.Int("missing", 7))
	assert.Equal(t, []uint32{2, 3}, cs.Uint32s("budget", nil))
	assert.Equal(t, "x", cs.String("missing", "x"))
	assert.False(t, cs.Bool("flag", true))
	assert.True(t, cs.Bool("odd", true))
}

func TestConfigStoreLoadFileMissing(t *testing.T) {
	err := NewConfigStore().LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestMetricsRegistrySnapshot(t *testing.T) {
	mr := NewMetricsRegistry("t")
	mr.Inc("ring.enqueued")
	mr.Inc("ring.enqueued")
	mr.Set("arenas.live", 3)

	snap := mr.GetSnapshot()
	assert.Equal(t, float64(2), snap["ring.enqueued"])
	assert.Equal(t, float64(3), snap["arenas.live"])
	assert.NotNil(t, mr.Handler())
}

func TestDebugProbesNamesSorted(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("b", func() any { return 2 })
	dp.RegisterProbe("a", func() any { return 1 })
	assert.Equal(t, []string{"a", "b"}, dp.Names())
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, dp.DumpState())
}
