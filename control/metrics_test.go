// control/metrics_test.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistryExposition(t *testing.T) {
	mr := NewMetricsRegistry("arena")
	mr.Inc("arena.starts")
	mr.Inc("arena.starts")
	mr.Set("arena.live", 3)

	snap := mr.GetSnapshot()
	assert.Equal(t, float64(2), snap["arena.starts"])
	assert.Equal(t, float64(3), snap["arena.live"])

	rec := httptest.NewRecorder()
	mr.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "arena_arena_starts 2")
	assert.Contains(t, string(body), "arena_arena_live 3")
}

func TestNilMetricsRegistryIsNoop(t *testing.T) {
	var mr *MetricsRegistry
	assert.NotPanics(t, func() {
		mr.Inc("x")
		mr.Set("y", 1)
	})
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("b", func() any { return 2 })
	dp.RegisterProbe("a", func() any { return 1 })
	assert.Equal(t, []string{"a", "b"}, dp.Names())
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, dp.DumpState())
}
