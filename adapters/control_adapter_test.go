package adapters_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-accel/adapters"
)

func TestControlAdapterBasic(t *testing.T) {
	ctrl := adapters.NewControlAdapter("test", nil)
	assert.Empty(t, ctrl.GetConfig(), "expected empty config on init")

	called := false
	ctrl.OnReload(func() { called = true })
	require.NoError(t, ctrl.SetConfig(map[string]any{"k": 1}))
	assert.True(t, called, "reload hook not called")
	assert.Equal(t, 1, ctrl.GetConfig()["k"])

	ctrl.Metrics().Inc("arena.starts")
	ctrl.RegisterDebugProbe("answer", func() any { return 42 })
	stats := ctrl.Stats()
	assert.Equal(t, float64(1), stats["arena.starts"])
	assert.Equal(t, 42, stats["debug.answer"])
	assert.Contains(t, stats, "debug.platform.cpus")
}
