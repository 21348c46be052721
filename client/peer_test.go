// File: client/peer_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-accel/arena"
)

// A manager probing while a healthy peer attaches must never see a crash.
func TestAttachPeerNeverLooksCrashed(t *testing.T) {
	root := t.TempDir()
	var crashed atomic.Int64

	for i := 0; i < 500; i++ {
		runtimeRoot := filepath.Join(root, fmt.Sprintf("r%d", i))
		paths := arena.Paths{RuntimeRoot: runtimeRoot}
		require.NoError(t, os.MkdirAll(paths.RuntimeDir("app"), 0o755))
		probe := arena.LockFileProbe(paths.LockFile("app"))

		stop := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if v, err := probe(); err == nil && v == arena.PeerCrashed {
					crashed.Add(1)
				}
			}
		}()

		peer, err := AttachPeer(runtimeRoot, "app")
		require.NoError(t, err)
		v, err := probe()
		require.NoError(t, err)
		assert.Equal(t, arena.PeerHealthy, v)

		close(stop)
		wg.Wait()
		require.NoError(t, peer.Detach())
	}
	assert.Zero(t, crashed.Load(), "attaching peers reported as crashed")
}

func TestAttachPeerLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	paths := arena.Paths{RuntimeRoot: root}
	require.NoError(t, os.MkdirAll(paths.RuntimeDir("app"), 0o755))

	peer, err := AttachPeer(root, "app")
	require.NoError(t, err)
	entries, err := os.ReadDir(paths.RuntimeDir("app"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "config", entries[0].Name())

	st, err := os.Stat(paths.LockFile("app"))
	require.NoError(t, err)
	assert.Zero(t, st.Size())
	require.NoError(t, peer.Detach())

	v, err := arena.LockFileProbe(paths.LockFile("app"))()
	require.NoError(t, err)
	assert.Equal(t, arena.PeerExited, v)
}
