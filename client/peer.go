// File: client/peer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Peer attachment. The process that uses an arena holds a shared lock on
// the arena's lock file for as long as it is attached. Detach writes a
// shutdown marker before unlocking; a peer that dies without detaching
// leaves the file empty, which the arena's manager reports as a crash.

package client

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/arena"
)

// Peer is an attachment to one arena.
type Peer struct {
	ns string
	f  *os.File
}

// AttachPeer attaches to arena ns under runtimeRoot. The arena must be
// running: its runtime directory is created by the manager.
func AttachPeer(runtimeRoot, ns string) (*Peer, error) {
	if err := api.ValidateNamespace(ns); err != nil {
		return nil, err
	}
	paths := arena.Paths{RuntimeRoot: runtimeRoot}
	if _, err := os.Stat(paths.RuntimeDir(ns)); err != nil {
		return nil, fmt.Errorf("%w: arena %q: %w", api.ErrNotFound, ns, err)
	}
	// The lock file must never be visible unlocked and empty, or the
	// manager's probe reads it as a crashed peer. Lock a private file first
	// and rename it into place; the lock follows the inode.
	f, err := os.CreateTemp(paths.RuntimeDir(ns), ".config-*")
	if err != nil {
		return nil, fmt.Errorf("attach %q: %w", ns, err)
	}
	tmp := f.Name()
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("attach %q: flock: %w", ns, err)
	}
	if err := f.Chmod(0o644); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("attach %q: %w", ns, err)
	}
	if err := os.Rename(tmp, paths.LockFile(ns)); err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, fmt.Errorf("attach %q: %w", ns, err)
	}
	return &Peer{ns: ns, f: f}, nil
}

// Namespace returns the attached arena.
func (p *Peer) Namespace() string { return p.ns }

// Detach marks a clean shutdown and releases the lock. The manager then
// stops the arena on its own.
func (p *Peer) Detach() error {
	if p.f == nil {
		return nil
	}
	f := p.f
	p.f = nil
	defer f.Close()
	marker := "detached " + strconv.Itoa(os.Getpid()) + "\n"
	if _, err := f.WriteAt([]byte(marker), 0); err != nil {
		return fmt.Errorf("detach %q: %w", p.ns, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("detach %q: %w", p.ns, err)
	}
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
