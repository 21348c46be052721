// File: arena/artifacts.go
// Author: momentics <momentics@gmail.com>
//
// Namespace-scoped filesystem artifacts.

package arena

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Paths resolves the filesystem artifacts of a namespace:
//
//	<HugepageRoot>/<ns>/            hugepage directory (page files)
//	<RuntimeRoot>/<ns>/             runtime directory
//	<RuntimeRoot>/<ns>/config       advisory lock file held by the peer
//	<RuntimeRoot>/<ns>/version      version stamp
//	<RuntimeRoot>/<ns>.handshake    transient startup handshake
//	<RuntimeRoot>/<ns>.lock         legacy lock file
//
// The handshake lives beside the runtime directory so that it outlives the
// manager's own cleanup; the controller deletes it once read.
type Paths struct {
	HugepageRoot string
	RuntimeRoot  string
}

func (p Paths) HugepageDir(ns string) string    { return filepath.Join(p.HugepageRoot, ns) }
func (p Paths) RuntimeDir(ns string) string     { return filepath.Join(p.RuntimeRoot, ns) }
func (p Paths) LockFile(ns string) string       { return filepath.Join(p.RuntimeDir(ns), "config") }
func (p Paths) VersionFile(ns string) string    { return filepath.Join(p.RuntimeDir(ns), "version") }
func (p Paths) HandshakeFile(ns string) string  { return filepath.Join(p.RuntimeRoot, ns+".handshake") }
func (p Paths) LegacyLockFile(ns string) string { return filepath.Join(p.RuntimeRoot, ns+".lock") }

// Remove deletes the hugepage and runtime directories. Missing directories
// are not an error.
func (p Paths) Remove(ns string) error {
	return errors.Join(
		removeAll(p.HugepageDir(ns)),
		removeAll(p.RuntimeDir(ns)),
	)
}

// RemoveHandshake deletes the handshake file if present.
func (p Paths) RemoveHandshake(ns string) error {
	err := os.Remove(p.HandshakeFile(ns))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// RemoveLegacyLock deletes the legacy lock file if present.
func (p Paths) RemoveLegacyLock(ns string) error {
	err := os.Remove(p.LegacyLockFile(ns))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func removeAll(dir string) error {
	err := os.RemoveAll(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
