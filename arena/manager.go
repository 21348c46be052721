// File: arena/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Manager is the per-arena child process. It initializes the arena's memory,
// reports the outcome through the handshake file and then watches the peer
// until it is told to stop or the peer shuts down cleanly.

package arena

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-accel/affinity"
	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/pool"
)

// MemorySubsystem is the arena's page pool.
type MemorySubsystem interface {
	Init(budget api.Budget) error
	Close() error
}

// Verdict is the outcome of one peer health check.
type Verdict int

const (
	PeerHealthy Verdict = iota
	PeerCrashed
	PeerExited
)

func (v Verdict) String() string {
	switch v {
	case PeerHealthy:
		return "healthy"
	case PeerCrashed:
		return "crashed"
	case PeerExited:
		return "exited"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// HealthCheck inspects the arena's peer.
type HealthCheck func() (Verdict, error)

// LockFileProbe checks the peer's advisory lock file. A missing file or a
// lock held by someone else means the peer is fine. When the lock can be
// taken, an empty file means the peer died without detaching and a
// non-empty file means it detached cleanly.
func LockFileProbe(path string) HealthCheck {
	return func() (Verdict, error) {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if errors.Is(err, fs.ErrNotExist) {
			return PeerHealthy, nil
		}
		if err != nil {
			return PeerHealthy, fmt.Errorf("lock probe: %w", err)
		}
		defer f.Close()
		fd := int(f.Fd())
		if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
			if errors.Is(err, unix.EWOULDBLOCK) {
				return PeerHealthy, nil
			}
			return PeerHealthy, fmt.Errorf("lock probe: flock: %w", err)
		}
		defer unix.Flock(fd, unix.LOCK_UN)
		st, err := f.Stat()
		if err != nil {
			return PeerHealthy, fmt.Errorf("lock probe: %w", err)
		}
		if st.Size() == 0 {
			return PeerCrashed, nil
		}
		return PeerExited, nil
	}
}

// Notifier reports a crashed peer to the controller's launcher.
type Notifier func(ctx context.Context, ns string) error

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithMemory replaces the hugepage arena.
func WithMemory(mem MemorySubsystem) ManagerOption {
	return func(m *Manager) { m.mem = mem }
}

// WithHealthCheck replaces the lock file probe.
func WithHealthCheck(hc HealthCheck) ManagerOption {
	return func(m *Manager) { m.health = hc }
}

// WithNotifier replaces the crash channel client.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) { m.notify = n }
}

// Manager serves one arena.
type Manager struct {
	spec   ManagerSpec
	paths  Paths
	log    *zap.Logger
	mem    MemorySubsystem
	health HealthCheck
	notify Notifier
}

// NewManager builds a manager for spec with the default hugepage arena,
// lock file probe and crash channel notifier.
func NewManager(spec ManagerSpec, opts ...ManagerOption) *Manager {
	m := &Manager{spec: spec, paths: spec.Paths(), log: zap.NewNop()}
	for _, o := range opts {
		o(m)
	}
	if m.mem == nil {
		m.mem = pool.NewHugepageArena(pool.ArenaConfig{
			Dir:      m.paths.HugepageDir(spec.Namespace),
			PageSize: spec.PageSize,
			Bind:     spec.Bind,
		})
	}
	if m.health == nil {
		m.health = LockFileProbe(m.paths.LockFile(spec.Namespace))
	}
	if m.notify == nil {
		addr := spec.CrashAddr
		m.notify = func(ctx context.Context, ns string) error {
			return NotifyCrash(ctx, addr, ns, 5*time.Second)
		}
	}
	m.log = m.log.With(zap.String("namespace", spec.Namespace), zap.Int("pid", os.Getpid()))
	return m
}

// Run initializes the arena and monitors it until ctx is cancelled or the
// peer exits cleanly. Artifacts are removed on every return path.
func (m *Manager) Run(ctx context.Context) error {
	ns := m.spec.Namespace
	defer m.cleanup()

	if err := m.init(); err != nil {
		m.log.Error("arena initialization failed", zap.Error(err))
		if herr := WriteHandshake(m.paths.HandshakeFile(ns), err); herr != nil {
			m.log.Error("handshake failed", zap.Error(herr))
		}
		return err
	}
	if err := WriteHandshake(m.paths.HandshakeFile(ns), nil); err != nil {
		return err
	}
	m.log.Info("arena initialized", zap.Uint64("pages", m.spec.Budget.Total()))
	return m.monitor(ctx)
}

func (m *Manager) init() error {
	ns := m.spec.Namespace
	if err := os.MkdirAll(m.paths.HugepageDir(ns), 0o755); err != nil {
		return fmt.Errorf("hugepage dir: %w", err)
	}
	if err := os.MkdirAll(m.paths.RuntimeDir(ns), 0o755); err != nil {
		return fmt.Errorf("runtime dir: %w", err)
	}
	if err := os.WriteFile(m.paths.VersionFile(ns), []byte(m.spec.Version+"\n"), 0o644); err != nil {
		return fmt.Errorf("version stamp: %w", err)
	}
	return m.mem.Init(m.spec.Budget)
}

func (m *Manager) monitor(ctx context.Context) error {
	interval := m.spec.MonitorInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if m.spec.Bind {
		m.pin()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	reported := false
	for {
		select {
		case <-ctx.Done():
			m.log.Info("termination requested")
			return nil
		case <-ticker.C:
		}
		v, err := m.health()
		if err != nil {
			m.log.Warn("health check failed", zap.Error(err))
			continue
		}
		switch v {
		case PeerHealthy:
			reported = false
		case PeerCrashed:
			if reported {
				continue
			}
			m.log.Error("peer crashed holding the arena")
			if err := m.notify(ctx, m.spec.Namespace); err != nil {
				m.log.Warn("crash notification failed", zap.Error(err))
				continue
			}
			reported = true
		case PeerExited:
			m.log.Info("peer detached, shutting down")
			return nil
		}
	}
}

// pin keeps the monitor on the node holding most of the arena's pages.
func (m *Manager) pin() {
	node, best := 0, uint32(0)
	for s, n := range m.spec.Budget {
		if n > best {
			node, best = s, n
		}
	}
	runtime.LockOSThread()
	if err := affinity.PinToNode(node); err != nil {
		runtime.UnlockOSThread()
		m.log.Warn("monitor not pinned", zap.Int("node", node), zap.Error(err))
		return
	}
	m.log.Debug("monitor pinned", zap.Int("node", node))
}

func (m *Manager) cleanup() {
	if err := m.mem.Close(); err != nil {
		m.log.Warn("release memory", zap.Error(err))
	}
	if err := m.paths.Remove(m.spec.Namespace); err != nil {
		m.log.Warn("remove artifacts", zap.Error(err))
	}
}

// ManagerMain parses args and runs a manager until SIGTERM or SIGINT.
func ManagerMain(args []string, opts ...ManagerOption) error {
	spec, err := ParseManagerSpec(args)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGTERM, unix.SIGINT)
	defer stop()
	return NewManager(spec, opts...).Run(ctx)
}
