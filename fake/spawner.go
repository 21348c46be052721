// File: fake/spawner.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/momentics/hioload-accel/arena"
)

// Spawner runs managers as goroutines instead of child processes. Pids are
// synthetic and never collide with real processes.
type Spawner struct {
	// Memory builds the memory subsystem of each manager. Nil uses the
	// manager's default hugepage arena.
	Memory func(spec arena.ManagerSpec) arena.MemorySubsystem
	Logger *zap.Logger

	next  atomic.Int64
	mu    sync.Mutex
	procs map[int]*Process
}

// Spawn implements arena.Spawner.
func (s *Spawner) Spawn(spec arena.ManagerSpec) (arena.Process, error) {
	var opts []arena.ManagerOption
	if s.Memory != nil {
		opts = append(opts, arena.WithMemory(s.Memory(spec)))
	}
	if s.Logger != nil {
		opts = append(opts, arena.WithManagerLogger(s.Logger))
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Process{
		pid:    int(1<<22 + s.next.Add(1)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m := arena.NewManager(spec, opts...)
	go func() {
		err := m.Run(ctx)
		p.mu.Lock()
		p.exit = arena.Exit{PID: p.pid, Signal: p.killed}
		if err != nil && p.killed == 0 {
			p.exit.Code = 1
		}
		p.mu.Unlock()
		close(p.done)
	}()
	s.mu.Lock()
	if s.procs == nil {
		s.procs = make(map[int]*Process)
	}
	s.procs[p.pid] = p
	s.mu.Unlock()
	return p, nil
}

// Process returns the spawned process with pid.
func (s *Spawner) Process(pid int) *Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[pid]
}

// Process is an in-process manager.
type Process struct {
	pid    int
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	killed syscall.Signal
	exit   arena.Exit
}

func (p *Process) PID() int              { return p.pid }
func (p *Process) Done() <-chan struct{} { return p.done }

// Exit implements arena.Process.
func (p *Process) Exit() arena.Exit {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit
}

// Signal stops the manager. SIGKILL is recorded as the terminating signal;
// any other signal is a requested shutdown.
func (p *Process) Signal(sig os.Signal) error {
	select {
	case <-p.done:
		return os.ErrProcessDone
	default:
	}
	if s, ok := sig.(syscall.Signal); ok && s == syscall.SIGKILL {
		p.mu.Lock()
		p.killed = s
		p.mu.Unlock()
	}
	p.cancel()
	return nil
}
