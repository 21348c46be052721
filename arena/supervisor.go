// File: arena/supervisor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Child process supervision: spawn, non-blocking reap, signal.

package arena

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Exit describes how a supervised process terminated.
type Exit struct {
	PID    int
	Code   int
	Signal syscall.Signal
	Err    error
}

// Clean reports a zero exit status without a terminating signal.
func (e Exit) Clean() bool {
	return e.Err == nil && e.Signal == 0 && e.Code == 0
}

func (e Exit) String() string {
	switch {
	case e.Signal != 0:
		return fmt.Sprintf("pid %d killed by %s", e.PID, e.Signal)
	case e.Err != nil:
		return fmt.Sprintf("pid %d: %v", e.PID, e.Err)
	default:
		return fmt.Sprintf("pid %d exited with %d", e.PID, e.Code)
	}
}

// Process is a running supervised child.
type Process interface {
	PID() int
	Signal(sig os.Signal) error
	// Done is closed once the process has been waited for.
	Done() <-chan struct{}
	// Exit is valid after Done is closed.
	Exit() Exit
}

// Spawner starts manager processes.
type Spawner interface {
	Spawn(spec ManagerSpec) (Process, error)
}

// ExecSpawner re-executes a binary with the "manager" subcommand.
type ExecSpawner struct {
	Path   string
	Args   []string // inserted before the manager flags
	Env    []string // appended to the parent environment
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecSpawner returns a spawner for the running executable.
func NewExecSpawner() (*ExecSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &ExecSpawner{Path: exe, Args: []string{"manager"}, Stdout: os.Stdout, Stderr: os.Stderr}, nil
}

// Spawn starts the manager for spec and a goroutine that waits for it.
func (s *ExecSpawner) Spawn(spec ManagerSpec) (Process, error) {
	args := append(append([]string(nil), s.Args...), spec.Flags()...)
	cmd := exec.Command(s.Path, args...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	// Own process group: a terminal SIGINT aimed at the controller must not
	// tear arenas down behind its back.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn manager %q: %w", spec.Namespace, err)
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	exit Exit
}

func (p *execProcess) wait() {
	err := p.cmd.Wait()
	e := Exit{PID: p.cmd.Process.Pid}
	var ee *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &ee):
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			e.Signal = ws.Signal()
		} else {
			e.Code = ee.ExitCode()
		}
	default:
		e.Err = err
	}
	p.exit = e
	close(p.done)
}

func (p *execProcess) PID() int                   { return p.cmd.Process.Pid }
func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Done() <-chan struct{}      { return p.done }
func (p *execProcess) Exit() Exit                 { <-p.done; return p.exit }

// Supervisor tracks spawned processes by pid.
type Supervisor struct {
	spawner Spawner

	mu    sync.Mutex
	procs map[int]Process
}

// NewSupervisor wraps spawner.
func NewSupervisor(spawner Spawner) *Supervisor {
	return &Supervisor{spawner: spawner, procs: make(map[int]Process)}
}

// Spawn starts and tracks a manager.
func (s *Supervisor) Spawn(spec ManagerSpec) (Process, error) {
	p, err := s.spawner.Spawn(spec)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.procs[p.PID()] = p
	s.mu.Unlock()
	return p, nil
}

// Reap returns every tracked process that has terminated since the last
// call and stops tracking it. It never blocks.
func (s *Supervisor) Reap() []Exit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Exit
	for pid, p := range s.procs {
		select {
		case <-p.Done():
			out = append(out, p.Exit())
			delete(s.procs, pid)
		default:
		}
	}
	return out
}

// Signal delivers sig to a tracked process.
func (s *Supervisor) Signal(pid int, sig os.Signal) error {
	s.mu.Lock()
	p, ok := s.procs[pid]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("pid %d: %w", pid, os.ErrProcessDone)
	}
	return p.Signal(sig)
}

// Terminate sends SIGTERM to a tracked process.
func (s *Supervisor) Terminate(pid int) error {
	return s.Signal(pid, unix.SIGTERM)
}

// Kill sends SIGKILL to a tracked process.
func (s *Supervisor) Kill(pid int) error {
	return s.Signal(pid, unix.SIGKILL)
}

// Process returns the tracked process for pid.
func (s *Supervisor) Process(pid int) (Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	return p, ok
}

// Len returns the number of tracked processes.
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}
