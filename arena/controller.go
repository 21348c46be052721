// File: arena/controller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Controller owns the arena table and executes protocol commands one at a
// time. Every command except PING starts with a health pass that reaps
// finished managers and frees their slots.

package arena

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/internal/concurrency"
	"github.com/momentics/hioload-accel/pool"
	"github.com/momentics/hioload-accel/protocol"
)

// Option configures a Controller.
type Option func(*Controller)

// WithSpawner replaces the re-exec spawner.
func WithSpawner(s Spawner) Option {
	return func(c *Controller) { c.spawner = s }
}

// WithCounters replaces the sysfs hugepage counters.
func WithCounters(pc pool.Counters) Option {
	return func(c *Controller) { c.counters = pc }
}

// WithBudget replaces the budget derived from the counters.
func WithBudget(b *pool.Budget) Option {
	return func(c *Controller) { c.budget = b }
}

// WithLogger sets the controller logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *control.MetricsRegistry) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithCrashList shares a crash list with the crash channel server.
func WithCrashList(l *CrashList) Option {
	return func(c *Controller) { c.crashes = l }
}

// Controller is the single source of truth for live arenas.
type Controller struct {
	cfg      Config
	paths    Paths
	log      *zap.Logger
	metrics  *control.MetricsRegistry
	spawner  Spawner
	sup      *Supervisor
	counters pool.Counters
	budget   *pool.Budget
	crashes  *CrashList

	mu    sync.Mutex
	table *table
}

// NewController builds a controller for cfg.
func NewController(cfg Config, opts ...Option) (*Controller, error) {
	if cfg.TableSize <= 0 {
		return nil, fmt.Errorf("%w: table size %d", api.ErrInvalidArgument, cfg.TableSize)
	}
	c := &Controller{cfg: cfg, paths: cfg.Paths(), log: zap.NewNop(), table: newTable(cfg.TableSize)}
	for _, o := range opts {
		o(c)
	}
	if c.spawner == nil {
		s, err := NewExecSpawner()
		if err != nil {
			return nil, err
		}
		c.spawner = s
	}
	if c.counters == nil {
		c.counters = pool.NewSysfsCounters()
	}
	if c.budget == nil {
		b, err := pool.BudgetFromCounters(c.counters)
		if err != nil {
			return nil, fmt.Errorf("hugepage budget: %w", err)
		}
		c.budget = b
	}
	if c.crashes == nil {
		c.crashes = NewCrashList()
	}
	c.sup = NewSupervisor(c.spawner)
	return c, nil
}

// Crashes returns the crash list fed by the crash channel.
func (c *Controller) Crashes() *CrashList { return c.crashes }

// Execute runs one command to completion.
func (c *Controller) Execute(ctx context.Context, req *protocol.Request) *protocol.Response {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := c.log.With(zap.Stringer("opcode", req.Op), zap.String("namespace", req.Namespace))
	log.Debug("execute")
	c.metrics.Inc("controller.requests")

	if req.Op != protocol.OpPing {
		if err := c.healthPass(); err != nil {
			log.Error("health pass", zap.Error(err))
			return protocol.NG(err)
		}
	}

	switch req.Op {
	case protocol.OpStart:
		return c.start(ctx, log, req.Namespace, req.Budget)
	case protocol.OpStartDefault:
		return c.start(ctx, log, req.Namespace, c.cfg.DefaultBudget)
	case protocol.OpStop:
		return c.stop(log, req.Namespace)
	case protocol.OpGetPID:
		r := protocol.OK()
		if e := c.table.lookup(req.Namespace); e != nil {
			r.PID = int64(e.pid)
		}
		return r
	case protocol.OpGetAvail, protocol.OpGetLimit:
		s := int(req.Socket)
		if s < 0 || s >= c.budget.Sockets() {
			return protocol.NG(fmt.Errorf("%w: socket %d", api.ErrInvalidArgument, s))
		}
		r := protocol.OK()
		if req.Op == protocol.OpGetAvail {
			r.Value = uint64(c.budget.Available(s))
		} else {
			r.Value = uint64(c.budget.Limit(s))
		}
		return r
	case protocol.OpGetInfo:
		r := protocol.OK()
		r.Records = c.recordsLocked()
		return r
	case protocol.OpPing:
		return protocol.OK()
	case protocol.OpFinishAll:
		if err := c.finishAll(ctx); err != nil {
			log.Error("finish all", zap.Error(err))
			return protocol.NG(err)
		}
		return &protocol.Response{Status: protocol.StatusQuit}
	default:
		return protocol.NG(fmt.Errorf("%w: opcode %d", api.ErrInvalidArgument, uint32(req.Op)))
	}
}

func (c *Controller) start(ctx context.Context, log *zap.Logger, ns string, budget api.Budget) *protocol.Response {
	if err := api.ValidateNamespace(ns); err != nil {
		return protocol.NG(err)
	}
	if budget.Total() == 0 {
		return protocol.NG(fmt.Errorf("%w: empty budget", api.ErrInvalidArgument))
	}
	if c.table.lookup(ns) != nil {
		log.Info("arena already active")
		return &protocol.Response{Status: protocol.StatusInit}
	}
	slot, err := c.table.alloc()
	if err != nil {
		return protocol.NG(err)
	}
	if err := c.budget.Reserve(budget); err != nil {
		c.table.free(slot)
		return protocol.NG(err)
	}

	hs := c.paths.HandshakeFile(ns)
	if err := c.paths.RemoveHandshake(ns); err != nil {
		c.abortStart(slot, budget, ns)
		return protocol.NG(fmt.Errorf("%w: stale handshake: %w", api.ErrInitFailed, err))
	}
	proc, err := c.sup.Spawn(c.cfg.SpecFor(ns, budget))
	if err != nil {
		c.abortStart(slot, budget, ns)
		return protocol.NG(fmt.Errorf("%w: %w", api.ErrInitFailed, err))
	}
	log = log.With(zap.Int("pid", proc.PID()), zap.Int("slot", slot))

	err = concurrency.Poll(ctx, c.cfg.HandshakeInterval, c.cfg.HandshakeTimeout, api.ErrHandshakeTimeout, func() (bool, error) {
		if done, err := ReadHandshake(hs); done {
			return true, err
		}
		select {
		case <-proc.Done():
			// The manager may have published and exited between the read
			// above and this check.
			if done, err := ReadHandshake(hs); done {
				return true, err
			}
			return false, fmt.Errorf("%w: manager exited before handshake (%s)", api.ErrInitFailed, proc.Exit())
		default:
			return false, nil
		}
	})
	if err != nil {
		log.Warn("arena start failed", zap.Error(err))
		c.killAndWait(proc)
		c.abortStart(slot, budget, ns)
		c.metrics.Inc("arena.start_failures")
		if !errors.Is(err, api.ErrInitFailed) {
			err = fmt.Errorf("%w: %w", api.ErrInitFailed, err)
		}
		return protocol.NG(err)
	}

	if err := c.paths.RemoveHandshake(ns); err != nil {
		log.Warn("remove handshake", zap.Error(err))
	}
	c.table.put(&entry{
		slot:    slot,
		ns:      ns,
		pid:     proc.PID(),
		budget:  budget,
		state:   api.ArenaInitialized,
		version: Version,
	})
	c.crashes.Remove(ns)
	c.metrics.Inc("arena.starts")
	c.metrics.Set("arena.live", float64(c.table.len()))
	log.Info("arena started", zap.Uint64("pages", budget.Total()))
	return protocol.OK()
}

func (c *Controller) abortStart(slot int, budget api.Budget, ns string) {
	c.budget.Release(budget)
	c.table.free(slot)
	if err := errors.Join(c.paths.Remove(ns), c.paths.RemoveHandshake(ns)); err != nil {
		c.log.Warn("remove artifacts", zap.String("namespace", ns), zap.Error(err))
	}
}

func (c *Controller) killAndWait(p Process) {
	select {
	case <-p.Done():
		return
	default:
	}
	_ = c.sup.Kill(p.PID())
	select {
	case <-p.Done():
	case <-time.After(c.cfg.StopGrace):
		c.log.Error("manager did not exit after SIGKILL", zap.Int("pid", p.PID()))
	}
}

func (c *Controller) stop(log *zap.Logger, ns string) *protocol.Response {
	if err := c.paths.RemoveLegacyLock(ns); err != nil {
		log.Debug("legacy lock", zap.Error(err))
	}
	e := c.table.lookup(ns)
	if e == nil {
		return protocol.NG(fmt.Errorf("%w: arena %q", api.ErrNotFound, ns))
	}
	log = log.With(zap.Int("pid", e.pid))
	if err := c.sup.Terminate(e.pid); err != nil {
		log.Debug("terminate", zap.Error(err))
	}
	c.metrics.Inc("arena.stops")
	// STOP does not verify; a short grace lets an immediate query observe
	// the exit.
	if p, ok := c.sup.Process(e.pid); ok {
		select {
		case <-p.Done():
		case <-time.After(c.cfg.StopGrace):
			log.Info("manager still running after stop grace")
		}
	}
	if err := c.healthPass(); err != nil {
		return protocol.NG(err)
	}
	return protocol.OK()
}

func (c *Controller) finishAll(ctx context.Context) error {
	for _, e := range c.table.entries() {
		if err := c.sup.Terminate(e.pid); err != nil {
			c.log.Debug("terminate", zap.String("namespace", e.ns), zap.Error(err))
		}
	}
	return concurrency.Poll(ctx, c.cfg.FinishInterval, c.cfg.FinishTimeout, api.ErrOperationTimeout, func() (bool, error) {
		if err := c.healthPass(); err != nil {
			return false, err
		}
		if c.table.len() > 0 || c.sup.Len() > 0 {
			return false, nil
		}
		return pool.Reclaimed(c.counters)
	})
}

// healthPass reaps finished managers, removes their artifacts and frees
// their slots.
func (c *Controller) healthPass() error {
	for _, ex := range c.sup.Reap() {
		e := c.table.byPID(ex.PID)
		if e == nil {
			continue
		}
		log := c.log.With(zap.String("namespace", e.ns), zap.Int("pid", ex.PID), zap.Int("slot", e.slot))
		if ex.Clean() {
			log.Debug("manager exited")
		} else {
			log.Warn("manager exited abnormally", zap.Stringer("exit", ex))
			c.metrics.Inc("arena.abnormal_exits")
		}
		if err := c.paths.Remove(e.ns); err != nil {
			log.Warn("remove artifacts", zap.Error(err))
		}
		c.budget.Release(e.budget)
		c.crashes.Remove(e.ns)
		c.table.free(e.slot)
	}
	c.metrics.Set("arena.live", float64(c.table.len()))
	return c.table.check()
}

// Records returns the arena table as reported by GET_INFO.
func (c *Controller) Records() []api.ArenaRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordsLocked()
}

func (c *Controller) recordsLocked() []api.ArenaRecord {
	entries := c.table.entries()
	out := make([]api.ArenaRecord, 0, len(entries))
	for _, e := range entries {
		rec := e.record()
		if c.crashes.Contains(e.ns) {
			rec.State = api.ArenaFailed
		}
		out = append(out, rec)
	}
	return out
}

// Shutdown terminates every manager and waits for them within the finish
// ceiling.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.table.entries() {
		_ = c.sup.Terminate(e.pid)
	}
	return concurrency.Poll(ctx, c.cfg.FinishInterval, c.cfg.FinishTimeout, api.ErrOperationTimeout, func() (bool, error) {
		if err := c.healthPass(); err != nil {
			return false, err
		}
		return c.sup.Len() == 0, nil
	})
}
