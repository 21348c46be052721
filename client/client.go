// File: client/client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package client is the arena controller client stub.
//
// The controller serves one connection at a time, so a Client holds a
// single connection and serializes calls on it. A transport failure drops
// the connection; the next call redials, paced by a rate limiter and
// bounded by ReconnectMax.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/protocol"
)

// ClientConfig holds connection parameters.
type ClientConfig struct {
	Addr           string        // controller host:port
	DialTimeout    time.Duration // per dial attempt
	RequestTimeout time.Duration // per request round trip (0 = none)
	ReconnectMax   int           // redial attempts after a drop (0 = one attempt)
	ReconnectEvery time.Duration // minimum spacing between dials
	Logger         *zap.Logger
}

// DefaultConfig returns settings for the default controller endpoint.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Addr:           protocol.DefaultControlAddr,
		DialTimeout:    2 * time.Second,
		RequestTimeout: 2 * time.Minute,
		ReconnectMax:   3,
		ReconnectEvery: 200 * time.Millisecond,
	}
}

// Client talks to an arena controller.
type Client struct {
	cfg     ClientConfig
	log     *zap.Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

// Dial connects to the controller at cfg.Addr.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ReconnectEvery <= 0 {
		cfg.ReconnectEvery = 200 * time.Millisecond
	}
	c := &Client{
		cfg:     cfg,
		log:     cfg.Logger,
		limiter: rate.NewLimiter(rate.Every(cfg.ReconnectEvery), 1),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connectLocked(ctx context.Context) error {
	var last error
	for attempt := 0; attempt <= c.cfg.ReconnectMax; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", api.ErrTransport, err)
		}
		d := net.Dialer{Timeout: c.cfg.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", c.cfg.Addr)
		if err == nil {
			c.conn = conn
			return nil
		}
		last = err
		c.log.Debug("dial controller", zap.String("addr", c.cfg.Addr), zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("%w: dial %s: %w", api.ErrTransport, c.cfg.Addr, last)
}

// Close drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Do sends req and returns the raw response. Only transport failures are
// returned as errors; NG and INIT are left in the response.
func (c *Client) Do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("%w: client closed", api.ErrTransport)
	}
	if c.conn == nil {
		if err := c.connectLocked(ctx); err != nil {
			return nil, err
		}
	}
	if c.cfg.RequestTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.cfg.RequestTimeout))
	}
	resp, err := c.roundTrip(req)
	if err != nil {
		c.conn.Close()
		c.conn = nil
		c.log.Warn("controller connection dropped", zap.Stringer("opcode", req.Op), zap.Error(err))
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(req *protocol.Request) (*protocol.Response, error) {
	if err := protocol.WriteRequest(c.conn, req); err != nil {
		return nil, err
	}
	return protocol.ReadResponse(c.conn, req.Op)
}

func (c *Client) call(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Err(req.Op)
}

// Start creates arena ns with budget pages per socket. An active arena
// fails with api.ErrAlreadyActive.
func (c *Client) Start(ctx context.Context, ns string, budget api.Budget) error {
	if err := api.ValidateNamespace(ns); err != nil {
		return err
	}
	_, err := c.call(ctx, &protocol.Request{Op: protocol.OpStart, Namespace: ns, Budget: budget})
	return err
}

// StartDefault creates arena ns with the controller's default budget.
func (c *Client) StartDefault(ctx context.Context, ns string) error {
	if err := api.ValidateNamespace(ns); err != nil {
		return err
	}
	_, err := c.call(ctx, &protocol.Request{Op: protocol.OpStartDefault, Namespace: ns})
	return err
}

// Stop signals the manager of ns. It does not wait for teardown; use
// Reclaim for that.
func (c *Client) Stop(ctx context.Context, ns string) error {
	_, err := c.call(ctx, &protocol.Request{Op: protocol.OpStop, Namespace: ns})
	return err
}

// PID returns the manager pid of ns, or 0 if ns is not running.
func (c *Client) PID(ctx context.Context, ns string) (int, error) {
	resp, err := c.call(ctx, &protocol.Request{Op: protocol.OpGetPID, Namespace: ns})
	if err != nil {
		return 0, err
	}
	return int(resp.PID), nil
}

// InUse reports whether ns has a live manager.
func (c *Client) InUse(ctx context.Context, ns string) (bool, error) {
	pid, err := c.PID(ctx, ns)
	return pid > 0, err
}

// Avail returns unreserved pages on socket.
func (c *Client) Avail(ctx context.Context, socket int) (uint64, error) {
	resp, err := c.call(ctx, &protocol.Request{Op: protocol.OpGetAvail, Socket: int32(socket)})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// Limit returns the page limit of socket.
func (c *Client) Limit(ctx context.Context, socket int) (uint64, error) {
	resp, err := c.call(ctx, &protocol.Request{Op: protocol.OpGetLimit, Socket: int32(socket)})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// Info returns every arena known to the controller.
func (c *Client) Info(ctx context.Context) ([]api.ArenaRecord, error) {
	resp, err := c.call(ctx, &protocol.Request{Op: protocol.OpGetInfo})
	if err != nil {
		return nil, err
	}
	return resp.Records, nil
}

// State returns the state of ns. found is false when ns is not running.
func (c *Client) State(ctx context.Context, ns string) (state api.ArenaState, found bool, err error) {
	recs, err := c.Info(ctx)
	if err != nil {
		return api.ArenaUninitialized, false, err
	}
	for _, r := range recs {
		if r.Namespace == ns {
			return r.State, true, nil
		}
	}
	return api.ArenaUninitialized, false, nil
}

// Ping checks that the controller answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, &protocol.Request{Op: protocol.OpPing})
	return err
}

// FinishAll stops every arena and waits for the controller to report that
// all pages are reclaimed. The controller exits its loop afterwards, so the
// connection is dropped.
func (c *Client) FinishAll(ctx context.Context) error {
	resp, err := c.call(ctx, &protocol.Request{Op: protocol.OpFinishAll})
	if err != nil {
		return err
	}
	if resp.Status != protocol.StatusQuit {
		return fmt.Errorf("%w: finish-all answered %s", api.ErrInconsistentState, resp.Status)
	}
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
	return nil
}

// Reclaim converges ns to "not in use" without racing its manager:
// check in use, stop it if it is marked FAILED (or force is set), wait
// settle, then check again. An arena still in use after that is an
// inconsistent state. A healthy arena in use without force fails with
// api.ErrAlreadyActive.
func (c *Client) Reclaim(ctx context.Context, ns string, settle time.Duration, force bool) error {
	inUse, err := c.InUse(ctx, ns)
	if err != nil || !inUse {
		return err
	}
	state, found, err := c.State(ctx, ns)
	if err != nil {
		return err
	}
	if found && state != api.ArenaFailed && !force {
		return fmt.Errorf("%w: arena %q is %s", api.ErrAlreadyActive, ns, state)
	}
	if err := c.Stop(ctx, ns); err != nil && !errors.Is(err, api.ErrNotFound) {
		return err
	}
	t := time.NewTimer(settle)
	select {
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	case <-t.C:
	}
	inUse, err = c.InUse(ctx, ns)
	if err != nil {
		return err
	}
	if inUse {
		return fmt.Errorf("%w: arena %q still in use after stop", api.ErrInconsistentState, ns)
	}
	c.log.Info("arena reclaimed", zap.String("namespace", ns))
	return nil
}
