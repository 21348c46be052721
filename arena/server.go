// File: arena/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Listener loops for the control and crash channels.

package arena

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-accel/protocol"
)

const crashIOTimeout = 5 * time.Second

// Server serves a Controller. The control channel handles exactly one
// connection at a time; the next client is accepted only after the
// current one disconnects.
type Server struct {
	ctrl    *Controller
	log     *zap.Logger
	backoff *rate.Limiter
}

// NewServer wraps ctrl.
func NewServer(ctrl *Controller, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		ctrl:    ctrl,
		log:     log,
		backoff: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// Serve accepts control connections on ln until ctx ends, ln fails, or a
// FINISH_ALL completes. A completed FINISH_ALL returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Warn("accept", zap.Error(err))
			if werr := s.backoff.Wait(ctx); werr != nil {
				return werr
			}
			continue
		}
		quit := s.handle(ctx, conn)
		if quit {
			s.log.Info("finish-all completed, control loop exiting")
			return nil
		}
	}
}

// handle runs commands from one connection until it closes. It reports
// whether the controller answered QUIT.
func (s *Server) handle(ctx context.Context, conn net.Conn) bool {
	defer conn.Close()
	log := s.log.With(zap.Stringer("remote", conn.RemoteAddr()))
	log.Debug("client connected")
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	for {
		req, err := protocol.ReadRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warn("read request", zap.Error(err))
			}
			log.Debug("client disconnected")
			return false
		}
		resp := s.ctrl.Execute(ctx, req)
		if err := protocol.WriteResponse(conn, req.Op, resp); err != nil {
			log.Warn("write response", zap.Stringer("opcode", req.Op), zap.Error(err))
			return resp.Status == protocol.StatusQuit
		}
		if resp.Status == protocol.StatusQuit {
			return true
		}
	}
}

// ServeCrash accepts crash notices on ln and pushes them onto the
// controller's crash list.
func (s *Server) ServeCrash(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	crashes := s.ctrl.Crashes()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Warn("crash accept", zap.Error(err))
			if werr := s.backoff.Wait(ctx); werr != nil {
				return werr
			}
			continue
		}
		_ = conn.SetDeadline(time.Now().Add(crashIOTimeout))
		ns, err := protocol.ReadCrashNotice(conn)
		if err != nil {
			s.log.Warn("read crash notice", zap.Error(err))
			conn.Close()
			continue
		}
		crashes.Push(ns)
		s.ctrl.metrics.Inc("arena.crashes")
		s.log.Error("arena peer crashed", zap.String("namespace", ns))
		if err := protocol.WriteStatus(conn, protocol.StatusOK); err != nil {
			s.log.Warn("ack crash notice", zap.String("namespace", ns), zap.Error(err))
		}
		conn.Close()
	}
}
