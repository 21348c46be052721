// File: dma/p2p.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Peer-to-peer connections between two devices. The TX side is wired
// first; if the RX side fails, the TX wiring is undone and both channels
// are released before the error is returned.

package dma

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/momentics/hioload-accel/api"
)

// P2PConfig describes a connection from a TX channel on one device to an
// RX channel on another through a shared buffer.
type P2PConfig struct {
	TX      api.ChannelKey
	RX      api.ChannelKey
	BufAddr uint64
	BufSize uint32
}

func (c P2PConfig) validate() error {
	switch {
	case c.TX.Direction != api.HostToCard:
		return fmt.Errorf("%w: p2p tx %s is not host-to-card", api.ErrInvalidArgument, c.TX)
	case c.RX.Direction != api.CardToHost:
		return fmt.Errorf("%w: p2p rx %s is not card-to-host", api.ErrInvalidArgument, c.RX)
	case c.TX.Device == c.RX.Device:
		return fmt.Errorf("%w: p2p endpoints on the same device %d", api.ErrInvalidArgument, c.TX.Device)
	case c.BufAddr == 0 || c.BufSize == 0:
		return fmt.Errorf("%w: p2p buffer %#x/%d", api.ErrInvalidArgument, c.BufAddr, c.BufSize)
	}
	return nil
}

// P2PConn is an established peer-to-peer connection.
type P2PConn struct {
	cfg   P2PConfig
	alloc *Allocator
	tx    *Reservation
	rx    *Reservation
}

// Config returns the connection parameters.
func (c *P2PConn) Config() P2PConfig { return c.cfg }

// ConnectP2P allocates both channels and wires them to each other.
func (a *Allocator) ConnectP2P(cfg P2PConfig) (*P2PConn, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := a.log.With(zap.Stringer("tx", cfg.TX), zap.Stringer("rx", cfg.RX))

	tx, err := a.Init(cfg.TX)
	if err != nil {
		return nil, fmt.Errorf("p2p tx: %w", err)
	}
	rx, err := a.Init(cfg.RX)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("p2p rx: %w", err), a.finish(tx, true))
	}
	release := func(cause error) error {
		return errors.Join(cause, a.finish(rx, true), a.finish(tx, true))
	}

	err = tx.handle.P2PConnect(cfg.TX.Direction, cfg.TX.Channel, P2PLink{
		PeerDevice: cfg.RX.Device, PeerDir: cfg.RX.Direction, PeerChan: cfg.RX.Channel,
		BufAddr: cfg.BufAddr, BufSize: cfg.BufSize,
	})
	if err != nil {
		return nil, release(fmt.Errorf("p2p connect tx: %w", err))
	}
	err = rx.handle.P2PConnect(cfg.RX.Direction, cfg.RX.Channel, P2PLink{
		PeerDevice: cfg.TX.Device, PeerDir: cfg.TX.Direction, PeerChan: cfg.TX.Channel,
		BufAddr: cfg.BufAddr, BufSize: cfg.BufSize,
	})
	if err != nil {
		log.Warn("p2p rx wiring failed, rolling back tx", zap.Error(err))
		undo := tx.handle.P2PRelease(cfg.TX.Direction, cfg.TX.Channel)
		if undo != nil {
			undo = fmt.Errorf("p2p rollback tx: %w", undo)
		}
		return nil, release(errors.Join(fmt.Errorf("p2p connect rx: %w", err), undo))
	}
	a.metrics.Inc("dma.p2p_connected")
	log.Info("p2p connected")
	return &P2PConn{cfg: cfg, alloc: a, tx: tx, rx: rx}, nil
}

// Close tears the connection down, RX side first, and releases both
// channels.
func (c *P2PConn) Close() error {
	a := c.alloc
	return errors.Join(
		c.rx.handle.P2PRelease(c.cfg.RX.Direction, c.cfg.RX.Channel),
		c.tx.handle.P2PRelease(c.cfg.TX.Direction, c.cfg.TX.Channel),
		a.Finish(c.rx),
		a.Finish(c.tx),
	)
}
