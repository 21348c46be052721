// File: arena/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package arena

import (
	"time"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/control"
	"github.com/momentics/hioload-accel/pool"
	"github.com/momentics/hioload-accel/protocol"
)

// Version is stamped into every arena's runtime directory.
const Version = "1.0.0"

// Config holds controller and manager settings.
type Config struct {
	ControlAddr  string
	CrashAddr    string
	HugepageRoot string
	RuntimeRoot  string
	TableSize    int

	HandshakeInterval time.Duration
	HandshakeTimeout  time.Duration
	StopGrace         time.Duration
	FinishInterval    time.Duration
	FinishTimeout     time.Duration
	MonitorInterval   time.Duration

	DefaultBudget api.Budget
	PageSize      int
	BindNUMA      bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	budget, _ := api.BudgetOf(1)
	return Config{
		ControlAddr:       protocol.DefaultControlAddr,
		CrashAddr:         protocol.DefaultCrashAddr,
		HugepageRoot:      "/dev/hugepages",
		RuntimeRoot:       "/var/run/hioload-accel",
		TableSize:         128,
		HandshakeInterval: 50 * time.Millisecond,
		HandshakeTimeout:  60 * time.Second,
		StopGrace:         2 * time.Second,
		FinishInterval:    50 * time.Millisecond,
		FinishTimeout:     60 * time.Second,
		MonitorInterval:   100 * time.Millisecond,
		DefaultBudget:     budget,
		PageSize:          pool.DefaultPageSizeKB * 1024,
		BindNUMA:          true,
	}
}

// ConfigFrom overlays "arena.*" keys from cs on top of the defaults.
func ConfigFrom(cs *control.ConfigStore) Config {
	cfg := DefaultConfig()
	cfg.ControlAddr = cs.String("arena.listen", cfg.ControlAddr)
	cfg.CrashAddr = cs.String("arena.crash_listen", cfg.CrashAddr)
	cfg.HugepageRoot = cs.String("arena.hugepage_root", cfg.HugepageRoot)
	cfg.RuntimeRoot = cs.String("arena.runtime_root", cfg.RuntimeRoot)
	cfg.TableSize = cs.Int("arena.table_size", cfg.TableSize)
	cfg.HandshakeInterval = cs.Duration("arena.handshake_interval", cfg.HandshakeInterval)
	cfg.HandshakeTimeout = cs.Duration("arena.handshake_timeout", cfg.HandshakeTimeout)
	cfg.StopGrace = cs.Duration("arena.stop_grace", cfg.StopGrace)
	cfg.FinishInterval = cs.Duration("arena.finish_interval", cfg.FinishInterval)
	cfg.FinishTimeout = cs.Duration("arena.finish_timeout", cfg.FinishTimeout)
	cfg.MonitorInterval = cs.Duration("arena.monitor_interval", cfg.MonitorInterval)
	cfg.PageSize = cs.Int("arena.page_size", cfg.PageSize)
	cfg.BindNUMA = cs.Bool("arena.bind_numa", cfg.BindNUMA)
	if pages := cs.Uint32s("arena.default_budget", nil); pages != nil {
		if b, err := api.BudgetOf(pages...); err == nil {
			cfg.DefaultBudget = b
		}
	}
	return cfg
}

// Paths returns the artifact layout for cfg.
func (c Config) Paths() Paths {
	return Paths{HugepageRoot: c.HugepageRoot, RuntimeRoot: c.RuntimeRoot}
}
