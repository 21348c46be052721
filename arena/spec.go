// File: arena/spec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package arena

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/momentics/hioload-accel/api"
)

// ManagerSpec is everything a manager process needs, carried as flags
// across the re-exec boundary.
type ManagerSpec struct {
	Namespace       string
	Budget          api.Budget
	HugepageRoot    string
	RuntimeRoot     string
	CrashAddr       string
	PageSize        int
	Bind            bool
	MonitorInterval time.Duration
	Version         string
}

// SpecFor builds the manager spec for ns under cfg.
func (c Config) SpecFor(ns string, budget api.Budget) ManagerSpec {
	return ManagerSpec{
		Namespace:       ns,
		Budget:          budget,
		HugepageRoot:    c.HugepageRoot,
		RuntimeRoot:     c.RuntimeRoot,
		CrashAddr:       c.CrashAddr,
		PageSize:        c.PageSize,
		Bind:            c.BindNUMA,
		MonitorInterval: c.MonitorInterval,
		Version:         Version,
	}
}

// Paths returns the artifact layout of the spec.
func (s ManagerSpec) Paths() Paths {
	return Paths{HugepageRoot: s.HugepageRoot, RuntimeRoot: s.RuntimeRoot}
}

// Flags encodes s as command-line flags understood by ParseManagerSpec.
func (s ManagerSpec) Flags() []string {
	pages := make([]string, len(s.Budget))
	for i, p := range s.Budget {
		pages[i] = strconv.FormatUint(uint64(p), 10)
	}
	return []string{
		"-namespace=" + s.Namespace,
		"-budget=" + strings.Join(pages, ","),
		"-hugepage-root=" + s.HugepageRoot,
		"-runtime-root=" + s.RuntimeRoot,
		"-crash-addr=" + s.CrashAddr,
		"-page-size=" + strconv.Itoa(s.PageSize),
		"-bind=" + strconv.FormatBool(s.Bind),
		"-monitor-interval=" + s.MonitorInterval.String(),
		"-version=" + s.Version,
	}
}

// ParseManagerSpec decodes the flags produced by Flags.
func ParseManagerSpec(args []string) (ManagerSpec, error) {
	var (
		s      ManagerSpec
		budget string
	)
	fs := flag.NewFlagSet("manager", flag.ContinueOnError)
	fs.StringVar(&s.Namespace, "namespace", "", "arena namespace")
	fs.StringVar(&budget, "budget", "", "comma-separated pages per socket")
	fs.StringVar(&s.HugepageRoot, "hugepage-root", "", "hugepage mount root")
	fs.StringVar(&s.RuntimeRoot, "runtime-root", "", "runtime directory root")
	fs.StringVar(&s.CrashAddr, "crash-addr", "", "crash notification endpoint")
	fs.IntVar(&s.PageSize, "page-size", 0, "bytes per page")
	fs.BoolVar(&s.Bind, "bind", false, "bind pages to their NUMA socket")
	fs.DurationVar(&s.MonitorInterval, "monitor-interval", 100*time.Millisecond, "peer health check interval")
	fs.StringVar(&s.Version, "version", Version, "version stamp")
	if err := fs.Parse(args); err != nil {
		return s, fmt.Errorf("%w: %w", api.ErrInvalidArgument, err)
	}
	if err := api.ValidateNamespace(s.Namespace); err != nil {
		return s, err
	}
	b, err := parseBudget(budget)
	if err != nil {
		return s, err
	}
	s.Budget = b
	if s.HugepageRoot == "" || s.RuntimeRoot == "" {
		return s, fmt.Errorf("%w: hugepage and runtime roots are required", api.ErrInvalidArgument)
	}
	return s, nil
}

func parseBudget(v string) (api.Budget, error) {
	var pages []uint32
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return api.Budget{}, fmt.Errorf("%w: budget %q: %w", api.ErrInvalidArgument, v, err)
		}
		pages = append(pages, uint32(n))
	}
	return api.BudgetOf(pages...)
}
