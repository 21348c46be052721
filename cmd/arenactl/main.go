// File: cmd/arenactl/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// arenactl issues single requests to a running arena controller.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-accel/api"
	"github.com/momentics/hioload-accel/client"
)

const usage = `usage: arenactl [-addr host:port] <command> [args]

commands:
  start <ns> <pages>...      start an arena with a per-socket budget
  start-default <ns>         start an arena with the default budget
  stop <ns>                  stop an arena
  pid <ns>                   print the manager pid
  avail <socket>             print pages still available on socket
  limit <socket>             print the page limit of socket
  info                       list arenas
  ping                       check the controller
  finish                     stop every arena and the controller
  reclaim [-force] [-settle d] <ns>
                             stop a crashed (or, with -force, any) arena
`

func main() {
	addr := flag.String("addr", client.DefaultConfig().Addr, "controller endpoint")
	timeout := flag.Duration("timeout", 2*time.Minute, "request timeout")
	verbose := flag.Bool("v", false, "log connection events")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := client.DefaultConfig()
	cfg.Addr = *addr
	cfg.RequestTimeout = *timeout
	if *verbose {
		if l, err := zap.NewDevelopment(); err == nil {
			cfg.Logger = l
		}
	}

	ctx := context.Background()
	c, err := client.Dial(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	defer c.Close()

	if err := run(ctx, c, flag.Arg(0), flag.Args()[1:]); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "arenactl:", err)
	os.Exit(1)
}

func run(ctx context.Context, c *client.Client, cmd string, args []string) error {
	switch cmd {
	case "start":
		if len(args) < 2 {
			return fmt.Errorf("start: need namespace and at least one page count")
		}
		pages := make([]uint32, 0, len(args)-1)
		for _, a := range args[1:] {
			n, err := strconv.ParseUint(a, 10, 32)
			if err != nil {
				return fmt.Errorf("start: page count %q: %w", a, err)
			}
			pages = append(pages, uint32(n))
		}
		budget, err := api.BudgetOf(pages...)
		if err != nil {
			return err
		}
		return c.Start(ctx, args[0], budget)
	case "start-default":
		if len(args) != 1 {
			return fmt.Errorf("start-default: need namespace")
		}
		return c.StartDefault(ctx, args[0])
	case "stop":
		if len(args) != 1 {
			return fmt.Errorf("stop: need namespace")
		}
		return c.Stop(ctx, args[0])
	case "pid":
		if len(args) != 1 {
			return fmt.Errorf("pid: need namespace")
		}
		pid, err := c.PID(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(pid)
	case "avail", "limit":
		if len(args) != 1 {
			return fmt.Errorf("%s: need socket", cmd)
		}
		socket, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%s: socket %q: %w", cmd, args[0], err)
		}
		var n uint64
		if cmd == "avail" {
			n, err = c.Avail(ctx, socket)
		} else {
			n, err = c.Limit(ctx, socket)
		}
		if err != nil {
			return err
		}
		fmt.Println(n)
	case "info":
		recs, err := c.Info(ctx)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAMESPACE\tPID\tSTATE\tPAGES\tVERSION")
		for _, r := range recs {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%s\n", r.Namespace, r.PID, r.State, r.Budget.Total(), r.Version)
		}
		return tw.Flush()
	case "ping":
		return c.Ping(ctx)
	case "finish":
		return c.FinishAll(ctx)
	case "reclaim":
		fs := flag.NewFlagSet("reclaim", flag.ContinueOnError)
		force := fs.Bool("force", false, "stop the arena even if it is healthy")
		settle := fs.Duration("settle", time.Second, "wait for a pending crash notice")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return fmt.Errorf("reclaim: need namespace")
		}
		return c.Reclaim(ctx, fs.Arg(0), *settle, *force)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
