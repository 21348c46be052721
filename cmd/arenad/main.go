// File: cmd/arenad/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// arenad runs the arena controller. The same binary re-executes itself with
// the "manager" subcommand to serve each arena in its own process.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-accel/adapters"
	"github.com/momentics/hioload-accel/arena"
	"github.com/momentics/hioload-accel/pool"
)

var errFinished = errors.New("finish-all completed")

func main() {
	if len(os.Args) > 1 && os.Args[1] == "manager" {
		os.Exit(runManager(os.Args[2:]))
	}
	os.Exit(runController())
}

func newLogger(debug bool) *zap.Logger {
	var (
		log *zap.Logger
		err error
	)
	if debug {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		return zap.NewNop()
	}
	return log
}

func runManager(args []string) int {
	log := newLogger(os.Getenv("ARENAD_DEBUG") == "1").Named("manager")
	defer log.Sync()
	if err := arena.ManagerMain(args, arena.WithManagerLogger(log)); err != nil {
		log.Error("manager failed", zap.Error(err))
		return 1
	}
	return 0
}

func runController() int {
	var (
		configPath  = flag.String("config", "", "YAML configuration file")
		listen      = flag.String("listen", "", "control endpoint (overrides arena.listen)")
		crashListen = flag.String("crash-listen", "", "crash notification endpoint (overrides arena.crash_listen)")
		metricsAddr = flag.String("metrics", "127.0.0.1:17602", "metrics and debug HTTP endpoint, empty to disable")
		debug       = flag.Bool("debug", false, "development logging")
	)
	flag.Parse()

	log := newLogger(*debug).Named("controller")
	defer log.Sync()

	counters := pool.NewSysfsCounters()
	ctl := adapters.NewControlAdapter("arena", counters)
	if *configPath != "" {
		if err := ctl.Config().LoadFile(*configPath); err != nil {
			log.Error("load config", zap.Error(err))
			return 1
		}
	}
	overrides := map[string]any{}
	if *listen != "" {
		overrides["arena.listen"] = *listen
	}
	if *crashListen != "" {
		overrides["arena.crash_listen"] = *crashListen
	}
	if len(overrides) > 0 {
		_ = ctl.SetConfig(overrides)
	}
	cfg := arena.ConfigFrom(ctl.Config())

	spawner, err := arena.NewExecSpawner()
	if err != nil {
		log.Error("spawner", zap.Error(err))
		return 1
	}
	if *debug {
		spawner.Env = append(spawner.Env, "ARENAD_DEBUG=1")
	}
	ctrl, err := arena.NewController(cfg,
		arena.WithSpawner(spawner),
		arena.WithCounters(counters),
		arena.WithLogger(log),
		arena.WithMetrics(ctl.Metrics()),
	)
	if err != nil {
		log.Error("controller", zap.Error(err))
		return 1
	}
	ctl.RegisterDebugProbe("arena.records", func() any { return ctrl.Records() })
	ctl.RegisterDebugProbe("arena.crashes", func() any { return ctrl.Crashes().Snapshot() })

	controlLn, err := net.Listen("tcp", cfg.ControlAddr)
	if err != nil {
		log.Error("listen control", zap.Error(err))
		return 1
	}
	crashLn, err := net.Listen("tcp", cfg.CrashAddr)
	if err != nil {
		controlLn.Close()
		log.Error("listen crash channel", zap.Error(err))
		return 1
	}
	log.Info("controller listening",
		zap.String("control", cfg.ControlAddr),
		zap.String("crash", cfg.CrashAddr),
		zap.Int("sockets", counters.Sockets()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	srv := arena.NewServer(ctrl, log)
	g.Go(func() error {
		if err := srv.Serve(gctx, controlLn); err != nil {
			return err
		}
		return errFinished
	})
	g.Go(func() error { return srv.ServeCrash(gctx, crashLn) })
	if *metricsAddr != "" {
		g.Go(func() error { return serveHTTP(gctx, *metricsAddr, ctl) })
	}

	err = g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.FinishTimeout)
	defer cancel()
	if serr := ctrl.Shutdown(shutdownCtx); serr != nil {
		log.Warn("shutdown", zap.Error(serr))
	}
	switch {
	case errors.Is(err, errFinished), errors.Is(err, context.Canceled):
		log.Info("controller stopped")
		return 0
	default:
		log.Error("controller failed", zap.Error(err))
		return 1
	}
}

func serveHTTP(ctx context.Context, addr string, ctl *adapters.ControlAdapter) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", ctl.Metrics().Handler())
	mux.HandleFunc("/debug/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ctl.Stats())
	})
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hs.Shutdown(sctx)
	}()
	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
