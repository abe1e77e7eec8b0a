// pyrometerd runs the performance-diagnosis analytical core: it watches a
// directory of per-window metric stores, evaluates the configured analysis
// graph against the newest window on a recurring schedule, and prunes
// expired windows.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/pyrometer/config"
	"github.com/xtxerr/pyrometer/internal/graph"
	"github.com/xtxerr/pyrometer/internal/logging"
	"github.com/xtxerr/pyrometer/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "pyrometer.yaml", "config file path")
	prefix := flag.String("prefix", "", "window file prefix (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "log in JSON format")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.DefaultConfig()
		} else {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *prefix != "" {
		cfg.Storage.FilePrefix = *prefix
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logJSON {
		cfg.LogJSON = true
	}

	logging.Init(parseLevel(cfg.LogLevel), cfg.LogJSON)
	logging.Info("pyrometerd starting", "version", Version)

	svc, err := storage.New(&cfg.Storage)
	if err != nil {
		logging.Error("create storage", "error", err)
		os.Exit(1)
	}
	if err := svc.Start(); err != nil {
		logging.Error("start storage", "error", err)
		os.Exit(1)
	}

	g, err := graph.FromConfig(&cfg.Graph)
	if err != nil {
		logging.Error("build graph", "error", err)
		svc.Stop()
		os.Exit(1)
	}

	sched := graph.NewScheduler(g, svc.OpenNewest, svc.Collector(), &graph.SchedulerConfig{
		TickInterval: cfg.Graph.TickInterval.Duration(),
		EvalTimeout:  cfg.Graph.EvalTimeout.Duration(),
		ResultsSize:  64,
	})

	// Downstream consumer boundary: derived results are logged; an action
	// layer would subscribe here instead.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for res := range sched.Results() {
			args := []any{
				"node", res.Node,
				"window", res.WindowStart,
				"rows", len(res.Rows),
			}
			if res.Profile != nil {
				args = append(args,
					"total", res.Profile.Total,
					"entities", res.Profile.Count,
					"p90", res.Profile.P90)
			}
			logging.Info("analysis result", args...)
		}
	}()

	if g.Len() > 0 {
		sched.Start()
		logging.Info("analysis graph running", "nodes", g.Len())
	} else {
		logging.Warn("no analysis nodes configured")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logging.Info("shutting down")

	sched.Stop()
	<-done
	if err := svc.Stop(); err != nil {
		logging.Error("stop storage", "error", err)
	}
	logging.Info("pyrometerd stopped")
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
