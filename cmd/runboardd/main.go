// runboardd tails training-run event logs and keeps a bounded in-memory
// sample of every series, optionally exporting periodic Parquet snapshots.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/xtxerr/runboard/internal/accumulator"
	"github.com/xtxerr/runboard/internal/config"
	"github.com/xtxerr/runboard/internal/export"
	"github.com/xtxerr/runboard/internal/logging"
	"github.com/xtxerr/runboard/internal/multiplexer"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	logDir := flag.String("logdir", "", "log directory (overrides config)")
	exportDir := flag.String("export-dir", "", "snapshot export directory (overrides config)")
	reloadEvery := flag.Duration("reload-interval", 0, "reload interval (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	jsonLogs := flag.Bool("json-logs", false, "log in JSON format")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLogs)
	log := logging.Component("runboardd")
	log.Info("starting", "version", Version)

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("no config file found, using defaults")
			cfg = config.DefaultConfig()
		} else {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *logDir != "" {
		cfg.LogDir = *logDir
	}
	if *exportDir != "" {
		cfg.Export.Enabled = true
		cfg.Export.Dir = *exportDir
	}
	if *reloadEvery > 0 {
		cfg.Daemon.ReloadInterval = *reloadEvery
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	mux := multiplexer.New(multiplexer.Options{
		Accumulator: accumulator.Options{
			Capacities:    cfg.Capacities(),
			KeepLast:      cfg.KeepLast(),
			DetectRestart: *cfg.Accumulator.DetectRestart,
			MaxFrameSize:  cfg.Logs.MaxFrameSize,
		},
	})

	var pruner *export.Pruner
	if cfg.Export.Enabled {
		pruner = export.NewPruner(cfg.Export.Dir, cfg.Export.Retention)
	}

	// Initial scan and reload so queries work immediately.
	scanRuns(mux, cfg.LogDir, log)
	mux.ReloadAll()

	reloadTicker := time.NewTicker(cfg.Daemon.ReloadInterval)
	defer reloadTicker.Stop()
	scanTicker := time.NewTicker(cfg.Daemon.ScanInterval)
	defer scanTicker.Stop()

	var exportTicker *time.Ticker
	var exportC <-chan time.Time
	if cfg.Export.Enabled {
		exportTicker = time.NewTicker(cfg.Export.Interval)
		exportC = exportTicker.C
		defer exportTicker.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-reloadTicker.C:
			for _, fail := range mux.ReloadAll() {
				log.Warn("reload failed", "run", fail.Run, "error", fail.Err)
			}

		case <-scanTicker.C:
			scanRuns(mux, cfg.LogDir, log)

		case <-exportC:
			opts := export.Options{
				Compression:  export.ParseCompressionType(cfg.Export.Compression),
				RowGroupSize: cfg.Export.RowGroupSize,
			}
			path, err := export.Snapshot(mux, cfg.Export.Dir, opts)
			if err != nil {
				log.Error("snapshot export failed", "error", err)
			} else {
				log.Info("snapshot exported", "path", path)
			}
			if pruner != nil {
				result := pruner.Run()
				if result.FilesDeleted > 0 {
					log.Info("snapshots pruned",
						"deleted", result.FilesDeleted,
						"bytes", result.BytesFreed)
				}
			}

		case sig := <-sigCh:
			log.Info("shutting down", "signal", sig.String())
			for _, run := range mux.Runs() {
				if err := mux.RemoveRun(run); err != nil {
					log.Warn("remove run", "run", run, "error", err)
				}
			}
			return
		}
	}
}

// scanRuns registers every subdirectory of logDir as a run, named by its
// relative path. Already-registered runs are left alone.
func scanRuns(mux *multiplexer.Multiplexer, logDir string, log *slog.Logger) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		log.Warn("scan logdir", "dir", logDir, "error", err)
		return
	}

	known := make(map[string]bool)
	for _, name := range mux.Runs() {
		known[name] = true
	}

	for _, entry := range entries {
		if !entry.IsDir() || known[entry.Name()] {
			continue
		}
		dir := filepath.Join(logDir, entry.Name())
		if err := mux.AddRun(entry.Name(), dir); err != nil {
			log.Warn("add run", "run", entry.Name(), "error", err)
		}
	}
}
