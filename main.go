package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"searchrelay/api"
	"searchrelay/cache"
	"searchrelay/config"
	"searchrelay/health"
	"searchrelay/internal/version"
	"searchrelay/orchestrator"
	"searchrelay/provider"
	"searchrelay/registry"
	"searchrelay/scheduler"
)

func main() {
	configPath := flag.String("config", "/etc/searchrelay/searchrelay.yaml", "path to config file")
	showVersionShort := flag.Bool("v", false, "print version information")
	showVersion := flag.Bool("version", false, "print version information")
	flag.Parse()

	if *showVersionShort || *showVersion {
		fmt.Printf(
			"searchrelay %s\ncommit: %s\nbuild: %s\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)

	logger.Info("searchrelay starting",
		"listen", cfg.Server.Listen,
		"providers", len(cfg.Providers),
		"version", version.Version,
		"commit", version.Commit,
		"build_time", version.BuildTime,
	)

	reg := registry.New(logger.With("component", "registry"))
	for _, pc := range cfg.Providers {
		p, err := provider.FromConfig(pc)
		if err != nil {
			logger.Error("failed to build provider", "provider", pc.Name, "err", err)
			os.Exit(1)
		}
		if err := reg.Add(p, false); err != nil {
			logger.Error("failed to register provider", "provider", pc.Name, "err", err)
			os.Exit(1)
		}
	}

	cacheLog := logger.With("component", "cache")
	var l2 cache.Store
	if cfg.Cache.L2.Path != "" {
		store, err := cache.OpenSQLite(cfg.Cache.L2.Path)
		if err != nil {
			logger.Error("failed to open shared cache, continuing with L1 only", "err", err)
		} else {
			l2 = store
			defer store.Close()
		}
	}
	tiered := cache.NewTiered(
		cache.NewL1(cfg.Cache.L1.MaxEntries),
		l2,
		cfg.Cache.L2.CompressionThreshold,
		cfg.Cache.L1.TTL,
		cacheLog,
	)

	timeouts := orchestrator.NewAdaptiveTimeouts(cfg.Timeouts)
	orch := orchestrator.New(reg, tiered, timeouts, cfg.Orchestrator, logger.With("component", "orchestrator"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := health.New(reg, cfg.Health, nil, logger.With("component", "health"))
	monitor.Start(ctx)

	sched := scheduler.New(tiered, orch, cfg.Cache.CleanupInterval, logger.With("component", "scheduler"))
	sched.Start(ctx)

	srv := api.NewServer(api.Deps{
		Config:       cfg,
		Orchestrator: orch,
		Registry:     reg,
		Monitor:      monitor,
		Scheduler:    sched,
		Cache:        tiered,
		Logger:       logger.With("component", "api"),
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "err", err)
			os.Exit(1)
		}
	}()

	if err := srv.StartGRPC(ctx); err != nil {
		logger.Error("failed to start gRPC server", "err", err)
		os.Exit(1)
	}

	logger.Info("searchrelay ready",
		"listen", cfg.Server.Listen,
		"pid", os.Getpid(),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	sched.Stop()
	monitor.Stop()
	srv.StopGRPC()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "err", err)
	}

	cancel()
	logger.Info("searchrelay stopped")
}

func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Logging.File != "" {
		dir := filepath.Dir(cfg.Logging.File)
		os.MkdirAll(dir, 0755)

		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			slog.Error("failed to open log file, using stderr", "err", err)
			return slog.New(slog.NewJSONHandler(os.Stderr, opts))
		}
		return slog.New(slog.NewJSONHandler(f, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
