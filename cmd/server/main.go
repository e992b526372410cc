package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mixaill76/token_meter/internal/auth"
	"github.com/mixaill76/token_meter/internal/config"
	"github.com/mixaill76/token_meter/internal/health"
	"github.com/mixaill76/token_meter/internal/ledger"
	"github.com/mixaill76/token_meter/internal/logger"
	"github.com/mixaill76/token_meter/internal/monitoring"
	"github.com/mixaill76/token_meter/internal/pricing"
	"github.com/mixaill76/token_meter/internal/router"
	"github.com/mixaill76/token_meter/internal/startup"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.NewWithWriter(os.Stdout, cfg.Server.LoggingLevel, cfg.Server.LoggingFormat)
	slog.SetDefault(log)

	log.Info("Starting token_meter",
		"version", Version,
		"commit", Commit,
		"logging_level", cfg.Server.LoggingLevel,
		"port", cfg.Server.Port,
	)
	config.PrintConfig(log, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitoring.New(cfg.Monitoring.PrometheusEnabled)

	catalog, err := buildCatalog(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize pricing tiers", "error", err)
		os.Exit(1)
	}

	var watcher *pricing.Watcher
	if cfg.WatchTiers {
		watcher = pricing.NewWatcher(pricing.FilePath(cfg.TiersLink), catalog, log)
		watcher.OnReload = metrics.RecordTierReload
		if err := watcher.Start(ctx); err != nil {
			log.Error("Failed to watch tiers file", "error", err)
			os.Exit(1)
		}
	}

	tokenManager := auth.NewTokenManager(log)
	counters, err := buildCounters(cfg.Counters, catalog, tokenManager)
	if err != nil {
		log.Error("Failed to initialize token counters", "error", err)
		os.Exit(1)
	}
	log.Info("Token counters ready", "counters", counters.Names())
	startup.ValidateVertexCredentials(cfg.Counters, log)
	startup.ProbeCountersAtStartup(ctx, counters.All(), log)

	var (
		store   ledger.Store
		writer  *ledger.Writer
		checker *health.Checker
	)
	if cfg.Ledger.Enabled {
		store, err = openLedgerStore(ctx, cfg.Ledger, log)
		switch {
		case err != nil && cfg.Ledger.IsRequired:
			log.Error("Failed to open ledger store", "driver", cfg.Ledger.Driver, "error", err)
			os.Exit(1)
		case err != nil:
			log.Warn("Ledger unavailable, bills will not be recorded", "driver", cfg.Ledger.Driver, "error", err)
			store = nil
		default:
			writer = ledger.NewWriter(store, &ledger.Config{
				QueueSize:     cfg.Ledger.QueueSize,
				BatchSize:     cfg.Ledger.BatchSize,
				FlushInterval: cfg.Ledger.FlushInterval,
				EnqueueWait:   cfg.Ledger.EnqueueWait,
				Logger:        log,
			})
			writer.OnFlush = metrics.RecordLedgerFlush
			writer.Start()

			checker = health.NewChecker()
			monitor := health.NewMonitor(&health.MonitorConfig{
				CheckInterval: cfg.Ledger.HealthCheck,
				PingTimeout:   cfg.Ledger.ConnectTimeout,
				Logger:        log,
			}, checker, store)
			go monitor.Start(ctx)
		}
	}

	rtr := router.New(&router.Config{
		Catalog:        catalog,
		Counters:       counters,
		Ledger:         writer,
		Store:          store,
		Health:         checker,
		Metrics:        metrics,
		Logger:         log,
		Monitoring:     &cfg.Monitoring,
		MasterKey:      cfg.Server.MasterKey,
		MaxBodySizeMB:  cfg.Server.MaxBodySizeMB,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	mux := http.NewServeMux()
	mux.Handle("/", rtr)

	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		log.Info("Prometheus metrics enabled", "path", "/metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	// Stop background loops, then drain pending bills before closing the store
	cancel()
	if watcher != nil {
		<-watcher.Done()
	}
	if writer != nil {
		if err := writer.Shutdown(shutdownCtx); err != nil {
			log.Error("Ledger writer did not drain", "error", err, "stats", writer.Stats())
		}
	}
	if store != nil {
		store.Close()
	}

	log.Info("Server shutdown complete")
}
