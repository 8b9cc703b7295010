package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/treestore-io/treestore/internal/cluster"
	"github.com/treestore-io/treestore/internal/config"
	"github.com/treestore-io/treestore/internal/health"
	"github.com/treestore-io/treestore/internal/journal"
	"github.com/treestore-io/treestore/internal/lock"
	"github.com/treestore-io/treestore/internal/metrics"
	"github.com/treestore-io/treestore/internal/repository"
	"github.com/treestore-io/treestore/internal/server"
	"github.com/treestore-io/treestore/internal/storage"
)

func main() {
	// Initialize logger first so config failures are reported
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	bootLogger, err := initLogger("info", "json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		bootLogger.Fatal("Failed to load config", zap.Error(err))
	}

	logger, err := initLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		bootLogger.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Node.ID),
		zap.String("data_dir", cfg.Node.DataDir),
		zap.String("storage_backend", cfg.Storage.Backend))

	// Create data directories
	for _, dir := range []string{cfg.Node.DataDir, cfg.Storage.Dir, cfg.Journal.Dir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal("Failed to create data directory",
				zap.String("dir", dir), zap.Error(err))
		}
	}

	// Item persistence
	var store storage.PersistenceManager
	switch cfg.Storage.Backend {
	case "memory":
		store = storage.NewMemoryStore(logger)
	default:
		store, err = storage.NewBadgerStore(&storage.BadgerConfig{
			Dir:        cfg.Storage.Dir,
			SyncWrites: cfg.Storage.SyncWrites,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to open storage", zap.Error(err))
		}
	}
	defer store.Close()

	// Shared journal
	jnl, err := journal.NewFileJournal(&journal.FileJournalConfig{
		Dir:            cfg.Journal.Dir,
		SyncWrites:     cfg.Journal.SyncWrites,
		LockRetries:    cfg.Journal.LockRetries,
		LockRetryDelay: cfg.Journal.LockRetryDelay,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open journal", zap.Error(err))
	}
	defer jnl.Close()

	syncSvc, err := journal.NewSyncService(&journal.SyncConfig{
		NodeID:    cfg.Node.ID,
		SyncDelay: cfg.Journal.SyncDelay,
		StopDelay: cfg.Journal.StopDelay,
		CursorDir: cfg.Node.DataDir,
	}, jnl, store, logger)
	if err != nil {
		logger.Fatal("Failed to initialize sync service", zap.Error(err))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Node.ID)
	}

	lockMgr := lock.NewManager(logger)

	repo, err := repository.NewRepository(&repository.Config{
		ClusterNodeID: cfg.Node.ID,
		CacheSize:     cfg.Cache.MaxSize,
		CacheTTL:      cfg.Cache.TTL,
	}, store, jnl, syncSvc, lockMgr, m, logger)
	if err != nil {
		logger.Fatal("Failed to initialize repository", zap.Error(err))
	}
	defer repo.Close()

	// Bring local state up to date before accepting anything
	if err := syncSvc.Sync(context.Background()); err != nil {
		logger.Error("Initial sync failed, node starts unsynchronized", zap.Error(err))
	}
	syncSvc.Start()
	defer syncSvc.Stop()

	// Cluster membership
	var gossipSvc *cluster.GossipService
	if cfg.Gossip.Enabled {
		gossipSvc, err = cluster.NewGossipService(&cluster.GossipConfig{
			Enabled:        cfg.Gossip.Enabled,
			BindPort:       cfg.Gossip.BindPort,
			SeedNodes:      cfg.Gossip.SeedNodes,
			GossipInterval: cfg.Gossip.GossipInterval,
			ProbeTimeout:   cfg.Gossip.ProbeTimeout,
			ProbeInterval:  cfg.Gossip.ProbeInterval,
		}, cfg.Node.ID, syncSvc, m, logger)
		if err != nil {
			logger.Error("Failed to initialize gossip service", zap.Error(err))
		} else {
			defer gossipSvc.Shutdown()
			logger.Info("Gossip service initialized")
		}
	}

	// Health checks and metrics endpoint
	checker := health.NewHealthChecker(&health.HealthCheckConfig{
		NodeID:  cfg.Node.ID,
		DataDir: cfg.Node.DataDir,
	}, syncSvc, logger)

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	defer cancelHealth()
	go checker.Start(healthCtx)

	var metricsSrv *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsSrv = server.NewMetricsServer(&server.MetricsServerConfig{
			Port:    cfg.Metrics.Port,
			DataDir: cfg.Node.DataDir,
		}, m, checker, logger)
		if err := metricsSrv.Start(); err != nil {
			logger.Fatal("Failed to start metrics server", zap.Error(err))
		}
	}

	logger.Info("Repository node started", zap.String("node_id", cfg.Node.ID))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	checker.SetReadiness(false)

	if gossipSvc != nil {
		if err := gossipSvc.Leave(5 * time.Second); err != nil {
			logger.Error("Gossip leave failed", zap.Error(err))
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Stop(); err != nil {
			logger.Error("Metrics server stop failed", zap.Error(err))
		}
	}
}

// initLogger initializes the zap logger
func initLogger(level, format string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg.Encoding = "console"
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}
