package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hepatica-risk-engine/internal/artifacts"
	"github.com/hepatica-risk-engine/internal/config"
	"github.com/hepatica-risk-engine/internal/domain"
	"github.com/hepatica-risk-engine/internal/logging"
	"github.com/hepatica-risk-engine/internal/monitoring"
	"github.com/hepatica-risk-engine/internal/registry"
	"github.com/hepatica-risk-engine/internal/repository"
	"github.com/hepatica-risk-engine/internal/service"
)

func main() {
	var (
		dryRun      = flag.Bool("dry-run", false, "Run the batch and roll back every write")
		interval    = flag.Duration("interval", 0, "Repeat the batch at this interval (0 runs once)")
		performedBy = flag.String("performed-by", "stage3-monitor", "Actor recorded on created rows")
	)
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()
	logger := logging.New(cfg.Logging)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}
	defer store.Close()

	if cfg.Registry.SeedFile != "" {
		if err := seedRegistry(ctx, logger, store, cfg.Registry.SeedFile); err != nil {
			logger.WithError(err).Fatal("Failed to seed model registry")
		}
	}

	provider, err := artifacts.NewProvider(artifacts.DefaultCacheSize, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create artifact provider")
	}
	svc := service.NewRiskService(logger, cfg, store, provider)

	var locker monitoring.Locker = monitoring.NoopLocker{}
	if cfg.Cache.RedisURL != "" {
		redisLocker, err := monitoring.NewRedisLocker(cfg.Cache, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect lock backend")
		}
		defer redisLocker.Close()
		locker = redisLocker
	}

	runner := monitoring.NewRunner(logger, store, svc, locker, cfg.Monitoring, cfg.Stage3.Enabled)
	opts := monitoring.Options{DryRun: *dryRun, PerformedBy: *performedBy}

	if *interval <= 0 {
		if err := runOnce(ctx, runner, opts); err != nil {
			logger.WithError(err).Fatal("Monitoring batch failed")
		}
		return
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if err := runOnce(ctx, runner, opts); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Error("Monitoring batch failed")
		}
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, stopping monitor")
			return
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, runner *monitoring.Runner, opts monitoring.Options) error {
	report, err := runner.Run(ctx, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func seedRegistry(ctx context.Context, logger *logrus.Logger, store domain.RegistryStore, path string) error {
	entries, err := registry.LoadSeed(path)
	if err != nil {
		return err
	}
	return registry.NewResolver(logger).ApplySeed(ctx, store, entries)
}
