package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ledger/internal/cli"
	"ledger/internal/log"
	"ledger/internal/services"
	"ledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(log.ComponentWorker)
	logger := cli.SetupLogger(cfg, log.ComponentWorker)

	logger.Info("Starting carryover-worker")

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("Invalid timezone", "error", err, "timezone", cfg.Timezone)
		os.Exit(1)
	}

	backend := cli.OpenBackend(context.Background(), logger, cfg)
	defer func() {
		if err := backend.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	ledger := services.NewLedgerService(backend.Store, backend.Publisher(), logger, services.LedgerConfig{
		DefaultStartDay: cfg.DefaultPeriodStartDay,
		Location:        loc,
		CacheSize:       cfg.SummaryCacheSize,
		CacheTTL:        cfg.SummaryCacheTTL,
	})

	processor := services.NewSyncProcessor(ledger, services.SyncProcessorConfig{
		Schedule:    cfg.SyncSchedule,
		Concurrency: cfg.SyncConcurrency,
		RunOnStart:  cfg.SyncOnStart,
		Location:    loc,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		logger.Info("Shutting down worker...")
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Error("Scheduler shutdown error", "error", err)
		}
	})

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start sync scheduler", "error", err, "schedule", cfg.SyncSchedule)
		os.Exit(1)
	}

	if backend.Exporter == nil {
		logger.Info("Summary export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}
	syncWorker := worker.NewSyncWorker(ledger, backend.Exporter).WithRetries(cfg.SyncMaxRetries, time.Second)

	// Sync requests come from the API; without a broker only the schedule runs.
	if backend.AMQP != nil {
		go func() {
			err := backend.AMQP.ConsumeCarryoverSync(ctx, syncWorker.HandleSyncMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", "error", err)
			}
		}()
	} else {
		logger.Info("AMQP disabled - running scheduled sync only")
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker shutdown complete")
}
