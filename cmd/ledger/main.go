package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ledger/internal/cache"
	"ledger/internal/cli"
	apphttp "ledger/internal/http"
	"ledger/internal/log"
	"ledger/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(log.ComponentHTTP)
	logger := cli.SetupLogger(cfg, log.ComponentHTTP)

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

	caches := cache.NewManager()
	caches.Register(ledger.Views())
	caches.StartCleanup(cfg.SummaryCacheTTL)

	srv := apphttp.NewServer(apphttp.Config{
		Addr:           ":" + cfg.Port,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, ledger, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		caches.Stop()
	})

	logger.Info("Starting ledger server",
		"port", cfg.Port,
		log.FieldBackend, cfg.DataBackend,
		"amqp", backend.AMQP != nil,
		"timezone", loc.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
