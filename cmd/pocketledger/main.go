package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"pocketledger/internal/backend"
	"pocketledger/internal/cli"
	apphttp "pocketledger/internal/http"
	"pocketledger/internal/log"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)

	ctx := context.Background()
	stores, err := backend.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open data backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	publisher, closePublisher := backend.NewPublisher(ctx, cfg, logger)

	svc, err := cli.BuildServices(cfg, stores, publisher, nil, logger)
	if err != nil {
		logger.Error("Failed to build services", log.FieldError, err)
		os.Exit(1)
	}
	if cfg.ForecasterURL == "" {
		logger.Warn("FORECASTER_URL not set, prediction requests will fail")
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Ledger:      svc.Ledger,
		Budgets:     svc.Budgets,
		Predictions: svc.Predictions,
		Ping:        stores.Ping,
		Location:    svc.Location,
	}, apphttp.DefaultOptions(), logger)
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := closePublisher(); err != nil {
			logger.Warn("Event publisher close error", log.FieldError, err)
		}
		if err := stores.Cleanup(); err != nil {
			logger.Warn("Data backend close error", log.FieldError, err)
		}
	})

	logger.Info("Starting pocketledger server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"events", cfg.EventsBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}
