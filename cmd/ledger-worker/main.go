package main

import (
	"context"
	"os"
	"time"

	"pocketledger/internal/backend"
	"pocketledger/internal/cli"
	"pocketledger/internal/config"
	"pocketledger/internal/log"
	gsheet "pocketledger/internal/sheets/google"
	"pocketledger/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger)
	logger = logger.WithComponent(log.ComponentWorker)

	if cfg.EventsBackend == config.EventsNone {
		logger.Error("ledger-worker needs EVENTS_BACKEND=amqp or kafka")
		os.Exit(1)
	}
	if cfg.DataBackend == config.BackendMemory {
		logger.Warn("Memory backend is private to this process, budgets recomputed here are not shared with the API")
	}

	logger.Info("Starting ledger-worker", "backend", cfg.DataBackend, "events", cfg.EventsBackend)

	ctx := context.Background()
	stores, err := backend.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to open data backend", log.FieldError, err)
		os.Exit(1)
	}
	svc, err := cli.BuildServices(cfg, stores, nil, nil, logger)
	if err != nil {
		logger.Error("Failed to build services", log.FieldError, err)
		os.Exit(1)
	}

	opts := []worker.Option{
		worker.WithLogger(logger),
		worker.WithPredictions(svc.Predictions),
	}
	if cfg.JournalEnabled() {
		journal, err := gsheet.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName, logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets journal", log.FieldError, err)
			os.Exit(1)
		}
		opts = append(opts, worker.WithJournal(journal))
		logger.Info("Google Sheets journal enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets journal disabled - no GOOGLE_SPREADSHEET_ID provided")
	}
	w := worker.NewLedgerWorker(svc.Budgets, stores.Transactions, opts...)

	consumer, err := backend.NewConsumer(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize event consumer", log.FieldError, err)
		os.Exit(1)
	}

	runCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		if err := consumer.Close(); err != nil {
			logger.Warn("Consumer close error", log.FieldError, err)
		}
		if err := stores.Cleanup(); err != nil {
			logger.Warn("Data backend close error", log.FieldError, err)
		}
	})

	if err := w.Run(runCtx, consumer, cfg.PredictionCleanupInterval); err != nil {
		logger.Error("Worker stopped with error", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(runCtx, done)
	logger.Info("ledger-worker stopped")
}
