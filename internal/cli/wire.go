package cli

import (
	"fmt"
	"time"

	"pocketledger/internal/backend"
	"pocketledger/internal/budget"
	"pocketledger/internal/config"
	"pocketledger/internal/events"
	"pocketledger/internal/forecast"
	"pocketledger/internal/ledger"
	"pocketledger/internal/log"
	"pocketledger/internal/ports"
	"pocketledger/internal/prediction"
)

// Services are the domain services built on top of one set of stores.
type Services struct {
	Ledger      *ledger.Orchestrator
	Budgets     *budget.Aggregator
	Predictions *prediction.Service
	Location    *time.Location
}

// BuildServices wires the orchestrator, the budget aggregator and the
// prediction cache. A nil forecaster is replaced by the HTTP client
// configured in cfg.
func BuildServices(cfg *config.Config, stores *backend.Stores, publisher events.Publisher, forecaster ports.Forecaster, logger *log.Logger) (*Services, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load budget timezone: %w", err)
	}
	if forecaster == nil {
		forecaster = forecast.NewClient(cfg.ForecasterURL, cfg.ForecasterAPIKey, cfg.ForecasterTimeout, logger)
	}

	agg := budget.NewAggregator(stores.Budgets, stores.Transactions,
		budget.WithLocation(loc),
		budget.WithLogger(logger))
	orch := ledger.New(stores.Wallets, stores.Transactions, agg,
		ledger.WithLogger(logger),
		ledger.WithPublisher(publisher),
		ledger.WithDeleteRetry(ledger.DefaultDeleteRetry(cfg.DeleteRetryAttempts)),
		ledger.WithLocation(loc))
	preds := prediction.NewService(stores.Predictions, forecaster,
		prediction.WithTTL(cfg.PredictionTTL),
		prediction.WithMaxAge(cfg.PredictionMaxAge),
		prediction.WithLocation(loc),
		prediction.WithLogger(logger))

	return &Services{Ledger: orch, Budgets: agg, Predictions: preds, Location: loc}, nil
}
