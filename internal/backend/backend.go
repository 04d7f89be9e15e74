// Package backend builds the storage and event adapters selected by
// configuration.
package backend

import (
	"context"
	"fmt"

	"pocketledger/internal/config"
	"pocketledger/internal/events"
	eventsamqp "pocketledger/internal/events/amqp"
	"pocketledger/internal/events/kafka"
	"pocketledger/internal/log"
	"pocketledger/internal/ports"
	"pocketledger/internal/storage"
	"pocketledger/internal/storage/memory"
)

// CleanupFunc releases a backend resource.
type CleanupFunc func() error

// Stores bundles the repositories of one data backend.
type Stores struct {
	Wallets      ports.WalletRepository
	Transactions ports.TransactionRepository
	Budgets      ports.BudgetRepository
	Predictions  ports.PredictionStore
	// Ping reports whether the backend is reachable.
	Ping    func(ctx context.Context) error
	Cleanup CleanupFunc
}

// OpenStores opens the data backend named by cfg.DataBackend.
func OpenStores(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Stores, error) {
	logger = logger.WithComponent(log.ComponentStorage)
	switch cfg.DataBackend {
	case config.BackendMemory:
		s := memory.New()
		logger.InfoContext(ctx, "Initialized memory backend")
		return &Stores{
			Wallets:      s.Wallets(),
			Transactions: s.Transactions(),
			Budgets:      s.Budgets(),
			Predictions:  s.Predictions(),
			Ping:         func(context.Context) error { return nil },
			Cleanup:      s.Close,
		}, nil
	case config.BackendSQLite, config.BackendPostgres:
		dialect, dsn := storage.SQLite, cfg.SQLiteDBPath
		if cfg.DataBackend == config.BackendPostgres {
			dialect, dsn = storage.Postgres, cfg.PostgresDSN
		}
		s, err := storage.Open(ctx, dialect, dsn)
		if err != nil {
			return nil, fmt.Errorf("open %s backend: %w", dialect, err)
		}
		logger.InfoContext(ctx, "Initialized SQL backend", "dialect", string(dialect))
		return &Stores{
			Wallets:      s.Wallets(),
			Transactions: s.Transactions(),
			Budgets:      s.Budgets(),
			Predictions:  s.Predictions(),
			Ping:         s.Ping,
			Cleanup:      s.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported data backend: %s", cfg.DataBackend)
	}
}

// NewPublisher returns the event publisher named by cfg.EventsBackend. An
// unreachable broker degrades to events.Nop so the API keeps serving.
func NewPublisher(ctx context.Context, cfg *config.Config, logger *log.Logger) (events.Publisher, CleanupFunc) {
	noop := func() error { return nil }
	switch cfg.EventsBackend {
	case config.EventsAMQP:
		c, err := eventsamqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", log.FieldError, err)
			return events.Nop{}, noop
		}
		logger.InfoContext(ctx, "Initialized AMQP publisher", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		return c, c.Close
	case config.EventsKafka:
		p := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.InfoContext(ctx, "Initialized Kafka publisher", "topic", cfg.KafkaTopic)
		return p, p.Close
	default:
		return events.Nop{}, noop
	}
}

// NewConsumer returns the event consumer named by cfg.EventsBackend.
func NewConsumer(cfg *config.Config, logger *log.Logger) (events.Consumer, error) {
	switch cfg.EventsBackend {
	case config.EventsAMQP:
		return eventsamqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	case config.EventsKafka:
		return kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, logger), nil
	default:
		return nil, fmt.Errorf("events backend %q has no consumer", cfg.EventsBackend)
	}
}
