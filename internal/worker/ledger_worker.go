// Package worker reacts to ledger events outside the request path.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pocketledger/internal/core"
	"pocketledger/internal/events"
	"pocketledger/internal/log"
	"pocketledger/internal/ports"
	"pocketledger/internal/sheets"
)

type BudgetRecomputer interface {
	RecomputeCategory(ctx context.Context, ownerID string, categoryIDs ...int64) error
}

type PredictionCleaner interface {
	Cleanup(ctx context.Context, ownerID string) (int64, error)
	Owners(ctx context.Context) ([]string, error)
}

// LedgerWorker converges derived state after ledger events: budget spent
// totals, the spreadsheet journal and the prediction cache.
type LedgerWorker struct {
	budgets     BudgetRecomputer
	txs         ports.TransactionRepository
	journal     sheets.JournalWriter
	predictions PredictionCleaner
	logger      *log.Logger
	now         func() time.Time

	mu     sync.Mutex
	owners map[string]struct{}
}

type Option func(*LedgerWorker)

// WithJournal mirrors every event into j.
func WithJournal(j sheets.JournalWriter) Option {
	return func(w *LedgerWorker) { w.journal = j }
}

func WithPredictions(p PredictionCleaner) Option {
	return func(w *LedgerWorker) { w.predictions = p }
}

func WithLogger(l *log.Logger) Option {
	return func(w *LedgerWorker) { w.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(w *LedgerWorker) { w.now = now }
}

func NewLedgerWorker(budgets BudgetRecomputer, txs ports.TransactionRepository, opts ...Option) *LedgerWorker {
	w := &LedgerWorker{
		budgets: budgets,
		txs:     txs,
		logger:  log.Discard(),
		now:     time.Now,
		owners:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithComponent(log.ComponentWorker)
	return w
}

// HandleEvent recomputes the touched budgets and mirrors the event. It is
// idempotent, so redelivered events are harmless.
func (w *LedgerWorker) HandleEvent(ctx context.Context, e *events.LedgerEvent) error {
	if e.OwnerID == "" {
		w.logger.WarnContext(ctx, "Dropping ledger event without owner", log.FieldEventKind, string(e.Kind))
		return nil
	}
	w.track(e.OwnerID)

	var errs []error
	if len(e.CategoryIDs) > 0 {
		if err := w.budgets.RecomputeCategory(ctx, e.OwnerID, e.CategoryIDs...); err != nil {
			errs = append(errs, fmt.Errorf("recompute budgets: %w", err))
		}
	}
	if w.journal != nil {
		if err := w.mirror(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("mirror to journal: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Ledger event processed",
		log.FieldEventKind, string(e.Kind),
		log.FieldOwnerID, e.OwnerID,
		log.FieldTransactionID, e.TransactionID,
		"categories", len(e.CategoryIDs))
	return nil
}

// mirror reads the current transaction so the journal shows stored state.
func (w *LedgerWorker) mirror(ctx context.Context, e *events.LedgerEvent) error {
	entry := sheets.JournalEntry{
		RecordedAt:    w.now(),
		Kind:          string(e.Kind),
		OwnerID:       e.OwnerID,
		TransactionID: e.TransactionID,
	}
	if e.TransactionID != 0 && e.Kind != events.TransactionDeleted {
		tx, err := w.txs.Get(ctx, e.TransactionID)
		switch {
		case errors.Is(err, core.ErrTransactionNotFound):
			// deleted after the event was published
		case err != nil:
			return fmt.Errorf("load transaction %d: %w", e.TransactionID, err)
		case tx.OwnerID != e.OwnerID:
			w.logger.WarnContext(ctx, "Ledger event owner does not match transaction",
				log.FieldTransactionID, e.TransactionID,
				log.FieldOwnerID, e.OwnerID)
			return nil
		default:
			entry = sheets.EntryFromTransaction(string(e.Kind), e.OwnerID, entry.RecordedAt, tx)
		}
	}
	ref, err := w.journal.Append(ctx, entry)
	if err != nil {
		return err
	}
	w.logger.DebugContext(ctx, "Journal updated", log.FieldTransactionID, e.TransactionID, "ref", ref)
	return nil
}

func (w *LedgerWorker) track(ownerID string) {
	w.mu.Lock()
	w.owners[ownerID] = struct{}{}
	w.mu.Unlock()
}

// Track registers owners whose prediction cache should be swept.
func (w *LedgerWorker) Track(ownerIDs ...string) {
	for _, id := range ownerIDs {
		if id != "" {
			w.track(id)
		}
	}
}

// cleanupOwners merges the tracked owners with those that have stored
// forecasts, so entries written before a restart are swept too.
func (w *LedgerWorker) cleanupOwners(ctx context.Context) ([]string, error) {
	stored, err := w.predictions.Owners(ctx)

	w.mu.Lock()
	for _, id := range stored {
		if id != "" {
			w.owners[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(w.owners))
	for id := range w.owners {
		out = append(out, id)
	}
	w.mu.Unlock()

	sort.Strings(out)
	if err != nil {
		return out, fmt.Errorf("stored owners: %w", err)
	}
	return out, nil
}

// CleanupPredictions removes stale cached forecasts of every known owner
// and returns how many entries were removed.
func (w *LedgerWorker) CleanupPredictions(ctx context.Context) (int64, error) {
	if w.predictions == nil {
		return 0, nil
	}
	var (
		total int64
		errs  []error
	)
	owners, err := w.cleanupOwners(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	for _, owner := range owners {
		n, err := w.predictions.Cleanup(ctx, owner)
		if err != nil {
			errs = append(errs, fmt.Errorf("owner %s: %w", owner, err))
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}

func (w *LedgerWorker) runCleanup(ctx context.Context, interval time.Duration) error {
	if w.predictions == nil || interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := w.CleanupPredictions(ctx)
			if err != nil {
				w.logger.WarnContext(ctx, "Prediction cleanup failed", log.FieldError, err)
			}
			if n > 0 {
				w.logger.InfoContext(ctx, "Prediction cleanup completed", "removed", n)
			}
		}
	}
}

// Run consumes events and sweeps the prediction cache every interval until
// ctx is done or the consumer fails.
func (w *LedgerWorker) Run(ctx context.Context, consumer events.Consumer, interval time.Duration) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := consumer.Consume(ctx, w.HandleEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return w.runCleanup(ctx, interval)
	})
	return g.Wait()
}
