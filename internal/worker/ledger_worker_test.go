package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/budget"
	"pocketledger/internal/core"
	"pocketledger/internal/events"
	"pocketledger/internal/ports"
	"pocketledger/internal/prediction"
	"pocketledger/internal/sheets"
	sheetsmem "pocketledger/internal/sheets/memory"
	"pocketledger/internal/storage/memory"
)

var fixedNow = time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)

type failingJournal struct{}

func (failingJournal) Append(context.Context, sheets.JournalEntry) (string, error) {
	return "", errors.New("quota exceeded")
}

type fakeCleaner struct {
	mu      sync.Mutex
	owners  []string
	stored  []string
	removed int64
	failFor string
}

func (f *fakeCleaner) Owners(context.Context) ([]string, error) {
	return f.stored, nil
}

func (f *fakeCleaner) Cleanup(_ context.Context, ownerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.owners = append(f.owners, ownerID)
	if ownerID == f.failFor {
		return 0, errors.New("store unavailable")
	}
	return f.removed, nil
}

// chanConsumer delivers queued events and then waits for cancellation.
type chanConsumer struct {
	events chan *events.LedgerEvent
	errs   []error
}

func (c *chanConsumer) Consume(ctx context.Context, h events.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-c.events:
			c.errs = append(c.errs, h(ctx, e))
		}
	}
}

func (c *chanConsumer) Close() error { return nil }

type fixture struct {
	store   *memory.Store
	agg     *budget.Aggregator
	journal *sheetsmem.Journal
	budget  core.Budget
	tx      core.Transaction
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	agg := budget.NewAggregator(store.Budgets(), store.Transactions(), budget.WithClock(func() time.Time { return fixedNow }))

	cat := int64(3)
	b, err := store.Budgets().Create(ctx, core.Budget{CategoryID: cat, Amount: decimal.NewFromInt(100), Period: core.Monthly, OwnerID: "u1"})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}
	// Written directly so only the worker brings the budget up to date.
	tx, err := store.Transactions().Insert(ctx, core.Transaction{
		Type: core.Expense, Amount: decimal.RequireFromString("40.25"), CategoryID: &cat,
		WalletID: 1, OccurredAt: fixedNow.Add(-time.Hour), OwnerID: "u1", Description: "groceries",
	})
	if err != nil {
		t.Fatalf("insert tx: %v", err)
	}
	return &fixture{store: store, agg: agg, journal: sheetsmem.New(), budget: b, tx: tx}
}

func (f *fixture) spent(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := f.store.Budgets().Get(context.Background(), f.budget.ID)
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}
	return b.Spent
}

func TestHandleEventRecomputesAndMirrors(t *testing.T) {
	f := newFixture(t)
	w := NewLedgerWorker(f.agg, f.store.Transactions(), WithJournal(f.journal), WithClock(func() time.Time { return fixedNow }))
	e := events.NewLedgerEvent(events.TransactionCreated, f.tx.ID, "u1", []int64{3}, []int64{1})

	for i := 0; i < 2; i++ {
		if err := w.HandleEvent(context.Background(), e); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}
	if got := f.spent(t); !got.Equal(decimal.RequireFromString("40.25")) {
		t.Fatalf("spent = %s, want 40.25 after redelivery", got)
	}

	entries := f.journal.Entries()
	if len(entries) != 2 {
		t.Fatalf("journal entries = %d, want 2", len(entries))
	}
	if entries[0].Description != "groceries" || entries[0].Type != core.Expense || !entries[0].RecordedAt.Equal(fixedNow) {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}

func TestHandleEventForDeletedTransaction(t *testing.T) {
	f := newFixture(t)
	w := NewLedgerWorker(f.agg, f.store.Transactions(), WithJournal(f.journal))

	if err := f.store.Transactions().Delete(context.Background(), f.tx.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// The created event arrives after the row is already gone.
	late := events.NewLedgerEvent(events.TransactionCreated, f.tx.ID, "u1", []int64{3}, nil)
	deleted := events.NewLedgerEvent(events.TransactionDeleted, f.tx.ID, "u1", []int64{3}, nil)
	for _, e := range []*events.LedgerEvent{late, deleted} {
		if err := w.HandleEvent(context.Background(), e); err != nil {
			t.Fatalf("%s: %v", e.Kind, err)
		}
	}
	if got := f.spent(t); !got.IsZero() {
		t.Fatalf("spent = %s, want 0", got)
	}
	for _, entry := range f.journal.Entries() {
		if entry.Type != "" {
			t.Errorf("entry for missing row should carry no body: %+v", entry)
		}
	}
}

func TestHandleEventSkipsForeignTransaction(t *testing.T) {
	f := newFixture(t)
	w := NewLedgerWorker(f.agg, f.store.Transactions(), WithJournal(f.journal))

	e := events.NewLedgerEvent(events.TransactionUpdated, f.tx.ID, "intruder", nil, nil)
	if err := w.HandleEvent(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n := len(f.journal.Entries()); n != 0 {
		t.Fatalf("journal entries = %d, want 0", n)
	}
}

func TestHandleEventJournalFailureAsksForRedelivery(t *testing.T) {
	f := newFixture(t)
	w := NewLedgerWorker(f.agg, f.store.Transactions(), WithJournal(failingJournal{}))

	err := w.HandleEvent(context.Background(), events.NewLedgerEvent(events.TransactionCreated, f.tx.ID, "u1", []int64{3}, nil))
	if err == nil {
		t.Fatal("expected error")
	}
	// Budgets still converge before the failure is reported.
	if got := f.spent(t); !got.Equal(decimal.RequireFromString("40.25")) {
		t.Fatalf("spent = %s", got)
	}
}

func TestCleanupPredictions(t *testing.T) {
	f := newFixture(t)
	cleaner := &fakeCleaner{removed: 2, failFor: "u3"}
	w := NewLedgerWorker(f.agg, f.store.Transactions(), WithPredictions(cleaner))

	w.HandleEvent(context.Background(), events.NewLedgerEvent(events.WalletDeleted, 0, "u1", nil, []int64{1}))
	w.Track("u2", "", "u3")

	n, err := w.CleanupPredictions(context.Background())
	if err == nil {
		t.Fatal("expected error for u3")
	}
	if n != 4 {
		t.Fatalf("removed = %d, want 4", n)
	}
	if len(cleaner.owners) != 3 || cleaner.owners[0] != "u1" || cleaner.owners[2] != "u3" {
		t.Fatalf("owners = %v", cleaner.owners)
	}
}

func TestCleanupPredictionsSweepsStoredOwnersAfterRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	preds := f.store.Predictions()
	preds.Put(ctx, ports.PredictionEntry{OwnerID: "idle", Key: "k", GeneratedAt: fixedNow.Add(-48 * time.Hour)})
	preds.Put(ctx, ports.PredictionEntry{OwnerID: "idle", Key: "fresh", GeneratedAt: fixedNow})

	svc := prediction.NewService(preds, nil, prediction.WithClock(func() time.Time { return fixedNow }))
	// No events have been seen by this worker.
	w := NewLedgerWorker(f.agg, f.store.Transactions(), WithPredictions(svc))

	n, err := w.CleanupPredictions(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CleanupPredictions = %d, %v; want 1", n, err)
	}
	if _, ok, _ := preds.Get(ctx, "idle", "k"); ok {
		t.Fatal("stale entry of idle owner survived")
	}
	if _, ok, _ := preds.Get(ctx, "idle", "fresh"); !ok {
		t.Fatal("fresh entry removed")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	cleaner := &fakeCleaner{}
	w := NewLedgerWorker(f.agg, f.store.Transactions(), WithPredictions(cleaner))
	consumer := &chanConsumer{events: make(chan *events.LedgerEvent, 1)}
	consumer.events <- events.NewLedgerEvent(events.TransactionCreated, f.tx.ID, "u1", []int64{3}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, consumer, 10*time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for f.spent(t).IsZero() {
		select {
		case <-deadline:
			t.Fatal("event was not processed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
}
