// Package events carries ledger change notifications to background workers.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type Kind string

const (
	TransactionCreated Kind = "transaction.created"
	TransactionUpdated Kind = "transaction.updated"
	TransactionDeleted Kind = "transaction.deleted"
	WalletDeleted      Kind = "wallet.deleted"
)

// LedgerEvent is a lightweight notification. Consumers read current state
// from the store rather than trusting the event payload.
type LedgerEvent struct {
	Kind          Kind      `json:"kind"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	OwnerID       string    `json:"owner_id"`
	CategoryIDs   []int64   `json:"category_ids,omitempty"`
	WalletIDs     []int64   `json:"wallet_ids,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewLedgerEvent(kind Kind, txID int64, ownerID string, categoryIDs, walletIDs []int64) *LedgerEvent {
	return &LedgerEvent{
		Kind:          kind,
		TransactionID: txID,
		OwnerID:       ownerID,
		CategoryIDs:   categoryIDs,
		WalletIDs:     walletIDs,
		Timestamp:     time.Now().UTC(),
	}
}

func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Publisher sends ledger events.
type Publisher interface {
	Publish(ctx context.Context, e *LedgerEvent) error
}

// Handler processes one event. A returned error asks for redelivery.
type Handler func(ctx context.Context, e *LedgerEvent) error

// Consumer delivers events to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, *LedgerEvent) error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []*LedgerEvent
}

func (r *Recorder) Publish(_ context.Context, e *LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []*LedgerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*LedgerEvent(nil), r.events...)
}
