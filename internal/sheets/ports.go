// Package sheets mirrors ledger activity into a spreadsheet journal.
package sheets

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
)

// JournalEntry is one mirrored ledger change. Deleted transactions carry
// only the identifying fields.
type JournalEntry struct {
	RecordedAt    time.Time
	Kind          string
	OwnerID       string
	TransactionID int64
	Type          core.TransactionType
	Amount        decimal.Decimal
	Fee           decimal.Decimal
	WalletID      int64
	DestinationID *int64
	CategoryID    *int64
	Description   string
	OccurredAt    time.Time
}

// EntryFromTransaction fills the transaction fields of an entry.
func EntryFromTransaction(kind, ownerID string, recordedAt time.Time, tx core.Transaction) JournalEntry {
	return JournalEntry{
		RecordedAt:    recordedAt,
		Kind:          kind,
		OwnerID:       ownerID,
		TransactionID: tx.ID,
		Type:          tx.Type,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		WalletID:      tx.WalletID,
		DestinationID: tx.DestinationWalletID,
		CategoryID:    tx.CategoryID,
		Description:   tx.Description,
		OccurredAt:    tx.OccurredAt,
	}
}

// Ports for outbound adapters.
type (
	JournalWriter interface {
		Append(ctx context.Context, e JournalEntry) (rowRef string, err error)
	}
)
