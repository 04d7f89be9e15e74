package core

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func id(v int64) *int64 { return &v }

func validExpense() Transaction {
	return Transaction{
		Type:       Expense,
		Amount:     decimal.NewFromInt(10),
		CategoryID: id(3),
		WalletID:   1,
		OccurredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		OwnerID:    "u1",
	}
}

func validTransfer() Transaction {
	return Transaction{
		Type:                Transfer,
		Amount:              decimal.NewFromInt(200),
		Fee:                 decimal.NewFromInt(10),
		WalletID:            1,
		DestinationWalletID: id(2),
		OccurredAt:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		OwnerID:             "u1",
	}
}

func TestTransactionValidate(t *testing.T) {
	if err := validExpense().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := validTransfer().Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Transaction)
		base   func() Transaction
		want   error
	}{
		{"zero amount", func(tx *Transaction) { tx.Amount = decimal.Zero }, validExpense, ErrInvalidAmount},
		{"negative amount", func(tx *Transaction) { tx.Amount = decimal.NewFromInt(-1) }, validExpense, ErrInvalidAmount},
		{"negative fee", func(tx *Transaction) { tx.Fee = decimal.NewFromInt(-1) }, validTransfer, ErrNegativeFee},
		{"fee on expense", func(tx *Transaction) { tx.Fee = decimal.NewFromInt(1) }, validExpense, ErrFeeNotAllowed},
		{"same wallet transfer", func(tx *Transaction) { tx.DestinationWalletID = id(1) }, validTransfer, ErrSameWallet},
		{"transfer without destination", func(tx *Transaction) { tx.DestinationWalletID = nil }, validTransfer, ErrMissingDestination},
		{"expense without category", func(tx *Transaction) { tx.CategoryID = nil }, validExpense, ErrMissingCategory},
		{"expense with destination", func(tx *Transaction) { tx.DestinationWalletID = id(2) }, validExpense, ErrUnexpectedDest},
		{"missing owner", func(tx *Transaction) { tx.OwnerID = " " }, validExpense, ErrMissingOwner},
		{"bad type", func(tx *Transaction) { tx.Type = "gift" }, validExpense, ErrInvalidType},
		{"zero date", func(tx *Transaction) { tx.OccurredAt = time.Time{} }, validExpense, ErrMissingDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := tt.base()
			tt.mutate(&tx)
			err := tx.Validate()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
			if !IsValidation(err) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}
}

func TestPatchApplyTypeChange(t *testing.T) {
	tr := validTransfer()
	typ := Expense
	got := TransactionPatch{Type: &typ, CategoryID: id(9)}.Apply(tr)
	if got.DestinationWalletID != nil {
		t.Fatalf("destination should be dropped, got %v", *got.DestinationWalletID)
	}
	if !got.Fee.IsZero() {
		t.Fatalf("fee should be reset, got %s", got.Fee)
	}
	if got.CategoryID == nil || *got.CategoryID != 9 {
		t.Fatalf("category not applied: %v", got.CategoryID)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("patched transaction invalid: %v", err)
	}

	// Original must not be mutated through shared pointers.
	if tr.DestinationWalletID == nil || *tr.DestinationWalletID != 2 {
		t.Fatalf("original mutated")
	}
}

func TestNormalizeDropsTransferCategory(t *testing.T) {
	tr := validTransfer()
	tr.CategoryID = id(4)
	if got := tr.Normalize(); got.CategoryID != nil {
		t.Fatalf("transfer category should be dropped")
	}
}

func TestNormalizeRoundsToCents(t *testing.T) {
	tx := validTransfer()
	tx.Amount = decimal.RequireFromString("12.345")
	tx.Fee = decimal.RequireFromString("0.004")
	n := tx.Normalize()
	if n.Amount.String() != "12.35" || !n.Fee.IsZero() {
		t.Fatalf("normalized amount=%s fee=%s", n.Amount, n.Fee)
	}

	sub := validExpense()
	sub.Amount = decimal.RequireFromString("0.004")
	if err := sub.Normalize().Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("sub-cent amount err = %v, want ErrInvalidAmount", err)
	}
}

func TestWalletIDs(t *testing.T) {
	if ids := validExpense().WalletIDs(); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("unexpected ids %v", ids)
	}
	if ids := validTransfer().WalletIDs(); len(ids) != 2 || ids[1] != 2 {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestBudgetAndWalletValidate(t *testing.T) {
	b := Budget{CategoryID: 1, Amount: decimal.NewFromInt(100), Period: Monthly, OwnerID: "u1"}
	if err := b.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	b.Period = "yearly"
	if err := b.Validate(); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}

	w := Wallet{Name: "Cash", Type: Cash, OwnerID: "u1"}
	if err := w.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	w.Type = "crypto"
	if err := w.Validate(); !errors.Is(err, ErrInvalidWalletType) {
		t.Fatalf("expected ErrInvalidWalletType, got %v", err)
	}
}

func TestPersistenceKeepsTypedErrors(t *testing.T) {
	v := Invalid("amount", ErrInvalidAmount)
	if got := Persistence("create", v); got != v {
		t.Fatalf("validation error should pass through")
	}
	p := Persistence("create", errors.New("disk full"))
	if !IsPersistence(p) {
		t.Fatalf("expected PersistenceError")
	}
	if Persistence("create", nil) != nil {
		t.Fatalf("nil should stay nil")
	}
}
