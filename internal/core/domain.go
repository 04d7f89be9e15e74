package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

const (
	Cash       WalletType = "cash"
	Bank       WalletType = "bank"
	EWallet    WalletType = "e-wallet"
	Investment WalletType = "investment"
)

const (
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

type (
	TransactionType string
	WalletType      string
	Period          string

	Wallet struct {
		ID      int64
		Name    string
		Balance decimal.Decimal
		Type    WalletType
		Color   string
		Icon    string
		OwnerID string
	}

	Transaction struct {
		ID                  int64
		Type                TransactionType
		Amount              decimal.Decimal
		Fee                 decimal.Decimal // transfers only
		CategoryID          *int64          // income/expense only
		WalletID            int64           // source
		DestinationWalletID *int64          // transfers only
		Description         string
		OccurredAt          time.Time
		OwnerID             string
	}

	// TransactionPatch carries the fields of an update. Nil fields keep the
	// stored value; ClearCategory/ClearDestination drop an optional reference.
	TransactionPatch struct {
		Type                *TransactionType
		Amount              *decimal.Decimal
		Fee                 *decimal.Decimal
		CategoryID          *int64
		ClearCategory       bool
		WalletID            *int64
		DestinationWalletID *int64
		ClearDestination    bool
		Description         *string
		OccurredAt          *time.Time
	}

	Budget struct {
		ID         int64
		CategoryID int64
		Amount     decimal.Decimal // limit
		Spent      decimal.Decimal
		Period     Period
		OwnerID    string
	}

	// Delta is a signed balance adjustment for one wallet.
	Delta struct {
		WalletID int64
		Amount   decimal.Decimal
	}
)

var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrNegativeFee         = errors.New("fee cannot be negative")
	ErrInvalidFee          = errors.New("fee must be a decimal number")
	ErrFeeNotAllowed       = errors.New("fee is only allowed on transfers")
	ErrSameWallet          = errors.New("transfer source and destination must differ")
	ErrMissingDestination  = errors.New("transfer requires a destination wallet")
	ErrUnexpectedDest      = errors.New("destination wallet is only allowed on transfers")
	ErrMissingCategory     = errors.New("category is required for income and expense")
	ErrMissingWallet       = errors.New("wallet is required")
	ErrInvalidType         = errors.New("invalid transaction type")
	ErrInvalidWalletType   = errors.New("invalid wallet type")
	ErrInvalidPeriod       = errors.New("invalid budget period")
	ErrMissingOwner        = errors.New("owner is required")
	ErrEmptyName           = errors.New("empty name")
	ErrDescriptionTooLong  = errors.New("description too long (max 200 characters)")
	ErrMissingDate         = errors.New("date cannot be zero")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrBudgetNotFound      = errors.New("budget not found")
	ErrOwnerMismatch       = errors.New("wallet belongs to a different owner")
)

func (t TransactionType) IsValid() bool {
	switch t {
	case Income, Expense, Transfer:
		return true
	default:
		return false
	}
}

func (t WalletType) IsValid() bool {
	switch t {
	case Cash, Bank, EWallet, Investment:
		return true
	default:
		return false
	}
}

func (p Period) IsValid() bool {
	switch p {
	case Weekly, Monthly:
		return true
	default:
		return false
	}
}

// Validate checks the field-level invariants of a transaction. Wallet
// existence and ownership are checked by the ledger, which can see the store.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.OwnerID) == "" {
		return Invalid("owner_id", ErrMissingOwner)
	}
	if !t.Type.IsValid() {
		return Invalid("type", ErrInvalidType)
	}
	if !t.Amount.IsPositive() {
		return Invalid("amount", ErrInvalidAmount)
	}
	if t.Fee.IsNegative() {
		return Invalid("fee", ErrNegativeFee)
	}
	if t.WalletID == 0 {
		return Invalid("wallet_id", ErrMissingWallet)
	}
	if t.OccurredAt.IsZero() {
		return Invalid("occurred_at", ErrMissingDate)
	}
	if len(t.Description) > 200 {
		return Invalid("description", ErrDescriptionTooLong)
	}

	switch t.Type {
	case Transfer:
		if t.DestinationWalletID == nil || *t.DestinationWalletID == 0 {
			return Invalid("destination_wallet_id", ErrMissingDestination)
		}
		if *t.DestinationWalletID == t.WalletID {
			return Invalid("destination_wallet_id", ErrSameWallet)
		}
	default:
		if t.CategoryID == nil || *t.CategoryID == 0 {
			return Invalid("category_id", ErrMissingCategory)
		}
		if !t.Fee.IsZero() {
			return Invalid("fee", ErrFeeNotAllowed)
		}
		if t.DestinationWalletID != nil {
			return Invalid("destination_wallet_id", ErrUnexpectedDest)
		}
	}
	return nil
}

// Normalize fills defaults and drops fields that do not apply to the type.
// Amount and fee are rounded to MoneyScale, so a sub-cent amount becomes
// zero and fails Validate instead of reaching the store.
func (t Transaction) Normalize() Transaction {
	if t.Type == Transfer {
		t.CategoryID = nil
	}
	t.Amount = t.Amount.Round(MoneyScale)
	t.Fee = t.Fee.Round(MoneyScale)
	t.Description = strings.TrimSpace(t.Description)
	t.OccurredAt = t.OccurredAt.UTC()
	return t
}

// Apply returns a copy of t with the patch applied.
func (p TransactionPatch) Apply(t Transaction) Transaction {
	if p.Type != nil {
		t.Type = *p.Type
	}
	if p.Amount != nil {
		t.Amount = *p.Amount
	}
	if p.Fee != nil {
		t.Fee = *p.Fee
	}
	if p.ClearCategory {
		t.CategoryID = nil
	} else if p.CategoryID != nil {
		id := *p.CategoryID
		t.CategoryID = &id
	}
	if p.WalletID != nil {
		t.WalletID = *p.WalletID
	}
	if p.ClearDestination {
		t.DestinationWalletID = nil
	} else if p.DestinationWalletID != nil {
		id := *p.DestinationWalletID
		t.DestinationWalletID = &id
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.OccurredAt != nil {
		t.OccurredAt = *p.OccurredAt
	}
	// A type change away from transfer leaves no place for fee or destination.
	if t.Type != Transfer {
		if p.Fee == nil {
			t.Fee = decimal.Zero
		}
		if p.DestinationWalletID == nil {
			t.DestinationWalletID = nil
		}
	}
	return t
}

// WalletIDs returns the wallets a transaction touches, source first.
func (t Transaction) WalletIDs() []int64 {
	ids := []int64{t.WalletID}
	if t.Type == Transfer && t.DestinationWalletID != nil {
		ids = append(ids, *t.DestinationWalletID)
	}
	return ids
}

func (w Wallet) Validate() error {
	if strings.TrimSpace(w.OwnerID) == "" {
		return Invalid("owner_id", ErrMissingOwner)
	}
	if strings.TrimSpace(w.Name) == "" {
		return Invalid("name", ErrEmptyName)
	}
	if !w.Type.IsValid() {
		return Invalid("type", ErrInvalidWalletType)
	}
	return nil
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.OwnerID) == "" {
		return Invalid("owner_id", ErrMissingOwner)
	}
	if b.CategoryID == 0 {
		return Invalid("category_id", ErrMissingCategory)
	}
	if !b.Amount.IsPositive() {
		return Invalid("amount", ErrInvalidAmount)
	}
	if !b.Period.IsValid() {
		return Invalid("period", ErrInvalidPeriod)
	}
	return nil
}
