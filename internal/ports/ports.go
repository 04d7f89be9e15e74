package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
)

// Ports for outbound adapters.
type (
	WalletRepository interface {
		Get(ctx context.Context, id int64) (core.Wallet, error)
		List(ctx context.Context, ownerID string) ([]core.Wallet, error)
		Create(ctx context.Context, w core.Wallet) (core.Wallet, error)
		Delete(ctx context.Context, id int64) error
		// BatchApplyDeltas adds every delta to its wallet balance as one
		// write: either all balances change or none do.
		BatchApplyDeltas(ctx context.Context, deltas []core.Delta) error
	}

	TransactionRepository interface {
		Get(ctx context.Context, id int64) (core.Transaction, error)
		Insert(ctx context.Context, tx core.Transaction) (core.Transaction, error)
		Update(ctx context.Context, tx core.Transaction) error
		Delete(ctx context.Context, id int64) error
		// ListForWallet returns transactions where walletID is source or
		// destination, occurredAt in [from, to), newest first. A zero bound
		// is open.
		ListForWallet(ctx context.Context, walletID int64, from, to time.Time) ([]core.Transaction, error)
		// ListForCategory returns an owner's transactions of a category with
		// occurredAt in [from, to), newest first.
		ListForCategory(ctx context.Context, ownerID string, categoryID int64, from, to time.Time) ([]core.Transaction, error)
	}

	// TransferDeleter is implemented by stores that can reverse a transfer's
	// balance effect and delete its row as one server-side unit.
	TransferDeleter interface {
		DeleteTransfer(ctx context.Context, txID, sourceWalletID, destinationWalletID int64, amount, fee decimal.Decimal) error
	}

	BudgetRepository interface {
		Get(ctx context.Context, id int64) (core.Budget, error)
		ListForOwner(ctx context.Context, ownerID string) ([]core.Budget, error)
		ListForCategory(ctx context.Context, ownerID string, categoryID int64) ([]core.Budget, error)
		Create(ctx context.Context, b core.Budget) (core.Budget, error)
		UpdateSpent(ctx context.Context, id int64, spent decimal.Decimal) error
		Delete(ctx context.Context, id int64) error
	}

	// PredictionEntry is one cached forecast.
	PredictionEntry struct {
		OwnerID     string
		Key         string
		Set         core.PredictionSet
		GeneratedAt time.Time
	}

	PredictionStore interface {
		// Get returns the entry for key, ok=false when absent.
		Get(ctx context.Context, ownerID, key string) (PredictionEntry, bool, error)
		Put(ctx context.Context, e PredictionEntry) error
		// DeleteOlderThan removes an owner's entries generated before cutoff
		// and returns how many were removed.
		DeleteOlderThan(ctx context.Context, ownerID string, cutoff time.Time) (int64, error)
		// Owners lists every owner with at least one stored entry.
		Owners(ctx context.Context) ([]string, error)
	}

	// ForecastBudget is one budget as sent to the forecaster.
	ForecastBudget struct {
		CategoryID int64           `json:"categoryId"`
		Limit      decimal.Decimal `json:"limit"`
		Period     core.Period     `json:"period"`
	}

	ForecastTransaction struct {
		ID         int64                `json:"id"`
		Type       core.TransactionType `json:"type"`
		Amount     decimal.Decimal      `json:"amount"`
		CategoryID *int64               `json:"categoryId,omitempty"`
		OccurredAt time.Time            `json:"occurredAt"`
	}

	ForecastRequest struct {
		Budgets      []ForecastBudget      `json:"budgets"`
		Transactions []ForecastTransaction `json:"transactions"`
		CurrentDate  time.Time             `json:"currentDate"`
		Language     string                `json:"language"`
	}

	ForecastPrediction struct {
		CategoryID     int64           `json:"categoryId"`
		ProjectedSpend decimal.Decimal `json:"projectedSpend"`
		Risk           core.Risk       `json:"risk"`
	}

	ForecastResponse struct {
		Predictions []ForecastPrediction `json:"predictions"`
		OverallRisk core.Risk            `json:"overallRisk"`
		Summary     string               `json:"summary"`
	}

	// Forecaster calls the external forecasting function. Failures are
	// returned as *core.PredictionError.
	Forecaster interface {
		Forecast(ctx context.Context, req ForecastRequest) (ForecastResponse, error)
	}
)
