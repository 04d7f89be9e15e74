package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
	"pocketledger/internal/ledger"
)

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(core.MoneyScale)
}

type walletResponse struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Balance string `json:"balance"`
	Type    string `json:"type"`
	Color   string `json:"color,omitempty"`
	Icon    string `json:"icon,omitempty"`
}

func toWalletResponse(w core.Wallet) walletResponse {
	return walletResponse{
		ID:      w.ID,
		Name:    w.Name,
		Balance: formatMoney(w.Balance),
		Type:    string(w.Type),
		Color:   w.Color,
		Icon:    w.Icon,
	}
}

type transactionResponse struct {
	ID                  int64     `json:"id"`
	Type                string    `json:"type"`
	Amount              string    `json:"amount"`
	Fee                 string    `json:"fee,omitempty"`
	CategoryID          *int64    `json:"category_id,omitempty"`
	WalletID            int64     `json:"wallet_id"`
	DestinationWalletID *int64    `json:"destination_wallet_id,omitempty"`
	Description         string    `json:"description"`
	OccurredAt          time.Time `json:"occurred_at"`
}

func toTransactionResponse(t core.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:                  t.ID,
		Type:                string(t.Type),
		Amount:              formatMoney(t.Amount),
		CategoryID:          t.CategoryID,
		WalletID:            t.WalletID,
		DestinationWalletID: t.DestinationWalletID,
		Description:         t.Description,
		OccurredAt:          t.OccurredAt,
	}
	if t.Type == core.Transfer {
		resp.Fee = formatMoney(t.Fee)
	}
	return resp
}

func toTransactionResponses(txs []core.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionResponse(t))
	}
	return out
}

type budgetResponse struct {
	ID         int64  `json:"id"`
	CategoryID int64  `json:"category_id"`
	Amount     string `json:"amount"`
	Spent      string `json:"spent"`
	Remaining  string `json:"remaining"`
	Period     string `json:"period"`
}

func toBudgetResponse(b core.Budget) budgetResponse {
	return budgetResponse{
		ID:         b.ID,
		CategoryID: b.CategoryID,
		Amount:     formatMoney(b.Amount),
		Spent:      formatMoney(b.Spent),
		Remaining:  formatMoney(b.Amount.Sub(b.Spent)),
		Period:     string(b.Period),
	}
}

func toBudgetResponses(budgets []core.Budget) []budgetResponse {
	out := make([]budgetResponse, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, toBudgetResponse(b))
	}
	return out
}

type summaryResponse struct {
	TotalBudgeted   string `json:"total_budgeted"`
	TotalSpent      string `json:"total_spent"`
	OverallProgress string `json:"overall_progress"`
	RemainingBudget string `json:"remaining_budget"`
}

func toSummaryResponse(s core.BudgetSummary) summaryResponse {
	return summaryResponse{
		TotalBudgeted:   formatMoney(s.TotalBudgeted),
		TotalSpent:      formatMoney(s.TotalSpent),
		OverallProgress: s.OverallProgress.StringFixed(4),
		RemainingBudget: formatMoney(s.RemainingBudget),
	}
}

type reconciliationResponse struct {
	WalletID   int64  `json:"wallet_id"`
	Stored     string `json:"stored"`
	Expected   string `json:"expected"`
	Drift      string `json:"drift"`
	Consistent bool   `json:"consistent"`
}

func toReconciliationResponse(r ledger.Reconciliation) reconciliationResponse {
	return reconciliationResponse{
		WalletID:   r.WalletID,
		Stored:     formatMoney(r.Stored),
		Expected:   formatMoney(r.Expected),
		Drift:      formatMoney(r.Drift),
		Consistent: r.Consistent(),
	}
}
