package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

type Risk string

func (r Risk) IsValid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}

// BudgetSummary aggregates all budgets of an owner.
type BudgetSummary struct {
	TotalBudgeted   decimal.Decimal
	TotalSpent      decimal.Decimal
	OverallProgress decimal.Decimal // spent/budgeted, 0 when nothing is budgeted
	RemainingBudget decimal.Decimal // negative on overrun
}

// BudgetPrediction is a forward-looking estimate for one budget. It is never
// a source of truth for spending.
type BudgetPrediction struct {
	CategoryID     int64           `json:"category_id"`
	Limit          decimal.Decimal `json:"limit"`
	ProjectedSpend decimal.Decimal `json:"projected_spend"`
	Risk           Risk            `json:"risk"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// PredictionSet is what the prediction cache stores and returns.
type PredictionSet struct {
	Predictions []BudgetPrediction `json:"predictions"`
	OverallRisk Risk               `json:"overall_risk"`
	Summary     string             `json:"summary"`
	Language    string             `json:"language"`
	GeneratedAt time.Time          `json:"generated_at"`
}
