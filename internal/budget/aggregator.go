package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
	"pocketledger/internal/log"
	"pocketledger/internal/ports"
)

// Aggregator recomputes budget spent figures from the transaction set.
// Recomputation is idempotent and depends only on stored transactions, so
// concurrent runs converge on the same value.
type Aggregator struct {
	budgets ports.BudgetRepository
	txs     ports.TransactionRepository
	loc     *time.Location
	now     func() time.Time
	logger  *log.Logger
}

type Option func(*Aggregator)

// WithLocation sets the time zone period windows are computed in.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func WithLogger(l *log.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

func NewAggregator(budgets ports.BudgetRepository, txs ports.TransactionRepository, opts ...Option) *Aggregator {
	a := &Aggregator{
		budgets: budgets,
		txs:     txs,
		loc:     time.UTC,
		now:     time.Now,
		logger:  log.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.WithComponent(log.ComponentBudget)
	return a
}

// Spent sums expense amounts of categoryID inside the current window of period.
func (a *Aggregator) Spent(ctx context.Context, ownerID string, categoryID int64, period core.Period) (decimal.Decimal, error) {
	start, end, err := WindowFor(period, a.now(), a.loc)
	if err != nil {
		return decimal.Zero, core.Invalid("period", core.ErrInvalidPeriod)
	}
	txs, err := a.txs.ListForCategory(ctx, ownerID, categoryID, start, end)
	if err != nil {
		return decimal.Zero, core.Persistence("list category transactions", err)
	}
	total := decimal.Zero
	for _, tx := range txs {
		if tx.Type == core.Expense {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

// Recompute writes the current spent figure of one budget and returns the
// updated budget.
func (a *Aggregator) Recompute(ctx context.Context, b core.Budget) (core.Budget, error) {
	spent, err := a.Spent(ctx, b.OwnerID, b.CategoryID, b.Period)
	if err != nil {
		return b, err
	}
	if spent.Equal(b.Spent) {
		return b, nil
	}
	if err := a.budgets.UpdateSpent(ctx, b.ID, spent); err != nil {
		return b, core.Persistence("update budget spent", err)
	}
	a.logger.DebugContext(ctx, "Budget spent recomputed",
		log.FieldBudgetID, b.ID,
		log.FieldCategoryID, b.CategoryID,
		log.FieldSpent, spent.String())
	b.Spent = spent
	return b, nil
}

// RecomputeCategory recomputes every budget of the owner bound to one of
// categoryIDs. Failures are collected; every budget is attempted.
func (a *Aggregator) RecomputeCategory(ctx context.Context, ownerID string, categoryIDs ...int64) error {
	seen := make(map[int64]struct{}, len(categoryIDs))
	var errs []error
	for _, categoryID := range categoryIDs {
		if _, ok := seen[categoryID]; ok {
			continue
		}
		seen[categoryID] = struct{}{}

		budgets, err := a.budgets.ListForCategory(ctx, ownerID, categoryID)
		if err != nil {
			errs = append(errs, core.Persistence("list budgets", err))
			continue
		}
		for _, b := range budgets {
			if _, err := a.Recompute(ctx, b); err != nil {
				errs = append(errs, fmt.Errorf("budget %d: %w", b.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// RecomputeAll refreshes every budget of the owner and returns them.
func (a *Aggregator) RecomputeAll(ctx context.Context, ownerID string) ([]core.Budget, error) {
	budgets, err := a.budgets.ListForOwner(ctx, ownerID)
	if err != nil {
		return nil, core.Persistence("list budgets", err)
	}
	var errs []error
	for i, b := range budgets {
		updated, err := a.Recompute(ctx, b)
		if err != nil {
			errs = append(errs, fmt.Errorf("budget %d: %w", b.ID, err))
			continue
		}
		budgets[i] = updated
	}
	return budgets, errors.Join(errs...)
}

// Summarize aggregates budgets into totals, progress and remaining budget.
func Summarize(budgets []core.Budget) core.BudgetSummary {
	var s core.BudgetSummary
	for _, b := range budgets {
		s.TotalBudgeted = s.TotalBudgeted.Add(b.Amount)
		s.TotalSpent = s.TotalSpent.Add(b.Spent)
	}
	if !s.TotalBudgeted.IsZero() {
		s.OverallProgress = s.TotalSpent.DivRound(s.TotalBudgeted, 4)
	}
	s.RemainingBudget = s.TotalBudgeted.Sub(s.TotalSpent)
	return s
}

// Summary returns the owner's budget summary over current-window spent
// figures.
func (a *Aggregator) Summary(ctx context.Context, ownerID string) (core.BudgetSummary, error) {
	budgets, err := a.List(ctx, ownerID)
	if err != nil {
		return core.BudgetSummary{}, err
	}
	return Summarize(budgets), nil
}

// CreateBudget validates b, computes its initial spent figure and stores it.
func (a *Aggregator) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	b.Amount = b.Amount.Round(core.MoneyScale)
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	spent, err := a.Spent(ctx, b.OwnerID, b.CategoryID, b.Period)
	if err != nil {
		return core.Budget{}, err
	}
	b.Spent = spent
	created, err := a.budgets.Create(ctx, b)
	if err != nil {
		return core.Budget{}, core.Persistence("create budget", err)
	}
	a.logger.InfoContext(ctx, "Budget created",
		log.FieldBudgetID, created.ID,
		log.FieldCategoryID, created.CategoryID,
		log.FieldOwnerID, created.OwnerID)
	return created, nil
}

// DeleteBudget removes a budget owned by ownerID.
func (a *Aggregator) DeleteBudget(ctx context.Context, ownerID string, id int64) error {
	b, err := a.budgets.Get(ctx, id)
	if err != nil {
		if errors.Is(err, core.ErrBudgetNotFound) {
			return err
		}
		return core.Persistence("get budget", err)
	}
	if b.OwnerID != ownerID {
		return core.ErrBudgetNotFound
	}
	if err := a.budgets.Delete(ctx, id); err != nil {
		return core.Persistence("delete budget", err)
	}
	return nil
}

// List returns the owner's budgets with spent recomputed for the current
// window. A period rollover changes spent without any transaction event,
// so stored figures are refreshed on read.
func (a *Aggregator) List(ctx context.Context, ownerID string) ([]core.Budget, error) {
	budgets, err := a.RecomputeAll(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return budgets, nil
}
