package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
	"pocketledger/internal/ports"
)

type Budgets struct{ s *Store }

const budgetColumns = `id, category_id, amount, spent, period, owner_id`

func scanBudget(row interface{ Scan(...any) error }) (core.Budget, error) {
	var b core.Budget
	var period string
	if err := row.Scan(&b.ID, &b.CategoryID, &b.Amount, &b.Spent, &period, &b.OwnerID); err != nil {
		return core.Budget{}, err
	}
	b.Period = core.Period(period)
	return b, nil
}

func (r *Budgets) Get(ctx context.Context, id int64) (core.Budget, error) {
	row := r.s.db.QueryRowContext(ctx, r.s.q(`SELECT `+budgetColumns+` FROM budgets WHERE id = ?`), id)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, core.ErrBudgetNotFound
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget %d: %w", id, err)
	}
	return b, nil
}

func (r *Budgets) ListForOwner(ctx context.Context, ownerID string) ([]core.Budget, error) {
	return r.list(ctx, `owner_id = ?`, ownerID)
}

func (r *Budgets) ListForCategory(ctx context.Context, ownerID string, categoryID int64) ([]core.Budget, error) {
	return r.list(ctx, `owner_id = ? AND category_id = ?`, ownerID, categoryID)
}

func (r *Budgets) list(ctx context.Context, where string, args ...any) ([]core.Budget, error) {
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`SELECT `+budgetColumns+` FROM budgets WHERE `+where+` ORDER BY id`), args...)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Budgets) Create(ctx context.Context, b core.Budget) (core.Budget, error) {
	err := r.s.db.QueryRowContext(ctx, r.s.q(`
		INSERT INTO budgets (category_id, amount, spent, period, owner_id)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`),
		b.CategoryID, b.Amount.StringFixed(core.MoneyScale), b.Spent.StringFixed(core.MoneyScale), string(b.Period), b.OwnerID,
	).Scan(&b.ID)
	if err != nil {
		return core.Budget{}, fmt.Errorf("create budget: %w", err)
	}
	return b, nil
}

func (r *Budgets) UpdateSpent(ctx context.Context, id int64, spent decimal.Decimal) error {
	res, err := r.s.db.ExecContext(ctx, r.s.q(`UPDATE budgets SET spent = ? WHERE id = ?`), spent.StringFixed(core.MoneyScale), id)
	if err != nil {
		return fmt.Errorf("update spent of budget %d: %w", id, err)
	}
	return affectedOne(res, core.ErrBudgetNotFound)
}

func (r *Budgets) Delete(ctx context.Context, id int64) error {
	res, err := r.s.db.ExecContext(ctx, r.s.q(`DELETE FROM budgets WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete budget %d: %w", id, err)
	}
	return affectedOne(res, core.ErrBudgetNotFound)
}

type Predictions struct{ s *Store }

func (r *Predictions) Get(ctx context.Context, ownerID, key string) (ports.PredictionEntry, bool, error) {
	var payload string
	e := ports.PredictionEntry{OwnerID: ownerID, Key: key}
	err := r.s.db.QueryRowContext(ctx, r.s.q(`
		SELECT payload, generated_at FROM prediction_cache WHERE owner_id = ? AND cache_key = ?`),
		ownerID, key,
	).Scan(&payload, timeValue{&e.GeneratedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return ports.PredictionEntry{}, false, nil
	}
	if err != nil {
		return ports.PredictionEntry{}, false, fmt.Errorf("get prediction: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &e.Set); err != nil {
		return ports.PredictionEntry{}, false, fmt.Errorf("decode prediction: %w", err)
	}
	return e, true, nil
}

// Put inserts or replaces the entry for (owner, key).
func (r *Predictions) Put(ctx context.Context, e ports.PredictionEntry) error {
	payload, err := json.Marshal(e.Set)
	if err != nil {
		return fmt.Errorf("encode prediction: %w", err)
	}
	_, err = r.s.db.ExecContext(ctx, r.s.q(`
		INSERT INTO prediction_cache (owner_id, cache_key, payload, generated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, cache_key)
		DO UPDATE SET payload = excluded.payload, generated_at = excluded.generated_at`),
		e.OwnerID, e.Key, string(payload), r.s.timeArg(e.GeneratedAt),
	)
	if err != nil {
		return fmt.Errorf("put prediction: %w", err)
	}
	return nil
}

func (r *Predictions) DeleteOlderThan(ctx context.Context, ownerID string, cutoff time.Time) (int64, error) {
	res, err := r.s.db.ExecContext(ctx, r.s.q(`DELETE FROM prediction_cache WHERE owner_id = ? AND generated_at < ?`),
		ownerID, r.s.timeArg(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old predictions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (r *Predictions) Owners(ctx context.Context) ([]string, error) {
	rows, err := r.s.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM prediction_cache ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("list prediction owners: %w", err)
	}
	defer rows.Close()
	var owners []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan prediction owner: %w", err)
		}
		owners = append(owners, id)
	}
	return owners, rows.Err()
}
