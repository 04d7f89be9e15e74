package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
)

type Transactions struct{ s *Store }

const transactionColumns = `id, type, amount, fee, category_id, wallet_id, destination_wallet_id, description, occurred_at, owner_id`

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t        core.Transaction
		typ      string
		category sql.NullInt64
		dest     sql.NullInt64
	)
	err := row.Scan(&t.ID, &typ, &t.Amount, &t.Fee, &category, &t.WalletID, &dest,
		&t.Description, timeValue{&t.OccurredAt}, &t.OwnerID)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.TransactionType(typ)
	t.CategoryID = idPtr(category)
	t.DestinationWalletID = idPtr(dest)
	return t, nil
}

func (r *Transactions) Get(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.s.db.QueryRowContext(ctx, r.s.q(`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`), id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrTransactionNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %d: %w", id, err)
	}
	return t, nil
}

func (r *Transactions) Insert(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	err := r.s.db.QueryRowContext(ctx, r.s.q(`
		INSERT INTO transactions (type, amount, fee, category_id, wallet_id, destination_wallet_id, description, occurred_at, owner_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		string(t.Type), t.Amount.StringFixed(core.MoneyScale), t.Fee.StringFixed(core.MoneyScale),
		nullableID(t.CategoryID), t.WalletID, nullableID(t.DestinationWalletID),
		t.Description, r.s.timeArg(t.OccurredAt), t.OwnerID,
	).Scan(&t.ID)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return t, nil
}

func (r *Transactions) Update(ctx context.Context, t core.Transaction) error {
	res, err := r.s.db.ExecContext(ctx, r.s.q(`
		UPDATE transactions
		SET type = ?, amount = ?, fee = ?, category_id = ?, wallet_id = ?, destination_wallet_id = ?,
		    description = ?, occurred_at = ?
		WHERE id = ?`),
		string(t.Type), t.Amount.StringFixed(core.MoneyScale), t.Fee.StringFixed(core.MoneyScale),
		nullableID(t.CategoryID), t.WalletID, nullableID(t.DestinationWalletID),
		t.Description, r.s.timeArg(t.OccurredAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction %d: %w", t.ID, err)
	}
	return affectedOne(res, core.ErrTransactionNotFound)
}

func (r *Transactions) Delete(ctx context.Context, id int64) error {
	res, err := r.s.db.ExecContext(ctx, r.s.q(`DELETE FROM transactions WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete transaction %d: %w", id, err)
	}
	return affectedOne(res, core.ErrTransactionNotFound)
}

// DeleteTransfer reverses a transfer and deletes it as one unit. PostgreSQL
// runs the delete_transfer function; SQLite uses a local transaction.
func (r *Transactions) DeleteTransfer(ctx context.Context, txID, sourceWalletID, destinationWalletID int64, amount, fee decimal.Decimal) error {
	if r.s.dialect == Postgres {
		_, err := r.s.db.ExecContext(ctx, `SELECT delete_transfer($1, $2, $3, $4, $5)`,
			txID, sourceWalletID, destinationWalletID, amount.String(), fee.String())
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "P0002" {
			if strings.HasPrefix(pqErr.Message, "wallet") {
				return core.ErrWalletNotFound
			}
			return core.ErrTransactionNotFound
		}
		if err != nil {
			return fmt.Errorf("delete transfer %d: %w", txID, err)
		}
		return nil
	}

	wallets := r.s.Wallets()
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM transactions WHERE id = ? AND type = 'transfer'`), txID)
		if err != nil {
			return fmt.Errorf("delete transfer %d: %w", txID, err)
		}
		if err := affectedOne(res, core.ErrTransactionNotFound); err != nil {
			return err
		}
		if err := wallets.addBalance(ctx, tx, sourceWalletID, amount.Add(fee)); err != nil {
			return err
		}
		return wallets.addBalance(ctx, tx, destinationWalletID, amount.Neg())
	})
}

func (r *Transactions) ListForWallet(ctx context.Context, walletID int64, from, to time.Time) ([]core.Transaction, error) {
	return r.list(ctx, `(wallet_id = ? OR destination_wallet_id = ?)`, []any{walletID, walletID}, from, to)
}

func (r *Transactions) ListForCategory(ctx context.Context, ownerID string, categoryID int64, from, to time.Time) ([]core.Transaction, error) {
	return r.list(ctx, `owner_id = ? AND category_id = ?`, []any{ownerID, categoryID}, from, to)
}

func (r *Transactions) list(ctx context.Context, where string, args []any, from, to time.Time) ([]core.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE ` + where
	if !from.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, r.s.timeArg(from))
	}
	if !to.IsZero() {
		query += ` AND occurred_at < ?`
		args = append(args, r.s.timeArg(to))
	}
	query += ` ORDER BY occurred_at DESC, id DESC`

	rows, err := r.s.db.QueryContext(ctx, r.s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
