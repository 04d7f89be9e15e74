package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
	"pocketledger/internal/ports"
)

var (
	_ ports.WalletRepository      = (*Wallets)(nil)
	_ ports.TransactionRepository = (*Transactions)(nil)
	_ ports.TransferDeleter       = (*Transactions)(nil)
	_ ports.BudgetRepository      = (*Budgets)(nil)
	_ ports.PredictionStore       = (*Predictions)(nil)
)

type Wallets struct{ s *Store }

const walletColumns = `id, name, balance, type, color, icon, owner_id`

func scanWallet(row interface{ Scan(...any) error }) (core.Wallet, error) {
	var w core.Wallet
	var typ string
	if err := row.Scan(&w.ID, &w.Name, &w.Balance, &typ, &w.Color, &w.Icon, &w.OwnerID); err != nil {
		return core.Wallet{}, err
	}
	w.Type = core.WalletType(typ)
	return w, nil
}

func (r *Wallets) Get(ctx context.Context, id int64) (core.Wallet, error) {
	row := r.s.db.QueryRowContext(ctx, r.s.q(`SELECT `+walletColumns+` FROM wallets WHERE id = ?`), id)
	w, err := scanWallet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Wallet{}, core.ErrWalletNotFound
	}
	if err != nil {
		return core.Wallet{}, fmt.Errorf("get wallet %d: %w", id, err)
	}
	return w, nil
}

func (r *Wallets) List(ctx context.Context, ownerID string) ([]core.Wallet, error) {
	rows, err := r.s.db.QueryContext(ctx, r.s.q(`SELECT `+walletColumns+` FROM wallets WHERE owner_id = ? ORDER BY id`), ownerID)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}
	defer rows.Close()

	var out []core.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *Wallets) Create(ctx context.Context, w core.Wallet) (core.Wallet, error) {
	err := r.s.db.QueryRowContext(ctx, r.s.q(`
		INSERT INTO wallets (name, balance, type, color, icon, owner_id)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		w.Name, w.Balance.String(), string(w.Type), w.Color, w.Icon, w.OwnerID,
	).Scan(&w.ID)
	if err != nil {
		return core.Wallet{}, fmt.Errorf("create wallet: %w", err)
	}
	return w, nil
}

// Delete removes the wallet together with every transaction that uses it as
// source or destination.
func (r *Wallets) Delete(ctx context.Context, id int64) error {
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM transactions WHERE wallet_id = ? OR destination_wallet_id = ?`), id, id); err != nil {
			return fmt.Errorf("delete wallet transactions: %w", err)
		}
		res, err := tx.ExecContext(ctx, r.s.q(`DELETE FROM wallets WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete wallet %d: %w", id, err)
		}
		return affectedOne(res, core.ErrWalletNotFound)
	})
}

// BatchApplyDeltas adds every delta inside one database transaction.
func (r *Wallets) BatchApplyDeltas(ctx context.Context, deltas []core.Delta) error {
	if len(deltas) == 0 {
		return nil
	}
	return r.s.inTx(ctx, func(tx *sql.Tx) error {
		for _, d := range deltas {
			if err := r.addBalance(ctx, tx, d.WalletID, d.Amount); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Wallets) addBalance(ctx context.Context, tx *sql.Tx, walletID int64, delta decimal.Decimal) error {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, r.s.q(`SELECT balance FROM wallets WHERE id = ?`+r.s.forUpdate()), walletID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("wallet %d: %w", walletID, core.ErrWalletNotFound)
	}
	if err != nil {
		return fmt.Errorf("read balance of wallet %d: %w", walletID, err)
	}
	next := balance.Add(delta).Round(core.MoneyScale)
	if _, err := tx.ExecContext(ctx, r.s.q(`UPDATE wallets SET balance = ? WHERE id = ?`), next.StringFixed(core.MoneyScale), walletID); err != nil {
		return fmt.Errorf("update balance of wallet %d: %w", walletID, err)
	}
	return nil
}
