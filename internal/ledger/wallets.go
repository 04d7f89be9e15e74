package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/balance"
	"pocketledger/internal/core"
	"pocketledger/internal/events"
	"pocketledger/internal/log"
)

// CreateWallet stores a new wallet with its opening balance.
func (o *Orchestrator) CreateWallet(ctx context.Context, w core.Wallet) (core.Wallet, error) {
	w.ID = 0
	w.Name = strings.TrimSpace(w.Name)
	w.Balance = w.Balance.Round(core.MoneyScale)
	if err := w.Validate(); err != nil {
		return core.Wallet{}, err
	}
	created, err := o.wallets.Create(ctx, w)
	if err != nil {
		return core.Wallet{}, core.Persistence("create wallet", err)
	}
	o.logger.InfoContext(ctx, "Wallet created",
		log.FieldWalletID, created.ID,
		log.FieldOwnerID, created.OwnerID)
	return created, nil
}

func (o *Orchestrator) GetWallet(ctx context.Context, ownerID string, id int64) (core.Wallet, error) {
	return o.ownedWallet(ctx, ownerID, id)
}

func (o *Orchestrator) ListWallets(ctx context.Context, ownerID string) ([]core.Wallet, error) {
	ws, err := o.wallets.List(ctx, ownerID)
	if err != nil {
		return nil, core.Persistence("list wallets", err)
	}
	return ws, nil
}

// DeleteWallet removes a wallet and its transactions. Transfers between the
// wallet and a surviving wallet are reversed on the surviving side first, so
// the survivor keeps a balance reconcilable from its remaining history.
func (o *Orchestrator) DeleteWallet(ctx context.Context, ownerID string, id int64) error {
	if _, err := o.ownedWallet(ctx, ownerID, id); err != nil {
		return err
	}
	txs, err := o.txs.ListForWallet(ctx, id, time.Time{}, time.Time{})
	if err != nil {
		return core.Persistence("list wallet transactions", err)
	}

	var (
		survivors   []core.Delta
		categoryIDs []int64
		walletIDs   = []int64{id}
	)
	for _, tx := range txs {
		categoryIDs = append(categoryIDs, categories(tx)...)
		for _, d := range balance.Deltas(tx, balance.Reverse) {
			if d.WalletID != id {
				survivors = append(survivors, d)
			}
		}
	}
	survivors = balance.Merge(survivors)
	walletIDs = append(walletIDs, balance.WalletIDs(survivors)...)

	unlock := o.locks.lock(walletIDs...)
	defer unlock()
	wctx := context.WithoutCancel(ctx)

	if err := o.wallets.BatchApplyDeltas(wctx, survivors); err != nil {
		o.logger.ErrorContext(ctx, "Failed to reverse transfers on surviving wallets",
			log.FieldWalletID, id, log.FieldError, err)
		return core.Persistence("reverse cascaded transfers", err)
	}
	if err := o.wallets.Delete(wctx, id); err != nil {
		o.logger.ErrorContext(ctx, "Failed to delete wallet, re-applying transfers",
			log.FieldWalletID, id, log.FieldError, err)
		if reErr := o.wallets.BatchApplyDeltas(wctx, balance.Negate(survivors)); reErr != nil {
			err = errors.Join(err, fmt.Errorf("re-apply cascaded transfers: %w", reErr))
		}
		if errors.Is(err, core.ErrWalletNotFound) {
			return err
		}
		return core.Persistence("delete wallet", err)
	}

	o.logger.InfoContext(ctx, "Wallet deleted",
		log.FieldWalletID, id,
		log.FieldOwnerID, ownerID,
		"transactions", len(txs))
	o.afterMutation(wctx, events.WalletDeleted, 0, ownerID, categoryIDs, walletIDs)
	return nil
}

// Reconciliation compares a wallet's stored balance with the balance implied
// by its transaction history.
type Reconciliation struct {
	WalletID int64
	Stored   decimal.Decimal
	Expected decimal.Decimal
	Drift    decimal.Decimal // Stored - Expected
}

func (r Reconciliation) Consistent() bool { return r.Drift.IsZero() }

// Reconcile recomputes the wallet balance as initial plus the apply deltas
// of every present transaction. It never writes.
func (o *Orchestrator) Reconcile(ctx context.Context, ownerID string, walletID int64, initial decimal.Decimal) (Reconciliation, error) {
	w, err := o.ownedWallet(ctx, ownerID, walletID)
	if err != nil {
		return Reconciliation{}, err
	}
	txs, err := o.txs.ListForWallet(ctx, walletID, time.Time{}, time.Time{})
	if err != nil {
		return Reconciliation{}, core.Persistence("list wallet transactions", err)
	}
	expected := initial
	for _, tx := range txs {
		for _, d := range balance.Deltas(tx, balance.Apply) {
			if d.WalletID == walletID {
				expected = expected.Add(d.Amount)
			}
		}
	}
	r := Reconciliation{
		WalletID: walletID,
		Stored:   w.Balance,
		Expected: expected,
		Drift:    w.Balance.Sub(expected),
	}
	if !r.Consistent() {
		o.logger.WarnContext(ctx, "Wallet balance drift detected",
			log.FieldWalletID, walletID,
			"stored", r.Stored.String(),
			"expected", r.Expected.String())
	}
	return r, nil
}
