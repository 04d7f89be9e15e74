package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
	"pocketledger/internal/ports"
)

// Store keeps wallets, transactions, budgets and cached predictions in
// process memory. It backs DATA_BACKEND=memory and the package tests.
type Store struct {
	mu          sync.Mutex
	nextID      int64
	wallets     map[int64]core.Wallet
	txs         map[int64]core.Transaction
	budgets     map[int64]core.Budget
	predictions map[string]ports.PredictionEntry
}

func New() *Store {
	return &Store{
		wallets:     make(map[int64]core.Wallet),
		txs:         make(map[int64]core.Transaction),
		budgets:     make(map[int64]core.Budget),
		predictions: make(map[string]ports.PredictionEntry),
	}
}

func (s *Store) Wallets() *Wallets           { return &Wallets{s} }
func (s *Store) Transactions() *Transactions { return &Transactions{s} }
func (s *Store) Budgets() *Budgets           { return &Budgets{s} }
func (s *Store) Predictions() *Predictions   { return &Predictions{s} }

// Close implements io.Closer for symmetry with the SQL store.
func (s *Store) Close() error { return nil }

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Ensure interface conformance
var (
	_ ports.WalletRepository      = (*Wallets)(nil)
	_ ports.TransactionRepository = (*Transactions)(nil)
	_ ports.BudgetRepository      = (*Budgets)(nil)
	_ ports.PredictionStore       = (*Predictions)(nil)
)

type Wallets struct{ s *Store }

func (r *Wallets) Get(_ context.Context, id int64) (core.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.wallets[id]
	if !ok {
		return core.Wallet{}, core.ErrWalletNotFound
	}
	return w, nil
}

func (r *Wallets) List(_ context.Context, ownerID string) ([]core.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []core.Wallet
	for _, w := range r.s.wallets {
		if w.OwnerID == ownerID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Wallets) Create(_ context.Context, w core.Wallet) (core.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w.ID = r.s.id()
	r.s.wallets[w.ID] = w
	return w, nil
}

// Delete removes the wallet and every transaction that references it.
func (r *Wallets) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.wallets[id]; !ok {
		return core.ErrWalletNotFound
	}
	for txID, tx := range r.s.txs {
		if touches(tx, id) {
			delete(r.s.txs, txID)
		}
	}
	delete(r.s.wallets, id)
	return nil
}

func (r *Wallets) BatchApplyDeltas(_ context.Context, deltas []core.Delta) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, d := range deltas {
		if _, ok := r.s.wallets[d.WalletID]; !ok {
			return core.ErrWalletNotFound
		}
	}
	for _, d := range deltas {
		w := r.s.wallets[d.WalletID]
		w.Balance = w.Balance.Add(d.Amount)
		r.s.wallets[d.WalletID] = w
	}
	return nil
}

// DeleteTransfer implements ports.TransferDeleter under the store lock.
func (r *Transactions) DeleteTransfer(_ context.Context, txID, src, dst int64, amount, fee decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.txs[txID]; !ok {
		return core.ErrTransactionNotFound
	}
	ws, okS := r.s.wallets[src]
	wd, okD := r.s.wallets[dst]
	if !okS || !okD {
		return core.ErrWalletNotFound
	}
	ws.Balance = ws.Balance.Add(amount).Add(fee)
	wd.Balance = wd.Balance.Sub(amount)
	r.s.wallets[src] = ws
	r.s.wallets[dst] = wd
	delete(r.s.txs, txID)
	return nil
}

type Transactions struct{ s *Store }

func (r *Transactions) Get(_ context.Context, id int64) (core.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx, ok := r.s.txs[id]
	if !ok {
		return core.Transaction{}, core.ErrTransactionNotFound
	}
	return tx, nil
}

func (r *Transactions) Insert(_ context.Context, tx core.Transaction) (core.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	tx.ID = r.s.id()
	r.s.txs[tx.ID] = tx
	return tx, nil
}

func (r *Transactions) Update(_ context.Context, tx core.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.txs[tx.ID]; !ok {
		return core.ErrTransactionNotFound
	}
	r.s.txs[tx.ID] = tx
	return nil
}

func (r *Transactions) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.txs[id]; !ok {
		return core.ErrTransactionNotFound
	}
	delete(r.s.txs, id)
	return nil
}

func (r *Transactions) ListForWallet(_ context.Context, walletID int64, from, to time.Time) ([]core.Transaction, error) {
	return r.filter(func(tx core.Transaction) bool {
		return touches(tx, walletID) && inRange(tx.OccurredAt, from, to)
	}), nil
}

func (r *Transactions) ListForCategory(_ context.Context, ownerID string, categoryID int64, from, to time.Time) ([]core.Transaction, error) {
	return r.filter(func(tx core.Transaction) bool {
		return tx.OwnerID == ownerID &&
			tx.CategoryID != nil && *tx.CategoryID == categoryID &&
			inRange(tx.OccurredAt, from, to)
	}), nil
}

func (r *Transactions) filter(keep func(core.Transaction) bool) []core.Transaction {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []core.Transaction
	for _, tx := range r.s.txs {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

type Budgets struct{ s *Store }

func (r *Budgets) Get(_ context.Context, id int64) (core.Budget, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.budgets[id]
	if !ok {
		return core.Budget{}, core.ErrBudgetNotFound
	}
	return b, nil
}

func (r *Budgets) ListForOwner(_ context.Context, ownerID string) ([]core.Budget, error) {
	return r.filter(func(b core.Budget) bool { return b.OwnerID == ownerID }), nil
}

func (r *Budgets) ListForCategory(_ context.Context, ownerID string, categoryID int64) ([]core.Budget, error) {
	return r.filter(func(b core.Budget) bool {
		return b.OwnerID == ownerID && b.CategoryID == categoryID
	}), nil
}

func (r *Budgets) filter(keep func(core.Budget) bool) []core.Budget {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []core.Budget
	for _, b := range r.s.budgets {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Budgets) Create(_ context.Context, b core.Budget) (core.Budget, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b.ID = r.s.id()
	r.s.budgets[b.ID] = b
	return b, nil
}

func (r *Budgets) UpdateSpent(_ context.Context, id int64, spent decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.budgets[id]
	if !ok {
		return core.ErrBudgetNotFound
	}
	b.Spent = spent
	r.s.budgets[id] = b
	return nil
}

func (r *Budgets) Delete(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.budgets[id]; !ok {
		return core.ErrBudgetNotFound
	}
	delete(r.s.budgets, id)
	return nil
}

type Predictions struct{ s *Store }

func predictionKey(ownerID, key string) string { return ownerID + "\x00" + key }

func (r *Predictions) Get(_ context.Context, ownerID, key string) (ports.PredictionEntry, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.predictions[predictionKey(ownerID, key)]
	return e, ok, nil
}

func (r *Predictions) Put(_ context.Context, e ports.PredictionEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.predictions[predictionKey(e.OwnerID, e.Key)] = e
	return nil
}

func (r *Predictions) DeleteOlderThan(_ context.Context, ownerID string, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for k, e := range r.s.predictions {
		if e.OwnerID == ownerID && e.GeneratedAt.Before(cutoff) {
			delete(r.s.predictions, k)
			n++
		}
	}
	return n, nil
}

func (r *Predictions) Owners(_ context.Context) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[string]struct{})
	var owners []string
	for _, e := range r.s.predictions {
		if _, ok := seen[e.OwnerID]; !ok {
			seen[e.OwnerID] = struct{}{}
			owners = append(owners, e.OwnerID)
		}
	}
	sort.Strings(owners)
	return owners, nil
}

func touches(tx core.Transaction, walletID int64) bool {
	if tx.WalletID == walletID {
		return true
	}
	return tx.DestinationWalletID != nil && *tx.DestinationWalletID == walletID
}

func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}
