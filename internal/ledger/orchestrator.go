// Package ledger keeps wallet balances, transaction records and budget spent
// figures consistent across create, update and delete.
//
// The store is not assumed to offer multi-table transactions, so every
// mutation follows a fixed order of writes with a compensating write on
// failure. The rule is fail together: if a wallet balance write fails the
// record write fails too, and the reverse.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pocketledger/internal/balance"
	"pocketledger/internal/budget"
	"pocketledger/internal/core"
	"pocketledger/internal/events"
	"pocketledger/internal/log"
	"pocketledger/internal/ports"
	"pocketledger/internal/retry"
)

const maxLockAttempts = 3

var errConcurrentChange = errors.New("transaction changed concurrently")

// BudgetRecomputer refreshes the spent figure of budgets bound to categories.
type BudgetRecomputer interface {
	RecomputeCategory(ctx context.Context, ownerID string, categoryIDs ...int64) error
}

type Orchestrator struct {
	wallets     ports.WalletRepository
	txs         ports.TransactionRepository
	budgets     BudgetRecomputer
	publisher   events.Publisher
	deleteRetry retry.Policy
	locks       *walletLocks
	loc         *time.Location
	now         func() time.Time
	logger      *log.Logger
}

type Option func(*Orchestrator)

func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithDeleteRetry sets the policy used to retry a record delete after its
// balance correction was already written.
func WithDeleteRetry(p retry.Policy) Option {
	return func(o *Orchestrator) { o.deleteRetry = p }
}

// WithLocation sets the zone for category period windows.
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) {
		if loc != nil {
			o.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// DefaultDeleteRetry retries a failed record delete three times in total.
func DefaultDeleteRetry(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		Backoff:     retry.Exponential(100*time.Millisecond, 2, 2*time.Second),
		Retryable: func(err error) bool {
			return !errors.Is(err, core.ErrTransactionNotFound)
		},
	}
}

func New(wallets ports.WalletRepository, txs ports.TransactionRepository, budgets BudgetRecomputer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		wallets:     wallets,
		txs:         txs,
		budgets:     budgets,
		publisher:   events.Nop{},
		deleteRetry: DefaultDeleteRetry(3),
		locks:       newWalletLocks(),
		loc:         time.UTC,
		now:         time.Now,
		logger:      log.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent(log.ComponentLedger)
	return o
}

// CreateTransaction validates tx, stores it and applies its wallet deltas.
func (o *Orchestrator) CreateTransaction(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	tx = tx.Normalize()
	tx.ID = 0
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if err := o.checkWallets(ctx, tx); err != nil {
		return core.Transaction{}, err
	}

	unlock := o.locks.lock(tx.WalletIDs()...)
	defer unlock()
	// Past this point the writes run to completion even if the caller leaves.
	wctx := context.WithoutCancel(ctx)

	created, err := o.txs.Insert(wctx, tx)
	if err != nil {
		o.logFailure(ctx, "Failed to insert transaction", log.OpCreate, tx, err)
		return core.Transaction{}, core.Persistence("insert transaction", err)
	}

	deltas := balance.Deltas(created, balance.Apply)
	if err := o.wallets.BatchApplyDeltas(wctx, deltas); err != nil {
		o.logFailure(ctx, "Failed to apply wallet deltas, removing inserted transaction", log.OpCreate, created, err)
		if delErr := o.txs.Delete(wctx, created.ID); delErr != nil {
			err = errors.Join(err, fmt.Errorf("compensate insert of transaction %d: %w", created.ID, delErr))
			o.logFailure(ctx, "Compensating delete failed", log.OpCreate, created, delErr)
		}
		return core.Transaction{}, core.Persistence("apply wallet deltas", err)
	}

	o.logger.InfoContext(ctx, "Transaction created", o.txFields(created, log.OpCreate).ToSlice()...)
	o.afterMutation(wctx, events.TransactionCreated, created.ID, created.OwnerID,
		categories(created), created.WalletIDs())
	return created, nil
}

// UpdateTransaction applies patch to the owner's transaction id. The wallet
// correction reverse(old)+apply(new) is written as one batch.
func (o *Orchestrator) UpdateTransaction(ctx context.Context, ownerID string, id int64, patch core.TransactionPatch) (core.Transaction, error) {
	for attempt := 0; ; attempt++ {
		old, err := o.ownedTransaction(ctx, ownerID, id)
		if err != nil {
			return core.Transaction{}, err
		}
		next := o.patched(old, patch)
		if err := next.Validate(); err != nil {
			return core.Transaction{}, err
		}
		if err := o.checkWallets(ctx, next); err != nil {
			return core.Transaction{}, err
		}

		locked := append(old.WalletIDs(), next.WalletIDs()...)
		unlock := o.locks.lock(locked...)
		// Re-read under the lock; a concurrent update may have moved the
		// transaction to wallets we do not hold.
		current, err := o.ownedTransaction(ctx, ownerID, id)
		if err != nil {
			unlock()
			return core.Transaction{}, err
		}
		next = o.patched(current, patch)
		if !subset(current.WalletIDs(), locked) || !subset(next.WalletIDs(), locked) {
			unlock()
			if attempt >= maxLockAttempts-1 {
				return core.Transaction{}, core.Persistence("update transaction", errConcurrentChange)
			}
			continue
		}
		if err := next.Validate(); err != nil {
			unlock()
			return core.Transaction{}, err
		}

		updated, err := o.updateLocked(ctx, current, next)
		unlock()
		return updated, err
	}
}

func (o *Orchestrator) patched(t core.Transaction, patch core.TransactionPatch) core.Transaction {
	next := patch.Apply(t).Normalize()
	next.ID = t.ID
	next.OwnerID = t.OwnerID
	return next
}

func (o *Orchestrator) updateLocked(ctx context.Context, old, next core.Transaction) (core.Transaction, error) {
	wctx := context.WithoutCancel(ctx)

	deltas := balance.Update(old, next)
	if err := o.wallets.BatchApplyDeltas(wctx, deltas); err != nil {
		o.logFailure(ctx, "Failed to apply wallet deltas", log.OpUpdate, next, err)
		return core.Transaction{}, core.Persistence("apply wallet deltas", err)
	}

	if err := o.txs.Update(wctx, next); err != nil {
		o.logFailure(ctx, "Failed to update transaction, reverting wallet deltas", log.OpUpdate, next, err)
		if revErr := o.wallets.BatchApplyDeltas(wctx, balance.Negate(deltas)); revErr != nil {
			err = errors.Join(err, fmt.Errorf("revert wallet deltas: %w", revErr))
			o.logFailure(ctx, "Reverting wallet deltas failed", log.OpUpdate, next, revErr)
		}
		return core.Transaction{}, core.Persistence("update transaction", err)
	}

	o.logger.InfoContext(ctx, "Transaction updated", o.txFields(next, log.OpUpdate).ToSlice()...)
	o.afterMutation(wctx, events.TransactionUpdated, next.ID, next.OwnerID,
		append(categories(old), categories(next)...),
		append(old.WalletIDs(), next.WalletIDs()...))
	return next, nil
}

// DeleteTransaction reverses the owner's transaction id and removes it.
// Balances are corrected before the record goes away; a record that cannot
// be deleted after retries has its deltas re-applied and an error returned.
func (o *Orchestrator) DeleteTransaction(ctx context.Context, ownerID string, id int64) error {
	tx, unlock, err := o.lockTransaction(ctx, ownerID, id)
	if err != nil {
		return err
	}
	defer unlock()
	wctx := context.WithoutCancel(ctx)

	if td, ok := o.txs.(ports.TransferDeleter); ok && tx.Type == core.Transfer && tx.DestinationWalletID != nil {
		if err := td.DeleteTransfer(wctx, tx.ID, tx.WalletID, *tx.DestinationWalletID, tx.Amount, tx.Fee); err != nil {
			o.logFailure(ctx, "Failed to delete transfer", log.OpDelete, tx, err)
			if errors.Is(err, core.ErrTransactionNotFound) {
				return err
			}
			return core.Persistence("delete transfer", err)
		}
	} else if err := o.deleteSequential(ctx, wctx, tx); err != nil {
		return err
	}

	o.logger.InfoContext(ctx, "Transaction deleted", o.txFields(tx, log.OpDelete).ToSlice()...)
	o.afterMutation(wctx, events.TransactionDeleted, tx.ID, tx.OwnerID, categories(tx), tx.WalletIDs())
	return nil
}

// lockTransaction loads the transaction and holds the locks of its wallets.
// The row is re-read under the lock because an update may have moved it.
func (o *Orchestrator) lockTransaction(ctx context.Context, ownerID string, id int64) (core.Transaction, func(), error) {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		tx, err := o.ownedTransaction(ctx, ownerID, id)
		if err != nil {
			return core.Transaction{}, nil, err
		}
		locked := tx.WalletIDs()
		unlock := o.locks.lock(locked...)
		current, err := o.ownedTransaction(ctx, ownerID, id)
		if err != nil {
			unlock()
			return core.Transaction{}, nil, err
		}
		if subset(current.WalletIDs(), locked) {
			return current, unlock, nil
		}
		unlock()
	}
	return core.Transaction{}, nil, core.Persistence("lock transaction", errConcurrentChange)
}

func (o *Orchestrator) deleteSequential(ctx, wctx context.Context, tx core.Transaction) error {
	reverse := balance.Deltas(tx, balance.Reverse)
	if err := o.wallets.BatchApplyDeltas(wctx, reverse); err != nil {
		o.logFailure(ctx, "Failed to reverse wallet deltas, keeping transaction", log.OpDelete, tx, err)
		return core.Persistence("reverse wallet deltas", err)
	}

	attempt := 0
	err := retry.Do(wctx, o.deleteRetry, func(c context.Context) error {
		attempt++
		err := o.txs.Delete(c, tx.ID)
		if err != nil {
			o.logger.WarnContext(ctx, "Transaction delete attempt failed",
				log.FieldTransactionID, tx.ID,
				log.FieldAttempt, attempt,
				log.FieldError, err)
		}
		return err
	})
	if err == nil {
		return nil
	}

	o.logFailure(ctx, "Failed to delete transaction, re-applying wallet deltas", log.OpDelete, tx, err)
	if reErr := o.wallets.BatchApplyDeltas(wctx, balance.Negate(reverse)); reErr != nil {
		err = errors.Join(err, fmt.Errorf("re-apply wallet deltas: %w", reErr))
		o.logFailure(ctx, "Re-applying wallet deltas failed", log.OpDelete, tx, reErr)
	}
	return core.Persistence("delete transaction", err)
}

// ListForWallet returns transactions where the wallet is source or
// destination with occurredAt in [from, to), newest first.
func (o *Orchestrator) ListForWallet(ctx context.Context, ownerID string, walletID int64, from, to time.Time) ([]core.Transaction, error) {
	if _, err := o.ownedWallet(ctx, ownerID, walletID); err != nil {
		return nil, err
	}
	txs, err := o.txs.ListForWallet(ctx, walletID, from, to)
	if err != nil {
		return nil, core.Persistence("list wallet transactions", err)
	}
	return txs, nil
}

// ListForCategory returns the owner's transactions of a category inside the
// current window of period, newest first. An empty period means all time.
func (o *Orchestrator) ListForCategory(ctx context.Context, ownerID string, categoryID int64, period core.Period) ([]core.Transaction, error) {
	var from, to time.Time
	if period != "" {
		var err error
		from, to, err = budget.WindowFor(period, o.now(), o.loc)
		if err != nil {
			return nil, core.Invalid("period", core.ErrInvalidPeriod)
		}
	}
	txs, err := o.txs.ListForCategory(ctx, ownerID, categoryID, from, to)
	if err != nil {
		return nil, core.Persistence("list category transactions", err)
	}
	return txs, nil
}

func (o *Orchestrator) GetTransaction(ctx context.Context, ownerID string, id int64) (core.Transaction, error) {
	return o.ownedTransaction(ctx, ownerID, id)
}

func (o *Orchestrator) ownedTransaction(ctx context.Context, ownerID string, id int64) (core.Transaction, error) {
	tx, err := o.txs.Get(ctx, id)
	if errors.Is(err, core.ErrTransactionNotFound) {
		return core.Transaction{}, core.ErrTransactionNotFound
	}
	if err != nil {
		return core.Transaction{}, core.Persistence("get transaction", err)
	}
	if tx.OwnerID != ownerID {
		return core.Transaction{}, core.ErrTransactionNotFound
	}
	return tx, nil
}

func (o *Orchestrator) ownedWallet(ctx context.Context, ownerID string, id int64) (core.Wallet, error) {
	w, err := o.wallets.Get(ctx, id)
	if errors.Is(err, core.ErrWalletNotFound) {
		return core.Wallet{}, core.ErrWalletNotFound
	}
	if err != nil {
		return core.Wallet{}, core.Persistence("get wallet", err)
	}
	if w.OwnerID != ownerID {
		return core.Wallet{}, core.ErrWalletNotFound
	}
	return w, nil
}

// checkWallets verifies that every referenced wallet exists and belongs to
// the transaction owner.
func (o *Orchestrator) checkWallets(ctx context.Context, tx core.Transaction) error {
	fields := []string{"wallet_id", "destination_wallet_id"}
	for i, id := range tx.WalletIDs() {
		w, err := o.wallets.Get(ctx, id)
		if errors.Is(err, core.ErrWalletNotFound) {
			return core.Invalid(fields[i], core.ErrWalletNotFound)
		}
		if err != nil {
			return core.Persistence("get wallet", err)
		}
		if w.OwnerID != tx.OwnerID {
			return core.Invalid(fields[i], core.ErrOwnerMismatch)
		}
	}
	return nil
}

// afterMutation refreshes affected budgets and publishes the change. Both
// are derived work: failures are logged and never undo the mutation.
func (o *Orchestrator) afterMutation(ctx context.Context, kind events.Kind, txID int64, ownerID string, categoryIDs, walletIDs []int64) {
	categoryIDs = distinct(categoryIDs)
	walletIDs = distinct(walletIDs)
	if len(categoryIDs) > 0 && o.budgets != nil {
		if err := o.budgets.RecomputeCategory(ctx, ownerID, categoryIDs...); err != nil {
			o.logger.WarnContext(ctx, "Budget recompute failed",
				log.FieldOwnerID, ownerID,
				log.FieldTransactionID, txID,
				log.FieldError, err)
		}
	}
	if err := o.publisher.Publish(ctx, events.NewLedgerEvent(kind, txID, ownerID, categoryIDs, walletIDs)); err != nil {
		o.logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldEventKind, string(kind),
			log.FieldTransactionID, txID,
			log.FieldError, err)
	}
}

func (o *Orchestrator) txFields(tx core.Transaction, op string) log.LogFields {
	return log.NewFields().
		WithOperation(op).
		WithTransaction(tx.ID, string(tx.Type), tx.Amount.String(), tx.OwnerID)
}

func (o *Orchestrator) logFailure(ctx context.Context, msg, op string, tx core.Transaction, err error) {
	o.logger.ErrorContext(ctx, msg, o.txFields(tx, op).WithError(err).ToSlice()...)
}

func categories(tx core.Transaction) []int64 {
	if tx.CategoryID == nil {
		return nil
	}
	return []int64{*tx.CategoryID}
}

func distinct(ids []int64) []int64 {
	var out []int64
	for _, id := range ids {
		if !contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
