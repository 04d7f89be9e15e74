// Package balance computes the wallet deltas a transaction produces.
//
// Reverse is always the exact additive inverse of Apply. For transfers the
// fee leaves the source wallet and is never credited to the destination, so
// reversing a transfer is not the same as applying it with swapped wallets.
package balance

import (
	"sort"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
)

type Direction int

const (
	Apply Direction = iota
	Reverse
)

func (d Direction) String() string {
	if d == Reverse {
		return "reverse"
	}
	return "apply"
}

// Deltas returns the balance adjustments of tx in the given direction.
func Deltas(tx core.Transaction, dir Direction) []core.Delta {
	var out []core.Delta
	switch tx.Type {
	case core.Income:
		out = []core.Delta{{WalletID: tx.WalletID, Amount: tx.Amount}}
	case core.Expense:
		out = []core.Delta{{WalletID: tx.WalletID, Amount: tx.Amount.Neg()}}
	case core.Transfer:
		out = []core.Delta{{WalletID: tx.WalletID, Amount: tx.Amount.Add(tx.Fee).Neg()}}
		if tx.DestinationWalletID != nil {
			out = append(out, core.Delta{WalletID: *tx.DestinationWalletID, Amount: tx.Amount})
		}
	default:
		return nil
	}
	if dir == Reverse {
		return Negate(out)
	}
	return out
}

// Negate returns the additive inverse of deltas.
func Negate(deltas []core.Delta) []core.Delta {
	out := make([]core.Delta, len(deltas))
	for i, d := range deltas {
		out[i] = core.Delta{WalletID: d.WalletID, Amount: d.Amount.Neg()}
	}
	return out
}

// Merge sums deltas per wallet and drops wallets whose net change is zero.
// The result is sorted by wallet id so batches are deterministic.
func Merge(groups ...[]core.Delta) []core.Delta {
	sums := make(map[int64]decimal.Decimal)
	for _, g := range groups {
		for _, d := range g {
			sums[d.WalletID] = sums[d.WalletID].Add(d.Amount)
		}
	}
	out := make([]core.Delta, 0, len(sums))
	for id, amt := range sums {
		if amt.IsZero() {
			continue
		}
		out = append(out, core.Delta{WalletID: id, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WalletID < out[j].WalletID })
	return out
}

// Update returns the single batch that moves wallets from old's effect to
// next's effect: reverse(old) + apply(next). Wallets of both versions are
// included even when the sets do not overlap.
func Update(old, next core.Transaction) []core.Delta {
	return Merge(Deltas(old, Reverse), Deltas(next, Apply))
}

// ApplyTo adds deltas to a balance map in place.
func ApplyTo(balances map[int64]decimal.Decimal, deltas []core.Delta) {
	for _, d := range deltas {
		balances[d.WalletID] = balances[d.WalletID].Add(d.Amount)
	}
}

// WalletIDs returns the distinct wallet ids of deltas in ascending order.
func WalletIDs(deltas ...[]core.Delta) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	for _, g := range deltas {
		for _, d := range g {
			if _, ok := seen[d.WalletID]; ok {
				continue
			}
			seen[d.WalletID] = struct{}{}
			ids = append(ids, d.WalletID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
