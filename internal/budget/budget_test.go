package budget

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
	"pocketledger/internal/storage/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr(v int64) *int64 { return &v }

func TestWindows(t *testing.T) {
	rome, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tests := []struct {
		name      string
		period    core.Period
		now       time.Time
		loc       *time.Location
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "weekly midweek",
			period:    core.Weekly,
			now:       time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC), // Wednesday
			loc:       time.UTC,
			wantStart: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly sunday belongs to previous monday",
			period:    core.Weekly,
			now:       time.Date(2025, 3, 16, 23, 59, 0, 0, time.UTC),
			loc:       time.UTC,
			wantStart: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly monday midnight starts a week",
			period:    core.Weekly,
			now:       time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
			loc:       time.UTC,
			wantStart: time.Date(2025, 3, 17, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 3, 24, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly across year boundary",
			period:    core.Weekly,
			now:       time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC),
			loc:       time.UTC,
			wantStart: time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly february leap year",
			period:    core.Monthly,
			now:       time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC),
			loc:       time.UTC,
			wantStart: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "monthly follows location",
			period:    core.Monthly,
			now:       time.Date(2025, 3, 31, 23, 30, 0, 0, time.UTC), // already April in Rome
			loc:       rome,
			wantStart: time.Date(2025, 4, 1, 0, 0, 0, 0, rome),
			wantEnd:   time.Date(2025, 5, 1, 0, 0, 0, 0, rome),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := WindowFor(tt.period, tt.now, tt.loc)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !start.Equal(tt.wantStart) || !end.Equal(tt.wantEnd) {
				t.Errorf("window = [%v, %v), want [%v, %v)", start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}

	if _, _, err := WindowFor(core.Period("yearly"), time.Now(), nil); err == nil {
		t.Fatalf("expected error for unsupported period")
	}
}

func seed(t *testing.T, store *memory.Store, txs ...core.Transaction) {
	t.Helper()
	for _, tx := range txs {
		if _, err := store.Transactions().Insert(context.Background(), tx); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	agg := NewAggregator(store.Budgets(), store.Transactions(), WithClock(func() time.Time { return now }))

	seed(t, store,
		core.Transaction{Type: core.Expense, Amount: dec("20"), CategoryID: ptr(7), WalletID: 1, OccurredAt: now, OwnerID: "u1"},
		core.Transaction{Type: core.Expense, Amount: dec("5.5"), CategoryID: ptr(7), WalletID: 1, OccurredAt: now.AddDate(0, 0, -1), OwnerID: "u1"},
		// outside: previous week, income, other category, other owner
		core.Transaction{Type: core.Expense, Amount: dec("100"), CategoryID: ptr(7), WalletID: 1, OccurredAt: now.AddDate(0, 0, -7), OwnerID: "u1"},
		core.Transaction{Type: core.Income, Amount: dec("50"), CategoryID: ptr(7), WalletID: 1, OccurredAt: now, OwnerID: "u1"},
		core.Transaction{Type: core.Expense, Amount: dec("9"), CategoryID: ptr(8), WalletID: 1, OccurredAt: now, OwnerID: "u1"},
		core.Transaction{Type: core.Expense, Amount: dec("9"), CategoryID: ptr(7), WalletID: 2, OccurredAt: now, OwnerID: "u2"},
	)

	weekly, err := agg.CreateBudget(ctx, core.Budget{CategoryID: 7, Amount: dec("100"), Period: core.Weekly, OwnerID: "u1"})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}
	if !weekly.Spent.Equal(dec("25.5")) {
		t.Fatalf("initial spent = %s, want 25.5", weekly.Spent)
	}
	monthly, _ := agg.CreateBudget(ctx, core.Budget{CategoryID: 7, Amount: dec("500"), Period: core.Monthly, OwnerID: "u1"})
	if !monthly.Spent.Equal(dec("125.5")) {
		t.Fatalf("monthly spent = %s, want 125.5", monthly.Spent)
	}

	for i := 0; i < 2; i++ {
		if err := agg.RecomputeCategory(ctx, "u1", 7, 7); err != nil {
			t.Fatalf("recompute #%d: %v", i, err)
		}
		got, _ := store.Budgets().Get(ctx, weekly.ID)
		if !got.Spent.Equal(dec("25.5")) {
			t.Fatalf("recompute #%d spent = %s, want 25.5", i, got.Spent)
		}
	}
}

func TestReadsFollowPeriodRollover(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2025, 3, 20, 10, 0, 0, 0, time.UTC)
	agg := NewAggregator(store.Budgets(), store.Transactions(), WithClock(func() time.Time { return now }))

	seed(t, store, core.Transaction{Type: core.Expense, Amount: dec("250"), CategoryID: ptr(4), WalletID: 1, OccurredAt: now, OwnerID: "u1"})
	b, err := agg.CreateBudget(ctx, core.Budget{CategoryID: 4, Amount: dec("300"), Period: core.Monthly, OwnerID: "u1"})
	if err != nil || !b.Spent.Equal(dec("250")) {
		t.Fatalf("create budget = %+v, %v", b, err)
	}

	now = time.Date(2025, 4, 2, 8, 0, 0, 0, time.UTC)

	list, err := agg.List(ctx, "u1")
	if err != nil || len(list) != 1 || !list[0].Spent.IsZero() {
		t.Fatalf("List after rollover = %+v, %v; want spent 0", list, err)
	}
	sum, err := agg.Summary(ctx, "u1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if !sum.TotalSpent.IsZero() || !sum.RemainingBudget.Equal(dec("300")) {
		t.Fatalf("Summary after rollover = %+v", sum)
	}
	stored, _ := store.Budgets().Get(ctx, b.ID)
	if !stored.Spent.IsZero() {
		t.Fatalf("stored spent = %s, want 0", stored.Spent)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name      string
		budgets   []core.Budget
		progress  string
		remaining string
	}{
		{"empty", nil, "0", "0"},
		{"under", []core.Budget{{Amount: dec("200"), Spent: dec("50")}, {Amount: dec("200"), Spent: dec("50")}}, "0.25", "300"},
		{"overrun", []core.Budget{{Amount: dec("100"), Spent: dec("150")}}, "1.5", "-50"},
		{"zero budgeted", []core.Budget{{Amount: decimal.Zero, Spent: dec("10")}}, "0", "-10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(tt.budgets)
			if !s.OverallProgress.Equal(dec(tt.progress)) {
				t.Errorf("progress = %s, want %s", s.OverallProgress, tt.progress)
			}
			if !s.RemainingBudget.Equal(dec(tt.remaining)) {
				t.Errorf("remaining = %s, want %s", s.RemainingBudget, tt.remaining)
			}
		})
	}
}

func TestCreateBudgetValidates(t *testing.T) {
	store := memory.New()
	agg := NewAggregator(store.Budgets(), store.Transactions())
	_, err := agg.CreateBudget(context.Background(), core.Budget{CategoryID: 1, Amount: dec("10"), Period: "daily", OwnerID: "u1"})
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
