package google

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
	"pocketledger/internal/log"
	"pocketledger/internal/sheets"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), " ", "", nil)
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := New(context.Background(), "sheet-id", "", nil)
	if err == nil || !strings.Contains(err.Error(), "missing service account credentials") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_UnreadableCredentialsFile(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "/does/not/exist.json")

	_, err := New(context.Background(), "sheet-id", "", nil)
	if err == nil || !strings.Contains(err.Error(), "read service account file") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAppendWithoutService(t *testing.T) {
	c := newClient(nil, "id", "", log.Discard())
	if _, err := c.Append(context.Background(), sheets.JournalEntry{Kind: "k", OwnerID: "u"}); err == nil {
		t.Fatal("expected error when service is nil")
	}
	if c.sheetBase != DefaultSheetName {
		t.Errorf("sheetBase = %q, want %q", c.sheetBase, DefaultSheetName)
	}
}

func TestYearPrefixedName(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"Journal", "2025 Journal"},
		{"2024 Journal", "2024 Journal"},
		{"  Ledger ", "2025 Ledger"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := yearPrefixedName(tt.base, 2025); got != tt.want {
			t.Errorf("yearPrefixedName(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestJournalRow(t *testing.T) {
	dest := int64(9)
	cat := int64(4)
	recorded := time.Date(2025, 3, 12, 10, 30, 0, 0, time.UTC)
	occurred := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry sheets.JournalEntry
		want  []any
	}{
		{
			name: "transfer",
			entry: sheets.EntryFromTransaction("transaction.created", "u1", recorded, core.Transaction{
				ID: 5, Type: core.Transfer, Amount: decimal.NewFromInt(200), Fee: decimal.RequireFromString("2.5"),
				WalletID: 1, DestinationWalletID: &dest, OccurredAt: occurred, Description: "savings",
			}),
			want: []any{"2025-03-12 10:30:00", "transaction.created", "u1", int64(5), "transfer",
				"200.00", "2.50", int64(1), "9", "", "2025-03-11 00:00:00", "savings"},
		},
		{
			name: "expense omits fee",
			entry: sheets.EntryFromTransaction("transaction.updated", "u1", recorded, core.Transaction{
				ID: 6, Type: core.Expense, Amount: decimal.RequireFromString("12.3"), CategoryID: &cat,
				WalletID: 2, OccurredAt: occurred,
			}),
			want: []any{"2025-03-12 10:30:00", "transaction.updated", "u1", int64(6), "expense",
				"12.30", "", int64(2), "", "4", "2025-03-11 00:00:00", ""},
		},
		{
			name:  "deleted",
			entry: sheets.JournalEntry{RecordedAt: recorded, Kind: "transaction.deleted", OwnerID: "u1", TransactionID: 7},
			want:  []any{"2025-03-12 10:30:00", "transaction.deleted", "u1", int64(7), "", "", "", "", "", "", "", ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := journalRow(tt.entry)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("col %d = %#v, want %#v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
