package google

import (
	"strconv"

	"pocketledger/internal/core"
	"pocketledger/internal/sheets"
)

const sheetDate = "2006-01-02 15:04:05"

// journalRow lays an entry out as columns A..L:
// recorded, kind, owner, id, type, amount, fee, wallet, destination,
// category, occurred, description.
func journalRow(e sheets.JournalEntry) []any {
	row := []any{
		e.RecordedAt.UTC().Format(sheetDate),
		e.Kind,
		e.OwnerID,
		e.TransactionID,
		string(e.Type),
		"", "", "", "", "", "", "",
	}
	if e.Type == "" {
		// deleted transactions carry no body
		return row
	}
	row[5] = e.Amount.StringFixed(core.MoneyScale)
	if e.Type == core.Transfer {
		row[6] = e.Fee.StringFixed(core.MoneyScale)
	}
	row[7] = e.WalletID
	row[8] = optionalID(e.DestinationID)
	row[9] = optionalID(e.CategoryID)
	if !e.OccurredAt.IsZero() {
		row[10] = e.OccurredAt.UTC().Format(sheetDate)
	}
	row[11] = e.Description
	return row
}

func optionalID(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
