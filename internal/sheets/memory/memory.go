package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pocketledger/internal/sheets"
)

var _ sheets.JournalWriter = (*Journal)(nil)

// Journal keeps appended entries in memory.
type Journal struct {
	mu    sync.Mutex
	items []sheets.JournalEntry
}

func New() *Journal {
	return &Journal{}
}

// Append stores the entry and returns a synthetic row reference.
func (j *Journal) Append(_ context.Context, e sheets.JournalEntry) (string, error) {
	if e.Kind == "" || e.OwnerID == "" {
		return "", errors.New("journal entry needs kind and owner")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.items = append(j.items, e)
	return fmt.Sprintf("mem:%d", len(j.items)), nil
}

// Entries returns a copy of the appended entries in order.
func (j *Journal) Entries() []sheets.JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]sheets.JournalEntry(nil), j.items...)
}
