package kafka

import (
	"testing"

	"pocketledger/internal/events"
)

func TestMessageIsKeyedByOwner(t *testing.T) {
	e := events.NewLedgerEvent(events.TransactionUpdated, 42, "owner-7", []int64{3}, []int64{1, 2})
	m, err := message(e)
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	if string(m.Key) != "owner-7" {
		t.Errorf("key = %q, want owner-7", m.Key)
	}
	headers := map[string]string{}
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["kind"] != "transaction.updated" || headers["transaction_id"] != "42" {
		t.Errorf("headers = %v", headers)
	}
	got, err := events.LedgerEventFromJSON(m.Value)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Kind != e.Kind || got.TransactionID != 42 {
		t.Errorf("decoded %+v", got)
	}
}
