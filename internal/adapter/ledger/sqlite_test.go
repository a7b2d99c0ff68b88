package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"notary-agent/internal/domain"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"), testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleEvent(id string) domain.AuditEvent {
	return domain.AuditEvent{
		ID:        id,
		Timestamp: 1700000000000,
		Kind:      domain.KindUserInput,
		Sender:    "user",
		Receiver:  "agent",
	}
}

func TestSQLiteSubmitReturnsChainHash(t *testing.T) {
	store := newTestSQLiteStore(t)

	tx1, err := store.Submit(context.Background(), sampleEvent("a"), `"one"`)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tx2, err := store.Submit(context.Background(), sampleEvent("b"), `"two"`)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if tx1 == "" || tx2 == "" || tx1 == tx2 {
		t.Errorf("hashes = %q, %q, want distinct non-empty", tx1, tx2)
	}
}

func TestSQLiteQueryInChainOrder(t *testing.T) {
	store := newTestSQLiteStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.Submit(context.Background(), sampleEvent(id), `"p"`); err != nil {
			t.Fatalf("Submit(%s): %v", id, err)
		}
	}

	events, err := store.Query(context.Background(), 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, want := range []string{"a", "b", "c"} {
		if events[i].ID != want {
			t.Errorf("events[%d].ID = %q, want %q", i, events[i].ID, want)
		}
	}
}

func TestSQLiteQueryLimit(t *testing.T) {
	store := newTestSQLiteStore(t)
	for _, id := range []string{"a", "b", "c"} {
		store.Submit(context.Background(), sampleEvent(id), `"p"`)
	}

	events, err := store.Query(context.Background(), 2)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
}

func TestSQLiteVerifyIntactChain(t *testing.T) {
	store := newTestSQLiteStore(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		store.Submit(context.Background(), sampleEvent(id), `"p"`)
	}

	n, err := store.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if n != 4 {
		t.Errorf("verified %d entries, want 4", n)
	}
}

func TestSQLiteVerifyDetectsTampering(t *testing.T) {
	store := newTestSQLiteStore(t)
	for _, id := range []string{"a", "b", "c"} {
		store.Submit(context.Background(), sampleEvent(id), `"p"`)
	}

	// Rewrite a settled payload behind the chain's back.
	if _, err := store.db.Exec(`UPDATE audit_events SET payload = '"forged"' WHERE id = 'b'`); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	n, err := store.Verify(context.Background())
	if err == nil {
		t.Fatal("Verify passed on a tampered chain")
	}
	if n != 1 {
		t.Errorf("verified %d entries before break, want 1", n)
	}
}

func TestSQLiteHeadSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")

	store, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	store.Submit(context.Background(), sampleEvent("a"), `"p"`)
	store.Close()

	reopened, err := NewSQLiteStore(path, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.Submit(context.Background(), sampleEvent("b"), `"q"`); err != nil {
		t.Fatalf("Submit after reopen: %v", err)
	}
	if n, err := reopened.Verify(context.Background()); err != nil || n != 2 {
		t.Errorf("Verify after reopen = (%d, %v), want (2, nil)", n, err)
	}
}
