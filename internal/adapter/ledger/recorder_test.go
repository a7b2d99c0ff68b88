package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"notary-agent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	submitted []StoredEvent
	submitErr error
	queryOut  []StoredEvent
	queryErr  error
	nextTx    int
}

func (s *fakeStore) Submit(ctx context.Context, event domain.AuditEvent, payload string) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.nextTx++
	tx := fmt.Sprintf("tx-%d", s.nextTx)
	s.submitted = append(s.submitted, StoredEvent{
		ID:        event.ID,
		Timestamp: event.Timestamp,
		Kind:      string(event.Kind),
		Sender:    event.Sender,
		Receiver:  event.Receiver,
		Payload:   payload,
		Proof:     tx,
	})
	return tx, nil
}

func (s *fakeStore) Query(ctx context.Context, limit int) ([]StoredEvent, error) {
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if s.queryOut != nil {
		return s.queryOut, nil
	}
	return s.submitted, nil
}

func (s *fakeStore) Close() error { return nil }

func TestRecordNilStoreReturnsOfflineProof(t *testing.T) {
	r := NewRecorder(nil, 0, testLogger())

	event := r.Record(context.Background(), domain.KindUserInput, "user", "agent", "hi")
	if event.Proof != domain.ProofOffline {
		t.Errorf("proof = %q, want %q", event.Proof, domain.ProofOffline)
	}
	if event.ID == "" || event.Timestamp == 0 {
		t.Error("offline event missing id or timestamp")
	}
}

func TestRecordWriteFailureReturnsSentinelNotError(t *testing.T) {
	store := &fakeStore{submitErr: fmt.Errorf("connection refused")}
	r := NewRecorder(store, 0, testLogger())

	event := r.Record(context.Background(), domain.KindToolResult, "p", "agent", map[string]any{"ok": true})
	if event.Proof != domain.ProofWriteFailed {
		t.Errorf("proof = %q, want %q", event.Proof, domain.ProofWriteFailed)
	}
}

func TestRecordSuccessCarriesTransactionID(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, 0, testLogger())

	event := r.Record(context.Background(), domain.KindUserInput, "user", "agent", "hello")
	if event.Proof != "tx-1" {
		t.Errorf("proof = %q, want tx-1", event.Proof)
	}
	if len(store.submitted) != 1 {
		t.Fatalf("store got %d writes, want 1", len(store.submitted))
	}
	if store.submitted[0].Payload != `"hello"` {
		t.Errorf("stored payload = %q", store.submitted[0].Payload)
	}
}

func TestRecordNotIdempotent(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, 0, testLogger())

	a := r.Record(context.Background(), domain.KindSystem, "x", "y", "same")
	b := r.Record(context.Background(), domain.KindSystem, "x", "y", "same")
	if a.ID == b.ID {
		t.Error("identical payloads produced the same event id")
	}
	if len(store.submitted) != 2 {
		t.Errorf("store got %d writes, want 2", len(store.submitted))
	}
}

func TestQueryHistoryRoundTrip(t *testing.T) {
	store := &fakeStore{}
	r := NewRecorder(store, 0, testLogger())

	inputs := []struct {
		kind             domain.EventKind
		sender, receiver string
		payload          any
	}{
		{domain.KindUserInput, "user", "agent", "first"},
		{domain.KindToolExecution, "agent", "files", map[string]any{"tool": "read"}},
		{domain.KindToolResult, "files", "agent", map[string]any{"ok": true}},
	}
	for _, in := range inputs {
		r.Record(context.Background(), in.kind, in.sender, in.receiver, in.payload)
	}

	events, err := r.QueryHistory(context.Background())
	if err != nil {
		t.Fatalf("QueryHistory: %v", err)
	}
	if len(events) != len(inputs) {
		t.Fatalf("got %d events, want %d", len(events), len(inputs))
	}
	for i, in := range inputs {
		if events[i].Kind != in.kind || events[i].Sender != in.sender || events[i].Receiver != in.receiver {
			t.Errorf("event %d = %+v, want kind=%v sender=%v receiver=%v", i, events[i], in.kind, in.sender, in.receiver)
		}
	}
	if events[0].Payload != "first" {
		t.Errorf("payload[0] = %v, want decoded string", events[0].Payload)
	}
	m, ok := events[1].Payload.(map[string]any)
	if !ok || m["tool"] != "read" {
		t.Errorf("payload[1] = %v, want decoded map", events[1].Payload)
	}
}

func TestQueryHistoryKeepsUndecodablePayloadRaw(t *testing.T) {
	store := &fakeStore{queryOut: []StoredEvent{
		{ID: "a", Kind: "USER_INPUT", Sender: "user", Receiver: "agent", Payload: `{"ok":true}`},
		{ID: "b", Kind: "SYSTEM", Sender: "x", Receiver: "y", Payload: `{broken json`},
	}}
	r := NewRecorder(store, 0, testLogger())

	events, err := r.QueryHistory(context.Background())
	if err != nil {
		t.Fatalf("QueryHistory: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2 (corrupt entry must not fail the query)", len(events))
	}
	if events[1].Payload != `{broken json` {
		t.Errorf("corrupt payload = %v, want the raw string", events[1].Payload)
	}
}

func TestQueryHistoryNilStore(t *testing.T) {
	r := NewRecorder(nil, 0, testLogger())
	events, err := r.QueryHistory(context.Background())
	if err != nil {
		t.Fatalf("QueryHistory: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events from nil store", len(events))
	}
}
