package domain

import "context"

// EventKind classifies audit ledger entries.
type EventKind string

const (
	KindUserInput     EventKind = "USER_INPUT"
	KindToolExecution EventKind = "TOOL_EXECUTION"
	KindToolResult    EventKind = "TOOL_RESULT"
	KindSystem        EventKind = "SYSTEM"
)

// Sentinel proof values standing in for a real settlement identifier when
// the ledger write could not be confirmed.
const (
	ProofOffline     = "OFFLINE_MODE"
	ProofWriteFailed = "ERROR_WRITE_FAILED"
)

// AuditEvent is a single immutable entry in the audit ledger. Once returned
// to the caller it is a value, never mutated.
//
// Proof is the store's transaction identifier on success, or one of the
// sentinel values above when the write could not be confirmed.
type AuditEvent struct {
	ID        string    `json:"id"`
	Timestamp int64     `json:"timestamp"` // epoch millis
	Kind      EventKind `json:"kind"`
	Sender    string    `json:"sender"`
	Receiver  string    `json:"receiver"`
	Payload   any       `json:"payload"`
	Proof     string    `json:"proof"`
}

// AuditRecorder records immutable events for every auditable state
// transition.
//
// Record never fails from the caller's point of view: store failures are
// captured in the returned event's Proof field. The call blocks until the
// underlying write is confirmed or rejected, so a returned transaction ID
// always refers to a settled write. Record is not idempotent; every call
// produces exactly one new event.
type AuditRecorder interface {
	Record(ctx context.Context, kind EventKind, sender, receiver string, payload any) AuditEvent
	// QueryHistory replays confirmed events from the underlying store in
	// store order. Entries whose payload cannot be decoded carry the raw
	// string instead of failing the whole query.
	QueryHistory(ctx context.Context) ([]AuditEvent, error)
}
