package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"notary-agent/internal/domain"
)

// defaultSubmitTimeout bounds how long a single write may wait for
// settlement before it is abandoned and marked failed.
const defaultSubmitTimeout = 30 * time.Second

// StoredEvent is an entry as the store returns it: the payload is still the
// serialized string that was written.
type StoredEvent struct {
	ID        string
	Timestamp int64
	Kind      string
	Sender    string
	Receiver  string
	Payload   string
	Proof     string
}

// Store persists audit events. Submit blocks until the write has settled and
// returns a proof reference for the entry.
type Store interface {
	Submit(ctx context.Context, event domain.AuditEvent, payload string) (string, error)
	Query(ctx context.Context, limit int) ([]StoredEvent, error)
	Close() error
}

// Recorder implements domain.AuditRecorder. Writes are serialized: one entry
// settles before the next begins, so ledger order matches call order. A nil
// store degrades every entry to an offline proof instead of failing the run.
type Recorder struct {
	mu            sync.Mutex
	store         Store
	submitTimeout time.Duration
	logger        *slog.Logger
}

// NewRecorder creates a recorder over store. store may be nil, in which case
// all entries carry the offline proof.
func NewRecorder(store Store, submitTimeout time.Duration, logger *slog.Logger) *Recorder {
	if submitTimeout <= 0 {
		submitTimeout = defaultSubmitTimeout
	}
	return &Recorder{
		store:         store,
		submitTimeout: submitTimeout,
		logger:        logger,
	}
}

// Record implements domain.AuditRecorder. It never returns an error: a
// failed or impossible write is reported through the event's proof field,
// and the conversation carries on.
func (r *Recorder) Record(ctx context.Context, kind domain.EventKind, sender, receiver string, payload any) domain.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	event := domain.AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Kind:      kind,
		Sender:    sender,
		Receiver:  receiver,
		Payload:   payload,
	}

	if r.store == nil {
		event.Proof = domain.ProofOffline
		return event
	}

	serialized, err := json.Marshal(payload)
	if err != nil {
		serialized = []byte(`"unserializable payload"`)
	}

	submitCtx, cancel := context.WithTimeout(ctx, r.submitTimeout)
	defer cancel()

	start := time.Now()
	txID, err := r.store.Submit(submitCtx, event, string(serialized))
	if err != nil {
		r.logger.Warn("audit write failed",
			"kind", kind,
			"sender", sender,
			"receiver", receiver,
			"error", err,
		)
		event.Proof = domain.ProofWriteFailed
		return event
	}

	event.Proof = txID
	r.logger.Debug("audit entry settled",
		"kind", kind,
		"proof", txID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return event
}

// QueryHistory implements domain.AuditRecorder. Entries whose payloads no
// longer parse as JSON are returned with the raw string as payload rather
// than dropped, so a partially corrupt ledger still reads back.
func (r *Recorder) QueryHistory(ctx context.Context) ([]domain.AuditEvent, error) {
	if r.store == nil {
		return nil, nil
	}

	stored, err := r.store.Query(ctx, 0)
	if err != nil {
		return nil, domain.WrapOp("Recorder.QueryHistory", err)
	}

	events := make([]domain.AuditEvent, 0, len(stored))
	for _, s := range stored {
		var payload any
		if err := json.Unmarshal([]byte(s.Payload), &payload); err != nil {
			payload = s.Payload
		}
		events = append(events, domain.AuditEvent{
			ID:        s.ID,
			Timestamp: s.Timestamp,
			Kind:      domain.EventKind(s.Kind),
			Sender:    s.Sender,
			Receiver:  s.Receiver,
			Payload:   payload,
			Proof:     s.Proof,
		})
	}
	return events, nil
}

var _ domain.AuditRecorder = (*Recorder)(nil)
