package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"

	"notary-agent/internal/domain"
)

// genesisHash anchors the chain: the first entry links to it instead of a
// predecessor.
const genesisHash = "genesis"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	id           TEXT NOT NULL,
	timestamp    INTEGER NOT NULL,
	kind         TEXT NOT NULL,
	sender       TEXT NOT NULL,
	receiver     TEXT NOT NULL,
	payload      TEXT NOT NULL,
	prev_hash    TEXT NOT NULL,
	content_hash TEXT NOT NULL
);
`

// SQLiteStore keeps the ledger in a local SQLite file as a hash chain: each
// entry's content hash covers its predecessor's hash, so rewriting any
// settled entry breaks every hash after it. The content hash doubles as the
// entry's transaction id.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	head   string
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the ledger database at path and loads
// the current chain head.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}

	head := genesisHash
	row := db.QueryRow(`SELECT content_hash FROM audit_events ORDER BY seq DESC LIMIT 1`)
	switch err := row.Scan(&head); err {
	case nil, sql.ErrNoRows:
	default:
		db.Close()
		return nil, fmt.Errorf("load chain head: %w", err)
	}

	logger.Debug("ledger chain opened", "path", path, "head", head)
	return &SQLiteStore{db: db, head: head, logger: logger}, nil
}

// chainContent is the hashed portion of an entry. Field order is fixed;
// changing it invalidates every existing chain.
type chainContent struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"kind"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Payload   string `json:"payload"`
	Prev      string `json:"prev"`
}

func contentHash(c chainContent) string {
	data, _ := json.Marshal(c)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Submit implements Store. The insert commits before the hash is returned,
// so a returned id is a durable one.
func (s *SQLiteStore) Submit(ctx context.Context, event domain.AuditEvent, payload string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := contentHash(chainContent{
		ID:        event.ID,
		Timestamp: event.Timestamp,
		Kind:      string(event.Kind),
		Sender:    event.Sender,
		Receiver:  event.Receiver,
		Payload:   payload,
		Prev:      s.head,
	})

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, timestamp, kind, sender, receiver, payload, prev_hash, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp, string(event.Kind), event.Sender, event.Receiver,
		payload, s.head, hash,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrLedgerWrite, err)
	}

	s.head = hash
	return hash, nil
}

// Query implements Store. Entries come back in chain order. limit <= 0
// fetches everything.
func (s *SQLiteStore) Query(ctx context.Context, limit int) ([]StoredEvent, error) {
	query := `SELECT id, timestamp, kind, sender, receiver, payload, content_hash
	          FROM audit_events ORDER BY seq`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Kind, &e.Sender, &e.Receiver, &e.Payload, &e.Proof); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Verify walks the whole chain and recomputes every hash. It returns the
// number of verified entries, or an error naming the first entry whose hash
// or predecessor link does not match.
func (s *SQLiteStore) Verify(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, timestamp, kind, sender, receiver, payload, prev_hash, content_hash
		 FROM audit_events ORDER BY seq`)
	if err != nil {
		return 0, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	prev := genesisHash
	count := 0
	for rows.Next() {
		var seq int64
		var c chainContent
		var prevHash, storedHash string
		if err := rows.Scan(&seq, &c.ID, &c.Timestamp, &c.Kind, &c.Sender, &c.Receiver, &c.Payload, &prevHash, &storedHash); err != nil {
			return count, fmt.Errorf("scan ledger row: %w", err)
		}

		if prevHash != prev {
			return count, fmt.Errorf("entry %d: predecessor link broken (have %s, want %s)", seq, prevHash, prev)
		}
		c.Prev = prevHash
		if got := contentHash(c); got != storedHash {
			return count, fmt.Errorf("entry %d: content hash mismatch", seq)
		}

		prev = storedHash
		count++
	}
	return count, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
