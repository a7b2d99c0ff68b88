package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"notary-agent/internal/domain"
)

// maxRPCResponseBody caps the response body read from the ledger node.
const maxRPCResponseBody = 32 * 1024 * 1024 // 32 MB

// RPCStore talks JSON-RPC 2.0 to a ledger node over HTTP. Submit returns
// only after the node has confirmed the entry, so a returned transaction id
// is a settled one.
type RPCStore struct {
	url    string
	client *http.Client
	nextID atomic.Int64
	logger *slog.Logger
}

// NewRPCStore creates a store for the node at url.
func NewRPCStore(url string, logger *slog.Logger) *RPCStore {
	return &RPCStore{
		url: strings.TrimRight(url, "/"),
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:    5,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		logger: logger,
	}
}

// --- JSON-RPC 2.0 wire types ---

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// rpcEntry is the event record as it crosses the wire in both directions.
type rpcEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"kind"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Payload   string `json:"payload"`
	Proof     string `json:"proof,omitempty"`
}

// Submit implements Store. The node's result is the transaction id of the
// confirmed entry.
func (s *RPCStore) Submit(ctx context.Context, event domain.AuditEvent, payload string) (string, error) {
	entry := rpcEntry{
		ID:        event.ID,
		Timestamp: event.Timestamp,
		Kind:      string(event.Kind),
		Sender:    event.Sender,
		Receiver:  event.Receiver,
		Payload:   payload,
	}

	var txID string
	if err := s.call(ctx, "ledger_submitEvent", []any{entry}, &txID); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrLedgerWrite, err)
	}
	if txID == "" {
		return "", fmt.Errorf("%w: node returned empty transaction id", domain.ErrLedgerWrite)
	}
	s.logger.Debug("ledger entry settled", "event_id", event.ID, "tx_id", txID)
	return txID, nil
}

// Query implements Store. limit <= 0 fetches everything.
func (s *RPCStore) Query(ctx context.Context, limit int) ([]StoredEvent, error) {
	var entries []rpcEntry
	if err := s.call(ctx, "ledger_queryEvents", []any{limit}, &entries); err != nil {
		return nil, err
	}

	events := make([]StoredEvent, 0, len(entries))
	for _, e := range entries {
		events = append(events, StoredEvent{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Kind:      e.Kind,
			Sender:    e.Sender,
			Receiver:  e.Receiver,
			Payload:   e.Payload,
			Proof:     e.Proof,
		})
	}
	return events, nil
}

// Close implements Store.
func (s *RPCStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *RPCStore) call(ctx context.Context, method string, params []any, result any) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      s.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxRPCResponseBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned status %d: %s", httpResp.StatusCode, respBody)
	}

	var resp rpcResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

var _ Store = (*RPCStore)(nil)
