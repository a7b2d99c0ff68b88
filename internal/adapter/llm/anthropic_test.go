package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"notary-agent/internal/domain"
	"notary-agent/internal/infra/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBackend(url string) *AnthropicBackend {
	return NewAnthropicBackend(config.ModelConfig{
		BaseURL:   url,
		APIKey:    "test-key",
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 512,
	}, testLogger())
}

func TestGenerateSendsTranscriptAndTools(t *testing.T) {
	var gotReq anthropicRequest
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(anthropicResponse{
			Content:    []anthropicContent{{Type: "text", Text: "hello"}},
			StopReason: "end_turn",
		})
	}))
	defer srv.Close()

	backend := newTestBackend(srv.URL)
	transcript := []domain.Turn{
		{Role: domain.RoleUser, Blocks: []domain.ContentBlock{domain.TextBlock("hi")}},
		{Role: domain.RoleAssistant, Blocks: []domain.ContentBlock{
			{Type: domain.BlockToolUse, ID: "tu_1", Name: "read", Input: json.RawMessage(`{"path":"a"}`)},
		}},
		{Role: domain.RoleUser, Blocks: []domain.ContentBlock{
			domain.ToolResultBlock("tu_1", "contents", false),
		}},
	}
	catalogue := []domain.ToolDefinition{
		{Name: "read", Description: "read a file", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}

	resp, err := backend.Generate(context.Background(), transcript, catalogue)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.StopReason != "end_turn" {
		t.Errorf("stop reason = %q", resp.StopReason)
	}

	if gotHeaders.Get("x-api-key") != "test-key" {
		t.Error("api key header missing")
	}
	if gotHeaders.Get("anthropic-version") != defaultAnthropicVersion {
		t.Errorf("version header = %q", gotHeaders.Get("anthropic-version"))
	}

	if len(gotReq.Messages) != 3 {
		t.Fatalf("sent %d messages, want 3", len(gotReq.Messages))
	}
	if gotReq.Messages[1].Content[0].Type != "tool_use" || gotReq.Messages[1].Content[0].ID != "tu_1" {
		t.Errorf("tool_use not forwarded: %+v", gotReq.Messages[1].Content)
	}
	if gotReq.Messages[2].Content[0].ToolUseID != "tu_1" {
		t.Errorf("tool_result not forwarded: %+v", gotReq.Messages[2].Content)
	}
	if len(gotReq.Tools) != 1 || gotReq.Tools[0].Name != "read" {
		t.Errorf("tools = %+v", gotReq.Tools)
	}
	if gotReq.MaxTokens != 512 {
		t.Errorf("max_tokens = %d", gotReq.MaxTokens)
	}
}

func TestGenerateMapsToolUseBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{
				{Type: "text", Text: "let me look"},
				{Type: "tool_use", ID: "tu_9", Name: "search", Input: json.RawMessage(`{"q":"go"}`)},
			},
			StopReason: "tool_use",
		})
	}))
	defer srv.Close()

	resp, err := newTestBackend(srv.URL).Generate(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(resp.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(resp.Blocks))
	}
	use := resp.Blocks[1]
	if use.Type != domain.BlockToolUse || use.ID != "tu_9" || use.Name != "search" {
		t.Errorf("tool_use block = %+v", use)
	}
}

func TestGenerateErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimit},
		{http.StatusUnauthorized, domain.ErrAuthInvalid},
		{http.StatusForbidden, domain.ErrAuthInvalid},
		{http.StatusInternalServerError, domain.ErrModelBackend},
		{http.StatusBadRequest, domain.ErrModelBackend},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tc.status)
		}))
		_, err := newTestBackend(srv.URL).Generate(context.Background(), nil, nil)
		srv.Close()

		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: err = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestGenerateEmptySchemaGetsDefault(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(anthropicResponse{
			Content: []anthropicContent{{Type: "text", Text: "ok"}},
		})
	}))
	defer srv.Close()

	catalogue := []domain.ToolDefinition{{Name: "bare"}}
	if _, err := newTestBackend(srv.URL).Generate(context.Background(), nil, catalogue); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if string(gotReq.Tools[0].InputSchema) != `{"type":"object"}` {
		t.Errorf("schema = %s, want default object schema", gotReq.Tools[0].InputSchema)
	}
}
