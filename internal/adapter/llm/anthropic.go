package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"notary-agent/internal/domain"
	"notary-agent/internal/infra/config"
	"notary-agent/internal/infra/tracer"
)

const defaultAnthropicVersion = "2023-06-01"

// AnthropicBackend implements domain.ModelBackend for the Anthropic
// Messages API.
type AnthropicBackend struct {
	model     string
	apiKey    string
	baseURL   string
	maxTokens int
	client    *http.Client
	logger    *slog.Logger
	version   string
}

// NewAnthropicBackend creates a backend for the Anthropic Messages API.
func NewAnthropicBackend(cfg config.ModelConfig, logger *slog.Logger) *AnthropicBackend {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &AnthropicBackend{
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		baseURL:   baseURL,
		maxTokens: maxTokens,
		client:    newHTTPClient(cfg),
		logger:    logger,
		version:   defaultAnthropicVersion,
	}
}

// Name implements domain.ModelBackend.
func (b *AnthropicBackend) Name() string { return "anthropic" }

// Generate implements domain.ModelBackend. The transcript is sent as-is; no
// turns are dropped or rewritten on the way to the wire.
func (b *AnthropicBackend) Generate(ctx context.Context, transcript []domain.Turn, catalogue []domain.ToolDefinition) (*domain.ModelResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "model.generate",
		attribute.String("model.name", b.model),
		attribute.Int("model.turns", len(transcript)),
		attribute.Int("model.tools", len(catalogue)),
	)
	defer span.End()

	body, err := json.Marshal(toAnthropicRequest(b.model, b.maxTokens, transcript, catalogue))
	if err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	headers := map[string]string{
		"x-api-key":         b.apiKey,
		"anthropic-version": b.version,
	}

	respBody, err := doJSONRequest(ctx, b.client, b.baseURL+"/v1/messages", body, headers)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	var antResp anthropicResponse
	if err := json.Unmarshal(respBody, &antResp); err != nil {
		tracer.RecordError(span, err)
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	result := fromAnthropicResponse(antResp)
	setUsageAttrs(span, antResp.Usage)
	tracer.SetOK(span)

	b.logger.Debug("model call completed",
		"model", antResp.Model,
		"stop_reason", result.StopReason,
		"tokens", antResp.Usage.InputTokens+antResp.Usage.OutputTokens,
	)

	return result, nil
}

// --- Anthropic API wire types ---

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string             `json:"id"`
	Model      string             `json:"model"`
	Type       string             `json:"type"`
	Role       string             `json:"role"`
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func toAnthropicRequest(model string, maxTokens int, transcript []domain.Turn, catalogue []domain.ToolDefinition) anthropicRequest {
	req := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
	}

	for _, turn := range transcript {
		msg := anthropicMessage{Role: string(turn.Role)}
		for _, block := range turn.Blocks {
			switch block.Type {
			case domain.BlockText:
				msg.Content = append(msg.Content, anthropicContent{
					Type: "text",
					Text: block.Text,
				})
			case domain.BlockToolUse:
				msg.Content = append(msg.Content, anthropicContent{
					Type:  "tool_use",
					ID:    block.ID,
					Name:  block.Name,
					Input: block.Input,
				})
			case domain.BlockToolResult:
				msg.Content = append(msg.Content, anthropicContent{
					Type:      "tool_result",
					ToolUseID: block.ToolUseID,
					Content:   block.Content,
					IsError:   block.IsError,
				})
			}
		}
		req.Messages = append(req.Messages, msg)
	}

	for _, def := range catalogue {
		schema := def.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		req.Tools = append(req.Tools, anthropicTool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: schema,
		})
	}

	return req
}

func fromAnthropicResponse(resp anthropicResponse) *domain.ModelResponse {
	result := &domain.ModelResponse{StopReason: resp.StopReason}

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Blocks = append(result.Blocks, domain.ContentBlock{
				Type: domain.BlockText,
				Text: block.Text,
			})
		case "tool_use":
			result.Blocks = append(result.Blocks, domain.ContentBlock{
				Type:  domain.BlockToolUse,
				ID:    block.ID,
				Name:  block.Name,
				Input: block.Input,
			})
		}
	}

	return result
}
