package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"notary-agent/internal/domain"
	"notary-agent/internal/infra/config"
)

// defaultCallTimeout bounds a single MCP tool call when the config leaves it
// unset.
const defaultCallTimeout = 30 * time.Second

// mcpClient abstracts the MCP client interface for testability.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPProvider exposes one MCP server as a domain.ToolProvider.
type MCPProvider struct {
	name        string
	client      mcpClient
	callTimeout time.Duration
	logger      *slog.Logger
}

// ConnectProviders connects every configured MCP server and registers its
// catalogue with the registry. A server that fails to connect or list tools
// is skipped with a warning; the rest of the run continues without it.
// The returned close function shuts down all successful connections.
func ConnectProviders(ctx context.Context, cfg config.ToolsConfig, reg *Registry, logger *slog.Logger) (func(), error) {
	var providers []*MCPProvider

	for _, srv := range cfg.MCPServers {
		start := time.Now()
		p, err := connectMCP(ctx, srv, cfg.CallTimeout, logger)
		if err != nil {
			logger.Warn("mcp server unavailable, skipping",
				"server", srv.Name, "error", err)
			continue
		}

		catalogue, err := p.ListTools(ctx)
		if err != nil {
			logger.Warn("mcp tool discovery failed, skipping server",
				"server", srv.Name, "error", err)
			p.Close()
			continue
		}

		if cfg.ValidateInput {
			wrapped, err := WithInputValidation(p, catalogue)
			if err != nil {
				logger.Warn("input validation disabled for provider",
					"server", srv.Name, "error", err)
				reg.RegisterProvider(p, catalogue)
			} else {
				reg.RegisterProvider(wrapped, catalogue)
			}
		} else {
			reg.RegisterProvider(p, catalogue)
		}

		providers = append(providers, p)
		logger.Info("mcp server connected",
			"server", srv.Name,
			"tools", len(catalogue),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	closeAll := func() {
		for _, p := range providers {
			if err := p.Close(); err != nil {
				logger.Warn("mcp server close error", "server", p.Name(), "error", err)
			}
		}
	}
	return closeAll, nil
}

func connectMCP(ctx context.Context, srv config.MCPServer, callTimeout time.Duration, logger *slog.Logger) (*MCPProvider, error) {
	var c mcpClient
	var err error

	switch srv.Transport {
	case "stdio":
		c, err = mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
	case "http":
		t, tErr := transport.NewStreamableHTTP(srv.URL)
		if tErr != nil {
			return nil, fmt.Errorf("create http transport: %w", tErr)
		}
		httpClient := mcpclient.NewClient(t)
		if err = httpClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		c = httpClient
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "notary-agent",
		Version: "1.0.0",
	}

	if ic, ok := c.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}); ok {
		if _, err = ic.Initialize(ctx, initReq); err != nil {
			c.Close()
			return nil, domain.WrapOp("initialize", err)
		}
	}

	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}

	return &MCPProvider{
		name:        srv.Name,
		client:      c,
		callTimeout: callTimeout,
		logger:      logger,
	}, nil
}

// newMCPProviderWithClient builds a provider around a pre-built client (for
// testing).
func newMCPProviderWithClient(name string, c mcpClient, logger *slog.Logger) *MCPProvider {
	return &MCPProvider{
		name:        name,
		client:      c,
		callTimeout: defaultCallTimeout,
		logger:      logger,
	}
}

// Name implements domain.ToolProvider.
func (p *MCPProvider) Name() string { return p.name }

// ListTools implements domain.ToolProvider.
func (p *MCPProvider) ListTools(ctx context.Context) ([]domain.ToolDefinition, error) {
	result, err := p.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, domain.WrapOp("MCPProvider.ListTools", err)
	}

	defs := make([]domain.ToolDefinition, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := json.RawMessage(`{"type":"object"}`)
		if data, err := json.Marshal(t.InputSchema); err == nil {
			schema = data
		}
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return defs, nil
}

// CallTool implements domain.ToolProvider. The provider's rich content is
// preserved; reducing it to transcript text is the engine's concern.
func (p *MCPProvider) CallTool(ctx context.Context, name string, input json.RawMessage) ([]domain.ToolContent, error) {
	var args map[string]interface{}
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = name
	callReq.Params.Arguments = args

	callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	start := time.Now()
	result, err := p.client.CallTool(callCtx, callReq)
	if err != nil {
		return nil, domain.WrapOp("MCPProvider.CallTool", err)
	}

	p.logger.Debug("mcp tool call finished",
		"server", p.name,
		"tool", name,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	contents := make([]domain.ToolContent, 0, len(result.Content))
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			contents = append(contents, domain.ToolContent{Type: "text", Text: v.Text})
		case *mcp.TextContent:
			contents = append(contents, domain.ToolContent{Type: "text", Text: v.Text})
		default:
			raw, _ := json.Marshal(v)
			contents = append(contents, domain.ToolContent{Type: "json", Raw: raw})
		}
	}

	if result.IsError {
		return contents, fmt.Errorf("tool %q reported an error: %s", name, domain.FlattenToolContent(contents))
	}
	return contents, nil
}

// Close implements domain.ToolProvider.
func (p *MCPProvider) Close() error {
	return p.client.Close()
}

// envSlice converts a map of env vars to KEY=VALUE slices.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}
