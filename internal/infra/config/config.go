package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	Model   ModelConfig   `yaml:"model"`
	Tools   ToolsConfig   `yaml:"tools"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Gateway GatewayConfig `yaml:"gateway"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// AgentConfig holds conversation behavior settings.
type AgentConfig struct {
	// ApprovalTimeout > 0 resolves an unanswered approval request to a
	// denial after the given duration. Zero means wait forever, which is
	// the default: the agent never acts without consent.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
	// AlwaysApprove lists tool names that skip the human entirely.
	AlwaysApprove []string `yaml:"always_approve"`
	// AlwaysDeny lists tool names that are denied without asking.
	AlwaysDeny []string `yaml:"always_deny"`
}

// ModelConfig holds model backend settings.
type ModelConfig struct {
	Type           string               `yaml:"type"` // "anthropic"
	BaseURL        string               `yaml:"base_url"`
	APIKey         string               `yaml:"api_key"`
	Model          string               `yaml:"model"`
	MaxTokens      int                  `yaml:"max_tokens"`
	ConnTimeout    time.Duration        `yaml:"conn_timeout"`
	RespTimeout    time.Duration        `yaml:"resp_timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for the model backend.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ToolsConfig holds tool provider settings.
type ToolsConfig struct {
	// CallTimeout bounds a single provider tool call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// ValidateInput enables JSON Schema validation of tool inputs before
	// they reach a provider.
	ValidateInput bool        `yaml:"validate_input"`
	MCPServers    []MCPServer `yaml:"mcp_servers"`
}

// MCPServer configures a single MCP tool-provider connection.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// LedgerConfig holds audit ledger settings.
type LedgerConfig struct {
	// Store selects the backing store: "rpc", "sqlite" or "" (offline).
	Store string `yaml:"store"`
	// URL is the JSON-RPC endpoint of the ledger node (rpc store).
	URL string `yaml:"url"`
	// Path is the database file (sqlite store).
	Path string `yaml:"path"`
	// SubmitTimeout bounds the settlement wait of a single write. The
	// blocking wait itself is deliberate, not a bug; only its upper bound
	// is configurable.
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
}

// GatewayConfig holds WebSocket gateway settings.
type GatewayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Token   string `yaml:"token,omitempty"`
	// ReplaySize bounds the message backlog a reconnecting client
	// receives. Oldest entries are evicted first.
	ReplaySize int `yaml:"replay_size"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Model: ModelConfig{
			Type:        "anthropic",
			Model:       "claude-haiku-4-5-20251001",
			MaxTokens:   1024,
			ConnTimeout: 10 * time.Second,
			RespTimeout: 120 * time.Second,
		},
		Tools: ToolsConfig{
			CallTimeout:   30 * time.Second,
			ValidateInput: true,
		},
		Ledger: LedgerConfig{
			Store:         "rpc",
			URL:           "http://127.0.0.1:8545",
			SubmitTimeout: 30 * time.Second,
		},
		Gateway: GatewayConfig{
			Addr:       ":3000",
			ReplaySize: 100,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and merges it over the defaults. A missing
// file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv overlays environment variables over file values. The API key env
// var always wins so secrets can stay out of the config file.
func (c *Config) applyEnv() {
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Model.APIKey = key
	}
	if url := os.Getenv("NOTARY_LEDGER_URL"); url != "" {
		c.Ledger.URL = url
	}
}

// Validate checks the configuration for fatal problems.
func (c *Config) Validate() error {
	if c.Model.Type != "anthropic" {
		return fmt.Errorf("model.type: unsupported backend %q", c.Model.Type)
	}
	if c.Model.APIKey == "" {
		return fmt.Errorf("model.api_key: missing (set ANTHROPIC_API_KEY)")
	}
	switch c.Ledger.Store {
	case "", "none", "rpc", "sqlite":
	default:
		return fmt.Errorf("ledger.store: unsupported store %q", c.Ledger.Store)
	}
	if c.Ledger.Store == "rpc" && c.Ledger.URL == "" {
		return fmt.Errorf("ledger.url: required for rpc store")
	}
	if c.Ledger.Store == "sqlite" && c.Ledger.Path == "" {
		return fmt.Errorf("ledger.path: required for sqlite store")
	}
	for i, srv := range c.Tools.MCPServers {
		if srv.Name == "" {
			return fmt.Errorf("tools.mcp_servers[%d]: name required", i)
		}
		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				return fmt.Errorf("tools.mcp_servers[%d]: command required for stdio", i)
			}
		case "http":
			if srv.URL == "" {
				return fmt.Errorf("tools.mcp_servers[%d]: url required for http", i)
			}
		default:
			return fmt.Errorf("tools.mcp_servers[%d]: unsupported transport %q", i, srv.Transport)
		}
	}
	if c.Gateway.Enabled && c.Gateway.ReplaySize <= 0 {
		return fmt.Errorf("gateway.replay_size: must be positive")
	}
	return nil
}
