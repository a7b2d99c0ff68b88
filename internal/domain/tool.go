package domain

import (
	"context"
	"encoding/json"
)

// ToolDefinition describes a tool for the model's function-calling protocol.
// Names are expected to be globally unique across providers; when two
// providers expose the same name, the later registration silently shadows
// the earlier one in the routing table.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ToolContent is one unit of content returned by a tool call. Text content
// carries Text; anything else keeps its raw JSON form and is reduced to a
// string when it has to become transcript text.
type ToolContent struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// ToolProvider is an external process exposing a catalogue of callable tools.
type ToolProvider interface {
	Name() string
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	CallTool(ctx context.Context, name string, input json.RawMessage) ([]ToolContent, error)
	Close() error
}

// ToolReference maps a tool name to its owning provider. Created at
// connection time, immutable afterward.
type ToolReference struct {
	Provider     ToolProvider
	ProviderName string
}

// ToolRouter is the read-only routing view the engine queries each round.
type ToolRouter interface {
	// AllDefinitions returns the catalogue across all providers, in
	// registration order. Callers must not assume order carries meaning.
	AllDefinitions() []ToolDefinition
	// Resolve looks up the provider owning a tool name. Returns an error
	// wrapping ErrToolNotFound when no provider hosts it.
	Resolve(toolName string) (ToolReference, error)
}

// FlattenToolContent reduces rich tool content to a single string the model
// can read. Text blocks contribute their text; everything else is serialized
// to its JSON representation. This normalization is deliberately lossy.
func FlattenToolContent(contents []ToolContent) string {
	var out []byte
	for i, c := range contents {
		if i > 0 {
			out = append(out, '\n')
		}
		switch {
		case c.Type == "text":
			out = append(out, c.Text...)
		case len(c.Raw) > 0:
			out = append(out, c.Raw...)
		default:
			if data, err := json.Marshal(c); err == nil {
				out = append(out, data...)
			}
		}
	}
	return string(out)
}
