package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"notary-agent/internal/domain"
)

// ValidatingProvider wraps a ToolProvider and checks each call's arguments
// against the tool's declared input schema before the call reaches the
// provider. A failed check surfaces as a call error; the underlying provider
// is never invoked with arguments it did not ask for.
type ValidatingProvider struct {
	inner   domain.ToolProvider
	schemas map[string]*jsonschema.Schema
}

// WithInputValidation compiles the input schema of every tool in the
// catalogue. Tools whose schemas do not compile are passed through
// unvalidated rather than made uncallable.
func WithInputValidation(inner domain.ToolProvider, catalogue []domain.ToolDefinition) (*ValidatingProvider, error) {
	schemas := make(map[string]*jsonschema.Schema, len(catalogue))
	for _, def := range catalogue {
		if len(def.InputSchema) == 0 {
			continue
		}
		compiler := jsonschema.NewCompiler()
		url := "inline://" + def.Name + ".json"
		if err := compiler.AddResource(url, strings.NewReader(string(def.InputSchema))); err != nil {
			continue
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			continue
		}
		schemas[def.Name] = schema
	}
	return &ValidatingProvider{inner: inner, schemas: schemas}, nil
}

// Name implements domain.ToolProvider.
func (v *ValidatingProvider) Name() string { return v.inner.Name() }

// ListTools implements domain.ToolProvider.
func (v *ValidatingProvider) ListTools(ctx context.Context) ([]domain.ToolDefinition, error) {
	return v.inner.ListTools(ctx)
}

// CallTool implements domain.ToolProvider.
func (v *ValidatingProvider) CallTool(ctx context.Context, name string, input json.RawMessage) ([]domain.ToolContent, error) {
	if schema, ok := v.schemas[name]; ok {
		var value interface{}
		raw := input
		if len(raw) == 0 {
			raw = json.RawMessage(`{}`)
		}
		if err := json.Unmarshal(raw, &value); err != nil {
			return nil, fmt.Errorf("arguments for %q are not valid JSON: %w", name, err)
		}
		if err := schema.Validate(value); err != nil {
			return nil, fmt.Errorf("arguments for %q rejected by schema: %w", name, err)
		}
	}
	return v.inner.CallTool(ctx, name, input)
}

// Close implements domain.ToolProvider.
func (v *ValidatingProvider) Close() error { return v.inner.Close() }
