package tool

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"notary-agent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticProvider struct {
	name string
	defs []domain.ToolDefinition
}

func (p *staticProvider) Name() string { return p.name }
func (p *staticProvider) ListTools(ctx context.Context) ([]domain.ToolDefinition, error) {
	return p.defs, nil
}
func (p *staticProvider) CallTool(ctx context.Context, name string, input json.RawMessage) ([]domain.ToolContent, error) {
	return []domain.ToolContent{{Type: "text", Text: p.name + ":" + name}}, nil
}
func (p *staticProvider) Close() error { return nil }

func defsOf(names ...string) []domain.ToolDefinition {
	defs := make([]domain.ToolDefinition, 0, len(names))
	for _, n := range names {
		defs = append(defs, domain.ToolDefinition{Name: n, Description: "tool " + n})
	}
	return defs
}

func TestResolveRoutesToOwningProvider(t *testing.T) {
	reg := NewRegistry(testLogger())
	alpha := &staticProvider{name: "alpha"}
	beta := &staticProvider{name: "beta"}
	reg.RegisterProvider(alpha, defsOf("read"))
	reg.RegisterProvider(beta, defsOf("write"))

	ref, err := reg.Resolve("write")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.ProviderName != "beta" {
		t.Errorf("provider = %q, want beta", ref.ProviderName)
	}
}

func TestResolveUnknownToolReturnsSentinel(t *testing.T) {
	reg := NewRegistry(testLogger())

	_, err := reg.Resolve("missing")
	if !errors.Is(err, domain.ErrToolNotFound) {
		t.Errorf("err = %v, want ErrToolNotFound", err)
	}
}

func TestCollisionLastRegistrationWins(t *testing.T) {
	reg := NewRegistry(testLogger())
	first := &staticProvider{name: "first"}
	second := &staticProvider{name: "second"}
	reg.RegisterProvider(first, defsOf("X"))
	reg.RegisterProvider(second, defsOf("X"))

	ref, err := reg.Resolve("X")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.ProviderName != "second" {
		t.Errorf("provider = %q, want second (last registration wins)", ref.ProviderName)
	}

	defs := reg.AllDefinitions()
	var count int
	for _, d := range defs {
		if d.Name == "X" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("catalogue lists %q %d times, want 1", "X", count)
	}
}

func TestAllDefinitionsPreservesRegistrationOrder(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterProvider(&staticProvider{name: "a"}, defsOf("one", "two"))
	reg.RegisterProvider(&staticProvider{name: "b"}, defsOf("three"))

	defs := reg.AllDefinitions()
	want := []string{"one", "two", "three"}
	if len(defs) != len(want) {
		t.Fatalf("catalogue size = %d, want %d", len(defs), len(want))
	}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("defs[%d] = %q, want %q", i, defs[i].Name, name)
		}
	}
}

func TestAllDefinitionsReturnsCopy(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.RegisterProvider(&staticProvider{name: "a"}, defsOf("one"))

	defs := reg.AllDefinitions()
	defs[0].Name = "mutated"

	if reg.AllDefinitions()[0].Name != "one" {
		t.Error("catalogue mutated through the returned slice")
	}
}
