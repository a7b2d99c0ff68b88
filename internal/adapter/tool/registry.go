package tool

import (
	"log/slog"
	"sync"

	"notary-agent/internal/domain"
)

// Registry maps tool names to the provider that hosts them. It is populated
// during provider connection setup and read-only for the rest of the run.
//
// Name collisions are resolved last-write-wins: the later registration
// silently shadows the earlier one. This mirrors how providers actually
// behave in the wild and is deliberate, so the collision is logged but not
// rejected.
type Registry struct {
	mu    sync.RWMutex
	refs  map[string]domain.ToolReference
	defs  []domain.ToolDefinition // registration order
	index map[string]int          // tool name -> position in defs
	log   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		refs:  make(map[string]domain.ToolReference),
		index: make(map[string]int),
		log:   log,
	}
}

// RegisterProvider inserts every tool of the catalogue into the routing
// table. Collisions overwrite the previous owner and replace the shadowed
// definition in place, so the catalogue never shows the same name twice.
func (r *Registry) RegisterProvider(p domain.ToolProvider, catalogue []domain.ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, def := range catalogue {
		if prev, ok := r.refs[def.Name]; ok {
			r.log.Warn("tool name collision, later provider wins",
				"tool", def.Name,
				"previous", prev.ProviderName,
				"now", p.Name(),
			)
			r.defs[r.index[def.Name]] = def
		} else {
			r.index[def.Name] = len(r.defs)
			r.defs = append(r.defs, def)
		}
		r.refs[def.Name] = domain.ToolReference{Provider: p, ProviderName: p.Name()}

		r.log.Debug("tool registered", "provider", p.Name(), "tool", def.Name)
	}
}

// AllDefinitions returns the catalogue across all providers in registration
// order.
func (r *Registry) AllDefinitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, len(r.defs))
	copy(defs, r.defs)
	return defs
}

// Resolve looks up the provider owning a tool name.
func (r *Registry) Resolve(toolName string) (domain.ToolReference, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ref, ok := r.refs[toolName]
	if !ok {
		return domain.ToolReference{}, domain.NewDomainError("Registry.Resolve", domain.ErrToolNotFound, toolName)
	}
	return ref, nil
}
