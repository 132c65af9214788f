// Package models maintains the catalog of LLM models the service can
// route to, with per-module defaults and capability lookups.
package models

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// APIProvider identifies which adapter talks to the model.
type APIProvider string

const (
	ProviderBedrock   APIProvider = "bedrock"
	ProviderOpenAI    APIProvider = "openai"
	ProviderGemini    APIProvider = "gemini"
	ProviderAnthropic APIProvider = "anthropic"
)

// Capability tags what a model can do.
type Capability string

const (
	CapChat     Capability = "chat"
	CapTools    Capability = "tools"
	CapVision   Capability = "vision"
	CapThinking Capability = "thinking"
	CapImageGen Capability = "image_generation"
)

// Model describes one entry in the catalog.
type Model struct {
	ID            string       `yaml:"id" json:"id"`
	Name          string       `yaml:"name" json:"name"`
	Provider      APIProvider  `yaml:"provider" json:"provider"`
	Capabilities  []Capability `yaml:"capabilities" json:"capabilities"`
	ContextWindow int          `yaml:"context_window" json:"context_window"`
	MaxTokens     int          `yaml:"max_tokens" json:"max_tokens"`
}

// Has reports whether the model carries a capability.
func (m *Model) Has(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// SupportsTools is a shorthand for the tools capability.
func (m *Model) SupportsTools() bool { return m.Has(CapTools) }

// Registry is the model catalog plus module default mapping. Safe for
// concurrent use; discovery may merge new models at runtime.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Model
	defaults map[string]string // module -> model id
}

// NewRegistry builds a registry from a static model list and the
// per-module default model IDs.
func NewRegistry(catalog []*Model, moduleDefaults map[string]string) *Registry {
	r := &Registry{
		byID:     make(map[string]*Model, len(catalog)),
		defaults: map[string]string{},
	}
	for _, m := range catalog {
		r.byID[m.ID] = m
	}
	for module, id := range moduleDefaults {
		r.defaults[module] = id
	}
	return r
}

// Get returns the model with the given ID.
func (r *Registry) Get(id string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown model %q", id)
	}
	return m, nil
}

// DefaultFor returns the default model for a module.
func (r *Registry) DefaultFor(module string) (*Model, error) {
	r.mu.RLock()
	id, ok := r.defaults[module]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no default model for module %q", module)
	}
	return r.Get(id)
}

// List returns all models, optionally filtered by capability, sorted
// by ID for stable output.
func (r *Registry) List(filter ...Capability) []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Model, 0, len(r.byID))
	for _, m := range r.byID {
		ok := true
		for _, cap := range filter {
			if !m.Has(cap) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Merge adds discovered models that are not already present. Existing
// entries keep their hand-curated metadata.
func (r *Registry) Merge(discovered []*Model) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, m := range discovered {
		if _, exists := r.byID[m.ID]; exists {
			continue
		}
		r.byID[m.ID] = m
		added++
	}
	return added
}

// InferProvider guesses the adapter for a bare model ID when the
// catalog has no entry. Used by discovery and ad hoc model overrides.
func InferProvider(id string) APIProvider {
	switch {
	case strings.HasPrefix(id, "gpt-") || strings.HasPrefix(id, "o1") || strings.HasPrefix(id, "o3"):
		return ProviderOpenAI
	case strings.HasPrefix(id, "gemini-"):
		return ProviderGemini
	case strings.HasPrefix(id, "claude-"):
		return ProviderAnthropic
	default:
		return ProviderBedrock
	}
}
