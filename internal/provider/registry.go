package provider

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/cloudwego/eino/components/model"
)

// Registry gates chat models behind an allow-list. Models are constructed
// lazily on first use and cached for the life of the registry.
type Registry struct {
	cfg   *Config
	allow []string
	def   string
	build Factory

	mu    sync.Mutex
	cache map[string]model.BaseChatModel
}

// NewRegistry returns a Registry over allow. def names the default model; an
// empty def selects the first allow-listed entry.
func NewRegistry(cfg *Config, allow []string, def string) (*Registry, error) {
	return newRegistry(cfg, allow, def, build)
}

// NewRegistryWithFactory is NewRegistry with a caller-supplied model
// constructor, used to plug in test doubles or custom backends.
func NewRegistryWithFactory(cfg *Config, allow []string, def string, f Factory) (*Registry, error) {
	if f == nil {
		return nil, fmt.Errorf("provider: factory must not be nil")
	}
	return newRegistry(cfg, allow, def, f)
}

func newRegistry(cfg *Config, allow []string, def string, f Factory) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider: config must not be nil")
	}
	if len(allow) == 0 {
		return nil, fmt.Errorf("provider: model allow-list is empty")
	}
	if def == "" {
		def = allow[0]
	}
	if !slices.Contains(allow, def) {
		return nil, fmt.Errorf("provider: default model %q: %w", def, ErrUnknownModel)
	}
	return &Registry{
		cfg:   cfg,
		allow: slices.Clone(allow),
		def:   def,
		build: f,
		cache: make(map[string]model.BaseChatModel),
	}, nil
}

// Models returns the allow-listed model IDs in display order.
func (r *Registry) Models() []string { return slices.Clone(r.allow) }

// Default returns the model used when a caller does not pick one.
func (r *Registry) Default() string { return r.def }

// Backend returns the configured inference backend.
func (r *Registry) Backend() Backend { return r.cfg.Backend }

// Allowed reports whether id is in the allow-list.
func (r *Registry) Allowed(id string) bool { return slices.Contains(r.allow, id) }

// Resolve returns the chat model for id, constructing it on first use. An
// empty id resolves to the default model. IDs outside the allow-list return
// ErrUnknownModel without touching the backend.
func (r *Registry) Resolve(ctx context.Context, id string) (model.BaseChatModel, string, error) {
	if id == "" {
		id = r.def
	}
	if !r.Allowed(id) {
		return nil, id, fmt.Errorf("provider: %q: %w", id, ErrUnknownModel)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.cache[id]; ok {
		return m, id, nil
	}
	m, err := r.build(ctx, r.cfg, id)
	if err != nil {
		return nil, id, fmt.Errorf("provider: build %s model %q: %w", r.cfg.Backend, id, err)
	}
	r.cache[id] = m
	return m, id, nil
}
