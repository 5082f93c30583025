package sink

import (
	"context"
	"fmt"
	"sort"

	"github.com/dvloznov/finance-sync/internal/configstore"
	"github.com/dvloznov/finance-sync/internal/domain"
)

// Factory builds a sink from the configuration document.
type Factory func(ctx context.Context, doc *configstore.Document) (Sink, error)

// Registry maps run targets to sink factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds a target name.
func (r *Registry) Register(target string, f Factory) {
	r.factories[target] = f
}

// Targets lists registered target names, sorted.
func (r *Registry) Targets() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Open builds the sink for target.
func (r *Registry) Open(ctx context.Context, target string, doc *configstore.Document) (Sink, error) {
	f, ok := r.factories[target]
	if !ok {
		return nil, fmt.Errorf("%w: unknown target %q (have %v)", domain.ErrSinkUnavailable, target, r.Targets())
	}
	s, err := f(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrSinkUnavailable, target, err)
	}
	return s, nil
}
