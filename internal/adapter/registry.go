package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"queryloom/internal/config"
	"queryloom/internal/logging"
	"queryloom/internal/secrets"
	"queryloom/internal/types"
)

// Constructor builds an adapter from resolved connection arguments. Secret
// values in args arrive wrapped; constructors unwrap via connValue.
type Constructor func(id string, args map[string]any, opts config.DatasourceOptions) (Adapter, error)

var (
	ctorMu sync.RWMutex
	ctors  = map[string]Constructor{}
)

// RegisterConstructor binds an engine tag to an adapter constructor. Called
// from adapter init functions.
func RegisterConstructor(engineTag string, ctor Constructor) {
	ctorMu.Lock()
	defer ctorMu.Unlock()
	ctors[engineTag] = ctor
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds one connected adapter per datasource for the process
// lifetime. Instances are never reconstructed per request.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	options  map[string]config.DatasourceOptions
}

// NewRegistry resolves secrets, constructs and connects every configured
// datasource. Unknown engine tags and secret-resolution failures fail startup.
func NewRegistry(ctx context.Context, dss []config.DatasourceConfig, resolver *secrets.Resolver) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]Adapter, len(dss)),
		options:  make(map[string]config.DatasourceOptions, len(dss)),
	}
	for _, ds := range dss {
		engineTag := ds.EngineType()

		ctorMu.RLock()
		ctor, ok := ctors[engineTag]
		ctorMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("datasource %q: unknown engine tag %q", ds.ID, engineTag)
		}

		args, err := resolver.ResolveMap(ctx, ds.Connection)
		if err != nil {
			return nil, fmt.Errorf("datasource %q: %w", ds.ID, err)
		}

		a, err := ctor(ds.ID, args, ds.Options)
		if err != nil {
			return nil, fmt.Errorf("datasource %q: constructing adapter: %w", ds.ID, err)
		}
		if err := a.Connect(ctx); err != nil {
			return nil, fmt.Errorf("datasource %q: connect: %w", ds.ID, err)
		}

		r.adapters[ds.ID] = a
		r.options[ds.ID] = ds.Options
		logging.Get(logging.CategoryAdapter).Infof("registered datasource %s engine=%s dialect=%s",
			ds.ID, engineTag, a.Dialect())
	}
	return r, nil
}

// Get returns the adapter for a datasource id.
func (r *Registry) Get(datasourceID string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[datasourceID]
	return a, ok
}

// Options returns the safeguard ceilings for a datasource.
func (r *Registry) Options(datasourceID string) (config.DatasourceOptions, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.options[datasourceID]
	return o, ok
}

// IDs returns the registered datasource ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Routable returns ids of adapters carrying every required capability.
func (r *Registry) Routable(caps ...types.Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, a := range r.adapters {
		set := a.Capabilities()
		ok := true
		for _, c := range caps {
			if !set.Has(c) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// HealthReport probes every adapter.
func (r *Registry) HealthReport(ctx context.Context) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.adapters))
	for id, a := range r.adapters {
		out[id] = a.TestConnection(ctx)
	}
	return out
}
