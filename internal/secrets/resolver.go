// Package secrets resolves ${scheme:key} references from a chain of
// pluggable providers and wraps resolved values so they cannot leak through
// logs, errors or serialized configuration.
package secrets

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sync"

	"queryloom/internal/logging"
)

// refPattern matches a full-string ${scheme:key} reference.
var refPattern = regexp.MustCompile(`^\$\{([a-zA-Z][a-zA-Z0-9_-]*):([^}]+)\}$`)

// Provider resolves keys for a single scheme.
type Provider interface {
	// Scheme returns the reference scheme this provider serves (e.g. "env").
	Scheme() string
	// Resolve returns the plaintext for a key.
	Resolve(ctx context.Context, key string) (string, error)
}

// =============================================================================
// OPAQUE SECRET
// =============================================================================

// Secret wraps a resolved value. Its formatting methods return a redaction
// marker so accidental printing cannot reveal plaintext; callers must use
// Reveal explicitly.
type Secret struct {
	value string
}

// NewSecret wraps a plaintext value.
func NewSecret(value string) Secret { return Secret{value: value} }

// Reveal returns the wrapped plaintext.
func (s Secret) Reveal() string { return s.value }

// String implements fmt.Stringer with a redaction marker.
func (s Secret) String() string { return "[REDACTED]" }

// GoString keeps %#v output redacted too.
func (s Secret) GoString() string { return "secrets.Secret{[REDACTED]}" }

// MarshalJSON keeps serialized configuration redacted.
func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"[REDACTED]"`), nil }

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver resolves references through registered providers. Provider
// configurations may themselves contain references, bootstrapped through the
// env provider only.
type Resolver struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewResolver returns a resolver preloaded with the env provider.
func NewResolver() *Resolver {
	r := &Resolver{providers: make(map[string]Provider)}
	r.Register(envProvider{})
	return r
}

// Register adds or replaces a provider for its scheme.
func (r *Resolver) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Scheme()] = p
	logging.Get(logging.CategorySecrets).Debugf("registered secret provider scheme=%s", p.Scheme())
}

// IsRef reports whether a string is a ${scheme:key} reference.
func IsRef(s string) bool { return refPattern.MatchString(s) }

// Resolve resolves a single value. Plain strings pass through wrapped;
// references are dispatched to the owning provider.
func (r *Resolver) Resolve(ctx context.Context, value string) (Secret, error) {
	m := refPattern.FindStringSubmatch(value)
	if m == nil {
		return NewSecret(value), nil
	}
	scheme, key := m[1], m[2]

	r.mu.RLock()
	p, ok := r.providers[scheme]
	r.mu.RUnlock()
	if !ok {
		return Secret{}, fmt.Errorf("no secret provider registered for scheme %q", scheme)
	}

	plaintext, err := p.Resolve(ctx, key)
	if err != nil {
		// Never include the resolved value or provider internals here.
		return Secret{}, fmt.Errorf("resolving %s:%s: %w", scheme, key, err)
	}
	return NewSecret(plaintext), nil
}

// ResolveMap resolves every string value of a connection map, wrapping all of
// them (referenced or not) as opaque secrets. Non-string values pass through.
func (r *Resolver) ResolveMap(ctx context.Context, in map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for k, v := range in {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		sec, err := r.Resolve(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("connection key %q: %w", k, err)
		}
		out[k] = sec
	}
	return out, nil
}

// envProvider is the bootstrap provider reading process environment.
type envProvider struct{}

func (envProvider) Scheme() string { return "env" }

func (envProvider) Resolve(_ context.Context, key string) (string, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("environment variable %s not set", key)
	}
	return v, nil
}
