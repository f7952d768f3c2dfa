// Package runtime owns the per-process execution machinery around the
// pipeline: the three global circuit breakers, the cooperative cancellation
// controller, the global deadline waiter and the audit event stream.
package runtime

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"

	"queryloom/internal/config"
	"queryloom/internal/logging"
	"queryloom/internal/observability"
	"queryloom/internal/types"
)

// Breaker names.
const (
	BreakerLLM       = "llm"
	BreakerRetrieval = "retrieval"
	BreakerDatabase  = "database"
)

// SoftError marks failures that must not count toward a breaker: rate
// limits, auth rejections, bad requests. The underlying subsystem is healthy.
type SoftError struct {
	Err error
}

func (e *SoftError) Error() string { return e.Err.Error() }
func (e *SoftError) Unwrap() error { return e.Err }

// Soft wraps an error as non-tripping.
func Soft(err error) error {
	if err == nil {
		return nil
	}
	return &SoftError{Err: err}
}

// IsSoft reports whether an error is exempt from breaker counting.
func IsSoft(err error) bool {
	var se *SoftError
	return errors.As(err, &se)
}

// softShield carries a soft error through gobreaker as a success so the
// failure counter stays untouched.
type softShield struct {
	err error
}

// =============================================================================
// BREAKERS
// =============================================================================

// Breakers holds the three process-wide circuit breakers.
type Breakers struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	auditor  *Auditor
}

var (
	breakersOnce sync.Once
	breakersInst *Breakers
)

// NewBreakers creates (or returns) the process-wide breaker set.
func NewBreakers(cfg config.BreakerConfig, auditor *Auditor) *Breakers {
	breakersOnce.Do(func() {
		b := &Breakers{
			breakers: make(map[string]*gobreaker.CircuitBreaker, 3),
			auditor:  auditor,
		}
		for _, name := range []string{BreakerLLM, BreakerRetrieval, BreakerDatabase} {
			name := name
			b.breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        name,
				MaxRequests: 1,
				Timeout:     cfg.ResetTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= cfg.FailMax
				},
				OnStateChange: func(n string, from, to gobreaker.State) {
					b.onTransition(n, from, to)
				},
			})
		}
		breakersInst = b
	})
	return breakersInst
}

func (b *Breakers) onTransition(name string, from, to gobreaker.State) {
	logging.Runtime("breaker %s: %s -> %s", name, from, to)
	observability.Metrics().BreakerTransitions.WithLabelValues(name, to.String()).Inc()
	if b.auditor != nil {
		b.auditor.Emit(EventBreakerTransition, "", "", map[string]any{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		})
	}
}

// Execute runs fn under the named breaker. While the breaker is open the
// call short-circuits to a SERVICE_UNAVAILABLE pipeline error without
// touching the subsystem. Soft errors pass through without tripping.
func (b *Breakers) Execute(name string, fn func() (any, error)) (any, error) {
	b.mu.RLock()
	cb, ok := b.breakers[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown breaker %q", name)
	}

	out, err := cb.Execute(func() (any, error) {
		v, err := fn()
		if err != nil && IsSoft(err) {
			return softShield{err: err}, nil
		}
		return v, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			pe := types.NewError("breaker:"+name, types.ErrServiceUnavailable, types.SeverityError,
				"%s subsystem is temporarily unavailable", name)
			return nil, pe
		}
		return nil, err
	}
	if shield, ok := out.(softShield); ok {
		return nil, shield.err
	}
	return out, nil
}

// State returns the current state of the named breaker.
func (b *Breakers) State(name string) (gobreaker.State, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cb, ok := b.breakers[name]
	if !ok {
		return gobreaker.StateClosed, false
	}
	return cb.State(), true
}

// resetForTesting clears the singleton so tests can rebuild with different
// settings.
func resetForTesting() {
	breakersOnce = sync.Once{}
	breakersInst = nil
}
