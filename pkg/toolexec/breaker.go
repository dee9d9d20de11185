// Package toolexec runs external tools: validation, URL allow-listing,
// provider dispatch (HTTP, dummy), per-(tenant, tool) circuit breakers
// and the execution lifecycle REQUESTED → RUNNING → (SUCCEEDED | FAILED).
package toolexec

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker tuning. State is in-process only and re-learns after a restart.
const (
	breakerFailureThreshold = 5
	breakerRecoveryTimeout  = 60 * time.Second
	breakerSuccessThreshold = 2
)

// BreakerRegistry holds one circuit breaker per (tenant, tool). Global
// tools still get one circuit per invoking tenant so a failure storm in
// one tenant never trips another's calls.
type BreakerRegistry struct {
	recoveryTimeout time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.TwoStepCircuitBreaker
}

// NewBreakerRegistry creates an empty registry with the default recovery
// timeout.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{
		recoveryTimeout: breakerRecoveryTimeout,
		breakers:        map[string]*gobreaker.TwoStepCircuitBreaker{},
	}
}

func breakerKey(tenantID string, toolID int64) string {
	return fmt.Sprintf("%s/%d", tenantID, toolID)
}

// Get returns the breaker for (tenant, tool), creating it on first use.
func (r *BreakerRegistry) Get(tenantID string, toolID int64) *gobreaker.TwoStepCircuitBreaker {
	key := breakerKey(tenantID, toolID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[key]; ok {
		return cb
	}

	cb := gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name: key,
		// MaxRequests doubles as the half-open success threshold: the
		// breaker closes after this many consecutive probe successes.
		MaxRequests: breakerSuccessThreshold,
		Timeout:     r.recoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	r.breakers[key] = cb
	return cb
}

// State returns the breaker state without creating a breaker; an untouched
// pair reports closed.
func (r *BreakerRegistry) State(tenantID string, toolID int64) gobreaker.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[breakerKey(tenantID, toolID)]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

// OpenTools lists the tool ids whose breaker is currently open for the
// tenant. The alert evaluator polls this.
func (r *BreakerRegistry) OpenTools(tenantID string) []int64 {
	prefix := tenantID + "/"

	r.mu.Lock()
	defer r.mu.Unlock()
	var open []int64
	for key, cb := range r.breakers {
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if cb.State() == gobreaker.StateOpen {
			var toolID int64
			if _, err := fmt.Sscanf(key[len(prefix):], "%d", &toolID); err == nil {
				open = append(open, toolID)
			}
		}
	}
	return open
}
