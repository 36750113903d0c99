package resilience

import (
	"log/slog"
	"sync"
)

// Registry is a keyed cache/factory of circuit breakers. Each distinct
// downstream target gets exactly one breaker, created on first use. Targets
// should be normalized route templates (host + route), never full request
// URLs with embedded identifiers, so the key space stays bounded.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewRegistry creates a breaker registry applying cfg to every new breaker
func NewRegistry(cfg BreakerConfig) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      cfg.withDefaults(),
	}
}

// Get returns the breaker for target, creating it on first use
func (r *Registry) Get(target string) *Breaker {
	r.mu.RLock()
	breaker, exists := r.breakers[target]
	r.mu.RUnlock()
	if exists {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring the write lock
	if breaker, exists = r.breakers[target]; exists {
		return breaker
	}

	breaker = newBreaker(target, r.cfg, logStateChange)
	r.breakers[target] = breaker
	slog.Debug("Created circuit breaker", "target", target)
	return breaker
}

// AllStats returns a snapshot of every breaker's counters, keyed by target
func (r *Registry) AllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for target, breaker := range r.breakers {
		stats[target] = breaker.Stats()
	}
	return stats
}

// ResetAll clears all breaker state by recreating every breaker in place.
// Used for test isolation and operational reset.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for target := range r.breakers {
		r.breakers[target] = newBreaker(target, r.cfg, logStateChange)
	}
	slog.Info("All circuit breakers reset", "count", len(r.breakers))
}

func logStateChange(target string, from, to State) {
	switch to {
	case StateOpen:
		slog.Error("Circuit breaker opened, requests will fast-fail",
			"target", target, "from", string(from))
	case StateHalfOpen:
		slog.Info("Circuit breaker half-open, probing recovery", "target", target)
	case StateClosed:
		slog.Info("Circuit breaker closed, target recovered", "target", target)
	}
}
