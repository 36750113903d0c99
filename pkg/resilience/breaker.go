package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// State represents circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// BreakerConfig holds per-target circuit breaker configuration
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker from closed to open
	FailureThreshold uint32

	// Cooldown is how long the breaker stays open before admitting a
	// half-open trial call
	Cooldown time.Duration

	// MaxHalfOpenCalls is the number of trial calls admitted while
	// half-open. Exactly one by default.
	MaxHalfOpenCalls uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.MaxHalfOpenCalls == 0 {
		c.MaxHalfOpenCalls = 1
	}
	return c
}

// Stats is a point-in-time snapshot of one breaker's counters and state
type Stats struct {
	Target               string    `json:"target"`
	State                State     `json:"state"`
	Requests             uint32    `json:"requests"`
	TotalSuccesses       uint32    `json:"total_successes"`
	TotalFailures        uint32    `json:"total_failures"`
	ConsecutiveFailures  uint32    `json:"consecutive_failures"`
	ConsecutiveSuccesses uint32    `json:"consecutive_successes"`
	LastFailureTime      time.Time `json:"last_failure_time,omitempty"`
	LastStateChange      time.Time `json:"last_state_change,omitempty"`
}

// Breaker guards calls to one downstream target. While open it fails fast
// with ErrCircuitOpen without invoking the action.
type Breaker struct {
	target string
	cb     *gobreaker.CircuitBreaker

	mu              sync.Mutex
	lastFailure     time.Time
	lastStateChange time.Time
}

func newBreaker(target string, cfg BreakerConfig, onStateChange func(target string, from, to State)) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{target: target}

	settings := gobreaker.Settings{
		Name:        target,
		MaxRequests: cfg.MaxHalfOpenCalls,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.mu.Lock()
			b.lastStateChange = time.Now()
			b.mu.Unlock()
			if onStateChange != nil {
				onStateChange(target, convertState(from), convertState(to))
			}
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	return b
}

// Execute runs fn through the breaker. A rejected call (open breaker, or a
// half-open breaker already probing) returns an error satisfying
// errors.Is(err, ErrCircuitOpen).
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("target %s: %w", b.target, ErrCircuitOpen)
		}
		b.mu.Lock()
		b.lastFailure = time.Now()
		b.mu.Unlock()
	}
	return result, err
}

// State returns the breaker's current state
func (b *Breaker) State() State {
	return convertState(b.cb.State())
}

// Stats returns a snapshot of the breaker's counters and state
func (b *Breaker) Stats() Stats {
	counts := b.cb.Counts()
	b.mu.Lock()
	lastFailure := b.lastFailure
	lastChange := b.lastStateChange
	b.mu.Unlock()

	return Stats{
		Target:               b.target,
		State:                b.State(),
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		LastFailureTime:      lastFailure,
		LastStateChange:      lastChange,
	}
}

func convertState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
