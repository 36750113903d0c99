package module

import (
	"context"
	"time"
)

// Status represents health status values
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity orders statuses for worst-of aggregation
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 2
	}
}

// Worse returns the more severe of the two statuses
func (s Status) Worse(other Status) Status {
	if other.severity() > s.severity() {
		return other
	}
	return s
}

// ComponentHealth is a point-in-time health snapshot for one module.
// It is a fresh value on every Health call and is never mutated after return.
type ComponentHealth struct {
	Status       Status         `json:"status"`
	Message      string         `json:"message,omitempty"`
	LastChecked  time.Time      `json:"last_checked"`
	ResponseTime time.Duration  `json:"response_time_ns,omitempty"`
	Metrics      map[string]any `json:"metrics,omitempty"`
	Issues       []string       `json:"issues,omitempty"`
}

// SystemHealth is the aggregated health of all initialized modules
type SystemHealth struct {
	Overall   ComponentHealth            `json:"overall"`
	Modules   map[string]ComponentHealth `json:"modules"`
	Timestamp time.Time                  `json:"timestamp"`
}

// Descriptor identifies a module within the registry. It is created at
// registration time and immutable thereafter.
type Descriptor struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Priority int    `json:"priority"`
	Critical bool   `json:"critical"`
}

// Config is the per-module configuration resolved at initialization time
type Config struct {
	Enabled bool              `json:"enabled"`
	Options map[string]string `json:"options,omitempty"`
}

// Module defines the interface that all orchestrated subsystems must implement
type Module interface {
	// Descriptor returns the module's registration metadata
	Descriptor() Descriptor

	// Initialize prepares the module for service. It is called exactly once,
	// sequentially, in priority order.
	Initialize(ctx context.Context, cfg Config) error

	// Health returns a fresh health snapshot. Implementations must be cheap,
	// safe to call frequently, and must not panic.
	Health(ctx context.Context) ComponentHealth

	// Shutdown stops the module. A second call is a no-op, not an error.
	Shutdown(ctx context.Context) error

	// Metrics returns module-specific counters for the metrics endpoint
	Metrics() map[string]any
}

// Healthy builds a healthy ComponentHealth with the given message
func Healthy(message string) ComponentHealth {
	return ComponentHealth{Status: StatusHealthy, Message: message, LastChecked: time.Now()}
}

// Degraded builds a degraded ComponentHealth with the given message and issues
func Degraded(message string, issues ...string) ComponentHealth {
	return ComponentHealth{Status: StatusDegraded, Message: message, LastChecked: time.Now(), Issues: issues}
}

// Unhealthy builds an unhealthy ComponentHealth with the given message and issues
func Unhealthy(message string, issues ...string) ComponentHealth {
	return ComponentHealth{Status: StatusUnhealthy, Message: message, LastChecked: time.Now(), Issues: issues}
}
