// Package housekeeping implements the periodic maintenance module: audit
// trail pruning and circuit-breaker stats snapshots, driven by cron.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"go-warden/pkg/module"
	"go-warden/pkg/resilience"

	"github.com/robfig/cron/v3"
)

// AuditPruner removes expired audit entries
type AuditPruner interface {
	PruneAudit(ctx context.Context) (int64, error)
}

// Config holds housekeeping schedules
type Config struct {
	// PruneSchedule is the cron spec for audit pruning
	PruneSchedule string

	// StatsSchedule is the cron spec for breaker stats snapshots
	StatsSchedule string
}

func (c Config) withDefaults() Config {
	if c.PruneSchedule == "" {
		c.PruneSchedule = "@daily"
	}
	if c.StatsSchedule == "" {
		c.StatsSchedule = "@hourly"
	}
	return c
}

// Module is the housekeeping module
type Module struct {
	*module.BaseModule
	cfg      Config
	pruner   AuditPruner
	breakers *resilience.Registry
	cron     *cron.Cron

	runs     atomic.Int64
	failures atomic.Int64
}

// NewModule creates the housekeeping module
func NewModule(cfg Config, pruner AuditPruner, breakers *resilience.Registry) *Module {
	return &Module{
		BaseModule: module.NewBaseModule(module.Descriptor{
			Name:     "housekeeping",
			Version:  "1.0.0",
			Priority: 9,
			Critical: false,
		}),
		cfg:      cfg.withDefaults(),
		pruner:   pruner,
		breakers: breakers,
	}
}

// Initialize schedules the jobs and starts the cron runner
func (m *Module) Initialize(ctx context.Context, cfg module.Config) error {
	m.cron = cron.New()

	if _, err := m.cron.AddFunc(m.cfg.PruneSchedule, m.pruneAudit); err != nil {
		return fmt.Errorf("schedule audit pruning: %w", err)
	}
	if _, err := m.cron.AddFunc(m.cfg.StatsSchedule, m.logBreakerStats); err != nil {
		return fmt.Errorf("schedule breaker stats: %w", err)
	}

	m.cron.Start()
	slog.Info("Housekeeping scheduled",
		"prune", m.cfg.PruneSchedule, "stats", m.cfg.StatsSchedule)
	return nil
}

func (m *Module) pruneAudit() {
	m.runs.Add(1)
	removed, err := m.pruner.PruneAudit(context.Background())
	if err != nil {
		m.failures.Add(1)
		slog.Error("Audit pruning failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("Audit entries pruned", "removed", removed)
	}
}

func (m *Module) logBreakerStats() {
	m.runs.Add(1)
	for target, stats := range m.breakers.AllStats() {
		slog.Info("Circuit breaker stats",
			"target", target,
			"state", string(stats.State),
			"requests", stats.Requests,
			"failures", stats.TotalFailures,
			"consecutive_failures", stats.ConsecutiveFailures)
	}
}

// Health reports whether the cron runner is alive
func (m *Module) Health(ctx context.Context) module.ComponentHealth {
	if m.cron == nil || m.Stopped() {
		return module.Unhealthy("housekeeping scheduler is not running")
	}

	health := module.Healthy("housekeeping scheduled")
	health.Metrics = map[string]any{
		"jobs": len(m.cron.Entries()),
		"runs": m.runs.Load(),
	}
	return health
}

// Shutdown stops the cron runner, waiting for any running job
func (m *Module) Shutdown(ctx context.Context) error {
	if m.Stopped() {
		return nil
	}
	m.Stop()
	if m.cron != nil {
		stopCtx := m.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
			return fmt.Errorf("housekeeping shutdown interrupted: %w", ctx.Err())
		}
	}
	return nil
}

// Metrics returns job counters
func (m *Module) Metrics() map[string]any {
	return map[string]any{
		"runs":     m.runs.Load(),
		"failures": m.failures.Load(),
	}
}

var _ module.Module = (*Module)(nil)
