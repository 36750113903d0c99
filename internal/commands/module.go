// Package commands implements the moderator command module: it registers
// the moderation commands on the gateway and executes them against the
// backend API, keeping an audit trail in MongoDB.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go-warden/internal/commands/models"
	"go-warden/internal/commands/services"
	"go-warden/internal/gateway"
	"go-warden/pkg/database"
	"go-warden/pkg/module"
	"go-warden/pkg/resilience"
	"go-warden/pkg/store"
)

// Registrar is the slice of the gateway module used to register commands
type Registrar interface {
	RegisterCommand(name string, handler gateway.CommandHandler)
}

// Config holds command module configuration
type Config struct {
	GuildID         string
	CommandCooldown time.Duration
	AuditRetention  time.Duration
}

// Module is the moderator command module
type Module struct {
	*module.BaseModule
	cfg       Config
	registrar Registrar
	service   *services.Service
	breakers  *resilience.Registry
}

// NewModule creates the commands module
func NewModule(cfg Config, registrar Registrar, api services.ModerationAPI, db *database.MongoDB,
	cooldowns *store.TTLMap, breakers *resilience.Registry) *Module {

	return &Module{
		BaseModule: module.NewBaseModule(module.Descriptor{
			Name:     "commands",
			Version:  "1.0.0",
			Priority: 4,
			Critical: false,
		}),
		cfg:       cfg,
		registrar: registrar,
		service:   services.NewService(api, db, cooldowns, cfg.CommandCooldown, cfg.GuildID),
		breakers:  breakers,
	}
}

// Initialize creates the audit indexes and registers the command handlers
func (m *Module) Initialize(ctx context.Context, cfg module.Config) error {
	if m.cfg.GuildID == "" {
		return fmt.Errorf("guild ID not configured")
	}

	if err := m.service.Initialize(ctx); err != nil {
		return err
	}

	m.registrar.RegisterCommand(models.CommandBan, m.service.Ban)
	m.registrar.RegisterCommand(models.CommandKick, m.service.Kick)
	m.registrar.RegisterCommand(models.CommandWarn, m.service.Warn)
	m.registrar.RegisterCommand(models.CommandCase, m.service.CaseLookup)

	slog.Info("Moderator commands registered",
		"commands", []string{models.CommandBan, models.CommandKick, models.CommandWarn, models.CommandCase})
	return nil
}

// Health derives the module's health from the state of the backend circuit
// breakers: an open breaker means the backend is effectively unreachable.
func (m *Module) Health(ctx context.Context) module.ComponentHealth {
	var open, halfOpen []string
	for target, stats := range m.breakers.AllStats() {
		if !strings.HasPrefix(target, "backend:") {
			continue
		}
		switch stats.State {
		case resilience.StateOpen:
			open = append(open, target)
		case resilience.StateHalfOpen:
			halfOpen = append(halfOpen, target)
		}
	}

	if len(open) > 0 {
		return module.Unhealthy("backend circuit open", open...)
	}
	if len(halfOpen) > 0 {
		return module.Degraded("backend circuit probing recovery", halfOpen...)
	}

	health := module.Healthy("command execution available")
	health.Metrics = m.service.Metrics()
	return health
}

// Shutdown stops the module
func (m *Module) Shutdown(ctx context.Context) error {
	m.Stop()
	return nil
}

// Metrics returns service counters
func (m *Module) Metrics() map[string]any {
	return m.service.Metrics()
}

// PruneAudit removes audit entries older than the configured retention.
// Called by the housekeeping module.
func (m *Module) PruneAudit(ctx context.Context) (int64, error) {
	retention := m.cfg.AuditRetention
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return m.service.PruneAudit(ctx, retention)
}

var _ module.Module = (*Module)(nil)
