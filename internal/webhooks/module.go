// Package webhooks implements the alert webhook ingest module: external
// monitoring systems POST alerts here and the module relays them into chat
// channels through the gateway.
package webhooks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go-warden/internal/webhooks/routes"
	"go-warden/internal/webhooks/services"
	"go-warden/pkg/database"
	"go-warden/pkg/module"
	"go-warden/pkg/store"

	"github.com/danielgtaylor/huma/v2"
)

// recentFailureWindow is how long a relay failure keeps the module degraded
const recentFailureWindow = 2 * time.Minute

// Config holds webhook module configuration
type Config struct {
	// Token is the shared secret senders present in X-Warden-Token
	Token string

	// DefaultChannel receives alerts that carry no channel override
	DefaultChannel string

	// DedupeTTL is the delivery de-duplication window
	DedupeTTL time.Duration
}

// Module is the webhook ingest module
type Module struct {
	*module.BaseModule
	cfg     Config
	service *services.Service
	routes  *routes.Routes
}

// NewModule creates the webhooks module. Redis is optional.
func NewModule(cfg Config, sender services.Sender, redis *database.Redis, local *store.TTLMap) *Module {
	service := services.NewService(sender, redis, local, cfg.DefaultChannel, cfg.DedupeTTL)
	return &Module{
		BaseModule: module.NewBaseModule(module.Descriptor{
			Name:     "webhooks",
			Version:  "1.0.0",
			Priority: 3,
			Critical: false,
		}),
		cfg:     cfg,
		service: service,
		routes:  routes.NewRoutes(service, cfg.Token),
	}
}

// RegisterUnifiedRoutes registers the module's routes on the shared Huma API
func (m *Module) RegisterUnifiedRoutes(api huma.API, basePath string) {
	m.routes.RegisterUnifiedRoutes(api, basePath)
}

// Initialize validates configuration
func (m *Module) Initialize(ctx context.Context, cfg module.Config) error {
	if m.cfg.Token == "" {
		return fmt.Errorf("webhook token not configured")
	}
	if m.cfg.DefaultChannel == "" {
		return fmt.Errorf("default alert channel not configured")
	}
	slog.Info("Webhook ingest ready", "default_channel", m.cfg.DefaultChannel)
	return nil
}

// Health reports degraded while relays are recently failing
func (m *Module) Health(ctx context.Context) module.ComponentHealth {
	if last := m.service.LastRelayFailure(); !last.IsZero() && time.Since(last) < recentFailureWindow {
		return module.Degraded(
			fmt.Sprintf("alert relay failing, last failure %s ago", time.Since(last).Round(time.Second)))
	}

	health := module.Healthy("webhook ingest running")
	health.Metrics = m.service.Metrics()
	return health
}

// Shutdown stops the module. The HTTP server owning the routes is shut
// down by the bootstrap, so there is nothing to tear down here.
func (m *Module) Shutdown(ctx context.Context) error {
	m.Stop()
	return nil
}

// Metrics returns service counters
func (m *Module) Metrics() map[string]any {
	return m.service.Metrics()
}

var _ module.Module = (*Module)(nil)
