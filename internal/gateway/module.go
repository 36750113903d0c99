// Package gateway maintains the bot's persistent connection to the chat
// platform gateway. It publishes messages into channels on behalf of the
// other modules and dispatches inbound moderator commands to registered
// handlers.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go-warden/pkg/module"
)

// Event is an inbound chat message
type Event struct {
	Channel string
	Author  string
	Content string
}

// CommandHandler handles one parsed moderator command and returns the reply
// to post back into the channel
type CommandHandler func(ctx context.Context, ev Event, args []string) (string, error)

// Config holds gateway connection configuration
type Config struct {
	URL               string
	Token             string
	CommandPrefix     string
	DialTimeout       time.Duration
	HeartbeatInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.CommandPrefix == "" {
		c.CommandPrefix = "!"
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	return c
}

// Module is the chat gateway connectivity module
type Module struct {
	*module.BaseModule
	cfg Config

	mu      sync.Mutex // guards conn
	conn    connIface
	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string]CommandHandler

	connected    atomic.Bool
	reconnecting atomic.Bool
	lastActivity atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup

	messagesSent   atomic.Int64
	messagesFailed atomic.Int64
	eventsReceived atomic.Int64
	reconnects     atomic.Int64
	commandErrors  atomic.Int64
}

// NewModule creates the gateway module
func NewModule(cfg Config) *Module {
	return &Module{
		BaseModule: module.NewBaseModule(module.Descriptor{
			Name:     "gateway",
			Version:  "1.0.0",
			Priority: 1,
			Critical: true,
		}),
		cfg:      cfg.withDefaults(),
		handlers: make(map[string]CommandHandler),
	}
}

// Initialize dials the gateway and starts the read and heartbeat loops.
// The bot cannot serve without its gateway connection, so a failed bring-up
// is a hard error.
func (m *Module) Initialize(ctx context.Context, cfg module.Config) error {
	if m.cfg.URL == "" {
		return fmt.Errorf("gateway URL not configured")
	}

	conn, err := m.dialAndIdentify(ctx)
	if err != nil {
		return fmt.Errorf("gateway bring-up: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.connected.Store(true)

	// Background loops outlive the init context
	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(2)
	go m.readLoop(loopCtx)
	go m.heartbeatLoop(loopCtx)

	slog.Info("Gateway connected", "url", m.cfg.URL)
	return nil
}

// RegisterCommand registers a handler for a moderator command name
func (m *Module) RegisterCommand(name string, handler CommandHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers[name] = handler
}

// Send publishes a message into a channel
func (m *Module) Send(ctx context.Context, channel, content string) error {
	if !m.connected.Load() {
		m.messagesFailed.Add(1)
		return fmt.Errorf("gateway disconnected")
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		m.messagesFailed.Add(1)
		return fmt.Errorf("gateway disconnected")
	}

	m.writeMu.Lock()
	err := conn.WriteJSON(frame{Op: "message", Channel: channel, Content: content})
	m.writeMu.Unlock()
	if err != nil {
		m.messagesFailed.Add(1)
		return fmt.Errorf("send to channel %s: %w", channel, err)
	}

	m.messagesSent.Add(1)
	return nil
}

// Connected reports whether the gateway connection is live
func (m *Module) Connected() bool {
	return m.connected.Load()
}

// Health reports the connection state: unhealthy when disconnected,
// degraded while reconnecting or when the heartbeat has gone stale
func (m *Module) Health(ctx context.Context) module.ComponentHealth {
	if !m.connected.Load() {
		if m.reconnecting.Load() {
			return module.Degraded("reconnecting to gateway")
		}
		return module.Unhealthy("gateway disconnected")
	}
	if stale := m.sinceLastActivity(); stale > 3*m.cfg.HeartbeatInterval {
		return module.Degraded(fmt.Sprintf("gateway heartbeat stale for %s", stale.Round(time.Second)))
	}

	health := module.Healthy("gateway connected")
	health.Metrics = map[string]any{
		"reconnects":      m.reconnects.Load(),
		"events_received": m.eventsReceived.Load(),
	}
	return health
}

// Shutdown stops the loops and closes the connection. Idempotent.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.Stopped() {
		return nil
	}
	m.Stop()
	if m.cancel != nil {
		m.cancel()
	}
	m.closeConn()
	m.wg.Wait()
	return nil
}

// Metrics returns gateway counters
func (m *Module) Metrics() map[string]any {
	return map[string]any{
		"connected":       m.connected.Load(),
		"messages_sent":   m.messagesSent.Load(),
		"messages_failed": m.messagesFailed.Load(),
		"events_received": m.eventsReceived.Load(),
		"reconnects":      m.reconnects.Load(),
		"command_errors":  m.commandErrors.Load(),
	}
}

var _ module.Module = (*Module)(nil)
