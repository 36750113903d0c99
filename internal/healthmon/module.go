// Package healthmon implements the health monitor module: a timer-driven
// watcher that polls every other module's health through the module
// manager, keeps a bounded history, and raises rate-limited alerts when the
// system degrades.
package healthmon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go-warden/pkg/module"
)

// trendWindow is the lookback for trend-based self-health
const trendWindow = 10 * time.Minute

// HealthSource is the slice of the module manager the monitor needs
type HealthSource interface {
	SystemHealthExcluding(ctx context.Context, exclude ...string) module.SystemHealth
}

// Config holds health monitor configuration
type Config struct {
	// Interval between health check passes
	Interval time.Duration

	// HistorySize caps the result ring buffer
	HistorySize int

	// AlertCooldown is the minimum interval between repeated alerts for
	// the same key
	AlertCooldown time.Duration

	// UnhealthyAlertAfter is how long the system must be continuously
	// unhealthy before the system-level alert fires
	UnhealthyAlertAfter time.Duration

	// ConsecutiveFailureLimit is the consecutive unhealthy tick count past
	// which the monitor reports itself unhealthy
	ConsecutiveFailureLimit int

	// TrendLimit is the number of unhealthy ticks within the trend window
	// past which the monitor reports itself unhealthy
	TrendLimit int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = 5 * time.Minute
	}
	if c.UnhealthyAlertAfter <= 0 {
		c.UnhealthyAlertAfter = 5 * time.Minute
	}
	if c.ConsecutiveFailureLimit <= 0 {
		c.ConsecutiveFailureLimit = 3
	}
	if c.TrendLimit <= 0 {
		c.TrendLimit = 5
	}
	return c
}

// Module is the health monitor. It is itself an orchestrated module and
// excludes itself from the checks it runs to avoid recursion.
type Module struct {
	*module.BaseModule
	cfg    Config
	source HealthSource

	history *history
	alerts  *alerter

	running             atomic.Bool
	consecutiveFailures atomic.Int32
	ticks               atomic.Int64

	wg sync.WaitGroup
}

// NewModule creates the health monitor module
func NewModule(source HealthSource, notifier Notifier, cfg Config) *Module {
	cfg = cfg.withDefaults()
	return &Module{
		BaseModule: module.NewBaseModule(module.Descriptor{
			Name:     "health",
			Version:  "1.0.0",
			Priority: 2,
			Critical: true,
		}),
		cfg:     cfg,
		source:  source,
		history: newHistory(cfg.HistorySize),
		alerts:  newAlerter(notifier, cfg.AlertCooldown),
	}
}

// Initialize starts the periodic monitoring loop
func (m *Module) Initialize(ctx context.Context, cfg module.Config) error {
	if m.source == nil {
		return fmt.Errorf("health monitor requires a health source")
	}

	m.running.Store(true)
	m.wg.Add(1)
	go m.run()

	slog.Info("Health monitoring started", "interval", m.cfg.Interval)
	return nil
}

func (m *Module) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.StopChannel():
			return
		case <-ticker.C:
			m.tick(context.Background())
		}
	}
}

// tick runs one health check pass: aggregate, record, evaluate alerts
func (m *Module) tick(ctx context.Context) {
	start := time.Now()
	sys := m.source.SystemHealthExcluding(ctx, m.Name())
	m.ticks.Add(1)

	result := Result{
		Timestamp: start,
		Duration:  time.Since(start),
		Status:    sys.Overall.Status,
		Message:   sys.Overall.Message,
		Issues:    sys.Overall.Issues,
	}
	m.history.append(result)

	if sys.Overall.Status == module.StatusHealthy {
		m.consecutiveFailures.Store(0)
	} else {
		m.consecutiveFailures.Add(1)
	}

	m.evaluateAlerts(ctx, sys)
}

func (m *Module) evaluateAlerts(ctx context.Context, sys module.SystemHealth) {
	for name, health := range sys.Modules {
		if health.Status == module.StatusUnhealthy {
			m.alerts.raise(ctx, "module-unhealthy:"+name,
				fmt.Sprintf("Module %s is unhealthy: %s", name, health.Message))
		}
	}

	if sys.Overall.Status == module.StatusUnhealthy {
		if since := m.history.unhealthySince(time.Now()); since >= m.cfg.UnhealthyAlertAfter {
			m.alerts.raise(ctx, "system-unhealthy",
				fmt.Sprintf("System has been unhealthy for %s: %s",
					since.Round(time.Second), strings.Join(sys.Overall.Issues, "; ")))
		}
	}
}

// History returns a copy of the recorded health check results
func (m *Module) History() []Result {
	return m.history.snapshot()
}

// Health reports the monitor's own health: unhealthy when monitoring is not
// running, when consecutive failures exceed the limit, or when the recent
// trend shows too many unhealthy ticks
func (m *Module) Health(ctx context.Context) module.ComponentHealth {
	if !m.running.Load() {
		return module.Unhealthy("periodic monitoring is not running")
	}

	failures := m.consecutiveFailures.Load()
	if int(failures) > m.cfg.ConsecutiveFailureLimit {
		return module.Unhealthy(
			fmt.Sprintf("%d consecutive failed health passes", failures))
	}

	if trend := m.history.unhealthyCountSince(time.Now().Add(-trendWindow)); trend > m.cfg.TrendLimit {
		return module.Unhealthy(
			fmt.Sprintf("%d unhealthy passes in the last %s", trend, trendWindow))
	}

	health := module.Healthy("monitoring active")
	health.Metrics = map[string]any{
		"ticks":        m.ticks.Load(),
		"history_size": m.history.len(),
	}
	return health
}

// Shutdown stops the monitoring loop synchronously: once it returns, no
// further ticks fire
func (m *Module) Shutdown(ctx context.Context) error {
	if m.Stopped() {
		return nil
	}
	m.running.Store(false)
	m.Stop()
	m.wg.Wait()
	return nil
}

// Metrics returns monitor counters
func (m *Module) Metrics() map[string]any {
	sent, suppressed := m.alerts.counts()
	return map[string]any{
		"ticks":                m.ticks.Load(),
		"consecutive_failures": m.consecutiveFailures.Load(),
		"history_size":         m.history.len(),
		"alerts_sent":          sent,
		"alerts_suppressed":    suppressed,
	}
}

var _ module.Module = (*Module)(nil)
