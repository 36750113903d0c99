package module

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// State tracks a module's position in its lifecycle
type State string

const (
	StateRegistered   State = "registered"
	StateInitializing State = "initializing"
	StateInitialized  State = "initialized"
	StateFailed       State = "failed"
	StateShuttingDown State = "shutting_down"
	StateShutdown     State = "shutdown"
)

// Manager registers modules, drives sequential initialization in priority
// order with fail-fast on critical failures, aggregates health concurrently,
// and tears modules down in reverse initialization order.
type Manager struct {
	mu       sync.RWMutex
	modules  map[string]Module
	states   map[string]State
	settings map[string]Config
	// initOrder records the realized order of successful initializations;
	// shutdown walks it in reverse
	initOrder []string
	initErrs  map[string]error

	shutdownRequested atomic.Bool
	shutdownOnce      sync.Once

	healthTimeout time.Duration
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithHealthTimeout bounds each individual health check during aggregation
func WithHealthTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.healthTimeout = d
		}
	}
}

// NewManager creates a module manager. Settings map module names to their
// configuration; modules absent from the map run enabled with no options.
func NewManager(settings map[string]Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		modules:       make(map[string]Module),
		states:        make(map[string]State),
		settings:      settings,
		initErrs:      make(map[string]error),
		healthTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a module to the registry. Duplicate names are rejected.
func (m *Manager) Register(mod Module) error {
	name := mod.Descriptor().Name
	if name == "" {
		return fmt.Errorf("module descriptor has empty name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.modules[name]; exists {
		return fmt.Errorf("register module %q: %w", name, ErrDuplicateModule)
	}

	m.modules[name] = mod
	m.states[name] = StateRegistered
	slog.Info("Module registered",
		"module", name,
		"version", mod.Descriptor().Version,
		"priority", mod.Descriptor().Priority,
		"critical", mod.Descriptor().Critical)
	return nil
}

// configFor resolves the effective configuration for a module
func (m *Manager) configFor(name string) Config {
	if cfg, ok := m.settings[name]; ok {
		return cfg
	}
	return Config{Enabled: true}
}

// initOrderPlan computes the planned initialization order: enabled modules
// sorted by ascending priority, ties broken lexicographically by name.
func (m *Manager) initOrderPlan() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name := range m.settings {
		if _, ok := m.modules[name]; !ok {
			return nil, fmt.Errorf("configured module %q: %w", name, ErrUnknownModule)
		}
	}

	names := make([]string, 0, len(m.modules))
	for name := range m.modules {
		if m.configFor(name).Enabled {
			names = append(names, name)
		}
	}

	sort.Slice(names, func(i, j int) bool {
		pi := m.modules[names[i]].Descriptor().Priority
		pj := m.modules[names[j]].Descriptor().Priority
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})

	return names, nil
}

// InitializeModules initializes all enabled modules sequentially. A critical
// module's failure aborts the sequence; a non-critical failure is recorded
// and initialization continues. A concurrent shutdown request halts
// admission of further modules.
func (m *Manager) InitializeModules(ctx context.Context) error {
	plan, err := m.initOrderPlan()
	if err != nil {
		return err
	}

	slog.Info("Initializing modules", "count", len(plan), "order", plan)

	for _, name := range plan {
		if m.shutdownRequested.Load() {
			slog.Warn("Module initialization halted by shutdown request", "remaining_from", name)
			return ErrShutdownRequested
		}

		m.mu.Lock()
		mod := m.modules[name]
		cfg := m.configFor(name)
		m.states[name] = StateInitializing
		m.mu.Unlock()

		start := time.Now()
		initErr := safeInitialize(ctx, mod, cfg)

		if initErr != nil {
			m.mu.Lock()
			m.states[name] = StateFailed
			m.initErrs[name] = initErr
			m.mu.Unlock()

			if mod.Descriptor().Critical {
				slog.Error("Critical module failed to initialize, aborting startup",
					"module", name, "error", initErr)
				return &InitError{Module: name, Critical: true, Err: initErr}
			}

			slog.Error("Non-critical module failed to initialize, continuing",
				"module", name, "error", initErr)
			continue
		}

		m.mu.Lock()
		m.states[name] = StateInitialized
		m.initOrder = append(m.initOrder, name)
		m.mu.Unlock()

		slog.Info("Module initialized", "module", name, "duration", time.Since(start))
	}

	return nil
}

// safeInitialize invokes Initialize, converting a panic into an error so
// one misbehaving module cannot take down the orchestrator.
func safeInitialize(ctx context.Context, mod Module, cfg Config) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("initialize panicked: %v", r)
		}
	}()
	return mod.Initialize(ctx, cfg)
}

// SystemHealth aggregates health across all initialized modules
func (m *Manager) SystemHealth(ctx context.Context) SystemHealth {
	return m.SystemHealthExcluding(ctx)
}

// SystemHealthExcluding aggregates health across all initialized modules
// except the named ones. Health checks fan out concurrently; a check that
// panics is converted in place to an unhealthy result so one broken module
// never blanks out the others. The call waits for every outcome.
func (m *Manager) SystemHealthExcluding(ctx context.Context, exclude ...string) SystemHealth {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}

	m.mu.RLock()
	targets := make(map[string]Module)
	for _, name := range m.initOrder {
		if m.states[name] == StateInitialized && !excluded[name] {
			targets[name] = m.modules[name]
		}
	}
	m.mu.RUnlock()

	result := SystemHealth{
		Modules:   make(map[string]ComponentHealth, len(targets)),
		Timestamp: time.Now(),
	}

	type namedHealth struct {
		name   string
		health ComponentHealth
	}

	var wg sync.WaitGroup
	healthCh := make(chan namedHealth, len(targets))

	for name, mod := range targets {
		wg.Add(1)
		go func(name string, mod Module) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, m.healthTimeout)
			defer cancel()
			healthCh <- namedHealth{name: name, health: safeHealth(checkCtx, mod)}
		}(name, mod)
	}

	go func() {
		wg.Wait()
		close(healthCh)
	}()

	overall := StatusHealthy
	var issues []string
	for nh := range healthCh {
		result.Modules[nh.name] = nh.health
		overall = overall.Worse(nh.health.Status)
		if nh.health.Status != StatusHealthy {
			issues = append(issues, fmt.Sprintf("%s: %s", nh.name, nh.health.Message))
		}
	}

	if len(targets) == 0 {
		result.Overall = Unhealthy("no initialized modules")
		return result
	}

	message := fmt.Sprintf("%d modules checked", len(targets))
	result.Overall = ComponentHealth{
		Status:      overall,
		Message:     message,
		LastChecked: time.Now(),
		Issues:      issues,
	}
	return result
}

// safeHealth invokes Health and measures its response time, converting a
// panic into an unhealthy result
func safeHealth(ctx context.Context, mod Module) (health ComponentHealth) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			health = Unhealthy(fmt.Sprintf("health check panicked: %v", r))
			health.ResponseTime = time.Since(start)
		}
	}()
	health = mod.Health(ctx)
	health.ResponseTime = time.Since(start)
	return health
}

// ShutdownModules shuts down all initialized modules in reverse
// initialization order. Idempotent against duplicate or concurrent calls;
// one module's failure never blocks teardown of the rest.
func (m *Manager) ShutdownModules(ctx context.Context) {
	m.shutdownRequested.Store(true)

	m.shutdownOnce.Do(func() {
		m.mu.RLock()
		order := make([]string, len(m.initOrder))
		copy(order, m.initOrder)
		m.mu.RUnlock()

		slog.Info("Shutting down modules", "count", len(order))

		for i := len(order) - 1; i >= 0; i-- {
			name := order[i]

			m.mu.Lock()
			mod := m.modules[name]
			m.states[name] = StateShuttingDown
			m.mu.Unlock()

			if err := safeShutdown(ctx, mod); err != nil {
				slog.Error("Module shutdown failed, continuing teardown", "module", name, "error", err)
			} else {
				slog.Info("Module shut down", "module", name)
			}

			m.mu.Lock()
			m.states[name] = StateShutdown
			m.mu.Unlock()
		}
	})
}

func safeShutdown(ctx context.Context, mod Module) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("shutdown panicked: %v", r)
		}
	}()
	return mod.Shutdown(ctx)
}

// ModuleMetrics collects metrics from every initialized module. Best-effort:
// a failing module yields an error placeholder, not an abort.
func (m *Manager) ModuleMetrics() map[string]map[string]any {
	m.mu.RLock()
	targets := make(map[string]Module)
	for _, name := range m.initOrder {
		if m.states[name] == StateInitialized {
			targets[name] = m.modules[name]
		}
	}
	m.mu.RUnlock()

	metrics := make(map[string]map[string]any, len(targets))
	for name, mod := range targets {
		metrics[name] = safeMetrics(mod)
	}
	return metrics
}

func safeMetrics(mod Module) (metrics map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			metrics = map[string]any{"error": fmt.Sprintf("metrics panicked: %v", r)}
		}
	}()
	return mod.Metrics()
}

// InitializedModules returns the realized initialization order
func (m *Manager) InitializedModules() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order := make([]string, len(m.initOrder))
	copy(order, m.initOrder)
	return order
}

// ModuleState returns the lifecycle state of a registered module
func (m *Manager) ModuleState(name string) (State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[name]
	return state, ok
}

// InitErrors returns recorded initialization failures by module name
func (m *Manager) InitErrors() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	errs := make(map[string]error, len(m.initErrs))
	for name, err := range m.initErrs {
		errs[name] = err
	}
	return errs
}
