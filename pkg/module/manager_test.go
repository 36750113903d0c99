package module

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeModule is a scriptable Module implementation for manager tests
type fakeModule struct {
	desc Descriptor

	initErr   error
	initPanic bool
	health    ComponentHealth
	healthFn  func(ctx context.Context) ComponentHealth

	mu        sync.Mutex
	initCount int
	downCount int
	log       *[]string
}

func newFakeModule(name string, priority int, critical bool) *fakeModule {
	return &fakeModule{
		desc:   Descriptor{Name: name, Version: "1.0.0", Priority: priority, Critical: critical},
		health: Healthy("ok"),
	}
}

func (f *fakeModule) Descriptor() Descriptor { return f.desc }

func (f *fakeModule) Initialize(ctx context.Context, cfg Config) error {
	f.mu.Lock()
	f.initCount++
	if f.log != nil {
		*f.log = append(*f.log, "init:"+f.desc.Name)
	}
	f.mu.Unlock()
	if f.initPanic {
		panic("boom")
	}
	return f.initErr
}

func (f *fakeModule) Health(ctx context.Context) ComponentHealth {
	if f.healthFn != nil {
		return f.healthFn(ctx)
	}
	return f.health
}

func (f *fakeModule) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	f.downCount++
	if f.log != nil {
		*f.log = append(*f.log, "down:"+f.desc.Name)
	}
	f.mu.Unlock()
	return nil
}

func (f *fakeModule) Metrics() map[string]any {
	return map[string]any{"module": f.desc.Name}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	m := NewManager(nil)

	if err := m.Register(newFakeModule("gateway", 1, true)); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	err := m.Register(newFakeModule("gateway", 2, false))
	if !errors.Is(err, ErrDuplicateModule) {
		t.Fatalf("expected ErrDuplicateModule, got %v", err)
	}
}

func TestInitializeOrderByPriorityThenName(t *testing.T) {
	var log []string
	mods := []*fakeModule{
		newFakeModule("commands", 4, false),
		newFakeModule("gateway", 1, true),
		newFakeModule("webhooks", 3, false),
		newFakeModule("health", 2, true),
		newFakeModule("audit", 3, false), // ties with webhooks, name breaks the tie
	}
	m := NewManager(nil)
	for _, mod := range mods {
		mod.log = &log
		if err := m.Register(mod); err != nil {
			t.Fatalf("register %s: %v", mod.desc.Name, err)
		}
	}

	if err := m.InitializeModules(context.Background()); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	want := []string{"init:gateway", "init:health", "init:audit", "init:webhooks", "init:commands"}
	if len(log) != len(want) {
		t.Fatalf("init log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("init log = %v, want %v", log, want)
		}
	}
}

func TestCriticalInitFailureAborts(t *testing.T) {
	var log []string
	gateway := newFakeModule("gateway", 1, true)
	gateway.initErr = errors.New("dial refused")
	gateway.log = &log
	commands := newFakeModule("commands", 4, false)
	commands.log = &log

	m := NewManager(nil)
	for _, mod := range []Module{gateway, commands} {
		if err := m.Register(mod); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	err := m.InitializeModules(context.Background())
	var initErr *InitError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected *InitError, got %v", err)
	}
	if initErr.Module != "gateway" || !initErr.Critical {
		t.Fatalf("unexpected InitError: %+v", initErr)
	}
	if commands.initCount != 0 {
		t.Fatal("module after the critical failure should not have been initialized")
	}
	if state, _ := m.ModuleState("gateway"); state != StateFailed {
		t.Fatalf("gateway state = %s, want %s", state, StateFailed)
	}
}

func TestNonCriticalInitFailureContinues(t *testing.T) {
	webhooks := newFakeModule("webhooks", 3, false)
	webhooks.initErr = errors.New("token missing")
	commands := newFakeModule("commands", 4, false)

	m := NewManager(nil)
	for _, mod := range []Module{webhooks, commands} {
		if err := m.Register(mod); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if err := m.InitializeModules(context.Background()); err != nil {
		t.Fatalf("initialize should tolerate non-critical failures, got %v", err)
	}
	if commands.initCount != 1 {
		t.Fatal("commands should still have been initialized")
	}
	if _, ok := m.InitErrors()["webhooks"]; !ok {
		t.Fatal("expected a recorded init error for webhooks")
	}

	// A failed module never enters the health aggregation set.
	health := m.SystemHealth(context.Background())
	if _, ok := health.Modules["webhooks"]; ok {
		t.Fatal("failed module should be excluded from system health")
	}
}

func TestInitPanicIsConvertedToError(t *testing.T) {
	bad := newFakeModule("housekeeping", 9, false)
	bad.initPanic = true

	m := NewManager(nil)
	if err := m.Register(bad); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.InitializeModules(context.Background()); err != nil {
		t.Fatalf("panicking non-critical module should not abort: %v", err)
	}
	if state, _ := m.ModuleState("housekeeping"); state != StateFailed {
		t.Fatalf("state = %s, want %s", state, StateFailed)
	}
}

func TestUnknownConfiguredModule(t *testing.T) {
	m := NewManager(map[string]Config{"ghost": {Enabled: true}})
	err := m.InitializeModules(context.Background())
	if !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
}

func TestDisabledModuleSkipped(t *testing.T) {
	gateway := newFakeModule("gateway", 1, true)
	housekeeping := newFakeModule("housekeeping", 9, false)

	m := NewManager(map[string]Config{
		"gateway":      {Enabled: true},
		"housekeeping": {Enabled: false},
	})
	for _, mod := range []Module{gateway, housekeeping} {
		if err := m.Register(mod); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if err := m.InitializeModules(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if housekeeping.initCount != 0 {
		t.Fatal("disabled module should not be initialized")
	}
}

func TestSystemHealthWorstOf(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]ComponentHealth
		want     Status
	}{
		{
			name: "all healthy",
			statuses: map[string]ComponentHealth{
				"a": Healthy("ok"), "b": Healthy("ok"),
			},
			want: StatusHealthy,
		},
		{
			name: "one degraded",
			statuses: map[string]ComponentHealth{
				"a": Healthy("ok"), "b": Degraded("slow"),
			},
			want: StatusDegraded,
		},
		{
			name: "unhealthy beats degraded",
			statuses: map[string]ComponentHealth{
				"a": Degraded("slow"), "b": Unhealthy("down"), "c": Healthy("ok"),
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nil)
			priority := 1
			for name, health := range tt.statuses {
				mod := newFakeModule(name, priority, false)
				mod.health = health
				priority++
				if err := m.Register(mod); err != nil {
					t.Fatalf("register: %v", err)
				}
			}
			if err := m.InitializeModules(context.Background()); err != nil {
				t.Fatalf("initialize: %v", err)
			}

			result := m.SystemHealth(context.Background())
			if result.Overall.Status != tt.want {
				t.Fatalf("overall = %s, want %s", result.Overall.Status, tt.want)
			}
			if len(result.Modules) != len(tt.statuses) {
				t.Fatalf("modules reported = %d, want %d", len(result.Modules), len(tt.statuses))
			}
		})
	}
}

func TestSystemHealthNoModules(t *testing.T) {
	m := NewManager(nil)
	result := m.SystemHealth(context.Background())
	if result.Overall.Status != StatusUnhealthy {
		t.Fatalf("empty system should be unhealthy, got %s", result.Overall.Status)
	}
}

func TestSystemHealthPanicConverted(t *testing.T) {
	good := newFakeModule("gateway", 1, true)
	bad := newFakeModule("commands", 4, false)
	bad.healthFn = func(ctx context.Context) ComponentHealth {
		panic("nil map write")
	}

	m := NewManager(nil)
	for _, mod := range []Module{good, bad} {
		if err := m.Register(mod); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := m.InitializeModules(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	result := m.SystemHealth(context.Background())
	if result.Modules["commands"].Status != StatusUnhealthy {
		t.Fatalf("panicking check should report unhealthy, got %s", result.Modules["commands"].Status)
	}
	if result.Modules["gateway"].Status != StatusHealthy {
		t.Fatal("healthy module result should survive a sibling panic")
	}
	if result.Overall.Status != StatusUnhealthy {
		t.Fatalf("overall = %s, want %s", result.Overall.Status, StatusUnhealthy)
	}
}

func TestSystemHealthExcluding(t *testing.T) {
	gateway := newFakeModule("gateway", 1, true)
	health := newFakeModule("health", 2, true)
	health.health = Unhealthy("self check must not count")

	m := NewManager(nil)
	for _, mod := range []Module{gateway, health} {
		if err := m.Register(mod); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := m.InitializeModules(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	result := m.SystemHealthExcluding(context.Background(), "health")
	if _, ok := result.Modules["health"]; ok {
		t.Fatal("excluded module should not appear in results")
	}
	if result.Overall.Status != StatusHealthy {
		t.Fatalf("overall = %s, want %s", result.Overall.Status, StatusHealthy)
	}
}

func TestShutdownReverseOrderAndIdempotent(t *testing.T) {
	var log []string
	mods := []*fakeModule{
		newFakeModule("gateway", 1, true),
		newFakeModule("health", 2, true),
		newFakeModule("webhooks", 3, false),
		newFakeModule("commands", 4, false),
	}
	m := NewManager(nil)
	for _, mod := range mods {
		mod.log = &log
		if err := m.Register(mod); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := m.InitializeModules(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	log = nil
	m.ShutdownModules(context.Background())
	m.ShutdownModules(context.Background())

	want := []string{"down:commands", "down:webhooks", "down:health", "down:gateway"}
	if len(log) != len(want) {
		t.Fatalf("shutdown log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("shutdown log = %v, want %v", log, want)
		}
	}
	for _, mod := range mods {
		if mod.downCount != 1 {
			t.Fatalf("%s shut down %d times, want 1", mod.desc.Name, mod.downCount)
		}
	}
}

func TestShutdownRequestHaltsInitialization(t *testing.T) {
	m := NewManager(nil)

	first := newFakeModule("gateway", 1, true)
	second := newFakeModule("commands", 4, false)

	// The first module's Initialize triggers a shutdown request, simulating
	// a signal arriving mid-startup.
	blocker := &hookModule{
		fakeModule: first,
		hook: func() {
			m.shutdownRequested.Store(true)
		},
	}

	for _, mod := range []Module{blocker, second} {
		if err := m.Register(mod); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	err := m.InitializeModules(context.Background())
	if !errors.Is(err, ErrShutdownRequested) {
		t.Fatalf("expected ErrShutdownRequested, got %v", err)
	}
	if second.initCount != 0 {
		t.Fatal("module after the shutdown request should not initialize")
	}
}

// hookModule runs a callback after delegating Initialize
type hookModule struct {
	*fakeModule
	hook func()
}

func (h *hookModule) Initialize(ctx context.Context, cfg Config) error {
	err := h.fakeModule.Initialize(ctx, cfg)
	h.hook()
	return err
}

func TestModuleMetricsSurvivesPanic(t *testing.T) {
	good := newFakeModule("gateway", 1, true)
	bad := &panicMetricsModule{fakeModule: newFakeModule("commands", 4, false)}

	m := NewManager(nil)
	for _, mod := range []Module{good, bad} {
		if err := m.Register(mod); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := m.InitializeModules(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	metrics := m.ModuleMetrics()
	if metrics["gateway"]["module"] != "gateway" {
		t.Fatalf("unexpected gateway metrics: %v", metrics["gateway"])
	}
	if _, ok := metrics["commands"]["error"]; !ok {
		t.Fatalf("expected error placeholder for panicking metrics, got %v", metrics["commands"])
	}
}

type panicMetricsModule struct {
	*fakeModule
}

func (p *panicMetricsModule) Metrics() map[string]any {
	panic("metrics exploded")
}

func TestHealthCheckTimeoutBounded(t *testing.T) {
	slow := newFakeModule("gateway", 1, true)
	slow.healthFn = func(ctx context.Context) ComponentHealth {
		select {
		case <-ctx.Done():
			return Unhealthy("check timed out")
		case <-time.After(2 * time.Second):
			return Healthy("ok")
		}
	}

	m := NewManager(nil, WithHealthTimeout(50*time.Millisecond))
	if err := m.Register(slow); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.InitializeModules(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	start := time.Now()
	result := m.SystemHealth(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("aggregation took %v, should be bounded by the health timeout", elapsed)
	}
	if result.Modules["gateway"].Status != StatusUnhealthy {
		t.Fatalf("slow check should observe cancellation, got %s", result.Modules["gateway"].Status)
	}
}

func TestWorse(t *testing.T) {
	if got := StatusHealthy.Worse(StatusDegraded); got != StatusDegraded {
		t.Fatalf("got %s", got)
	}
	if got := StatusDegraded.Worse(StatusUnhealthy); got != StatusUnhealthy {
		t.Fatalf("got %s", got)
	}
	if got := StatusUnhealthy.Worse(StatusHealthy); got != StatusUnhealthy {
		t.Fatalf("got %s", got)
	}
	if got := Status("garbage").severity(); got != 2 {
		t.Fatalf("unknown status severity = %d, want 2", got)
	}
}
