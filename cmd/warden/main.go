package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go-warden/internal/commands"
	"go-warden/internal/gateway"
	"go-warden/internal/healthmon"
	"go-warden/internal/housekeeping"
	"go-warden/internal/webhooks"
	"go-warden/pkg/app"
	"go-warden/pkg/backend"
	"go-warden/pkg/config"
	"go-warden/pkg/module"
	"go-warden/pkg/resilience"
	"go-warden/pkg/store"
	"go-warden/pkg/version"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "go.uber.org/automaxprocs"
)

// customLoggerMiddleware logs requests but excludes health check endpoints
func customLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip logging for health check endpoints
		if strings.HasSuffix(r.URL.Path, "/health") {
			next.ServeHTTP(w, r)
			return
		}

		middleware.Logger(next).ServeHTTP(w, r)
	})
}

func main() {
	displayBanner()

	versionInfo := version.Get()
	log.Printf("Version: %s | Build: %s", version.GetVersionString(), versionInfo.BuildDate)
	log.Printf("CPUs: %d | GOMAXPROCS: %d", runtime.NumCPU(), runtime.GOMAXPROCS(0))

	ctx := context.Background()

	// Initialize application with shared components
	appCtx, err := app.InitializeApp("warden")
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	log.Printf("Memory: %s heap | %s total", formatBytes(m.HeapAlloc), formatBytes(m.Sys))
	printMemoryLimits()

	thresholds := config.GetThresholds()

	// Shared resilience layer: one breaker registry for all backend routes,
	// one retrying caller on top of it.
	breakers := resilience.NewRegistry(resilience.BreakerConfig{
		FailureThreshold: uint32(thresholds.BreakerFailureThreshold),
		Cooldown:         thresholds.BreakerCooldown,
	})
	retryCfg := resilience.RetryConfig{
		MaxRetries:        thresholds.MaxRetries,
		BaseDelay:         thresholds.RetryBaseDelay,
		BackoffMultiplier: thresholds.BackoffMultiplier,
		RequestTimeout:    thresholds.RequestTimeout,
	}

	backendClient := backend.NewClient(backend.Config{
		BaseURL:     config.GetEnv("BACKEND_URL", "http://localhost:9000"),
		TokenSecret: config.GetEnv("BACKEND_TOKEN_SECRET", ""),
		TokenIssuer: config.GetEnv("BACKEND_TOKEN_ISSUER", "warden"),
	}, breakers, retryCfg)

	// In-process TTL store, shared by command cooldowns and the webhook
	// dedupe fallback when Redis is unavailable
	ttlStore := store.NewTTLMap(time.Minute)
	defer ttlStore.Close()

	alertChannel := config.GetEnv("ALERT_CHANNEL", "mod-alerts")

	// Modules
	gatewayModule := gateway.NewModule(gateway.Config{
		URL:               config.GetEnv("GATEWAY_URL", "ws://localhost:9001/gateway"),
		Token:             config.GetEnv("GATEWAY_TOKEN", ""),
		CommandPrefix:     config.GetEnv("COMMAND_PREFIX", "!"),
		HeartbeatInterval: config.GetDurationEnv("GATEWAY_HEARTBEAT_INTERVAL", 15*time.Second),
	})

	commandsModule := commands.NewModule(commands.Config{
		GuildID:         config.GetEnv("GUILD_ID", ""),
		CommandCooldown: config.GetDurationEnv("COMMAND_COOLDOWN", 5*time.Second),
		AuditRetention:  config.GetDurationEnv("AUDIT_RETENTION", 90*24*time.Hour),
	}, gatewayModule, backendClient, appCtx.MongoDB, ttlStore, breakers)

	webhooksModule := webhooks.NewModule(webhooks.Config{
		Token:          config.GetEnv("WEBHOOK_TOKEN", ""),
		DefaultChannel: alertChannel,
		DedupeTTL:      config.GetDurationEnv("WEBHOOK_DEDUPE_TTL", time.Hour),
	}, gatewayModule, appCtx.Redis, ttlStore)

	housekeepingModule := housekeeping.NewModule(housekeeping.Config{
		PruneSchedule: config.GetEnv("AUDIT_PRUNE_SCHEDULE", "@daily"),
		StatsSchedule: config.GetEnv("BREAKER_STATS_SCHEDULE", "@hourly"),
	}, commandsModule, breakers)

	// Module lifecycle manager
	settings := make(map[string]module.Config)
	for name, setting := range config.ModuleSettings() {
		settings[name] = module.Config{Enabled: setting.Enabled, Options: setting.Options}
	}
	manager := module.NewManager(settings, module.WithHealthTimeout(thresholds.HealthCheckTimeout))

	// The health monitor watches the other modules through the manager and
	// raises alerts into the moderator alert channel
	healthModule := healthmon.NewModule(manager,
		healthmon.NotifierFunc(func(ctx context.Context, key, message string) error {
			return gatewayModule.Send(ctx, alertChannel, message)
		}),
		healthmon.Config{
			Interval:                thresholds.HealthCheckInterval,
			HistorySize:             thresholds.HistorySize,
			AlertCooldown:           thresholds.AlertCooldown,
			UnhealthyAlertAfter:     thresholds.UnhealthyAlertAfter,
			ConsecutiveFailureLimit: thresholds.ConsecutiveFailureLimit,
			TrendLimit:              thresholds.UnhealthyTrendLimit,
		})

	for _, mod := range []module.Module{
		gatewayModule, healthModule, webhooksModule, commandsModule, housekeepingModule,
	} {
		if err := manager.Register(mod); err != nil {
			log.Fatalf("Failed to register module: %v", err)
		}
	}

	// Initialize Chi router
	r := chi.NewRouter()

	r.Use(customLoggerMiddleware) // Custom logger that excludes health checks
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", healthHandler(manager))
	r.Get("/metrics", metricsHandler(manager, breakers))

	// Unified Huma API with configurable prefix
	apiPrefix := config.GetAPIPrefix()
	humaConfig := huma.DefaultConfig("Warden Moderation API", versionInfo.Version)
	humaConfig.Info.Description = "Chat platform moderation bot with modular architecture"

	var unifiedAPI huma.API
	if apiPrefix == "" {
		unifiedAPI = humachi.New(r, humaConfig)
	} else {
		r.Route(apiPrefix, func(prefixRouter chi.Router) {
			unifiedAPI = humachi.New(prefixRouter, humaConfig)
		})
	}

	webhooksModule.RegisterUnifiedRoutes(unifiedAPI, "")

	// Bring the modules up in priority order. A critical module failing to
	// initialize aborts startup.
	if err := manager.InitializeModules(ctx); err != nil {
		slog.Error("Module initialization failed", "error", err)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		manager.ShutdownModules(shutdownCtx)
		appCtx.Shutdown(shutdownCtx)
		cancel()
		os.Exit(1)
	}

	// HTTP server setup
	port := app.GetPort("8080")
	host := config.GetHost()

	srv := &http.Server{
		Addr:         host + ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if host == "0.0.0.0" {
		log.Printf("Server: http://localhost:%s%s | OpenAPI: %s/openapi.json", port, apiPrefix, apiPrefix)
	} else {
		log.Printf("Server: http://%s:%s%s | OpenAPI: %s/openapi.json", host, port, apiPrefix, apiPrefix)
	}

	go func() {
		slog.Info("Starting warden API server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Received shutdown signal, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Modules come down in reverse initialization order
	manager.ShutdownModules(shutdownCtx)

	// Application context handles database and telemetry shutdown
	appCtx.Shutdown(shutdownCtx)

	slog.Info("Warden shutdown completed successfully")
}

// healthHandler reports the aggregated system health. Unhealthy maps to 503
// so load balancers and probes can react; degraded still serves 200.
func healthHandler(manager *module.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := manager.SystemHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Overall.Status == module.StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		if err := json.NewEncoder(w).Encode(health); err != nil {
			slog.Error("Failed to encode health response", "error", err)
		}
	}
}

// metricsHandler exposes per-module counters and circuit breaker stats
func metricsHandler(manager *module.Manager, breakers *resilience.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{
			"modules":  manager.ModuleMetrics(),
			"breakers": breakers.AllStats(),
			"version":  version.Get(),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Error("Failed to encode metrics response", "error", err)
		}
	}
}

func displayBanner() {
	file, err := os.Open("banner.txt")
	if err != nil {
		// Fallback to inline banner if file not found
		fmt.Print("\033[38;5;33m")
		fmt.Print("GO-WARDEN Moderation Bot\n")
		fmt.Print("\033[0m")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		fmt.Print("\033[38;5;33m")
		fmt.Print("GO-WARDEN Moderation Bot\n")
		fmt.Print("\033[0m")
		return
	}

	lines := strings.Split(string(content), "\n")
	colors := []string{
		"\033[38;5;33m", // Bright blue
		"\033[38;5;39m", // Cyan
		"\033[38;5;75m", // Light blue
		"\033[38;5;51m", // Bright cyan
		"\033[38;5;33m", // Bright blue
		"\033[38;5;39m", // Cyan
	}

	fmt.Print("\n")
	for i, line := range lines {
		if line != "" && i < len(colors) {
			fmt.Print(colors[i])
			fmt.Println(line)
		}
	}
	fmt.Print("\033[0m")
	fmt.Print("\n")
}

// formatBytes converts bytes to human readable format
func formatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// printMemoryLimits reads and displays container memory limits
func printMemoryLimits() {
	// Try cgroups v2 first (newer systems)
	if limit := readCgroupV2MemoryLimit(); limit > 0 {
		log.Printf("Container limit: %s", formatBytes(uint64(limit)))
		return
	}

	if limit := readCgroupV1MemoryLimit(); limit > 0 {
		log.Printf("Container limit: %s", formatBytes(uint64(limit)))
		return
	}
}

func readCgroupV2MemoryLimit() int64 {
	data, err := os.ReadFile("/sys/fs/cgroup/memory.max")
	if err != nil {
		return 0
	}

	limitStr := strings.TrimSpace(string(data))
	if limitStr == "max" {
		return 0 // No limit set
	}

	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil {
		return 0
	}

	return limit
}

func readCgroupV1MemoryLimit() int64 {
	data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes")
	if err != nil {
		return 0
	}

	limitStr := strings.TrimSpace(string(data))
	limit, err := strconv.ParseInt(limitStr, 10, 64)
	if err != nil {
		return 0
	}

	// cgroups v1 sometimes returns very large values when no limit is set.
	// Anything larger than 1TB is probably "unlimited".
	if limit > 1024*1024*1024*1024 {
		return 0
	}

	return limit
}
