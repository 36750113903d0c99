package config

import (
	"strings"
	"time"
)

// knownModules are the module names configurable via environment
var knownModules = []string{"gateway", "health", "webhooks", "commands", "housekeeping"}

// ModuleSetting mirrors the per-module configuration surface
type ModuleSetting struct {
	Enabled bool
	Options map[string]string
}

// ModuleSettings reads per-module enablement from the environment:
// WARDEN_MODULE_<NAME>_ENABLED, default true.
func ModuleSettings() map[string]ModuleSetting {
	settings := make(map[string]ModuleSetting, len(knownModules))
	for _, name := range knownModules {
		key := "WARDEN_MODULE_" + strings.ToUpper(name) + "_ENABLED"
		settings[name] = ModuleSetting{Enabled: GetBoolEnv(key, true)}
	}
	return settings
}

// Thresholds holds the global resilience and health tuning knobs
type Thresholds struct {
	HealthCheckInterval     time.Duration
	HealthCheckTimeout      time.Duration
	HistorySize             int
	AlertCooldown           time.Duration
	UnhealthyAlertAfter     time.Duration
	ConsecutiveFailureLimit int
	UnhealthyTrendLimit     int

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	MaxRetries        int
	RetryBaseDelay    time.Duration
	BackoffMultiplier float64
	RequestTimeout    time.Duration
}

// GetThresholds reads the global thresholds from the environment
func GetThresholds() Thresholds {
	return Thresholds{
		HealthCheckInterval:     GetDurationEnv("HEALTH_CHECK_INTERVAL", 30*time.Second),
		HealthCheckTimeout:      GetDurationEnv("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		HistorySize:             GetIntEnv("HEALTH_HISTORY_SIZE", 100),
		AlertCooldown:           GetDurationEnv("ALERT_COOLDOWN", 5*time.Minute),
		UnhealthyAlertAfter:     GetDurationEnv("UNHEALTHY_ALERT_AFTER", 5*time.Minute),
		ConsecutiveFailureLimit: GetIntEnv("HEALTH_CONSECUTIVE_FAILURE_LIMIT", 3),
		UnhealthyTrendLimit:     GetIntEnv("HEALTH_UNHEALTHY_TREND_LIMIT", 5),

		BreakerFailureThreshold: GetIntEnv("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerCooldown:         GetDurationEnv("BREAKER_COOLDOWN", 30*time.Second),

		MaxRetries:        GetIntEnv("MAX_RETRIES", 3),
		RetryBaseDelay:    GetDurationEnv("RETRY_BASE_DELAY", 500*time.Millisecond),
		BackoffMultiplier: GetFloatEnv("RETRY_BACKOFF_MULTIPLIER", 2),
		RequestTimeout:    GetDurationEnv("REQUEST_TIMEOUT", 10*time.Second),
	}
}

// GetAPIPrefix returns the URL prefix for the unified API
func GetAPIPrefix() string {
	return GetEnv("API_PREFIX", "")
}

// GetHost returns the HTTP bind host
func GetHost() string {
	return GetEnv("HOST", "0.0.0.0")
}
