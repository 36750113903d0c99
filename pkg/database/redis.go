package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go-warden/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Redis wraps the Redis client with optional tracing
type Redis struct {
	Client *redis.Client
	tracer trace.Tracer
}

// NewRedis connects to Redis using REDIS_URL, defaulting to a local instance
func NewRedis(ctx context.Context) (*Redis, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	slog.Info("Connected to Redis", "addr", opt.Addr)

	r := &Redis{Client: client}

	// Only initialize tracer if telemetry is enabled
	if config.GetBoolEnv("ENABLE_TELEMETRY", false) {
		r.tracer = otel.Tracer("redis-client")
	}

	return r, nil
}

// Close closes the client
func (r *Redis) Close() error {
	return r.Client.Close()
}

// Set stores a value with expiration
func (r *Redis) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	ctx, span := r.startSpan(ctx, "redis.set", key, "SET")
	defer endSpan(span)

	err := r.Client.Set(ctx, key, value, expiration).Err()
	recordError(span, err)
	return err
}

// Get retrieves a value
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	ctx, span := r.startSpan(ctx, "redis.get", key, "GET")
	defer endSpan(span)

	result, err := r.Client.Get(ctx, key).Result()
	recordError(span, err)
	return result, err
}

// SetNX stores a value with expiration only when the key does not already
// exist. Returns true when the value was stored.
func (r *Redis) SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error) {
	ctx, span := r.startSpan(ctx, "redis.setnx", key, "SETNX")
	defer endSpan(span)

	stored, err := r.Client.SetNX(ctx, key, value, expiration).Result()
	recordError(span, err)
	return stored, err
}

// Delete removes keys
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	ctx, span := r.startSpan(ctx, "redis.delete", "", "DEL")
	defer endSpan(span)

	err := r.Client.Del(ctx, keys...).Err()
	recordError(span, err)
	return err
}

// HealthCheck pings the server with a short timeout
func (r *Redis) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) startSpan(ctx context.Context, name, key, op string) (context.Context, trace.Span) {
	if r.tracer == nil {
		return ctx, nil
	}
	return r.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("redis.key", key),
			attribute.String("redis.operation", op),
		),
	)
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}

func recordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
	}
}
