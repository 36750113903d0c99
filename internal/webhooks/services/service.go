package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go-warden/internal/webhooks/dto"
	"go-warden/pkg/database"
	"go-warden/pkg/store"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// ErrInvalidPayload marks a payload that failed validation
	ErrInvalidPayload = errors.New("invalid alert payload")

	// ErrRelayFailed marks an alert that validated but could not be
	// delivered into chat
	ErrRelayFailed = errors.New("alert relay failed")
)

// Sender publishes a message into a chat channel
type Sender interface {
	Send(ctx context.Context, channel, content string) error
}

// Ack reports the outcome of one webhook delivery
type Ack struct {
	AlertID   string
	Duplicate bool
}

// Service validates, de-duplicates and relays alert webhooks
type Service struct {
	sender         Sender
	redis          *database.Redis
	local          *store.TTLMap
	validate       *validator.Validate
	defaultChannel string
	dedupeTTL      time.Duration

	received      atomic.Int64
	relayed       atomic.Int64
	duplicates    atomic.Int64
	invalid       atomic.Int64
	relayFailures atomic.Int64
	lastFailure   atomic.Int64 // unix nano of last relay failure
}

// NewService creates the webhook service. Redis is optional; when absent,
// delivery de-duplication falls back to the in-process TTL map (lost on
// restart).
func NewService(sender Sender, redis *database.Redis, local *store.TTLMap, defaultChannel string, dedupeTTL time.Duration) *Service {
	if dedupeTTL <= 0 {
		dedupeTTL = time.Hour
	}
	return &Service{
		sender:         sender,
		redis:          redis,
		local:          local,
		validate:       validator.New(),
		defaultChannel: defaultChannel,
		dedupeTTL:      dedupeTTL,
	}
}

// HandleAlert processes one webhook delivery: validate, dedupe, relay
func (s *Service) HandleAlert(ctx context.Context, source string, payload dto.AlertPayload) (*Ack, error) {
	s.received.Add(1)

	if err := s.validate.Struct(payload); err != nil {
		s.invalid.Add(1)
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if !s.markDelivery(ctx, source, payload.DeliveryID) {
		s.duplicates.Add(1)
		slog.Debug("Duplicate webhook delivery ignored", "source", source, "delivery_id", payload.DeliveryID)
		return &Ack{Duplicate: true}, nil
	}

	alertID := uuid.New().String()
	channel := payload.Channel
	if channel == "" {
		channel = s.defaultChannel
	}

	if err := s.sender.Send(ctx, channel, formatAlert(source, alertID, payload)); err != nil {
		s.relayFailures.Add(1)
		s.lastFailure.Store(time.Now().UnixNano())
		return nil, fmt.Errorf("%w: %v", ErrRelayFailed, err)
	}

	s.relayed.Add(1)
	slog.Info("Alert relayed", "source", source, "alert_id", alertID,
		"severity", payload.Severity, "channel", channel)
	return &Ack{AlertID: alertID}, nil
}

// markDelivery records the delivery ID, returning false when it was already
// seen within the dedupe window
func (s *Service) markDelivery(ctx context.Context, source, deliveryID string) bool {
	key := fmt.Sprintf("webhook:delivery:%s:%s", source, deliveryID)

	if s.redis != nil {
		stored, err := s.redis.SetNX(ctx, key, 1, s.dedupeTTL)
		if err == nil {
			return stored
		}
		slog.Warn("Redis dedupe unavailable, falling back to local store", "error", err)
	}
	return s.local.SetIfAbsent(key, struct{}{}, s.dedupeTTL)
}

// LastRelayFailure returns the time of the most recent relay failure
func (s *Service) LastRelayFailure() time.Time {
	n := s.lastFailure.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Metrics returns service counters
func (s *Service) Metrics() map[string]any {
	return map[string]any{
		"received":       s.received.Load(),
		"relayed":        s.relayed.Load(),
		"duplicates":     s.duplicates.Load(),
		"invalid":        s.invalid.Load(),
		"relay_failures": s.relayFailures.Load(),
	}
}

func formatAlert(source, alertID string, p dto.AlertPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", strings.ToUpper(p.Severity), source, p.Title)
	if p.Description != "" {
		fmt.Fprintf(&b, "\n%s", p.Description)
	}
	for k, v := range p.Labels {
		fmt.Fprintf(&b, "\n%s=%s", k, v)
	}
	fmt.Fprintf(&b, "\nalert:%s", alertID)
	return b.String()
}
