package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go-warden/internal/commands/models"
	"go-warden/internal/gateway"
	"go-warden/pkg/backend"
	"go-warden/pkg/database"
	"go-warden/pkg/resilience"
	"go-warden/pkg/store"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ErrCooldown marks a command rejected by the per-moderator cooldown
var ErrCooldown = errors.New("command on cooldown")

// ModerationAPI is the slice of the backend client the service uses
type ModerationAPI interface {
	BanUser(ctx context.Context, req backend.ActionRequest) (*backend.ActionResult, error)
	KickUser(ctx context.Context, req backend.ActionRequest) (*backend.ActionResult, error)
	WarnUser(ctx context.Context, req backend.ActionRequest) (*backend.ActionResult, error)
	GetCase(ctx context.Context, caseID string) (*backend.Case, error)
}

// Service executes moderator commands against the backend API and records
// an audit trail
type Service struct {
	api       ModerationAPI
	db        *database.MongoDB
	cooldowns *store.TTLMap
	cooldown  time.Duration
	guildID   string

	executed atomic.Int64
	failed   atomic.Int64
	rejected atomic.Int64
}

// NewService creates the command service. The Mongo handle is optional;
// without it the audit trail is log-only.
func NewService(api ModerationAPI, db *database.MongoDB, cooldowns *store.TTLMap, cooldown time.Duration, guildID string) *Service {
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	return &Service{
		api:       api,
		db:        db,
		cooldowns: cooldowns,
		cooldown:  cooldown,
		guildID:   guildID,
	}
}

// Initialize creates the audit collection indexes
func (s *Service) Initialize(ctx context.Context) error {
	if s.db == nil {
		slog.Warn("Moderation audit trail is log-only, MongoDB not available")
		return nil
	}

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{
			Keys:    bson.D{{Key: "moderator_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("moderator_created"),
		},
	}
	if _, err := s.db.Collection(models.AuditCollection).Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("create audit indexes: %w", err)
	}
	return nil
}

// Ban handles the ban command: !ban <user> [reason...]
func (s *Service) Ban(ctx context.Context, ev gateway.Event, args []string) (string, error) {
	return s.action(ctx, models.CommandBan, ev, args, func(ctx context.Context, req backend.ActionRequest) (*backend.ActionResult, error) {
		return s.api.BanUser(ctx, req)
	})
}

// Kick handles the kick command: !kick <user> [reason...]
func (s *Service) Kick(ctx context.Context, ev gateway.Event, args []string) (string, error) {
	return s.action(ctx, models.CommandKick, ev, args, func(ctx context.Context, req backend.ActionRequest) (*backend.ActionResult, error) {
		return s.api.KickUser(ctx, req)
	})
}

// Warn handles the warn command: !warn <user> [reason...]
func (s *Service) Warn(ctx context.Context, ev gateway.Event, args []string) (string, error) {
	return s.action(ctx, models.CommandWarn, ev, args, func(ctx context.Context, req backend.ActionRequest) (*backend.ActionResult, error) {
		return s.api.WarnUser(ctx, req)
	})
}

// CaseLookup handles the case command: !case <case-id>
func (s *Service) CaseLookup(ctx context.Context, ev gateway.Event, args []string) (string, error) {
	if len(args) != 1 {
		return "Usage: case <case-id>", nil
	}

	if err := s.checkCooldown(ev.Author, models.CommandCase); err != nil {
		s.rejected.Add(1)
		return "You are sending commands too quickly.", nil
	}

	c, err := s.api.GetCase(ctx, args[0])
	if err != nil {
		s.failed.Add(1)
		return "", s.describeFailure(err)
	}

	s.executed.Add(1)
	status := "open"
	if c.Resolved {
		status = "resolved"
	}
	return fmt.Sprintf("Case %s: %s %s (%s): %s", c.ID, c.Action, c.UserID, status, c.Reason), nil
}

func (s *Service) action(ctx context.Context, command string, ev gateway.Event, args []string,
	call func(context.Context, backend.ActionRequest) (*backend.ActionResult, error)) (string, error) {

	target, reason, err := parseTarget(args)
	if err != nil {
		return fmt.Sprintf("Usage: %s <user> [reason...]", command), nil
	}

	if err := s.checkCooldown(ev.Author, command); err != nil {
		s.rejected.Add(1)
		return "You are sending commands too quickly.", nil
	}

	result, err := call(ctx, backend.ActionRequest{
		GuildID:     s.guildID,
		UserID:      target,
		ModeratorID: ev.Author,
		Reason:      reason,
	})

	entry := models.AuditEntry{
		ID:          uuid.New().String(),
		Command:     command,
		GuildID:     s.guildID,
		TargetUser:  target,
		ModeratorID: ev.Author,
		Channel:     ev.Channel,
		Reason:      reason,
		Succeeded:   err == nil,
		CreatedAt:   time.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.CaseID = result.CaseID
	}
	s.recordAudit(ctx, entry)

	if err != nil {
		s.failed.Add(1)
		return "", s.describeFailure(err)
	}

	s.executed.Add(1)
	return fmt.Sprintf("%s applied to %s (case %s)", capitalize(command), target, result.CaseID), nil
}

// checkCooldown enforces the per-moderator, per-command cooldown
func (s *Service) checkCooldown(moderator, command string) error {
	key := fmt.Sprintf("cooldown:%s:%s", moderator, command)
	if !s.cooldowns.SetIfAbsent(key, struct{}{}, s.cooldown) {
		return ErrCooldown
	}
	return nil
}

// describeFailure translates classified call errors into moderator-facing
// messages: a tripped breaker means "down right now", anything else is a
// generic failure
func (s *Service) describeFailure(err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("moderation backend is temporarily unavailable, try again shortly")
	}
	return fmt.Errorf("moderation backend request failed: %w", err)
}

func (s *Service) recordAudit(ctx context.Context, entry models.AuditEntry) {
	if s.db == nil {
		slog.Info("Moderation action",
			"command", entry.Command, "target", entry.TargetUser,
			"moderator", entry.ModeratorID, "succeeded", entry.Succeeded)
		return
	}

	if _, err := s.db.Collection(models.AuditCollection).InsertOne(ctx, entry); err != nil {
		slog.Error("Failed to record audit entry", "command", entry.Command, "error", err)
	}
}

// PruneAudit deletes audit entries older than the retention window.
// Returns the number of removed documents.
func (s *Service) PruneAudit(ctx context.Context, retention time.Duration) (int64, error) {
	if s.db == nil {
		return 0, nil
	}

	cutoff := time.Now().Add(-retention)
	result, err := s.db.Collection(models.AuditCollection).DeleteMany(ctx,
		bson.M{"created_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	return result.DeletedCount, nil
}

// Metrics returns service counters
func (s *Service) Metrics() map[string]any {
	return map[string]any{
		"executed": s.executed.Load(),
		"failed":   s.failed.Load(),
		"rejected": s.rejected.Load(),
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// parseTarget splits command args into the target user and the reason
func parseTarget(args []string) (string, string, error) {
	if len(args) == 0 {
		return "", "", fmt.Errorf("missing target user")
	}
	target := strings.TrimPrefix(args[0], "@")
	if target == "" {
		return "", "", fmt.Errorf("missing target user")
	}
	return target, strings.Join(args[1:], " "), nil
}
