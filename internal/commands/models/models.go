package models

import "time"

// Moderation command names
const (
	CommandBan  = "ban"
	CommandKick = "kick"
	CommandWarn = "warn"
	CommandCase = "case"
)

// AuditEntry is one recorded moderation action
type AuditEntry struct {
	ID          string    `bson:"_id" json:"id"`
	Command     string    `bson:"command" json:"command"`
	GuildID     string    `bson:"guild_id" json:"guild_id"`
	TargetUser  string    `bson:"target_user" json:"target_user"`
	ModeratorID string    `bson:"moderator_id" json:"moderator_id"`
	Channel     string    `bson:"channel" json:"channel"`
	Reason      string    `bson:"reason,omitempty" json:"reason,omitempty"`
	CaseID      string    `bson:"case_id,omitempty" json:"case_id,omitempty"`
	Succeeded   bool      `bson:"succeeded" json:"succeeded"`
	Error       string    `bson:"error,omitempty" json:"error,omitempty"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

// AuditCollection is the Mongo collection holding audit entries
const AuditCollection = "moderation_audit"
