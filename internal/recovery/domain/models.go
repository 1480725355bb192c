// Package domain contains the paid recovery action log and its typed
// failure vocabulary.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ActionType is one of the three paid repairs.
type ActionType string

const (
	ActionCure    ActionType = "cure"
	ActionRevive  ActionType = "revive"
	ActionRestart ActionType = "restart"
)

// Rolling-window limits are measured over these trailing spans.
const (
	CureWindowDays   = 30
	ReviveWindowDays = 90
)

// RecoveryAction is the append-only record of a completed paid repair,
// queried for cooldown and rolling-window checks. Never mutated.
type RecoveryAction struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID         snowflake.ID `gorm:"not null;index;uniqueIndex:ux_recovery_actions_user_idem,priority:1" json:"user_id"`
	PetID          snowflake.ID `gorm:"not null" json:"pet_id"`
	Action         ActionType   `gorm:"type:text;not null;index" json:"action"`
	GemsSpent      int64        `gorm:"not null" json:"gems_spent"`
	Timestamp      time.Time    `gorm:"not null" json:"timestamp"`
	IdempotencyKey *string      `gorm:"type:text;uniqueIndex:ux_recovery_actions_user_idem,priority:2" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (RecoveryAction) TableName() string { return "recovery_actions" }
