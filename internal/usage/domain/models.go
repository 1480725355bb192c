// Package domain contains persistence models for screen-time tracking.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageSnapshot holds the latest validated "minutes used" total for one user
// and one day. Rows are keyed per day so an early submission on a new day
// never destroys the prior day's final total before rollover reads it.
type UsageSnapshot struct {
	UserID       snowflake.ID `gorm:"primaryKey" json:"user_id"`
	DayKey       string       `gorm:"primaryKey;type:text" json:"day_key"`
	TotalMinutes int          `gorm:"not null" json:"total_minutes"`
	LastUpdated  time.Time    `gorm:"not null" json:"last_updated"`
}

// TableName sets the database table name.
func (UsageSnapshot) TableName() string { return "usage_snapshots" }

// UsageGoal is the user's configured daily screen-time limit, the
// denominator of the energy award ratio.
type UsageGoal struct {
	UserID       snowflake.ID `gorm:"primaryKey" json:"user_id"`
	LimitMinutes int          `gorm:"not null" json:"limit_minutes"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (UsageGoal) TableName() string { return "usage_goals" }

// DefaultLimitMinutes applies when the user never configured a goal.
const DefaultLimitMinutes = 180
