package scheduler

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DayRollover is the claim row for one user-day finalization. The unique
// index makes the claim exclusive: whichever worker inserts the row owns
// the rollover for that user and day.
type DayRollover struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID snowflake.ID `gorm:"not null;uniqueIndex:ux_day_rollovers_user_day" json:"user_id"`
	DayKey string       `gorm:"type:text;not null;uniqueIndex:ux_day_rollovers_user_day" json:"day_key"`

	UsageMinutes  int `gorm:"not null;default:0" json:"usage_minutes"`
	EnergyAwarded int `gorm:"not null;default:0" json:"energy_awarded"`

	CreatedAt   time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TableName sets the database table name.
func (DayRollover) TableName() string { return "day_rollovers" }
