// Package domain contains the daily economy models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// DailyStats is the immutable record of one finalized user-day: the usage
// that was measured, the limit in force, the smoothed ratio and the energy
// award it produced. Written exactly once per (user, day).
type DailyStats struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID        snowflake.ID `gorm:"not null;uniqueIndex:ux_daily_stats_user_day,priority:1" json:"user_id"`
	DayKey        string       `gorm:"type:text;not null;uniqueIndex:ux_daily_stats_user_day,priority:2" json:"day_key"`
	UsageMinutes  int          `gorm:"not null" json:"usage_minutes"`
	LimitMinutes  int          `gorm:"not null" json:"limit_minutes"`
	SmoothedRatio float64      `gorm:"not null" json:"smoothed_ratio"`
	EnergyAwarded int          `gorm:"not null" json:"energy_awarded"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (DailyStats) TableName() string { return "daily_stats" }
