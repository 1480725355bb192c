// Package domain contains the pet lifecycle models and the health state
// machine vocabulary.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// HealthState is the pet's well-being. Dead is terminal for the entity;
// only the paid revive and restart actions leave it.
type HealthState string

const (
	StateHealthy HealthState = "healthy"
	StateSick    HealthState = "sick"
	StateDead    HealthState = "dead"
)

// Unfed-streak thresholds for the day-boundary evaluation.
const (
	SickAfterUnfedDays = 3
	DeadAfterUnfedDays = 7
)

// Buff caps by health state. Feeding clamps the accumulated daily buff to
// the cap for the pet's current state, silently discarding excess.
const (
	BuffCapHealthy = 0.25
	BuffCapFragile = 0.15
	BuffCapSick    = 0.10
	BuffCapDead    = 0.0
)

// BuffPerEnergy converts energy spent on food into buff progress.
const BuffPerEnergy = 0.001

// Pet is the single owner of health and growth state, one live row per user.
type Pet struct {
	ID     snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID snowflake.ID `gorm:"not null;uniqueIndex" json:"user_id"`

	Species     string `gorm:"type:text;not null" json:"species"`
	SpeciesCode string `gorm:"type:text;not null" json:"species_code"`

	HealthState          HealthState `gorm:"type:text;not null" json:"health_state"`
	ConsecutiveUnfedDays int         `gorm:"not null;default:0" json:"consecutive_unfed_days"`
	FragileUntil         *time.Time  `json:"fragile_until,omitempty"`
	DeadAt               *time.Time  `json:"dead_at,omitempty"`

	// LastEvaluatedDayKey stamps the most recent day-boundary evaluation;
	// a repeat for the same day is a no-op.
	LastEvaluatedDayKey string `gorm:"type:text;not null;default:''" json:"-"`

	FedToday             bool    `gorm:"not null;default:false" json:"fed_today"`
	LastFeedAmount       int64   `gorm:"not null;default:0" json:"last_feed_amount"`
	DailyBuffAccumulated float64 `gorm:"not null;default:0" json:"daily_buff_accumulated"`

	GrowthProgress int `gorm:"not null;default:0" json:"growth_progress"`
	Stage          int `gorm:"not null;default:0" json:"stage"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Pet) TableName() string { return "pets" }

// Fragile reports whether the pet is inside its post-revival fragile window.
func (p Pet) Fragile(now time.Time) bool {
	return p.FragileUntil != nil && now.Before(*p.FragileUntil)
}

// BuffCap returns the state-dependent ceiling for the daily buff.
func (p Pet) BuffCap(now time.Time) float64 {
	switch p.HealthState {
	case StateHealthy:
		if p.Fragile(now) {
			return BuffCapFragile
		}
		return BuffCapHealthy
	case StateSick:
		return BuffCapSick
	default:
		return BuffCapDead
	}
}

// Memorial is the keepsake row written when a dead pet is replaced via
// restart. Capped per user, oldest evicted first.
type Memorial struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID      snowflake.ID `gorm:"not null;index" json:"user_id"`
	Species     string       `gorm:"type:text;not null" json:"species"`
	SpeciesCode string       `gorm:"type:text;not null" json:"species_code"`
	Stage       int          `gorm:"not null" json:"stage"`
	DeathDate   time.Time    `gorm:"not null" json:"death_date"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Memorial) TableName() string { return "memorials" }
