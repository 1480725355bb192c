package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// DayStat is the slice of daily history the health machine needs for its
// natural-recovery check.
type DayStat struct {
	DayKey        string
	EnergyAwarded int
}

// StatsHistory supplies recent daily stats, newest first. Implemented by the
// economy engine.
type StatsHistory interface {
	RecentStats(ctx context.Context, userID snowflake.ID, n int) ([]DayStat, error)
}

type Service interface {
	GetOrCreate(ctx context.Context, userID snowflake.ID) (*Pet, error)
	Get(ctx context.Context, userID snowflake.ID) (*Pet, error)

	// Feed debits energy, marks the pet fed for the day and accumulates
	// growth buff clamped to the state-dependent cap.
	Feed(ctx context.Context, userID snowflake.ID, energyCost int64) (*Pet, error)

	// EvaluateDayBoundary applies the health transition rule for the day
	// identified by dayKey: unfed streak accounting, sickness, death, and
	// natural recovery. Evaluating the same day twice is a no-op.
	EvaluateDayBoundary(ctx context.Context, userID snowflake.ID, dayKey string) (*Pet, error)

	// ApplyDailyReset clears the per-day fields and advances growth for a
	// healthy pet that accumulated buff.
	ApplyDailyReset(ctx context.Context, userID snowflake.ID) (*Pet, error)

	TransitionToSick(ctx context.Context, userID snowflake.ID) error
	TransitionToDead(ctx context.Context, userID snowflake.ID) error
	TransitionToHealthy(ctx context.Context, userID snowflake.ID, fragile bool, fragileDays int) error

	// Replace memorializes a dead pet and installs a fresh one at stage 0.
	Replace(ctx context.Context, userID snowflake.ID, maxMemorials int) (*Pet, error)
	ListMemorials(ctx context.Context, userID snowflake.ID) ([]Memorial, error)
}

var (
	ErrInvalidUser   = errors.New("invalid_user")
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrInvalidDayKey = errors.New("invalid_day_key")
	ErrPetNotFound   = errors.New("pet_not_found")
	ErrPetDead       = errors.New("pet_dead")
)
