package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type AwardRequest struct {
	UserID       snowflake.ID
	UsageMinutes int
	LimitMinutes int
	DayKey       string
}

type Service interface {
	// PreviewEnergy estimates the award for the given usage without
	// smoothing and without touching storage.
	PreviewEnergy(usageMinutes, limitMinutes int) int

	// AwardDailyEnergy finalizes one user-day: smooths the usage ratio
	// against recent history, credits the wallet and writes the
	// write-once DailyStats row.
	AwardDailyEnergy(ctx context.Context, req AwardRequest) (*DailyStats, error)

	// RecentStats returns up to n DailyStats rows, newest first.
	RecentStats(ctx context.Context, userID snowflake.ID, n int) ([]DailyStats, error)
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidDayKey  = errors.New("invalid_day_key")
	ErrAlreadyAwarded = errors.New("already_awarded")
)
