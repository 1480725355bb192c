package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// RejectReason classifies why a submission was not accepted. Rejections are
// expected outcomes, not errors: the reporting channel is noisy and may
// replay stale totals.
type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectDecreasing      RejectReason = "decreasing"
	RejectImplausibleJump RejectReason = "implausible_jump"
)

// SubmitResult reports the outcome of a usage submission together with the
// minutes on record after the call.
type SubmitResult struct {
	Accepted bool         `json:"accepted"`
	Reason   RejectReason `json:"reason,omitempty"`
	Minutes  int          `json:"minutes"`
}

type Service interface {
	// Submit validates candidateMinutes against the current snapshot and
	// persists it when accepted.
	Submit(ctx context.Context, userID snowflake.ID, candidateMinutes int) (SubmitResult, error)
	// CurrentMinutes returns today's validated total, 0 when no today-dated
	// snapshot exists.
	CurrentMinutes(ctx context.Context, userID snowflake.ID) (int, error)
	// MinutesForDay returns the validated total for the given day key, 0 when
	// no snapshot exists for that day.
	MinutesForDay(ctx context.Context, userID snowflake.ID, dayKey string) (int, error)
	// Reset clears today's snapshot.
	Reset(ctx context.Context, userID snowflake.ID) error

	SetGoal(ctx context.Context, userID snowflake.ID, limitMinutes int) (*UsageGoal, error)
	GetGoal(ctx context.Context, userID snowflake.ID) (*UsageGoal, error)
}

var (
	ErrInvalidUser    = errors.New("invalid_user")
	ErrInvalidMinutes = errors.New("invalid_minutes")
	ErrInvalidLimit   = errors.New("invalid_limit")
)
