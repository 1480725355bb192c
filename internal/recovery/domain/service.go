package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	petdomain "github.com/pawselabs/pawse/internal/pet/domain"
)

// Result reports a completed recovery action. Duplicate is set when the
// idempotency key matched a previously recorded action; the stored record is
// returned and nothing was charged again.
type Result struct {
	Action    *RecoveryAction `json:"action"`
	Pet       *petdomain.Pet  `json:"pet"`
	Duplicate bool            `json:"duplicate,omitempty"`
}

type Service interface {
	Cure(ctx context.Context, userID snowflake.ID, idempotencyKey string) (*Result, error)
	Revive(ctx context.Context, userID snowflake.ID, idempotencyKey string) (*Result, error)
	Restart(ctx context.Context, userID snowflake.ID, idempotencyKey string) (*Result, error)
}

// Business failures. All are expected outcomes, rendered to the user; none
// leave partial state behind.
var (
	ErrFeatureDisabled  = errors.New("feature_disabled")
	ErrInvalidState     = errors.New("invalid_state")
	ErrLimitReached     = errors.New("limit_reached")
	ErrInsufficientGems = errors.New("insufficient_gems")
	ErrInvalidUser      = errors.New("invalid_user")
)

// CooldownActiveError carries the time at which the action becomes
// available again, so the client can render a countdown.
type CooldownActiveError struct {
	NextAvailable time.Time
}

func (e *CooldownActiveError) Error() string {
	return fmt.Sprintf("cooldown_active until %s", e.NextAvailable.Format(time.RFC3339))
}
