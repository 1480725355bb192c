package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	economydomain "github.com/pawselabs/pawse/internal/economy/domain"
	petdomain "github.com/pawselabs/pawse/internal/pet/domain"
	recoverydomain "github.com/pawselabs/pawse/internal/recovery/domain"
	usagedomain "github.com/pawselabs/pawse/internal/usage/domain"
	walletdomain "github.com/pawselabs/pawse/internal/wallet/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type          string     `json:"type"`
	Message       string     `json:"message"`
	NextAvailable *time.Time `json:"next_available,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var cooldownErr *recoverydomain.CooldownActiveError
	if errors.As(err, &cooldownErr) {
		next := cooldownErr.NextAvailable
		return http.StatusTooManyRequests, errorPayload{
			Type:          "cooldown_active",
			Message:       "action is on cooldown",
			NextAvailable: &next,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, recoverydomain.ErrFeatureDisabled):
		return http.StatusForbidden, errorPayload{
			Type:    "feature_disabled",
			Message: "this action is disabled",
		}
	case errors.Is(err, recoverydomain.ErrLimitReached):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "limit_reached",
			Message: "action limit reached for the current window",
		}
	case errors.Is(err, recoverydomain.ErrInsufficientGems),
		errors.Is(err, walletdomain.ErrInsufficientFunds):
		return http.StatusConflict, errorPayload{
			Type:    "insufficient_funds",
			Message: "balance is too low",
		}
	case errors.Is(err, recoverydomain.ErrInvalidState),
		errors.Is(err, petdomain.ErrPetDead),
		errors.Is(err, economydomain.ErrAlreadyAwarded):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, usagedomain.ErrInvalidUser),
		errors.Is(err, usagedomain.ErrInvalidMinutes),
		errors.Is(err, usagedomain.ErrInvalidLimit),
		errors.Is(err, walletdomain.ErrInvalidUser),
		errors.Is(err, walletdomain.ErrInvalidCurrency),
		errors.Is(err, walletdomain.ErrInvalidAmount),
		errors.Is(err, walletdomain.ErrInvalidReason),
		errors.Is(err, petdomain.ErrInvalidUser),
		errors.Is(err, petdomain.ErrInvalidAmount),
		errors.Is(err, economydomain.ErrInvalidUser),
		errors.Is(err, economydomain.ErrInvalidDayKey),
		errors.Is(err, recoverydomain.ErrInvalidUser):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, petdomain.ErrPetNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
