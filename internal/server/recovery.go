package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	recoverydomain "github.com/pawselabs/pawse/internal/recovery/domain"
)

type recoveryRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) cure(c *gin.Context) {
	s.performRecovery(c, s.recoverySvc.Cure)
}

func (s *Server) revive(c *gin.Context) {
	s.performRecovery(c, s.recoverySvc.Revive)
}

func (s *Server) restart(c *gin.Context) {
	s.performRecovery(c, s.recoverySvc.Restart)
}

func (s *Server) performRecovery(
	c *gin.Context,
	action func(ctx context.Context, userID snowflake.ID, idempotencyKey string) (*recoverydomain.Result, error),
) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req recoveryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
	}
	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey == "" {
		idempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}

	result, err := action(c.Request.Context(), userID, idempotencyKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
