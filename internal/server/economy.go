package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) previewEnergy(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	minutes := queryInt(c, "minutes", -1)
	if minutes < 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	limit := queryInt(c, "limit", 0)
	if limit <= 0 {
		goal, err := s.usageSvc.GetGoal(c.Request.Context(), userID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		limit = goal.LimitMinutes
	}

	energy := s.economySvc.PreviewEnergy(minutes, limit)
	c.JSON(http.StatusOK, gin.H{
		"usage_minutes": minutes,
		"limit_minutes": limit,
		"energy":        energy,
	})
}

func (s *Server) listDailyStats(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	days := queryInt(c, "days", 7)
	if days <= 0 || days > 90 {
		days = 7
	}

	stats, err := s.economySvc.RecentStats(c.Request.Context(), userID, days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
