package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type submitUsageRequest struct {
	Minutes int `json:"minutes"`
}

func (s *Server) submitUsage(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req submitUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.usageSvc.Submit(c.Request.Context(), userID, req.Minutes)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) getUsage(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	minutes, err := s.usageSvc.CurrentMinutes(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"minutes": minutes})
}

func (s *Server) resetUsage(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	if err := s.usageSvc.Reset(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type setGoalRequest struct {
	LimitMinutes int `json:"limit_minutes"`
}

func (s *Server) setGoal(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req setGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	goal, err := s.usageSvc.SetGoal(c.Request.Context(), userID, req.LimitMinutes)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, goal)
}

func (s *Server) getGoal(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	goal, err := s.usageSvc.GetGoal(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, goal)
}
