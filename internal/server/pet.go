package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) getPet(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	pet, err := s.petSvc.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pet)
}

type feedPetRequest struct {
	Energy int64 `json:"energy"`
}

func (s *Server) feedPet(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	var req feedPetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	pet, err := s.petSvc.Feed(c.Request.Context(), userID, req.Energy)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, pet)
}

func (s *Server) listMemorials(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	memorials, err := s.petSvc.ListMemorials(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"memorials": memorials})
}
