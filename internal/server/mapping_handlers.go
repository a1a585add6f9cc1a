package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"intake/internal/mapping"
)

func (s *Server) mappingSessionHandler(c *gin.Context) {
	state, err := s.ic.StartMappingSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

type assignRequest struct {
	Column string `json:"column" binding:"required"`
	Field  string `json:"field" binding:"required"`
}

func (s *Server) mappingAssignHandler(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := s.ic.AssignMapping(c.Param("id"), req.Column, req.Field)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) mappingConfirmHandler(c *gin.Context) {
	if err := s.ic.ConfirmMapping(c.Param("id")); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, mapping.ErrNameRequired) || errors.Is(err, mapping.ErrAlreadyConfirmed) {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) mappingCancelAutoHandler(c *gin.Context) {
	if err := s.ic.CancelAutoAccept(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type applyMappingRequest struct {
	MappingID string `json:"mapping_id" binding:"required"`
}

func (s *Server) mappingApplyHandler(c *gin.Context) {
	var req applyMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := s.ic.ApplySavedMapping(c.Request.Context(), c.Param("id"), req.MappingID)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) listMappingsHandler(c *gin.Context) {
	mappings, err := s.ic.ListMappings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mappings": mappings})
}

type saveMappingRequest struct {
	Name    string            `json:"name" binding:"required"`
	Mapping map[string]string `json:"mapping" binding:"required"`
}

func (s *Server) saveMappingHandler(c *gin.Context) {
	var req saveMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	saved, err := s.ic.SaveMapping(c.Request.Context(), req.Name, req.Mapping)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, saved)
}
