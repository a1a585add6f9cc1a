package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"intake/internal/model"
)

func (s *Server) listBatchesHandler(c *gin.Context) {
	filter := model.BatchFilter{
		SourceType: model.SourceType(c.Query("source_type")),
		Status:     model.BatchStatus(c.Query("status")),
	}

	batches, err := s.ic.ListBatches(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches})
}

func (s *Server) batchHandler(c *gin.Context) {
	batchID := c.Param("id")

	batch, items, err := s.ic.Batch(c.Request.Context(), batchID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"batch": batch, "items": items}
	if eta, ok := s.ic.BatchETA(c.Request.Context(), batchID); ok && eta > 0 {
		resp["eta_seconds"] = int(eta.Seconds())
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) retryHandler(c *gin.Context) {
	if err := s.ic.RetryBatch(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) resetHandler(c *gin.Context) {
	if err := s.ic.ResetBatch(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) cancelHandler(c *gin.Context) {
	if err := s.ic.CancelBatch(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) deleteBatchHandler(c *gin.Context) {
	if err := s.ic.ForceDeleteBatch(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type patchItemRequest struct {
	Field string `json:"field" binding:"required"`
	Value string `json:"value"`
}

func (s *Server) patchItemHandler(c *gin.Context) {
	var req patchItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.ic.PatchItem(c.Request.Context(), c.Param("id"), c.Param("itemId"), req.Field, req.Value)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) validateHandler(c *gin.Context) {
	if err := s.ic.ValidateBatch(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}
