package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"intake/internal/model"
	"intake/internal/orchestrator"
	"intake/internal/promotion"
)

// uploadHandler accepts one or more files under the "files" multipart
// field and enqueues them. The queue entry ids come back immediately;
// processing continues in the background.
func (s *Server) uploadHandler(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required: " + err.Error()})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files submitted"})
		return
	}

	sourceType := model.SourceType(c.DefaultPostForm("source_type", string(model.SourceGeneric)))

	inputs := make([]orchestrator.FileInput, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read " + header.Filename})
			return
		}
		// The queue owns the handle now; it stays open until staging is
		// done, well past this handler's lifetime.
		inputs = append(inputs, orchestrator.FileInput{
			Name:       header.Filename,
			Content:    file,
			SourceType: sourceType,
		})
	}

	ids := s.ic.Enqueue(inputs...)

	log.Info().Int("files", len(ids)).Str("source_type", string(sourceType)).Msg("Files enqueued")
	c.JSON(http.StatusAccepted, gin.H{"entry_ids": ids})
}

func (s *Server) queueHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"entries":       s.ic.QueueEntries(),
		"stuck_batches": s.ic.StuckBatches(),
	})
}

func (s *Server) removeEntryHandler(c *gin.Context) {
	if !s.ic.RemoveEntry(c.Param("id")) {
		c.JSON(http.StatusConflict, gin.H{"error": "entry not found or not removable in its current state"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) clearStuckHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.ic.ClearStuck()})
}

func (s *Server) clearCompletedHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"removed": s.ic.ClearCompleted()})
}

type promoteRequest struct {
	ItemIDs              []string               `json:"item_ids"`
	Options              model.PromotionOptions `json:"options"`
	AcknowledgeZeroStock bool                   `json:"acknowledge_zero_stock"`
}

// promoteHandler promotes a batch (or item subset). A zero-stock gate
// returns 409 with the offending row count; the client retries with
// acknowledge_zero_stock once the user confirms.
func (s *Server) promoteHandler(c *gin.Context) {
	var req promoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, summary, err := s.ic.Promote(c.Request.Context(), promotion.Request{
		BatchID:              c.Param("id"),
		ItemIDs:              req.ItemIDs,
		Options:              req.Options,
		AcknowledgeZeroStock: req.AcknowledgeZeroStock,
	})
	if err != nil {
		var zeroStock *promotion.ZeroStockError
		if errors.As(err, &zeroStock) {
			c.JSON(http.StatusConflict, gin.H{
				"error":            zeroStock.Error(),
				"zero_stock_count": zeroStock.Count,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	c.JSON(status, gin.H{
		"result":  result,
		"summary": summary,
		"partial": result.Partial(),
		"failed":  result.FullFailure(),
	})
}

func (s *Server) historyHandler(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := s.ic.History(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
