package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func (s *Server) RegisterRoutes() http.Handler {
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.CORS.AllowedOrigins,
		AllowMethods:     s.config.CORS.AllowedMethods,
		AllowHeaders:     s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
	}))

	r.GET("/health", s.healthHandler)

	r.POST("/imports", s.uploadHandler)
	r.GET("/imports", s.queueHandler)
	r.DELETE("/imports/:id", s.removeEntryHandler)
	r.POST("/imports/clear-stuck", s.clearStuckHandler)
	r.POST("/imports/clear-completed", s.clearCompletedHandler)

	r.GET("/batches", s.listBatchesHandler)
	r.GET("/batches/:id", s.batchHandler)
	r.POST("/batches/:id/retry", s.retryHandler)
	r.POST("/batches/:id/reset", s.resetHandler)
	r.POST("/batches/:id/cancel", s.cancelHandler)
	r.DELETE("/batches/:id", s.deleteBatchHandler)
	r.PATCH("/batches/:id/items/:itemId", s.patchItemHandler)
	r.POST("/batches/:id/validate", s.validateHandler)
	r.POST("/batches/:id/promote", s.promoteHandler)

	r.POST("/batches/:id/mapping/session", s.mappingSessionHandler)
	r.POST("/batches/:id/mapping/assign", s.mappingAssignHandler)
	r.POST("/batches/:id/mapping/confirm", s.mappingConfirmHandler)
	r.POST("/batches/:id/mapping/cancel-auto", s.mappingCancelAutoHandler)
	r.POST("/batches/:id/mapping/apply", s.mappingApplyHandler)

	r.GET("/mappings", s.listMappingsHandler)
	r.POST("/mappings", s.saveMappingHandler)

	r.GET("/history", s.historyHandler)

	return r
}
