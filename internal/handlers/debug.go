package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/models"
)

type OutboxReader interface {
	Pending(ctx context.Context, chatID string) ([]models.OutboxEntry, error)
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, queue OutboxReader, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/outbox/:chat_id", func(c *gin.Context) {
		if queue == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "outbox not configured"})
			return
		}
		entries, err := queue.Pending(c.Request.Context(), c.Param("chat_id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read outbox"})
			return
		}
		if entries == nil {
			entries = []models.OutboxEntry{}
		}
		c.JSON(http.StatusOK, gin.H{"chat_id": c.Param("chat_id"), "entries": entries})
	})
}
