package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/wardrobe/internal/service"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	pool *service.WorkerPool
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(pool *service.WorkerPool) *HealthHandler {
	return &HealthHandler{pool: pool}
}

// Health returns the health status of the service together with the worker queue depth
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.pool != nil {
		queued, active := h.pool.Stats()
		resp["queued_jobs"] = queued
		resp["active_jobs"] = active
	}
	c.JSON(http.StatusOK, resp)
}
