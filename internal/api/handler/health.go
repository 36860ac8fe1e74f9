package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	ping      func(ctx context.Context) error
	providers []string
}

// NewHealthHandler creates a new health handler. ping checks the database
// and may be nil; providers lists the fallback chain for display.
func NewHealthHandler(ping func(ctx context.Context) error, providers []string) *HealthHandler {
	return &HealthHandler{ping: ping, providers: providers}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":    "ok",
		"providers": h.providers,
	}
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		resp["database"] = "ok"
	}
	c.JSON(http.StatusOK, resp)
}
