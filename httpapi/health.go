package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Health pings the session store.
func (h *Handler) Health(c *gin.Context) {
	latency, err := h.engine.Ping(c.Request.Context())
	if err != nil {
		h.logger.Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "latencyMs": latency.Milliseconds()})
}
