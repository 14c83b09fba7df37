// Package health exposes liveness and readiness endpoints for the process.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dialoguehq/dialogue/internal/v1/logging"
)

// Pinger reports reachability of an external dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves health probes. archive is nil when the Redis history
// archive is disabled; readiness then depends on the process alone.
type Handler struct {
	archive Pinger
	started time.Time
}

// NewHandler creates a health handler. Pass a nil archive when Redis is
// disabled.
func NewHandler(archive Pinger) *Handler {
	return &Handler{archive: archive, started: time.Now()}
}

// Register mounts the probe routes.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health/live", h.Liveness)
	r.GET("/health/ready", h.Readiness)
}

// Liveness reports that the process is up.
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(h.started).String(),
	})
}

// Readiness reports whether the server can do useful work. A degraded
// archive does not fail readiness: history persistence degrades gracefully,
// so the probe reports it without going unhealthy.
func (h *Handler) Readiness(c *gin.Context) {
	resp := gin.H{"status": "ok"}

	if h.archive != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.archive.Ping(ctx); err != nil {
			logging.Warn(ctx, "History archive unreachable", zap.Error(err))
			resp["archive"] = "degraded"
		} else {
			resp["archive"] = "ok"
		}
	}

	c.JSON(http.StatusOK, resp)
}
