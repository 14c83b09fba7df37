package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/metrics"
)

// Guard wraps ulule/limiter instances protecting the HTTP surfaces: the REST
// facade and the WebSocket handshake endpoint.
type Guard struct {
	api  *limiter.Limiter
	wsIP *limiter.Limiter
}

// NewGuard parses the configured rate formats (e.g. "100-M") and builds the
// HTTP guards on an in-memory store.
func NewGuard(apiRate, wsIPRate string) (*Guard, error) {
	apiParsed, err := limiter.NewRateFromFormatted(apiRate)
	if err != nil {
		return nil, fmt.Errorf("invalid API rate: %w", err)
	}

	wsParsed, err := limiter.NewRateFromFormatted(wsIPRate)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	store := memory.NewStore()
	return &Guard{
		api:  limiter.New(store, apiParsed),
		wsIP: limiter.New(store, wsParsed),
	}, nil
}

// APIMiddleware enforces the REST rate limit per client IP.
func (g *Guard) APIMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		lctx, err := g.api.Get(ctx, c.ClientIP())
		if err != nil {
			// Fail open: availability over strictness when the store breaks.
			logging.Error(ctx, "Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitRejections.WithLabelValues("api").Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Too many requests",
				"retry_after": lctx.Reset,
			})
			return
		}

		c.Next()
	}
}

// CheckWebSocket checks the per-IP connect limit before the upgrade.
// Returns true if allowed, false if limit exceeded (and writes the error).
func (g *Guard) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	lctx, err := g.wsIP.Get(ctx, c.ClientIP())
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true // Fail open
	}

	if lctx.Reached {
		metrics.RateLimitRejections.WithLabelValues("websocket_connect").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(lctx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	return true
}
