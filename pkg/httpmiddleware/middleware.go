package httpmiddleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ragserver/pkg/ratelimiter"
)

// RateLimit rejects requests with 429 once the limiter runs dry.
func RateLimit(limiter ratelimiter.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// RequestLogger attaches a per-request trace ID header when the client did
// not supply one, so responses can be correlated with log lines.
func RequestLogger(newTraceID func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-Id")
		if traceID == "" {
			traceID = newTraceID()
		}
		c.Set("trace_id", traceID)
		c.Header("X-Trace-Id", traceID)
		c.Next()
	}
}
