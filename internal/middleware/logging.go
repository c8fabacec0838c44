package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"brokenLinkAnalyzerGO/internal/metrics"
	"brokenLinkAnalyzerGO/internal/models"
)

// Logger logs the method, route, status code, duration and request id of
// every request.
func Logger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}

		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).String(),
			"remote_addr", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
			"request_id", GetRequestID(c),
		)
	}
}

// Metrics records request count and latency per route.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordAPIRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// Recovery turns a panic into the opaque 500 envelope.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		logger.Error("Panic recovered", "error", err, "path", c.Request.URL.Path, "request_id", GetRequestID(c))
		c.AbortWithStatusJSON(http.StatusInternalServerError, models.Response{
			Success: false,
			Error:   "Internal server error",
		})
	})
}
