package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/acm19/picbatch/internal/logger"
)

// loggerMiddleware should be first in the chain.
func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		statusCode := c.Writer.Status()
		attrs := []any{
			"uri", c.Request.RequestURI,
			"latency_ms", latency.Milliseconds(),
			"status", statusCode,
			"method", c.Request.Method,
			"content_type", c.Request.Header.Get("Content-Type"),
		}
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			attrs = append(attrs, "error", errorMessage)
		}

		l := logger.Default()
		switch {
		case statusCode >= http.StatusInternalServerError:
			l.Error("Server error", attrs...)
		case statusCode >= http.StatusBadRequest:
			l.Warn("Client error", attrs...)
		default:
			l.Log(c.Request.Context(), slog.LevelDebug, "Request processed", attrs...)
		}
	}
}
