package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"jobchommie/listing-service/internal/logging"
)

const (
	loggerKey       = "logger"
	RequestIDHeader = "X-Request-ID"
)

// Logger injects a request-scoped logger carrying a request ID and logs the
// completed request.
func Logger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		reqLog := log.With("requestId", requestID)
		c.Set(loggerKey, reqLog)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		reqLog.Info("request completed",
			"method", c.Request.Method,
			"path", fullPath,
			"status", c.Writer.Status(),
			"durationMs", time.Since(start).Milliseconds(),
			"size", c.Writer.Size(),
			"clientIp", c.ClientIP(),
		)
	}
}

// GetLogger returns the request-scoped logger, or a no-op logger when the
// middleware is not installed.
func GetLogger(c *gin.Context) *logging.Logger {
	if l, ok := c.Get(loggerKey); ok {
		if log, ok := l.(*logging.Logger); ok {
			return log
		}
	}
	return logging.Nop()
}
