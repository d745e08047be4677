package server

import (
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voice-service/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

// requestIDMiddleware tags every request with an id, reusing the caller's when given.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}

		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(core.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// loggingMiddleware writes one line per request once the handler has finished.
func loggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		requestID := core.RequestID(c.Request.Context())
		duration := time.Since(start).Round(time.Millisecond)

		switch {
		case status >= http.StatusInternalServerError:
			log.Error("[%s] %s %s -> %d (%s): %s", requestID, c.Request.Method, c.Request.URL.Path,
				status, duration, c.Errors.String())
		case status >= http.StatusBadRequest:
			log.Warn("[%s] %s %s -> %d (%s): %s", requestID, c.Request.Method, c.Request.URL.Path,
				status, duration, c.Errors.String())
		default:
			log.Info("[%s] %s %s -> %d (%s)", requestID, c.Request.Method, c.Request.URL.Path,
				status, duration)
		}
	}
}

// bodyLimitMiddleware caps request bodies at limit bytes.
func bodyLimitMiddleware(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}

		c.Next()
	}
}
