package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// requestIDHeader carries the per-request correlation id.
const requestIDHeader = "X-Request-ID"

// requestID assigns each request a uuid unless the client sent one.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// accessLog writes one structured log line per request.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info("http_request",
			slog.String("request_id", c.GetString("request_id")),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/1e6),
			slog.String("client_ip", c.ClientIP()))
	}
}

// auth enforces bearer token authentication in production. Development
// and test environments skip it.
func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.IsProduction() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				gin.H{"error": "Missing or invalid Authorization header"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if token != s.cfg.API.Key {
			c.AbortWithStatusJSON(http.StatusForbidden,
				gin.H{"error": "Invalid API key"})
			return
		}
		c.Next()
	}
}

// rateLimit rejects clients over their per-minute budget.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		ok, err := s.limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			// A broken limiter backend must not take the API down.
			s.logger.Warn("rate limiter unavailable, allowing request",
				slog.String("error", err.Error()))
			c.Next()
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
