package middleware

import (
	"crypto/subtle"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"rsvpdesk/internal/dto"
)

const AdminTokenHeader = "X-Admin-Token"

func LoggingMiddleware() gin.HandlerFunc {
	return func(c *ginext.Context) {
		start := time.Now()
		c.Next()

		ev := zlog.Logger.Info()
		if c.Writer.Status() >= 500 {
			ev = zlog.Logger.Error()
		}
		ev.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request handled")
	}
}

// AdminToken guards organizer routes. An empty token disables the check.
func AdminToken(token string) gin.HandlerFunc {
	return func(c *ginext.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader(AdminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			dto.UnauthorizedError(c)
			return
		}
		c.Next()
	}
}
