package middleware

import (
	"github.com/gin-gonic/gin"

	"taskflow/backend/internal/events"
)

const SocketIDHeader = "X-Socket-ID"

// SocketID carries the caller's event stream id into the request context so
// broadcasts caused by this request skip that stream.
func SocketID() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(SocketIDHeader); id != "" {
			c.Request = c.Request.WithContext(events.WithSocketID(c.Request.Context(), id))
		}
		c.Next()
	}
}
