package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	pkgredis "github.com/threadline/core/internal/pkg/redis"
	"github.com/threadline/core/internal/pkg/response"
)

const (
	rateLimitMax    = 50
	rateLimitWindow = time.Second
)

// RateLimit returns a middleware that enforces a per-IP sliding-window limit
// on unauthenticated requests. Redis errors fail open.
func RateLimit(rc *pkgredis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsAuthenticated(c) {
			c.Next()
			return
		}

		ip := c.ClientIP()
		if ip == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := fmt.Sprintf("threadline:rate_limit:%s:%d", ip, time.Now().Unix())

		count, err := rc.Incr(ctx, key)
		if err != nil {
			c.Next()
			return
		}
		if count == 1 {
			_ = rc.Expire(ctx, key, rateLimitWindow+time.Second)
		}
		if count > rateLimitMax {
			response.TooManyRequests(c, "1")
			return
		}

		c.Next()
	}
}
