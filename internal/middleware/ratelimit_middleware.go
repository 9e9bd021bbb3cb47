// internal/middleware/ratelimit_middleware.go
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	xerrors "motorlist-service/internal/pkg/errors"
	"motorlist-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Limiter is a fixed-window counter. *ratelimit.RateLimiter satisfies it.
type Limiter interface {
	Allow(ctx context.Context, key string, max int64, window time.Duration) (bool, int64, error)
}

// RateLimit limits requests per account and route. MUST be used after Auth().
// Limiter failures let the request through.
func RateLimit(limiter Limiter, max int64, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || max <= 0 {
			c.Next()
			return
		}

		accountID, ok := GetAccountID(c)
		if !ok {
			c.Next()
			return
		}

		key := fmt.Sprintf("%s:%s", accountID, c.FullPath())
		allowed, remaining, err := limiter.Allow(c.Request.Context(), key, max, window)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("account_id", accountID), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(max, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if !allowed {
			response.Error(c, http.StatusTooManyRequests, "too many requests, try again later", xerrors.ErrRateLimited)
			return
		}

		c.Next()
	}
}
