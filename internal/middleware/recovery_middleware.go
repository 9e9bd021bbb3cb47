// internal/middleware/recovery_middleware.go
package middleware

import (
	"net/http"

	xerrors "motorlist-service/internal/pkg/errors"
	"motorlist-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecoveryMiddleware turns a handler panic into a 500 envelope. A panic
// inside a token operation has already rolled its transaction back.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				accountID, _ := GetAccountID(c)
				logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("method", c.Request.Method),
					zap.String("route", c.FullPath()),
					zap.String("account_id", accountID),
					zap.Stack("stack"),
				)
				if c.Writer.Written() {
					c.Abort()
					return
				}
				response.Error(c, http.StatusInternalServerError, "internal server error", xerrors.ErrInternal,
					map[string]string{"reason": xerrors.ReasonInternal})
			}
		}()
		c.Next()
	}
}
