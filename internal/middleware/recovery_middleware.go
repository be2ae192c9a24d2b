// internal/middleware/recovery_middleware.go
package middleware

import (
	"io"
	"net/http"

	"audiotricks-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecoveryMiddleware turns a handler panic into the standard 500 envelope.
// Broken client connections are left to gin, which aborts without a body.
func RecoveryMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		fields := []zap.Field{
			zap.Any("panic", recovered),
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Stack("stack"),
		}
		if userID, ok := GetUserID(c); ok {
			fields = append(fields, zap.Int64("user_id", userID))
		}
		logger.Error("panic recovered", fields...)

		response.Error(c, http.StatusInternalServerError, "internal server error", nil)
	})
}
