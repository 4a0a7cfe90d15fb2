package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"runlog-backend/internal/shared/server/respond"
	"runlog-backend/internal/shared/telemetry"
)

// Recovery converts panics into a logged 500 with the standard error envelope.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				telemetry.Error("panic", map[string]any{
					"request_id": RequestIDFromContext(c),
					"method":     c.Request.Method,
					"path":       c.Request.URL.Path,
					"error":      rec,
					"stack":      string(debug.Stack()),
				})
				respond.Error(c, http.StatusInternalServerError, "internal_error", "Unexpected server error", nil)
				c.Abort()
			}
		}()
		c.Next()
	}
}
