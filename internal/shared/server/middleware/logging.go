package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"caseflow-backend/internal/shared/telemetry"
)

// Context keys handlers set so the request log line can be correlated.
const (
	CaseIDKey           = "caseId"
	WorkspaceIDKey      = "workspaceId"
	StatusTransitionKey = "statusTransition"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		telemetry.Info("request.complete", map[string]any{
			"request_id":        RequestIDFromContext(c),
			"method":            c.Request.Method,
			"path":              c.Request.URL.Path,
			"route":             c.FullPath(),
			"status":            c.Writer.Status(),
			"status_transition": c.GetString(StatusTransitionKey),
			"duration_ms":       float64(latency.Microseconds()) / 1000.0,
			"case_id":           c.GetString(CaseIDKey),
			"workspace_id":      c.GetString(WorkspaceIDKey),
			"client_ip":         c.ClientIP(),
			"user_agent":        c.Request.UserAgent(),
		})
	}
}
