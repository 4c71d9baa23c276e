package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"caseflow-backend/internal/analysis"
	"caseflow-backend/internal/cases"
	"caseflow-backend/internal/documents"
	"caseflow-backend/internal/ingestion"
	"caseflow-backend/internal/ledger"
	"caseflow-backend/internal/services/health"
	"caseflow-backend/internal/shared/config"
	"caseflow-backend/internal/shared/metrics"
	"caseflow-backend/internal/shared/server/middleware"
	"caseflow-backend/internal/shared/server/respond"
	"caseflow-backend/internal/timeline"
)

const webhookRateLimitGroup = "WEBHOOK"

// RouterDeps are the handlers mounted by NewRouter. A nil handler skips its routes.
type RouterDeps struct {
	Config           config.Config
	Health           *health.Service
	CaseHandler      *cases.Handler
	DocumentHandler  *documents.Handler
	TimelineHandler  *timeline.Handler
	IngestionHandler *ingestion.Handler
	LedgerHandler    *ledger.Handler
	AnalysisHandler  *analysis.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())

	if deps.IngestionHandler != nil {
		deps.IngestionHandler.RegisterWebhookRoutes(&r.RouterGroup, middleware.RateLimit(middleware.RateLimitConfig{
			Rules: map[string]middleware.RateLimitRule{
				webhookRateLimitGroup: {
					Rate:  deps.Config.Webhook.RateLimitPerSecond,
					Burst: deps.Config.Webhook.RateLimitBurst,
				},
			},
			DefaultGroup: webhookRateLimitGroup,
		}))
	}

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		status := deps.Health.Status(c.Request.Context())
		code := http.StatusOK
		if !status.OK {
			code = http.StatusServiceUnavailable
		}
		respond.JSON(c, code, status)
	})
	if deps.CaseHandler != nil {
		deps.CaseHandler.RegisterRoutes(api)
	}
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api)
	}
	if deps.TimelineHandler != nil {
		deps.TimelineHandler.RegisterRoutes(api)
	}
	if deps.IngestionHandler != nil {
		deps.IngestionHandler.RegisterRoutes(api)
	}
	if deps.LedgerHandler != nil {
		deps.LedgerHandler.RegisterRoutes(api)
	}
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
