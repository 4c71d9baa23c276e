package ingestion

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"caseflow-backend/internal/cases"
	"caseflow-backend/internal/shared/metrics"
	"caseflow-backend/internal/shared/server/middleware"
	"caseflow-backend/internal/shared/server/respond"
	"caseflow-backend/internal/shared/telemetry"
)

const maxWebhookBody = 5 << 20

// Handler exposes the provider webhook and the enrichment dispatch route.
type Handler struct {
	Gateway *Gateway
	Secret  string
}

// NewHandler constructs a Handler. An empty secret disables signature
// checks; this is logged at startup and on each delivery.
func NewHandler(gw *Gateway, secret string) *Handler {
	if secret == "" {
		telemetry.Warn("webhook.secret_missing", map[string]any{"mode": "degraded"})
	}
	return &Handler{Gateway: gw, Secret: secret}
}

// RegisterWebhookRoutes attaches the provider-facing routes. mw runs before
// the delivery handler only (rate limiting).
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup, mw ...gin.HandlerFunc) {
	rg.POST("/webhooks/provider", append(mw, h.receive)...)
	rg.HEAD("/webhooks/provider", h.health)
	rg.GET("/webhooks/provider/health", h.health)
}

// RegisterRoutes attaches the case-facing routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/cases/:id/enrichment", h.dispatch)
	rg.GET("/cases/:id/enrichment", h.listRequests)
}

func (h *Handler) health(c *gin.Context) {
	c.Status(http.StatusOK)
}

func (h *Handler) receive(c *gin.Context) {
	metrics.IncWebhookReceived()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		metrics.IncWebhookRejected()
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "unable to read body", nil)
		return
	}
	if len(body) > maxWebhookBody {
		metrics.IncWebhookRejected()
		respond.Error(c, http.StatusRequestEntityTooLarge, respond.CodeValidation, "payload too large", nil)
		return
	}

	if h.Secret == "" {
		telemetry.Warn("webhook.signature_unchecked", map[string]any{
			"request_id": middleware.RequestIDFromContext(c),
		})
	} else if err := VerifySignature(h.Secret, body, c.GetHeader(SignatureHeader)); err != nil {
		metrics.IncWebhookRejected()
		telemetry.Error("webhook.signature_invalid", map[string]any{
			"client_ip":  c.ClientIP(),
			"request_id": middleware.RequestIDFromContext(c),
			"alert":      true,
		})
		respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "invalid signature", nil)
		return
	}

	ev, err := Decode(body)
	if err != nil {
		metrics.IncWebhookRejected()
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "malformed webhook payload", nil)
		return
	}

	res, err := h.Gateway.Handle(c.Request.Context(), ev)
	if res.CaseID != "" {
		c.Set(middleware.CaseIDKey, res.CaseID)
	}
	if err != nil {
		if errors.Is(err, ErrUnknownReference) {
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "unknown reference_id", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to process webhook", nil)
		return
	}
	respond.OK(c, res)
}

func (h *Handler) dispatch(c *gin.Context) {
	caseID := c.Param("id")
	c.Set(middleware.CaseIDKey, caseID)
	req, err := h.Gateway.Dispatch(c.Request.Context(), caseID)
	if err != nil {
		switch {
		case errors.Is(err, cases.ErrNotFound):
			cases.WriteLookupError(c, err)
		case errors.Is(err, ErrNoLawsuitNumber):
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "case has no lawsuit number", nil)
		case errors.Is(err, ErrProviderUnavailable):
			respond.Error(c, http.StatusServiceUnavailable, respond.CodeInternal, "provider not configured", nil)
		default:
			respond.Error(c, http.StatusBadGateway, respond.CodeInternal, "provider request failed", nil)
		}
		return
	}
	respond.JSON(c, http.StatusAccepted, req)
}

func (h *Handler) listRequests(c *gin.Context) {
	caseID := c.Param("id")
	c.Set(middleware.CaseIDKey, caseID)
	list, err := h.Gateway.ListRequests(c.Request.Context(), caseID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to list requests", nil)
		return
	}
	respond.OK(c, gin.H{"requests": list})
}
