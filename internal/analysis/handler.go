package analysis

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"caseflow-backend/internal/cases"
	"caseflow-backend/internal/shared/server/middleware"
	"caseflow-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the analysis gate.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/cases/:id/analyses", h.request)
	rg.GET("/cases/:id/analyses", h.list)
	rg.GET("/cases/:id/analyses/runs/:runId", h.getRun)
}

type analysisRequest struct {
	AnalysisType Type `json:"analysisType"`
}

func (h *Handler) request(c *gin.Context) {
	caseID := c.Param("id")
	c.Set(middleware.CaseIDKey, caseID)

	var req analysisRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid json body", nil)
			return
		}
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	out, err := h.Svc.Request(ctx, caseID, req.AnalysisType)
	if err != nil {
		if out.Run.WorkspaceID != "" {
			c.Set(middleware.WorkspaceIDKey, out.Run.WorkspaceID)
		}
		writeGateError(c, err, out.Run)
		return
	}
	c.Set(middleware.WorkspaceIDKey, out.Run.WorkspaceID)
	respond.JSON(c, http.StatusCreated, out)
}

func writeGateError(c *gin.Context, err error, run Run) {
	var short *InsufficientCreditsError
	switch {
	case errors.Is(err, cases.ErrNotFound):
		cases.WriteLookupError(c, err)
	case errors.Is(err, ErrInvalidType):
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "analysisType must be full or report", nil)
	case errors.Is(err, ErrCaseNotReady):
		respond.Error(c, http.StatusBadRequest, respond.CodeCaseNotReady, "case must be enriched before analysis", nil)
	case errors.As(err, &short):
		respond.Error(c, http.StatusPaymentRequired, respond.CodePaymentRequired, "insufficient credits", gin.H{
			"required":  short.Required,
			"available": short.Available,
		})
	case errors.Is(err, ErrCreditsLost):
		respond.Error(c, http.StatusInternalServerError, respond.CodeCreditsLost, "analysis failed and the refund is pending manual reconciliation", gin.H{"runId": run.ID})
	case errors.Is(err, ErrAnalysisFailed):
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "analysis failed; credits were refunded", gin.H{"runId": run.ID})
	default:
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to run analysis", nil)
	}
}

func (h *Handler) list(c *gin.Context) {
	caseID := c.Param("id")
	c.Set(middleware.CaseIDKey, caseID)
	versions, err := h.Svc.List(c.Request.Context(), caseID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to list analyses", nil)
		return
	}
	respond.OK(c, gin.H{"analyses": versions})
}

func (h *Handler) getRun(c *gin.Context) {
	caseID := c.Param("id")
	c.Set(middleware.CaseIDKey, caseID)
	run, err := h.Svc.GetRun(c.Request.Context(), caseID, c.Param("runId"))
	if err != nil {
		if errors.Is(err, ErrRunNotFound) {
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "analysis run not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to fetch analysis run", nil)
		return
	}
	respond.OK(c, run)
}
