package timeline

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"caseflow-backend/internal/cases"
	"caseflow-backend/internal/shared/server/middleware"
	"caseflow-backend/internal/shared/server/respond"
)

// CaseLookup resolves the case a timeline belongs to.
type CaseLookup interface {
	Get(ctx context.Context, caseID string) (cases.Case, error)
}

// Handler exposes timeline endpoints.
type Handler struct {
	Svc   *Service
	Cases CaseLookup
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, caseLookup CaseLookup) *Handler {
	return &Handler{Svc: svc, Cases: caseLookup}
}

// RegisterRoutes attaches timeline routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/cases/:id/timeline", h.list)
	rg.POST("/cases/:id/timeline/merge", h.merge)
	rg.POST("/cases/:id/timeline/entries", h.addEntry)
	rg.PUT("/cases/:id/timeline/conflicts/:entryId", h.resolve)
}

func (h *Handler) loadCase(c *gin.Context) (cases.Case, bool) {
	caseID := c.Param("id")
	c.Set(middleware.CaseIDKey, caseID)
	found, err := h.Cases.Get(c.Request.Context(), caseID)
	if err != nil {
		cases.WriteLookupError(c, err)
		return cases.Case{}, false
	}
	c.Set(middleware.WorkspaceIDKey, found.WorkspaceID)
	return found, true
}

func (h *Handler) list(c *gin.Context) {
	cs, ok := h.loadCase(c)
	if !ok {
		return
	}
	entries, err := h.Svc.List(c.Request.Context(), cs.ID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load timeline", nil)
		return
	}
	respond.OK(c, gin.H{"caseId": cs.ID, "entries": entries})
}

func (h *Handler) merge(c *gin.Context) {
	cs, ok := h.loadCase(c)
	if !ok {
		return
	}
	res, err := h.Svc.Merge(c.Request.Context(), cs.ID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to merge timeline", nil)
		return
	}
	respond.OK(c, res)
}

type addEntryRequest struct {
	EventDate   string `json:"eventDate"`
	EventType   string `json:"eventType"`
	Description string `json:"description"`
}

func (h *Handler) addEntry(c *gin.Context) {
	cs, ok := h.loadCase(c)
	if !ok {
		return
	}
	var req addEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid json body", nil)
		return
	}
	date, err := time.Parse(time.DateOnly, req.EventDate)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "eventDate must be YYYY-MM-DD", nil)
		return
	}
	res, err := h.Svc.AddManualEntry(c.Request.Context(), cs.ID, date, req.EventType, req.Description)
	if err != nil {
		if errors.Is(err, ErrInvalidEvent) {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "eventType or description is required", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to add timeline entry", nil)
		return
	}
	respond.JSON(c, http.StatusCreated, res)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
	Manual     *struct {
		EventDate   string `json:"eventDate"`
		EventType   string `json:"eventType"`
		Description string `json:"description"`
	} `json:"manual"`
	ResolvedBy string `json:"resolvedBy"`
	Note       string `json:"note"`
}

func (h *Handler) resolve(c *gin.Context) {
	cs, ok := h.loadCase(c)
	if !ok {
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid json body", nil)
		return
	}
	in := ResolveInput{
		Resolution: ResolutionKind(req.Resolution),
		ResolvedBy: req.ResolvedBy,
		Note:       req.Note,
	}
	if in.ResolvedBy == "" {
		in.ResolvedBy = c.GetHeader("X-Actor")
	}
	if req.Manual != nil {
		m := &ManualValues{EventType: req.Manual.EventType, Description: req.Manual.Description}
		if req.Manual.EventDate != "" {
			date, err := time.Parse(time.DateOnly, req.Manual.EventDate)
			if err != nil {
				respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "manual.eventDate must be YYYY-MM-DD", nil)
				return
			}
			m.EventDate = date
		}
		in.Manual = m
	}
	res, err := h.Svc.ResolveConflict(c.Request.Context(), cs.ID, c.Param("entryId"), in)
	if err != nil {
		switch {
		case errors.Is(err, ErrEntryNotFound):
			respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "timeline entry not found", nil)
		case errors.Is(err, ErrInvalidResolution), errors.Is(err, ErrNotAConflict), errors.Is(err, ErrAmbiguousConflict):
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to resolve conflict", nil)
		}
		return
	}
	respond.OK(c, res)
}
