package cases

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"caseflow-backend/internal/shared/server/middleware"
	"caseflow-backend/internal/shared/server/respond"
)

// Handler exposes case endpoints.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches case routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/cases", h.create)
	rg.GET("/cases", h.list)
	rg.GET("/cases/:id", h.get)
}

type createCaseRequest struct {
	WorkspaceID string   `json:"workspaceId"`
	Type        string   `json:"type"`
	Metadata    Metadata `json:"metadata"`
}

func (h *Handler) create(c *gin.Context) {
	var req createCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid json body", nil)
		return
	}
	created, err := h.Svc.Create(c.Request.Context(), req.WorkspaceID, req.Metadata, req.Type)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "workspaceId is required", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to create case", nil)
		return
	}
	c.Set(middleware.CaseIDKey, created.ID)
	c.Set(middleware.WorkspaceIDKey, created.WorkspaceID)
	respond.JSON(c, http.StatusCreated, created)
}

func (h *Handler) get(c *gin.Context) {
	caseID := c.Param("id")
	c.Set(middleware.CaseIDKey, caseID)
	found, err := h.Svc.Get(c.Request.Context(), caseID)
	if err != nil {
		WriteLookupError(c, err)
		return
	}
	respond.OK(c, found)
}

func (h *Handler) list(c *gin.Context) {
	workspaceID := c.Query("workspaceId")
	if workspaceID == "" {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "workspaceId is required", nil)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	list, err := h.Svc.List(c.Request.Context(), workspaceID, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to list cases", nil)
		return
	}
	respond.OK(c, gin.H{"cases": list})
}

// WriteLookupError maps case lookup failures to HTTP responses.
func WriteLookupError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "case not found", nil)
		return
	}
	respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load case", nil)
}
