package documents

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"caseflow-backend/internal/cases"
	"caseflow-backend/internal/shared/server/middleware"
	"caseflow-backend/internal/shared/server/respond"
)

const maxUploadSize = 10 << 20 // 10MB

// CaseLookup resolves the case documents belong to.
type CaseLookup interface {
	Get(ctx context.Context, caseID string) (cases.Case, error)
}

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc   *Service
	Cases CaseLookup
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, caseLookup CaseLookup) *Handler {
	return &Handler{Svc: svc, Cases: caseLookup}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/cases/:id/documents", h.upload)
	rg.GET("/cases/:id/documents", h.list)
	rg.GET("/cases/:id/documents/:docId", h.get)
	rg.DELETE("/cases/:id/documents/:docId", h.delete)
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

func (h *Handler) upload(c *gin.Context) {
	cs, ok := h.loadCase(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(c, http.StatusRequestEntityTooLarge, respond.CodeValidation, "file exceeds 10MB", nil)
			return
		}
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "file is required", nil)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "unable to read file", nil)
		return
	}
	defer file.Close()

	doc, merge, err := h.Svc.Upload(c.Request.Context(), cs.ID, fileHeader.Filename, file)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to upload document", nil)
		}
		return
	}

	respond.JSON(c, http.StatusCreated, gin.H{"document": toResponse(doc), "merge": merge})
}

func (h *Handler) list(c *gin.Context) {
	cs, ok := h.loadCase(c)
	if !ok {
		return
	}

	limit := 20
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}
	if limit > 50 {
		limit = 50
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	docs, err := h.Svc.List(c.Request.Context(), cs.ID, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to list documents", nil)
		return
	}
	resp := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		resp = append(resp, toResponse(doc))
	}
	respond.OK(c, gin.H{"documents": resp})
}

func (h *Handler) get(c *gin.Context) {
	cs, ok := h.loadCase(c)
	if !ok {
		return
	}
	doc, err := h.Svc.Get(c.Request.Context(), cs.ID, c.Param("docId"))
	if err != nil {
		writeDocumentError(c, err, "failed to fetch document")
		return
	}
	respond.OK(c, toResponse(doc))
}

func (h *Handler) delete(c *gin.Context) {
	cs, ok := h.loadCase(c)
	if !ok {
		return
	}
	if err := h.Svc.Delete(c.Request.Context(), cs.ID, c.Param("docId")); err != nil {
		writeDocumentError(c, err, "failed to delete document")
		return
	}
	c.Status(http.StatusNoContent)
}

func writeDocumentError(c *gin.Context, err error, msg string) {
	if errors.Is(err, ErrNotFound) {
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "document not found", nil)
		return
	}
	respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, msg, nil)
}
