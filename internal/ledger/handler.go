package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"caseflow-backend/internal/shared/server/middleware"
	"caseflow-backend/internal/shared/server/respond"
)

// Handler exposes credit endpoints for internal callers.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches credit routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/credits/consume", h.consume)
	rg.POST("/credits/refund", h.refund)
	rg.GET("/workspaces/:id/credits", h.balance)
	rg.GET("/workspaces/:id/credits/transactions", h.transactions)
	rg.POST("/workspaces/:id/credits/grant", h.grant)
}

type consumeRequest struct {
	WorkspaceID   string `json:"workspaceId"`
	ReportCredits int    `json:"reportCredits"`
	FullCredits   int    `json:"fullCredits"`
	Reason        string `json:"reason"`
	ResourceType  string `json:"resourceType"`
	ResourceID    string `json:"resourceId"`
}

func (h *Handler) consume(c *gin.Context) {
	var req consumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid json body", nil)
		return
	}
	c.Set(middleware.WorkspaceIDKey, req.WorkspaceID)
	meta := ConsumptionMetadata{ResourceType: req.ResourceType, ResourceID: req.ResourceID}
	res, err := h.Svc.Debit(c.Request.Context(), req.WorkspaceID, req.ReportCredits, req.FullCredits, req.Reason, meta, Options{})
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to consume credits", nil)
		return
	}
	if !res.Success {
		respond.Error(c, http.StatusPaymentRequired, respond.CodePaymentRequired, "insufficient credits", gin.H{
			"required":  res.Required,
			"available": res.Available,
		})
		return
	}
	respond.OK(c, gin.H{
		"transactionIds": res.TransactionIDs,
		"balance":        res.Available,
	})
}

type refundRequestBody struct {
	TransactionIDs []string `json:"transactionIds"`
	Reason         string   `json:"reason"`
	Cause          string   `json:"cause"`
}

func (h *Handler) refund(c *gin.Context) {
	var req refundRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid json body", nil)
		return
	}
	cause := req.Cause
	if cause == "" {
		cause = "manual"
	}
	res, err := h.Svc.Refund(c.Request.Context(), req.TransactionIDs, req.Reason, RefundMetadata{Cause: cause}, Options{})
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyRefunded):
			respond.Error(c, http.StatusConflict, respond.CodeConflict, err.Error(), nil)
		case IsRefundRejection(err):
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to refund credits", nil)
		}
		return
	}
	respond.OK(c, res)
}

func (h *Handler) balance(c *gin.Context) {
	workspaceID := c.Param("id")
	c.Set(middleware.WorkspaceIDKey, workspaceID)
	b, err := h.Svc.Balance(c.Request.Context(), workspaceID)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to load balance", nil)
		return
	}
	respond.OK(c, gin.H{"workspaceId": workspaceID, "balance": b})
}

func (h *Handler) transactions(c *gin.Context) {
	workspaceID := c.Param("id")
	c.Set(middleware.WorkspaceIDKey, workspaceID)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.Svc.ListTransactions(c.Request.Context(), workspaceID, limit)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to list transactions", nil)
		return
	}
	respond.OK(c, gin.H{"transactions": list})
}

type grantRequest struct {
	ReportCredits int    `json:"reportCredits"`
	FullCredits   int    `json:"fullCredits"`
	Source        string `json:"source"`
	ExternalRef   string `json:"externalRef"`
}

func (h *Handler) grant(c *gin.Context) {
	workspaceID := c.Param("id")
	c.Set(middleware.WorkspaceIDKey, workspaceID)
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "invalid json body", nil)
		return
	}
	if req.Source == "" {
		req.Source = "admin"
	}
	t, err := h.Svc.Grant(c.Request.Context(), workspaceID, req.ReportCredits, req.FullCredits, req.Source, req.ExternalRef)
	if err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to grant credits", nil)
		return
	}
	respond.JSON(c, http.StatusCreated, t)
}
