package accounts

import (
	"net/http"

	"serviceflow_backend/platform/httpkit"
	"serviceflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

// Handler exposes admin endpoints for account operations.
type Handler struct {
	service *Service
	val     *validator.Validator
}

// NewHandler creates the accounts handler.
func NewHandler(service *Service, val *validator.Validator) *Handler {
	return &Handler{service: service, val: val}
}

// HandleAuthHealth reports the authorization state of one account.
// GET /api/v1/admin/accounts/:accountId/auth-health
func (h *Handler) HandleAuthHealth(c *gin.Context) {
	health, err := h.service.AuthHealth(c.Request.Context(), c.Param("accountId"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, health)
}

type reconcileRequest struct {
	AccountID string `json:"account_id" validate:"required"`
}

// HandleReconcile merges duplicate rows for a platform account id.
// POST /api/v1/admin/accounts/reconcile
func (h *Handler) HandleReconcile(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "account_id is required")
		return
	}

	result, err := h.service.Reconcile(c.Request.Context(), req.AccountID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
