package followup

import (
	"net/http"
	"strconv"

	"serviceflow_backend/platform/httpkit"
	"serviceflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

// Handler exposes the webhook endpoint and the admin audit view.
type Handler struct {
	service *Service
	repo    *Repository
	val     *validator.Validator
}

// NewHandler creates the follow-up handler.
func NewHandler(service *Service, repo *Repository, val *validator.Validator) *Handler {
	return &Handler{service: service, repo: repo, val: val}
}

// webhookRequest mirrors the provider's delivery envelope.
type webhookRequest struct {
	Data struct {
		WebHookEvent struct {
			Topic     string `json:"topic" validate:"required"`
			ItemID    string `json:"itemId" validate:"required"`
			AccountID string `json:"accountId"`
		} `json:"webHookEvent"`
	} `json:"data"`
}

// HandleWebhook processes one inbound visit webhook delivery.
// POST /api/v1/webhooks/jobber
func (h *Handler) HandleWebhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid webhook payload")
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "topic and itemId are required")
		return
	}

	event := WebhookEvent{
		Topic:     req.Data.WebHookEvent.Topic,
		VisitID:   req.Data.WebHookEvent.ItemID,
		AccountID: req.Data.WebHookEvent.AccountID,
	}

	result, err := h.service.Process(c.Request.Context(), event)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// HandleListAttempts returns the newest attempt records.
// GET /api/v1/admin/followups/attempts?limit=50
func (h *Handler) HandleListAttempts(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	attempts, err := h.repo.ListAttempts(c.Request.Context(), limit)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"attempts": attempts, "count": len(attempts)})
}
