package scheduler

import (
	"context"
	"net/http"

	apphttp "serviceflow_backend/internal/http"
	"serviceflow_backend/platform/httpkit"
	"serviceflow_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// maintenanceEnqueuer queues maintenance tasks for the background worker.
type maintenanceEnqueuer interface {
	EnqueueDedupLogCleanup(ctx context.Context) error
	EnqueueTokenRefreshSweep(ctx context.Context, payload TokenRefreshSweepPayload) error
}

// Module exposes admin endpoints that run a maintenance task now instead of
// waiting for its periodic schedule. Registered only when Redis is configured.
type Module struct {
	enqueuer maintenanceEnqueuer
	log      *logger.Logger
}

// NewModule creates the scheduler admin module around a task client.
func NewModule(enqueuer maintenanceEnqueuer, log *logger.Logger) *Module {
	return &Module{enqueuer: enqueuer, log: log}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "scheduler" }

// RegisterRoutes mounts the maintenance trigger routes on the admin group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	jobs := ctx.Admin.Group("/jobs")
	jobs.POST("/dedup-cleanup", m.handleDedupCleanup)
	jobs.POST("/token-sweep", m.handleTokenSweep)
}

// handleDedupCleanup queues an immediate attempt-log retention pass.
// POST /api/v1/admin/jobs/dedup-cleanup
func (m *Module) handleDedupCleanup(c *gin.Context) {
	if err := m.enqueuer.EnqueueDedupLogCleanup(c.Request.Context()); err != nil {
		m.log.Error("enqueue dedup log cleanup", "error", err.Error())
		httpkit.Error(c, http.StatusServiceUnavailable, "could not queue task")
		return
	}
	httpkit.JSON(c, http.StatusAccepted, gin.H{"queued": TaskDedupLogCleanup})
}

// tokenSweepRequest is the optional body for an on-demand credential sweep.
type tokenSweepRequest struct {
	Limit int `json:"limit"`
}

// handleTokenSweep queues an immediate credential refresh sweep.
// POST /api/v1/admin/jobs/token-sweep
func (m *Module) handleTokenSweep(c *gin.Context) {
	var req tokenSweepRequest
	// The body is optional; the worker falls back to its default limit on zero.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.Limit < 0 {
		httpkit.Error(c, http.StatusBadRequest, "limit must not be negative")
		return
	}

	if err := m.enqueuer.EnqueueTokenRefreshSweep(c.Request.Context(), TokenRefreshSweepPayload{Limit: req.Limit}); err != nil {
		m.log.Error("enqueue token refresh sweep", "error", err.Error())
		httpkit.Error(c, http.StatusServiceUnavailable, "could not queue task")
		return
	}
	httpkit.JSON(c, http.StatusAccepted, gin.H{"queued": TaskTokenRefreshSweep})
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
