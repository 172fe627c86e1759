// Package followup provides the follow-up bounded context module.
// This file defines the module that encapsulates setup and route registration.
package followup

import (
	"fmt"

	"serviceflow_backend/internal/events"
	apphttp "serviceflow_backend/internal/http"
	"serviceflow_backend/internal/http/middleware"
	"serviceflow_backend/platform/config"
	"serviceflow_backend/platform/logger"
	"serviceflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ModuleConfig combines the config interfaces the follow-up module needs.
type ModuleConfig interface {
	config.AIConfig
	config.EmailConfig
	config.JobberConfig
}

// Module is the follow-up bounded context module implementing http.Module.
type Module struct {
	handler       *Handler
	repo          *Repository
	service       *Service
	webhookSecret string
	log           *logger.Logger
}

// NewModule creates and initializes the follow-up module with all its
// dependencies. resolver, tokens, and fetcher come from the accounts and
// jobber packages and are wired by the composition root.
func NewModule(
	pool *pgxpool.Pool,
	cfg ModuleConfig,
	resolver accountResolver,
	tokens tokenSource,
	fetcher visitFetcher,
	profiles profileReader,
	eventBus events.Bus,
	val *validator.Validator,
	log *logger.Logger,
) (*Module, error) {
	repo := NewRepository(pool)

	policy, err := LoadTopicPolicy()
	if err != nil {
		return nil, fmt.Errorf("load topic policy: %w", err)
	}
	gate := NewSafetyGate(repo, policy, log)
	classifier := NewClassifier(log)

	var composer draftComposer
	if cfg.IsAIEnabled() {
		c, err := NewComposer(cfg)
		if err != nil {
			return nil, fmt.Errorf("init composer: %w", err)
		}
		composer = c
	} else {
		log.Warn("AI composer not configured; all emails use the fallback template")
	}

	dispatcher, err := NewDispatcher(cfg)
	if err != nil {
		return nil, fmt.Errorf("init dispatcher: %w", err)
	}

	service := NewService(repo, resolver, tokens, fetcher, profiles, gate, classifier, composer, dispatcher, eventBus, log)
	handler := NewHandler(service, repo, val)

	return &Module{
		handler:       handler,
		repo:          repo,
		service:       service,
		webhookSecret: cfg.GetJobberWebhookSecret(),
		log:           log,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "followup"
}

// RegisterRoutes mounts the webhook and admin routes on the router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	webhooks := ctx.V1.Group("/webhooks")
	webhooks.Use(ctx.WebhookRateLimiter)
	webhooks.Use(middleware.VerifySignature(m.webhookSecret, m.log))
	webhooks.POST("/jobber", m.handler.HandleWebhook)

	adminGroup := ctx.Admin.Group("/followups")
	adminGroup.GET("/attempts", m.handler.HandleListAttempts)
}

// Repository exposes the attempt log repository for the retention worker.
func (m *Module) Repository() *Repository {
	return m.repo
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
