// Package accounts provides the tenant account bounded context module.
// This file defines the module that encapsulates setup and route registration.
package accounts

import (
	"serviceflow_backend/internal/events"
	apphttp "serviceflow_backend/internal/http"
	"serviceflow_backend/platform/config"
	"serviceflow_backend/platform/logger"
	"serviceflow_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the accounts bounded context module implementing http.Module.
type Module struct {
	handler  *Handler
	repo     *Repository
	tokens   *TokenManager
	resolver *Resolver
}

// NewModule creates and initializes the accounts module with all its dependencies.
// The resolver's VisitProber and sandbox detector come from the field-service
// client and are wired by the composition root.
func NewModule(pool *pgxpool.Pool, cfg interface {
	config.JobberConfig
	config.EnvConfig
}, prober VisitProber, isSandboxID func(string) bool, eventBus events.Bus, val *validator.Validator, log *logger.Logger) *Module {
	repo := NewRepository(pool)
	tokens := NewTokenManager(repo, cfg, eventBus, log)
	resolver := NewResolver(repo, tokens, prober, isSandboxID, cfg.IsDevelopment(), log)
	service := NewService(repo, log)
	handler := NewHandler(service, val)

	return &Module{
		handler:  handler,
		repo:     repo,
		tokens:   tokens,
		resolver: resolver,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "accounts"
}

// RegisterRoutes mounts account admin routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	adminGroup := ctx.Admin.Group("/accounts")
	adminGroup.GET("/:accountId/auth-health", m.handler.HandleAuthHealth)
	adminGroup.POST("/reconcile", m.handler.HandleReconcile)
}

// Repository exposes the account repository for cross-module wiring.
func (m *Module) Repository() *Repository {
	return m.repo
}

// Tokens exposes the token manager for cross-module wiring.
func (m *Module) Tokens() *TokenManager {
	return m.tokens
}

// AccountResolver exposes the resolver for the follow-up pipeline.
func (m *Module) AccountResolver() *Resolver {
	return m.resolver
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
