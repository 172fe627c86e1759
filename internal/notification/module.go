// Package notification consumes domain events and surfaces them in the ops
// log. The follow-up pipeline runs off a webhook with nobody waiting on the
// response, so delivery outcomes and expired authorizations are reported here
// rather than in an HTTP reply.
package notification

import (
	"context"

	"serviceflow_backend/internal/events"
	"serviceflow_backend/platform/logger"
)

// Module is the event bus consumer for the API binary.
type Module struct {
	log *logger.Logger
}

// New creates a new notification module.
func New(log *logger.Logger) *Module {
	return &Module{log: log}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// RegisterHandlers subscribes to all relevant domain events on the event bus.
func (m *Module) RegisterHandlers(bus *events.InMemoryBus) {
	bus.Subscribe(events.FollowUpEmailSent{}.EventName(), m)
	bus.Subscribe(events.FollowUpBlocked{}.EventName(), m)
	bus.Subscribe(events.FollowUpDispatchFailed{}.EventName(), m)
	bus.Subscribe(events.AccountReauthorizationRequired{}.EventName(), m)
}

// Handle routes events to their handlers.
func (m *Module) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.FollowUpEmailSent:
		m.log.Info("follow-up email delivered",
			"attempt_id", e.AttemptID.String(),
			"account_id", e.AccountID,
			"visit_id", e.VisitID,
			"job_id", e.JobID,
			"ai_generated", e.AIGenerated,
		)
		return nil
	case events.FollowUpBlocked:
		m.log.Warn("follow-up email blocked",
			"account_id", e.AccountID,
			"visit_id", e.VisitID,
			"reason", e.Reason,
		)
		return nil
	case events.FollowUpDispatchFailed:
		m.log.Error("follow-up dispatch failed",
			"account_id", e.AccountID,
			"visit_id", e.VisitID,
			"error", e.ErrorMessage,
		)
		return nil
	case events.AccountReauthorizationRequired:
		m.log.Error("account requires reauthorization",
			"account_id", e.AccountID,
		)
		return nil
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}
