// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"serviceflow_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Follow-up Domain Events
// =============================================================================

// FollowUpEmailSent is published after a follow-up email has been delivered
// and its attempt record committed.
type FollowUpEmailSent struct {
	BaseEvent
	AttemptID     uuid.UUID `json:"attemptId"`
	AccountID     string    `json:"accountId"`
	VisitID       string    `json:"visitId"`
	JobID         string    `json:"jobId"`
	CustomerEmail string    `json:"customerEmail"`
	AIGenerated   bool      `json:"aiGenerated"`
}

func (e FollowUpEmailSent) EventName() string { return "followup.email.sent" }

// FollowUpBlocked is published when the safety gate refuses a send.
type FollowUpBlocked struct {
	BaseEvent
	AccountID     string `json:"accountId"`
	VisitID       string `json:"visitId"`
	CustomerEmail string `json:"customerEmail"`
	Reason        string `json:"reason"`
}

func (e FollowUpBlocked) EventName() string { return "followup.email.blocked" }

// FollowUpDispatchFailed is published when a composed email could not be
// handed to the delivery provider.
type FollowUpDispatchFailed struct {
	BaseEvent
	AccountID     string `json:"accountId"`
	VisitID       string `json:"visitId"`
	CustomerEmail string `json:"customerEmail"`
	ErrorMessage  string `json:"errorMessage"`
}

func (e FollowUpDispatchFailed) EventName() string { return "followup.email.dispatch_failed" }

// =============================================================================
// Accounts Domain Events
// =============================================================================

// AccountReauthorizationRequired is published when a token refresh is rejected
// by the authorization server and the account is flagged for manual re-auth.
type AccountReauthorizationRequired struct {
	BaseEvent
	AccountID string `json:"accountId"`
}

func (e AccountReauthorizationRequired) EventName() string {
	return "accounts.reauthorization.required"
}
