// Package followup provides the visit follow-up bounded context: the webhook
// pipeline that turns a completed visit into a drafted and delivered
// customer email, guarded by deduplication and a safety gate.
package followup

import (
	"time"

	"github.com/google/uuid"
)

// Attempt outcome statuses. The attempt log is append-only; every pipeline
// run that reaches the gate leaves a record regardless of outcome.
const (
	StatusSent    = "sent"
	StatusBlocked = "duplicate_blocked"
	StatusFailed  = "failed"
)

// Block reasons recorded by the safety gate.
const (
	BlockReasonDuplicateVisit = "duplicate_visit"
	BlockReasonInvalidTopic   = "invalid_topic"
	BlockReasonRateLimit      = "rate_limit"
)

// Webhook topic for completed visits, the only topic that triggers a send.
const TopicVisitComplete = "VISIT_COMPLETE"

// WebhookEvent is the normalized inbound webhook payload.
type WebhookEvent struct {
	Topic     string
	VisitID   string
	AccountID string
}

// EmailAttempt is one row in the append-only attempt log.
type EmailAttempt struct {
	ID                uuid.UUID
	AccountID         uuid.UUID
	VisitID           string
	JobID             string
	WebhookTopic      string
	CustomerEmail     string
	CustomerName      string
	Subject           string
	Status            string
	BlockReason       string
	AIGenerated       bool
	FallbackData      bool
	ProviderMessageID string
	ErrorMessage      string
	SandboxSuspect    bool
	CreatedAt         time.Time
}

// Result is the terminal outcome of one pipeline run, rendered into the
// webhook response.
type Result struct {
	Status       string `json:"status"` // processed | blocked | duplicate
	JobID        string `json:"job_id,omitempty"`
	Customer     string `json:"customer,omitempty"`
	AIGenerated  bool   `json:"ai_generated"`
	EmailSent    bool   `json:"email_sent"`
	AccountUsed  string `json:"account_used,omitempty"`
	BlockReason  string `json:"reason,omitempty"`
	FallbackData bool   `json:"fallback_data,omitempty"`
}

// Response statuses.
const (
	ResultProcessed = "processed"
	ResultBlocked   = "blocked"
	ResultDuplicate = "duplicate"
)
