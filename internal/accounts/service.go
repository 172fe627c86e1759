package accounts

import (
	"context"
	"time"

	"serviceflow_backend/platform/apperr"
	"serviceflow_backend/platform/logger"

	"github.com/google/uuid"
)

// AuthHealth describes the authorization state of one account.
type AuthHealth struct {
	AccountID      string     `json:"account_id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

// ReconcileResult reports the outcome of a duplicate merge.
type ReconcileResult struct {
	AccountID  string    `json:"account_id"`
	SurvivorID uuid.UUID `json:"survivor_id"`
	Merged     int       `json:"merged"`
}

// Service exposes admin-facing account operations.
type Service struct {
	repo *Repository
	log  *logger.Logger
	now  func() time.Time
}

// NewService creates the accounts service.
func NewService(repo *Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

// AuthHealth reports whether an account can currently authorize API calls.
func (s *Service) AuthHealth(ctx context.Context, jobberAccountID string) (AuthHealth, error) {
	account, err := s.repo.GetByJobberID(ctx, jobberAccountID)
	if err == ErrAccountNotFound {
		return AuthHealth{}, apperr.NotFound("no account registered for " + jobberAccountID)
	}
	if err != nil {
		return AuthHealth{}, apperr.Wrap(apperr.KindInternal, "account lookup failed", err)
	}

	return AuthHealth{
		AccountID:      account.JobberAccountID,
		Name:           account.Name,
		Status:         account.AuthStatus(s.now()),
		TokenExpiresAt: account.TokenExpiresAt,
	}, nil
}

// Reconcile merges duplicate rows for a platform account id into the
// profiled survivor. Read paths never mutate; this is the only place
// duplicates get cleaned up, on explicit operator request.
func (s *Service) Reconcile(ctx context.Context, jobberAccountID string) (ReconcileResult, error) {
	duplicates, err := s.repo.ListDuplicates(ctx, jobberAccountID)
	if err != nil {
		return ReconcileResult{}, apperr.Wrap(apperr.KindInternal, "list duplicate accounts", err)
	}
	if len(duplicates) == 0 {
		return ReconcileResult{}, apperr.NotFound("no account registered for " + jobberAccountID)
	}

	survivor := duplicates[0]
	result := ReconcileResult{
		AccountID:  jobberAccountID,
		SurvivorID: survivor.ID,
	}
	if len(duplicates) == 1 {
		return result, nil
	}

	losers := make([]uuid.UUID, 0, len(duplicates)-1)
	for _, d := range duplicates[1:] {
		losers = append(losers, d.ID)
	}

	if err := s.repo.Merge(ctx, survivor.ID, losers); err != nil {
		return ReconcileResult{}, apperr.Wrap(apperr.KindInternal, "merge duplicate accounts", err)
	}

	result.Merged = len(losers)
	s.log.Info("duplicate accounts reconciled",
		"account_id", jobberAccountID,
		"survivor", survivor.ID.String(),
		"merged", len(losers),
	)
	return result, nil
}
