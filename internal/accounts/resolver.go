package accounts

import (
	"context"

	"serviceflow_backend/platform/apperr"
	"serviceflow_backend/platform/logger"
)

// probeLimit bounds the resolver's fallback scan so one webhook can never
// fan out into an unbounded number of upstream calls.
const probeLimit = 25

// VisitProber checks whether an account's credentials can see a visit.
// Implemented by the field-service client.
type VisitProber interface {
	VisitExists(ctx context.Context, visitID, accessToken string) (bool, error)
}

// resolverStore is the slice of the repository the resolver needs.
type resolverStore interface {
	GetByJobberID(ctx context.Context, jobberAccountID string) (Account, error)
	GetSandbox(ctx context.Context) (Account, error)
	ListWithUsableTokens(ctx context.Context, limit int) ([]Account, error)
}

// tokenSource yields a usable access token for an account.
type tokenSource interface {
	ValidAccessToken(ctx context.Context, account *Account) (string, error)
}

// Resolver maps an inbound webhook event to the tenant account that owns it.
type Resolver struct {
	store       resolverStore
	tokens      tokenSource
	prober      VisitProber
	isSandboxID func(string) bool
	development bool
	log         *logger.Logger
}

// NewResolver creates an account resolver. isSandboxID recognizes synthetic
// visit identifiers that should route to the sandbox account in development.
func NewResolver(store resolverStore, tokens tokenSource, prober VisitProber, isSandboxID func(string) bool, development bool, log *logger.Logger) *Resolver {
	return &Resolver{
		store:       store,
		tokens:      tokens,
		prober:      prober,
		isSandboxID: isSandboxID,
		development: development,
		log:         log,
	}
}

// Resolve finds the owning account for a webhook event. An explicit account
// id is authoritative; without one the resolver probes accounts that hold
// usable credentials and the first that can see the visit wins. When nothing
// resolves the event fails closed with NotFound rather than guessing, a
// follow-up email sent on behalf of the wrong tenant cannot be unsent.
func (r *Resolver) Resolve(ctx context.Context, jobberAccountID, visitID string) (Account, error) {
	if jobberAccountID != "" {
		account, err := r.store.GetByJobberID(ctx, jobberAccountID)
		if err == ErrAccountNotFound {
			return Account{}, apperr.NotFound("no account registered for " + jobberAccountID)
		}
		if err != nil {
			return Account{}, apperr.Wrap(apperr.KindInternal, "account lookup failed", err)
		}
		return account, nil
	}

	if r.development && r.isSandboxID != nil && r.isSandboxID(visitID) {
		if account, err := r.store.GetSandbox(ctx); err == nil {
			return account, nil
		}
	}

	candidates, err := r.store.ListWithUsableTokens(ctx, probeLimit)
	if err != nil {
		return Account{}, apperr.Wrap(apperr.KindInternal, "list candidate accounts", err)
	}

	for i := range candidates {
		account := &candidates[i]
		token, err := r.tokens.ValidAccessToken(ctx, account)
		if err != nil {
			r.log.Debug("probe skipped account", "account_id", account.JobberAccountID, "error", err.Error())
			continue
		}
		ok, err := r.prober.VisitExists(ctx, visitID, token)
		if err != nil {
			// A probe failure on one account must not sink the others.
			r.log.Debug("probe failed", "account_id", account.JobberAccountID, "error", err.Error())
			continue
		}
		if ok {
			return *account, nil
		}
	}

	return Account{}, apperr.NotFound("no account owns visit " + visitID)
}
