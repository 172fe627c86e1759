package accounts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"serviceflow_backend/internal/events"
	"serviceflow_backend/platform/apperr"
	"serviceflow_backend/platform/config"
	"serviceflow_backend/platform/logger"

	"github.com/google/uuid"
)

// tokenStore is the slice of the repository the token manager needs.
type tokenStore interface {
	UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error
	ClearTokens(ctx context.Context, id uuid.UUID) error
}

// TokenManager owns the OAuth refresh lifecycle for tenant accounts.
type TokenManager struct {
	store  tokenStore
	cfg    config.JobberConfig
	bus    events.Bus
	log    *logger.Logger
	client *http.Client
	now    func() time.Time
}

// NewTokenManager creates a token manager with a 30 second refresh timeout.
func NewTokenManager(store tokenStore, cfg config.JobberConfig, bus events.Bus, log *logger.Logger) *TokenManager {
	return &TokenManager{
		store:  store,
		cfg:    cfg,
		bus:    bus,
		log:    log,
		client: &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ValidAccessToken returns a token usable for API calls, refreshing it first
// when the stored one expires within the safety margin. A refresh rejected by
// the authorization server clears the stored credentials and flags the
// account so no further sends happen until a human re-authorizes it.
// The account is updated in place on a successful refresh.
func (m *TokenManager) ValidAccessToken(ctx context.Context, account *Account) (string, error) {
	if account.NeedsReauthorization {
		return "", apperr.Unauthorized("account requires reauthorization")
	}

	if account.HasUsableToken(m.now()) {
		return account.AccessToken, nil
	}

	if account.RefreshToken == "" {
		m.flagReauthorization(ctx, account, "no refresh token")
		return "", apperr.Unauthorized("account has no refresh token")
	}

	return m.refresh(ctx, account)
}

func (m *TokenManager) refresh(ctx context.Context, account *Account) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", account.RefreshToken)
	form.Set("client_id", m.cfg.GetJobberClientID())
	form.Set("client_secret", m.cfg.GetJobberClientSecret())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.GetJobberTokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "build token refresh request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		m.log.TokenRefresh(account.JobberAccountID, false, err.Error())
		return "", apperr.Wrap(apperr.KindUpstream, "token refresh request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		m.flagReauthorization(ctx, account, "refresh rejected by authorization server")
		return "", apperr.Unauthorized("token refresh rejected")
	default:
		m.log.TokenRefresh(account.JobberAccountID, false, resp.Status)
		return "", apperr.Upstream("token endpoint returned " + resp.Status)
	}

	var body tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", apperr.Wrap(apperr.KindUpstream, "decode token response", err)
	}
	if body.AccessToken == "" {
		return "", apperr.Upstream("token response missing access token")
	}

	// Providers may rotate the refresh token; keep the old one if they don't.
	refreshToken := body.RefreshToken
	if refreshToken == "" {
		refreshToken = account.RefreshToken
	}
	expiresAt := m.now().Add(time.Duration(body.ExpiresIn) * time.Second)

	if err := m.store.UpdateTokens(ctx, account.ID, body.AccessToken, refreshToken, expiresAt); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "persist refreshed tokens", err)
	}

	account.AccessToken = body.AccessToken
	account.RefreshToken = refreshToken
	account.TokenExpiresAt = &expiresAt

	m.log.TokenRefresh(account.JobberAccountID, true, "")
	return body.AccessToken, nil
}

func (m *TokenManager) flagReauthorization(ctx context.Context, account *Account, reason string) {
	if err := m.store.ClearTokens(ctx, account.ID); err != nil {
		m.log.DatabaseError("clear account tokens", err)
	}
	account.AccessToken = ""
	account.RefreshToken = ""
	account.TokenExpiresAt = nil
	account.NeedsReauthorization = true

	m.log.TokenRefresh(account.JobberAccountID, false, reason)
	if m.bus != nil {
		m.bus.Publish(ctx, events.AccountReauthorizationRequired{
			BaseEvent: events.NewBaseEvent(),
			AccountID: account.JobberAccountID,
		})
	}
}
