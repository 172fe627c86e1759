// Package accounts provides the tenant account bounded context.
// It owns account records, OAuth token lifecycle, and resolution of inbound
// webhook events to the tenant that owns them.
package accounts

import (
	"time"

	"github.com/google/uuid"
)

// Account represents a connected tenant account on the field-service platform.
type Account struct {
	ID                   uuid.UUID
	JobberAccountID      string
	Name                 string
	AccessToken          string
	RefreshToken         string
	TokenExpiresAt       *time.Time
	NeedsReauthorization bool
	IsSandbox            bool
	HasProfile           bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Auth health states reported by the admin endpoint.
const (
	AuthStatusActive      = "active"
	AuthStatusExpired     = "expired"
	AuthStatusNoToken     = "no_token"
	AuthStatusNeedsReauth = "needs_reauth"
)

// tokenExpiryMargin is subtracted from the stored expiry so a token that is
// about to expire mid-request is refreshed up front.
const tokenExpiryMargin = 5 * time.Minute

// HasUsableToken reports whether the account can make API calls right now
// without a refresh.
func (a *Account) HasUsableToken(now time.Time) bool {
	if a.NeedsReauthorization || a.AccessToken == "" {
		return false
	}
	if a.TokenExpiresAt == nil {
		return true
	}
	return a.TokenExpiresAt.After(now.Add(tokenExpiryMargin))
}

// AuthStatus classifies the account's authorization state.
func (a *Account) AuthStatus(now time.Time) string {
	switch {
	case a.NeedsReauthorization:
		return AuthStatusNeedsReauth
	case a.AccessToken == "" && a.RefreshToken == "":
		return AuthStatusNoToken
	case a.TokenExpiresAt != nil && !a.TokenExpiresAt.After(now):
		return AuthStatusExpired
	default:
		return AuthStatusActive
	}
}
