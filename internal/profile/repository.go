// Package profile provides read-only access to service provider profiles.
// Profiles feed the email composer's prompt and the fallback signature; they
// are maintained out of band, this context never writes them.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrProfileNotFound = errors.New("provider profile not found")

// Profile describes the tenant's business for email composition.
type Profile struct {
	AccountID           uuid.UUID
	CompanyName         string
	Description         string
	ToneOfVoice         string
	ServiceDetails      string
	UniqueSellingPoints string
	LocalExpertise      string
	YearsInBusiness     int
	ContactEmail        string
	ContactPhone        string
	Website             string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Repository provides read access to provider profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new profile repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByAccountID retrieves the profile for an account.
func (r *Repository) GetByAccountID(ctx context.Context, accountID uuid.UUID) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `
		SELECT account_id, company_name, description, tone_of_voice,
		       service_details, unique_selling_points, local_expertise,
		       years_in_business, contact_email, contact_phone, website,
		       created_at, updated_at
		FROM sf_provider_profiles
		WHERE account_id = $1
	`, accountID).Scan(
		&p.AccountID, &p.CompanyName, &p.Description, &p.ToneOfVoice,
		&p.ServiceDetails, &p.UniqueSellingPoints, &p.LocalExpertise,
		&p.YearsInBusiness, &p.ContactEmail, &p.ContactPhone, &p.Website,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrProfileNotFound
	}
	return p, err
}
