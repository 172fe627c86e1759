package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAccountNotFound = errors.New("account not found")

const accountColumns = `
	a.id, a.jobber_account_id, a.name, a.access_token, a.refresh_token,
	a.token_expires_at, a.needs_reauthorization, a.is_sandbox,
	(p.account_id IS NOT NULL) AS has_profile,
	a.created_at, a.updated_at`

const accountFrom = `
	FROM sf_accounts a
	LEFT JOIN sf_provider_profiles p ON p.account_id = a.id`

// Repository provides data access for tenant accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new accounts repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.JobberAccountID, &a.Name, &a.AccessToken, &a.RefreshToken,
		&a.TokenExpiresAt, &a.NeedsReauthorization, &a.IsSandbox,
		&a.HasProfile, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return a, err
}

// GetByJobberID looks up an account by its platform account identifier.
// When duplicate rows exist for the same platform id, the row with a
// provider profile wins; ties break on the oldest row. The lookup never
// mutates anything, duplicates are merged only through Reconcile.
func (r *Repository) GetByJobberID(ctx context.Context, jobberAccountID string) (Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+accountFrom+`
		WHERE a.jobber_account_id = $1
		ORDER BY (p.account_id IS NOT NULL) DESC, a.created_at ASC
		LIMIT 1
	`, jobberAccountID)
	return scanAccount(row)
}

// GetByID looks up an account by primary key.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+accountFrom+`
		WHERE a.id = $1
	`, id)
	return scanAccount(row)
}

// GetSandbox returns the designated sandbox account, if any.
func (r *Repository) GetSandbox(ctx context.Context) (Account, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+accountFrom+`
		WHERE a.is_sandbox = true
		ORDER BY a.created_at ASC
		LIMIT 1
	`)
	return scanAccount(row)
}

// ListWithUsableTokens returns accounts that currently hold credentials and
// are not flagged for reauthorization, for the resolver's probing fallback.
// The limit bounds the probe so a fleet of tenants cannot stall a webhook.
func (r *Repository) ListWithUsableTokens(ctx context.Context, limit int) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountColumns+accountFrom+`
		WHERE a.needs_reauthorization = false
		  AND (a.access_token <> '' OR a.refresh_token <> '')
		ORDER BY a.updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateTokens persists a fresh token pair and clears the reauthorization flag.
func (r *Repository) UpdateTokens(ctx context.Context, id uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sf_accounts
		SET access_token = $2, refresh_token = $3, token_expires_at = $4,
		    needs_reauthorization = false, updated_at = now()
		WHERE id = $1
	`, id, accessToken, refreshToken, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ClearTokens wipes stored credentials and flags the account for manual
// reauthorization. Called when the authorization server rejects a refresh.
func (r *Repository) ClearTokens(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sf_accounts
		SET access_token = '', refresh_token = '', token_expires_at = NULL,
		    needs_reauthorization = true, updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// ListDuplicates returns all rows sharing a platform account id, profiled
// survivor first.
func (r *Repository) ListDuplicates(ctx context.Context, jobberAccountID string) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+accountColumns+accountFrom+`
		WHERE a.jobber_account_id = $1
		ORDER BY (p.account_id IS NOT NULL) DESC, a.created_at ASC
	`, jobberAccountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Merge folds duplicate account rows into the survivor inside one
// transaction: dedup history is repointed, then the losers are removed.
func (r *Repository) Merge(ctx context.Context, survivor uuid.UUID, losers []uuid.UUID) error {
	if len(losers) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE sf_email_attempts SET account_id = $1 WHERE account_id = ANY($2)
	`, survivor, losers); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE sf_processed_visits AS old SET account_id = $1
		WHERE old.account_id = ANY($2)
		  AND NOT EXISTS (
			SELECT 1 FROM sf_processed_visits pv
			WHERE pv.account_id = $1 AND pv.visit_id = old.visit_id
		  )
	`, survivor, losers); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM sf_processed_visits WHERE account_id = ANY($1)
	`, losers); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM sf_accounts WHERE id = ANY($1)
	`, losers); err != nil {
		return err
	}

	return tx.Commit(ctx)
}
