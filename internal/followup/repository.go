package followup

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateAttempt is returned when the storage uniqueness constraint
// rejects a second sent record for the same job and address. The constraint,
// not the read-side check, is the real mutual exclusion between concurrent
// deliveries.
var ErrDuplicateAttempt = errors.New("duplicate sent attempt")

const uniqueViolation = "23505"

// dedupWindow is the trailing window in which a second email to the same
// address for the same job counts as a duplicate.
const dedupWindow = 24 * time.Hour

// Repository provides data access for the attempt log and processed-visit
// markers.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new follow-up repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// AlreadySent reports whether a sent record exists for this visit and address
// within the trailing 24 hours. The check is visit-scoped on purpose: a job
// can have several visits, and a follow-up for a later visit on the same job
// is not a duplicate. The job-scoped partial unique index still serializes
// concurrent commits.
func (r *Repository) AlreadySent(ctx context.Context, visitID, customerEmail string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sf_email_attempts
			WHERE visit_id = $1 AND customer_email = $2
			  AND status = 'sent'
			  AND created_at > now() - $3::interval
		)
	`, visitID, customerEmail, dedupWindow.String()).Scan(&exists)
	return exists, err
}

// RecordAttempt appends one attempt record. A unique violation on a sent
// record surfaces as ErrDuplicateAttempt so the caller can downgrade the
// outcome to duplicate instead of failing.
func (r *Repository) RecordAttempt(ctx context.Context, attempt *EmailAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO sf_email_attempts (
			id, account_id, visit_id, job_id, webhook_topic, customer_email,
			customer_name, subject, status, block_reason, ai_generated,
			fallback_data, provider_message_id, error_message, sandbox_suspect
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		attempt.ID, attempt.AccountID, attempt.VisitID, attempt.JobID,
		attempt.WebhookTopic, attempt.CustomerEmail, attempt.CustomerName,
		attempt.Subject, attempt.Status, attempt.BlockReason,
		attempt.AIGenerated, attempt.FallbackData, attempt.ProviderMessageID,
		attempt.ErrorMessage, attempt.SandboxSuspect,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateAttempt
	}
	return err
}

// VisitProcessed reports whether this tenant already processed the visit.
// Cheap early check; the email-scoped attempt log remains the backstop.
func (r *Repository) VisitProcessed(ctx context.Context, accountID uuid.UUID, visitID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sf_processed_visits
			WHERE account_id = $1 AND visit_id = $2
		)
	`, accountID, visitID).Scan(&exists)
	return exists, err
}

// MarkVisitProcessed records that this tenant handled the visit. Idempotent.
func (r *Repository) MarkVisitProcessed(ctx context.Context, accountID uuid.UUID, visitID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sf_processed_visits (account_id, visit_id)
		VALUES ($1, $2)
		ON CONFLICT (account_id, visit_id) DO NOTHING
	`, accountID, visitID)
	return err
}

// CountRecentAttempts counts attempt records for an address inside the
// window, regardless of outcome. Feeds the rate limit.
func (r *Repository) CountRecentAttempts(ctx context.Context, customerEmail string, window time.Duration) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM sf_email_attempts
		WHERE customer_email = $1
		  AND created_at > now() - $2::interval
	`, customerEmail, window.String()).Scan(&count)
	return count, err
}

// ListAttempts returns the newest attempt records for the admin audit view.
func (r *Repository) ListAttempts(ctx context.Context, limit int) ([]EmailAttempt, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, visit_id, job_id, webhook_topic, customer_email,
		       customer_name, subject, status, block_reason, ai_generated,
		       fallback_data, provider_message_id, error_message,
		       sandbox_suspect, created_at
		FROM sf_email_attempts
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []EmailAttempt
	for rows.Next() {
		var a EmailAttempt
		if err := rows.Scan(
			&a.ID, &a.AccountID, &a.VisitID, &a.JobID, &a.WebhookTopic,
			&a.CustomerEmail, &a.CustomerName, &a.Subject, &a.Status,
			&a.BlockReason, &a.AIGenerated, &a.FallbackData,
			&a.ProviderMessageID, &a.ErrorMessage, &a.SandboxSuspect,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// DeleteOlderThan removes attempt records created before the cutoff.
// Called from the retention worker.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM sf_email_attempts WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
