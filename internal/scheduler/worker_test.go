package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"serviceflow_backend/internal/accounts"
	"serviceflow_backend/platform/logger"
)

type fakeAttemptLog struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakeAttemptLog) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

type fakeAccountLister struct {
	list  []accounts.Account
	limit int
}

func (f *fakeAccountLister) ListWithUsableTokens(_ context.Context, limit int) ([]accounts.Account, error) {
	f.limit = limit
	return f.list, nil
}

type fakeRefresher struct {
	checked []string
	failFor string
}

func (f *fakeRefresher) ValidAccessToken(_ context.Context, account *accounts.Account) (string, error) {
	f.checked = append(f.checked, account.JobberAccountID)
	if account.JobberAccountID == f.failFor {
		return "", errors.New("refresh rejected")
	}
	return "tok", nil
}

func TestDedupLogCleanupRespectsRetention(t *testing.T) {
	attempts := &fakeAttemptLog{deleted: 12}
	w := &Worker{
		attempts:  attempts,
		retention: 48 * time.Hour,
		log:       logger.New("development"),
	}

	if err := w.handleDedupLogCleanup(context.Background(), NewDedupLogCleanupTask()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Now().UTC().Add(-48 * time.Hour)
	if diff := attempts.cutoff.Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff %v not near expected %v", attempts.cutoff, want)
	}
}

func TestDedupLogCleanupPropagatesErrors(t *testing.T) {
	attempts := &fakeAttemptLog{err: errors.New("db down")}
	w := &Worker{attempts: attempts, retention: time.Hour, log: logger.New("development")}

	if err := w.handleDedupLogCleanup(context.Background(), NewDedupLogCleanupTask()); err == nil {
		t.Fatal("expected error so the task is retried")
	}
}

func TestTokenRefreshSweepSkipsFailingAccounts(t *testing.T) {
	lister := &fakeAccountLister{list: []accounts.Account{
		{JobberAccountID: "acct_1"},
		{JobberAccountID: "acct_2"},
		{JobberAccountID: "acct_3"},
	}}
	refresher := &fakeRefresher{failFor: "acct_2"}
	w := &Worker{
		accounts: lister,
		tokens:   refresher,
		log:      logger.New("development"),
	}

	task, err := NewTokenRefreshSweepTask(TokenRefreshSweepPayload{Limit: 5})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := w.handleTokenRefreshSweep(context.Background(), task); err != nil {
		t.Fatalf("per-account failures must not fail the sweep: %v", err)
	}

	if lister.limit != 5 {
		t.Fatalf("expected payload limit 5, got %d", lister.limit)
	}
	if len(refresher.checked) != 3 {
		t.Fatalf("all accounts must be checked, got %v", refresher.checked)
	}
}

func TestTokenRefreshSweepDefaultsLimit(t *testing.T) {
	lister := &fakeAccountLister{}
	w := &Worker{accounts: lister, tokens: &fakeRefresher{}, log: logger.New("development")}

	task, err := NewTokenRefreshSweepTask(TokenRefreshSweepPayload{})
	if err != nil {
		t.Fatalf("build task: %v", err)
	}
	if err := w.handleTokenRefreshSweep(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lister.limit != defaultSweepLimit {
		t.Fatalf("expected default limit %d, got %d", defaultSweepLimit, lister.limit)
	}
}
