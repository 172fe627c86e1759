package followup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"serviceflow_backend/internal/accounts"
	"serviceflow_backend/internal/jobber"
	"serviceflow_backend/internal/profile"
	"serviceflow_backend/platform/apperr"
	"serviceflow_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeStore struct {
	processed     bool
	sentVisits    map[string]bool
	recentCount   int
	recordErr     error
	attempts      []*EmailAttempt
	markedVisitID string
}

func (f *fakeStore) AlreadySent(_ context.Context, visitID, _ string) (bool, error) {
	return f.sentVisits[visitID], nil
}

func (f *fakeStore) CountRecentAttempts(context.Context, string, time.Duration) (int, error) {
	return f.recentCount, nil
}

func (f *fakeStore) RecordAttempt(_ context.Context, attempt *EmailAttempt) error {
	if f.recordErr != nil && attempt.Status == StatusSent {
		return f.recordErr
	}
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *fakeStore) VisitProcessed(context.Context, uuid.UUID, string) (bool, error) {
	return f.processed, nil
}

func (f *fakeStore) MarkVisitProcessed(_ context.Context, _ uuid.UUID, visitID string) error {
	f.markedVisitID = visitID
	return nil
}

type fakeResolver struct {
	account accounts.Account
	err     error
}

func (f *fakeResolver) Resolve(context.Context, string, string) (accounts.Account, error) {
	return f.account, f.err
}

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) ValidAccessToken(context.Context, *accounts.Account) (string, error) {
	return f.token, f.err
}

type fakeFetcher struct {
	visit jobber.VisitGraph
	err   error
}

func (f *fakeFetcher) FetchVisitDetails(context.Context, string, string) (jobber.VisitGraph, error) {
	return f.visit, f.err
}

type fakeProfiles struct {
	prof profile.Profile
	err  error
}

func (f *fakeProfiles) GetByAccountID(context.Context, uuid.UUID) (profile.Profile, error) {
	return f.prof, f.err
}

type fakeComposer struct {
	draft Draft
	err   error
}

func (f *fakeComposer) Generate(context.Context, ComposeInput) (Draft, error) {
	return f.draft, f.err
}

type fakeDispatcher struct {
	sent []Message
	err  error
}

func (f *fakeDispatcher) Send(_ context.Context, msg Message) (DispatchResult, error) {
	if f.err != nil {
		return DispatchResult{}, f.err
	}
	f.sent = append(f.sent, msg)
	return DispatchResult{MessageID: "msg-1"}, nil
}

type pipeline struct {
	store      *fakeStore
	dispatcher *fakeDispatcher
	service    *Service
}

func newPipeline(t *testing.T, tokens *fakeTokens, fetcher *fakeFetcher, profiles *fakeProfiles, composer draftComposer) *pipeline {
	t.Helper()
	log := logger.New("development")
	policy, err := LoadTopicPolicy()
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}

	store := &fakeStore{}
	dispatcher := &fakeDispatcher{}
	resolver := &fakeResolver{account: accounts.Account{ID: uuid.New(), JobberAccountID: "acct_1"}}
	service := NewService(
		store, resolver, tokens, fetcher, profiles,
		NewSafetyGate(store, policy, log), NewClassifier(log),
		composer, dispatcher, nil, log,
	)
	return &pipeline{store: store, dispatcher: dispatcher, service: service}
}

func testVisit() jobber.VisitGraph {
	completed := time.Date(2026, 8, 29, 15, 0, 0, 0, time.UTC)
	return jobber.VisitGraph{
		ID:          "visit_1",
		CompletedAt: &completed,
		Job:         jobber.Job{ID: "job_1", Title: "Gutter cleaning"},
		Client: jobber.Customer{
			FirstName: "Ada",
			LastName:  "Lovelace",
			Emails:    []jobber.EmailAddress{{Address: "ada@customer.com", Primary: true}},
		},
		Notes: []jobber.Note{{Message: "Cleared all gutters", CreatedAt: "2026-08-29T14:00:00Z"}},
	}
}

func testEvent() WebhookEvent {
	return WebhookEvent{Topic: TopicVisitComplete, VisitID: "visit_1", AccountID: "acct_1"}
}

func TestProcessHappyPath(t *testing.T) {
	composer := &fakeComposer{draft: Draft{Subject: "Thanks!", Body: "Hi Ada", AIGenerated: true}}
	p := newPipeline(t, &fakeTokens{token: "tok"}, &fakeFetcher{visit: testVisit()}, &fakeProfiles{}, composer)

	result, err := p.service.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != ResultProcessed || !result.EmailSent || !result.AIGenerated {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.JobID != "job_1" || result.Customer != "Ada Lovelace" || result.AccountUsed != "acct_1" {
		t.Fatalf("unexpected result fields: %+v", result)
	}
	if len(p.dispatcher.sent) != 1 || p.dispatcher.sent[0].To != "ada@customer.com" {
		t.Fatalf("unexpected dispatches: %+v", p.dispatcher.sent)
	}
	if len(p.store.attempts) != 1 || p.store.attempts[0].Status != StatusSent {
		t.Fatalf("expected one sent attempt, got %+v", p.store.attempts)
	}
	if p.store.attempts[0].WebhookTopic != TopicVisitComplete {
		t.Fatal("attempt record must carry the triggering topic")
	}
	if p.store.markedVisitID != "visit_1" {
		t.Fatal("visit must be marked processed after a successful send")
	}
}

func TestProcessReplayedVisitIsDuplicate(t *testing.T) {
	p := newPipeline(t, &fakeTokens{token: "tok"}, &fakeFetcher{visit: testVisit()}, &fakeProfiles{}, nil)
	p.store.processed = true

	result, err := p.service.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != ResultDuplicate {
		t.Fatalf("expected duplicate, got %+v", result)
	}
	if len(p.dispatcher.sent) != 0 {
		t.Fatal("replays must not send email")
	}
}

func TestProcessBlockedTopicLeavesRecord(t *testing.T) {
	p := newPipeline(t, &fakeTokens{token: "tok"}, &fakeFetcher{visit: testVisit()}, &fakeProfiles{}, nil)

	event := testEvent()
	event.Topic = "JOB_CREATE"
	result, err := p.service.Process(context.Background(), event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != ResultBlocked || result.BlockReason != BlockReasonInvalidTopic {
		t.Fatalf("expected invalid_topic block, got %+v", result)
	}
	if len(p.store.attempts) != 1 || p.store.attempts[0].Status != StatusBlocked {
		t.Fatalf("blocked runs must leave an attempt record, got %+v", p.store.attempts)
	}
	if p.store.attempts[0].WebhookTopic != "JOB_CREATE" {
		t.Fatal("blocked record must carry the triggering topic")
	}
	if len(p.dispatcher.sent) != 0 {
		t.Fatal("blocked runs must not send email")
	}
	if p.store.markedVisitID != "" {
		t.Fatal("blocked visits must not be marked processed")
	}
}

func TestProcessSentVisitIsDuplicateButSameJobIsNot(t *testing.T) {
	// The duplicate check is visit-scoped: a sent record for visit_1 blocks a
	// replay of visit_1 but not a later visit on the same job.
	p := newPipeline(t, &fakeTokens{token: "tok"}, &fakeFetcher{visit: testVisit()}, &fakeProfiles{}, nil)
	p.store.sentVisits = map[string]bool{"visit_1": true}

	result, err := p.service.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != ResultDuplicate {
		t.Fatalf("replayed sent visit must be duplicate, got %+v", result)
	}
	if len(p.store.attempts) != 1 || p.store.attempts[0].Status != "duplicate_blocked" {
		t.Fatalf("expected one duplicate_blocked record, got %+v", p.store.attempts)
	}

	second := testEvent()
	second.VisitID = "visit_2"
	result, err = p.service.Process(context.Background(), second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != ResultProcessed || !result.EmailSent {
		t.Fatalf("second visit on the same job must still send, got %+v", result)
	}
}

func TestProcessDegradesOnFetchFailure(t *testing.T) {
	profiles := &fakeProfiles{prof: profile.Profile{
		CompanyName:  "Springfield Plumbing",
		ContactEmail: "owner@springfieldplumbing.com",
	}}
	p := newPipeline(t, &fakeTokens{token: "tok"}, &fakeFetcher{err: apperr.Upstream("api down")}, profiles, nil)

	result, err := p.service.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != ResultProcessed || !result.EmailSent || !result.FallbackData {
		t.Fatalf("expected degraded send, got %+v", result)
	}
	if len(p.dispatcher.sent) != 1 || p.dispatcher.sent[0].To != "owner@springfieldplumbing.com" {
		t.Fatalf("degraded sends go to the profile contact, got %+v", p.dispatcher.sent)
	}
	if !p.store.attempts[0].FallbackData {
		t.Fatal("attempt record must carry the fallback flag")
	}
}

func TestProcessDegradedWithoutProfileFlagsSandbox(t *testing.T) {
	p := newPipeline(t, &fakeTokens{err: apperr.Unauthorized("no token")}, &fakeFetcher{}, &fakeProfiles{err: profile.ErrProfileNotFound}, nil)

	result, err := p.service.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.FallbackData || !result.EmailSent {
		t.Fatalf("expected degraded placeholder send, got %+v", result)
	}
	if p.dispatcher.sent[0].To != "customer@example.com" {
		t.Fatalf("expected placeholder recipient, got %q", p.dispatcher.sent[0].To)
	}
	if !p.store.attempts[0].SandboxSuspect {
		t.Fatal("placeholder recipient must be flagged as a sandbox suspect")
	}
}

func TestProcessDispatchFailureLeavesVisitRetryable(t *testing.T) {
	p := newPipeline(t, &fakeTokens{token: "tok"}, &fakeFetcher{visit: testVisit()}, &fakeProfiles{}, nil)
	p.dispatcher.err = errors.New("smtp: connection refused")

	result, err := p.service.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("dispatch failures must not bubble: %v", err)
	}

	if result.Status != ResultProcessed || result.EmailSent {
		t.Fatalf("expected processed with email_sent=false, got %+v", result)
	}
	if len(p.store.attempts) != 1 || p.store.attempts[0].Status != StatusFailed {
		t.Fatalf("expected one failed attempt, got %+v", p.store.attempts)
	}
	if p.store.markedVisitID != "" {
		t.Fatal("failed dispatch must leave the visit unmarked so a retry can deliver")
	}
}

func TestProcessConcurrentCommitIsDuplicate(t *testing.T) {
	p := newPipeline(t, &fakeTokens{token: "tok"}, &fakeFetcher{visit: testVisit()}, &fakeProfiles{}, nil)
	p.store.recordErr = ErrDuplicateAttempt

	result, err := p.service.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != ResultDuplicate {
		t.Fatalf("losing the commit race must report duplicate, got %+v", result)
	}
}

func TestProcessUnknownTenantBubbles(t *testing.T) {
	log := logger.New("development")
	policy, err := LoadTopicPolicy()
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	store := &fakeStore{}
	service := NewService(
		store, &fakeResolver{err: apperr.NotFound("no account owns visit visit_1")},
		&fakeTokens{}, &fakeFetcher{}, &fakeProfiles{},
		NewSafetyGate(store, policy, log), NewClassifier(log),
		nil, &fakeDispatcher{}, nil, log,
	)

	_, err = service.Process(context.Background(), testEvent())
	if apperr.GetKind(err) != apperr.KindNotFound {
		t.Fatalf("expected not-found to bubble, got %v", err)
	}
}

func TestProcessComposerFailureFallsBack(t *testing.T) {
	composer := &fakeComposer{err: errors.New("model timeout")}
	p := newPipeline(t, &fakeTokens{token: "tok"}, &fakeFetcher{visit: testVisit()}, &fakeProfiles{prof: profile.Profile{CompanyName: "Springfield Plumbing"}}, composer)

	result, err := p.service.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.EmailSent || result.AIGenerated {
		t.Fatalf("expected fallback send with ai_generated=false, got %+v", result)
	}
	if !strings.Contains(p.dispatcher.sent[0].Subject, "Springfield Plumbing") {
		t.Fatalf("fallback subject should name the company, got %q", p.dispatcher.sent[0].Subject)
	}
}

func TestProcessVisitWithoutEmailIsMarked(t *testing.T) {
	visit := testVisit()
	visit.Client.Emails = nil
	p := newPipeline(t, &fakeTokens{token: "tok"}, &fakeFetcher{visit: visit}, &fakeProfiles{}, nil)

	result, err := p.service.Process(context.Background(), testEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Status != ResultProcessed || result.EmailSent {
		t.Fatalf("expected processed without a send, got %+v", result)
	}
	if len(p.store.attempts) != 1 || p.store.attempts[0].Status != StatusFailed {
		t.Fatalf("expected a failed attempt record, got %+v", p.store.attempts)
	}
	if p.store.markedVisitID != "visit_1" {
		t.Fatal("emailless visits must be marked so replays stop")
	}
}
