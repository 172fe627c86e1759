package followup

import (
	"context"
	"testing"
	"time"

	"serviceflow_backend/platform/logger"
)

type fakeGateStore struct {
	sentVisits   map[string]bool
	recentCount  int
	countedEmail string
	checkedVisit string
}

func (f *fakeGateStore) AlreadySent(_ context.Context, visitID, _ string) (bool, error) {
	f.checkedVisit = visitID
	return f.sentVisits[visitID], nil
}

func (f *fakeGateStore) CountRecentAttempts(_ context.Context, email string, _ time.Duration) (int, error) {
	f.countedEmail = email
	return f.recentCount, nil
}

func newGate(t *testing.T, store *fakeGateStore) *SafetyGate {
	t.Helper()
	policy, err := LoadTopicPolicy()
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	return NewSafetyGate(store, policy, logger.New("development"))
}

func TestGateAllowsCleanSend(t *testing.T) {
	gate := newGate(t, &fakeGateStore{})

	d, err := gate.Evaluate(context.Background(), TopicVisitComplete, "visit_1", "ada@customer.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed || d.SandboxSuspect {
		t.Fatalf("expected clean allow, got %+v", d)
	}
}

func TestGateBlocksDuplicateFirst(t *testing.T) {
	// Duplicate outranks the also-failing topic check.
	store := &fakeGateStore{sentVisits: map[string]bool{"visit_1": true}, recentCount: 99}
	gate := newGate(t, store)

	d, err := gate.Evaluate(context.Background(), "JOB_CREATE", "visit_1", "ada@customer.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed || d.BlockReason != BlockReasonDuplicateVisit {
		t.Fatalf("expected duplicate_visit, got %+v", d)
	}
}

func TestGateDuplicateCheckIsVisitScoped(t *testing.T) {
	// A later visit on the same job must not be blocked by an earlier visit's
	// sent record.
	store := &fakeGateStore{sentVisits: map[string]bool{"visit_1": true}}
	gate := newGate(t, store)

	d, err := gate.Evaluate(context.Background(), TopicVisitComplete, "visit_2", "ada@customer.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatalf("second visit must be allowed, got %+v", d)
	}
	if store.checkedVisit != "visit_2" {
		t.Fatalf("duplicate check must query by visit id, queried %q", store.checkedVisit)
	}
}

func TestGateDeniesUnknownAndDeniedTopics(t *testing.T) {
	gate := newGate(t, &fakeGateStore{})

	for _, topic := range []string{"JOB_CREATE", "SOMETHING_NEW", ""} {
		d, err := gate.Evaluate(context.Background(), topic, "visit_1", "ada@customer.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Allowed || d.BlockReason != BlockReasonInvalidTopic {
			t.Fatalf("topic %q: expected invalid_topic, got %+v", topic, d)
		}
	}
}

func TestTopicPolicyDenyList(t *testing.T) {
	policy, err := LoadTopicPolicy()
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}

	if !policy.Denied("JOB_CREATE") {
		t.Fatal("JOB_CREATE is on the deny list")
	}
	if policy.Denied("SOMETHING_NEW") {
		t.Fatal("unknown topics are not explicitly denied, just not allowed")
	}
	if policy.Allowed("JOB_CREATE") || policy.Allowed("SOMETHING_NEW") {
		t.Fatal("neither denied nor unknown topics may be allowed")
	}
}

func TestGateRateLimitsAtThreePerHour(t *testing.T) {
	store := &fakeGateStore{recentCount: 3}
	gate := newGate(t, store)

	d, err := gate.Evaluate(context.Background(), TopicVisitComplete, "visit_1", "ada@customer.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed || d.BlockReason != BlockReasonRateLimit {
		t.Fatalf("expected rate_limit, got %+v", d)
	}
	if store.countedEmail != "ada@customer.com" {
		t.Fatal("rate limit must count attempts per address")
	}

	store.recentCount = 2
	d, _ = gate.Evaluate(context.Background(), TopicVisitComplete, "visit_1", "ada@customer.com")
	if !d.Allowed {
		t.Fatal("two recent attempts must still be allowed")
	}
}

func TestGateFlagsSandboxAddressesWithoutBlocking(t *testing.T) {
	gate := newGate(t, &fakeGateStore{})

	d, err := gate.Evaluate(context.Background(), TopicVisitComplete, "visit_1", "test_user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("sandbox detection must never block")
	}
	if !d.SandboxSuspect {
		t.Fatal("expected sandbox suspect flag")
	}
}

func TestIsSandboxEmail(t *testing.T) {
	cases := map[string]bool{
		"user@example.com":       true,
		"test_one@real.com":      true,
		"demo-a@real.com":        true,
		"x@mailinator.com":       true,
		"ada.lovelace@gmail.com": false,
		"contest@real.com":       false,
	}
	for email, want := range cases {
		if got := IsSandboxEmail(email); got != want {
			t.Errorf("IsSandboxEmail(%q) = %v, want %v", email, got, want)
		}
	}
}
