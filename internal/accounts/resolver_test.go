package accounts

import (
	"context"
	"errors"
	"strings"
	"testing"

	"serviceflow_backend/platform/apperr"
	"serviceflow_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeResolverStore struct {
	byJobberID map[string]Account
	sandbox    *Account
	candidates []Account
}

func (f *fakeResolverStore) GetByJobberID(_ context.Context, id string) (Account, error) {
	if a, ok := f.byJobberID[id]; ok {
		return a, nil
	}
	return Account{}, ErrAccountNotFound
}

func (f *fakeResolverStore) GetSandbox(_ context.Context) (Account, error) {
	if f.sandbox != nil {
		return *f.sandbox, nil
	}
	return Account{}, ErrAccountNotFound
}

func (f *fakeResolverStore) ListWithUsableTokens(_ context.Context, _ int) ([]Account, error) {
	return f.candidates, nil
}

type fakeTokenSource struct {
	failFor map[string]bool
}

func (f *fakeTokenSource) ValidAccessToken(_ context.Context, a *Account) (string, error) {
	if f.failFor[a.JobberAccountID] {
		return "", apperr.Unauthorized("no token")
	}
	return "token-" + a.JobberAccountID, nil
}

type fakeProber struct {
	owner  string // token suffix of the account that can see the visit
	errFor map[string]bool
	probed []string
}

func (f *fakeProber) VisitExists(_ context.Context, _ string, accessToken string) (bool, error) {
	id := strings.TrimPrefix(accessToken, "token-")
	f.probed = append(f.probed, id)
	if f.errFor[id] {
		return false, errors.New("upstream unavailable")
	}
	return id == f.owner, nil
}

func isSandboxID(id string) bool {
	return strings.HasPrefix(id, "test_")
}

func newResolver(store *fakeResolverStore, tokens *fakeTokenSource, prober *fakeProber, development bool) *Resolver {
	return NewResolver(store, tokens, prober, isSandboxID, development, logger.New("development"))
}

func TestResolveExplicitAccountID(t *testing.T) {
	want := Account{ID: uuid.New(), JobberAccountID: "acct_1"}
	store := &fakeResolverStore{byJobberID: map[string]Account{"acct_1": want}}
	r := newResolver(store, &fakeTokenSource{}, &fakeProber{}, false)

	got, err := r.Resolve(context.Background(), "acct_1", "visit_9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != want.ID {
		t.Fatal("resolved wrong account")
	}
}

func TestResolveUnknownExplicitAccountFailsClosed(t *testing.T) {
	store := &fakeResolverStore{byJobberID: map[string]Account{}}
	r := newResolver(store, &fakeTokenSource{}, &fakeProber{}, false)

	_, err := r.Resolve(context.Background(), "acct_missing", "visit_9")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResolveSandboxShortcutInDevelopment(t *testing.T) {
	sandbox := Account{ID: uuid.New(), JobberAccountID: "sandbox", IsSandbox: true}
	store := &fakeResolverStore{sandbox: &sandbox}
	r := newResolver(store, &fakeTokenSource{}, &fakeProber{}, true)

	got, err := r.Resolve(context.Background(), "", "test_visit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsSandbox {
		t.Fatal("expected sandbox account")
	}
}

func TestResolveSandboxIDOutsideDevelopmentProbes(t *testing.T) {
	sandbox := Account{ID: uuid.New(), JobberAccountID: "sandbox", IsSandbox: true}
	store := &fakeResolverStore{sandbox: &sandbox}
	r := newResolver(store, &fakeTokenSource{}, &fakeProber{}, false)

	_, err := r.Resolve(context.Background(), "", "test_visit")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found outside development, got %v", err)
	}
}

func TestResolveProbesCandidatesFirstMatchWins(t *testing.T) {
	store := &fakeResolverStore{candidates: []Account{
		{ID: uuid.New(), JobberAccountID: "a"},
		{ID: uuid.New(), JobberAccountID: "b"},
		{ID: uuid.New(), JobberAccountID: "c"},
	}}
	prober := &fakeProber{owner: "b"}
	r := newResolver(store, &fakeTokenSource{}, prober, false)

	got, err := r.Resolve(context.Background(), "", "visit_9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.JobberAccountID != "b" {
		t.Fatalf("expected account b, got %s", got.JobberAccountID)
	}
	if len(prober.probed) != 2 {
		t.Fatalf("probe should stop at first match, probed %v", prober.probed)
	}
}

func TestResolveSwallowsPerAccountProbeErrors(t *testing.T) {
	store := &fakeResolverStore{candidates: []Account{
		{ID: uuid.New(), JobberAccountID: "broken"},
		{ID: uuid.New(), JobberAccountID: "owner"},
	}}
	prober := &fakeProber{owner: "owner", errFor: map[string]bool{"broken": true}}
	tokens := &fakeTokenSource{failFor: map[string]bool{}}
	r := newResolver(store, tokens, prober, false)

	got, err := r.Resolve(context.Background(), "", "visit_9")
	if err != nil {
		t.Fatalf("probe error on one account must not fail resolution: %v", err)
	}
	if got.JobberAccountID != "owner" {
		t.Fatalf("expected owner, got %s", got.JobberAccountID)
	}
}

func TestResolveNoOwnerFailsClosed(t *testing.T) {
	store := &fakeResolverStore{candidates: []Account{
		{ID: uuid.New(), JobberAccountID: "a"},
	}}
	r := newResolver(store, &fakeTokenSource{}, &fakeProber{owner: "zzz"}, false)

	_, err := r.Resolve(context.Background(), "", "visit_9")
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
