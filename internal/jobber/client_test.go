package jobber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"serviceflow_backend/platform/apperr"
	"serviceflow_backend/platform/config"
	"serviceflow_backend/platform/logger"
)

func newTestClient(serverURL string) *Client {
	cfg := &config.Config{
		JobberGraphQLURL:     serverURL,
		JobberGraphQLVersion: "2025-04-16",
	}
	return NewClient(cfg, logger.New("development"))
}

func TestIsTestVisitID(t *testing.T) {
	cases := map[string]bool{
		"test_123":     true,
		"mock_visit":   true,
		"dev_1":        true,
		"demo_99":      true,
		"test42":       true,
		"somefakeid":   true,
		"Z2lkOi8vabc":  false,
		"visit_real_1": false,
	}
	for id, want := range cases {
		if got := IsTestVisitID(id); got != want {
			t.Errorf("IsTestVisitID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestFetchVisitDetailsRejectsTestIDWithoutNetworkCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"data":{"visit":null}}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.FetchVisitDetails(context.Background(), "test_visit_1", "token")
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatal("synthetic id must be rejected before any API call")
	}
}

func TestFetchVisitDetailsParsesGraph(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`{"data":{"visit":{
			"id":"v1","title":"Gutter cleaning","completedAt":"2026-08-29T15:00:00Z",
			"job":{"id":"j1","jobNumber":42,"title":"Gutters",
				"lineItems":{"nodes":[{"name":"Cleaning","description":"Full clean"}]},
				"notes":{"nodes":[{"message":"All clear","createdAt":"2026-08-29T15:05:00Z"},{"message":"  ","createdAt":""}]}},
			"client":{"id":"c1","firstName":"Ada","lastName":"Lovelace",
				"emails":[{"address":"second@example.com","primary":false},{"address":"ada@example.com","primary":true}]},
			"property":{"address":{"street":"1 Main St","city":"Springfield","province":"IL","postalCode":"62701"}},
			"assignedUsers":{"nodes":[{"name":{"full":"Joe Tech"}}]}
		}}}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	visit, err := c.FetchVisitDetails(context.Background(), "v1", "tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if visit.Client.Name() != "Ada Lovelace" {
		t.Fatalf("unexpected customer name %q", visit.Client.Name())
	}
	if visit.Client.PrimaryEmail() != "ada@example.com" {
		t.Fatalf("primary flag not honored, got %q", visit.Client.PrimaryEmail())
	}
	if len(visit.Notes) != 1 {
		t.Fatalf("blank notes must be dropped, got %d notes", len(visit.Notes))
	}
	if visit.Property.Location() != "1 Main St, Springfield" {
		t.Fatalf("unexpected location %q", visit.Property.Location())
	}
	if visit.CompletionTime() == nil {
		t.Fatal("expected completion time")
	}
}

func TestFetchVisitDetailsMapsUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.FetchVisitDetails(context.Background(), "v1", "tok")
	if !apperr.Is(err, apperr.KindUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestFetchVisitDetailsDistinguishesInvalidID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"Invalid global id provided"}]}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.FetchVisitDetails(context.Background(), "v1", "tok")
	if !apperr.Is(err, apperr.KindBadRequest) {
		t.Fatalf("expected bad request for invalid id, got %v", err)
	}
}

func TestVisitExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":{"visit":{"id":"v1"}}}`))
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	ok, err := c.VisitExists(context.Background(), "v1", "tok")
	if err != nil || !ok {
		t.Fatalf("expected visible visit, got ok=%v err=%v", ok, err)
	}

	if ok, err := c.VisitExists(context.Background(), "test_visit", "tok"); err != nil || ok {
		t.Fatalf("synthetic id should be a clean no, got ok=%v err=%v", ok, err)
	}
}
