package xerosync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientRetriesSamePageAfterRateLimit(t *testing.T) {
	var requests []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.RawQuery)
		if len(requests) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Contacts":[{"ContactID":"c-1","Name":"Alpha"}]}`))
	}))
	defer server.Close()

	t.Setenv("XERO_API_BASE_URL", server.URL)
	client, err := NewClient("token", "tenant-1")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	var slept []time.Duration
	client.sleep = func(d time.Duration) { slept = append(slept, d) }

	contacts, err := client.ListContacts(context.Background(), nil, 3, 50)
	if err != nil {
		t.Fatalf("ListContacts failed: %v", err)
	}
	if len(contacts) != 1 || contacts[0].ContactID != "c-1" {
		t.Fatalf("unexpected contacts: %+v", contacts)
	}
	if len(requests) != 2 {
		t.Fatalf("expected 2 requests (429 then retry), got %d", len(requests))
	}
	if requests[0] != requests[1] {
		t.Fatalf("retry must re-issue the same page: %q vs %q", requests[0], requests[1])
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("expected one 2s backoff, got %v", slept)
	}
}

func TestClientUsesDefaultBackoffWithoutRetryAfter(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"Contacts":[]}`))
	}))
	defer server.Close()

	t.Setenv("XERO_API_BASE_URL", server.URL)
	client, err := NewClient("token", "tenant-1")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	var slept []time.Duration
	client.sleep = func(d time.Duration) { slept = append(slept, d) }

	if _, err := client.ListContacts(context.Background(), nil, 1, 100); err != nil {
		t.Fatalf("ListContacts failed: %v", err)
	}
	if len(slept) != 1 || slept[0] != defaultRetryAfter {
		t.Fatalf("expected default backoff %s, got %v", defaultRetryAfter, slept)
	}
}

func TestClientSurfacesRateLimitOnCancelledBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	t.Setenv("XERO_API_BASE_URL", server.URL)
	client, err := NewClient("token", "tenant-1")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client.sleep = func(time.Duration) { cancel() }

	_, err = client.ListContacts(ctx, nil, 1, 100)
	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rateErr.RetryAfter != 7*time.Second {
		t.Fatalf("expected provider backoff of 7s, got %s", rateErr.RetryAfter)
	}
}

func TestClientSurfacesRemoteAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("insufficient scope"))
	}))
	defer server.Close()

	t.Setenv("XERO_API_BASE_URL", server.URL)
	client, err := NewClient("token", "tenant-1")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	_, err = client.ListInvoices(context.Background(), nil, 1, 100)
	var apiErr *RemoteAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected RemoteAPIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", apiErr.StatusCode)
	}
	if apiErr.Body != "insufficient scope" {
		t.Fatalf("unexpected body: %q", apiErr.Body)
	}
}

func TestClientSendsTenantAndModifiedSinceHeaders(t *testing.T) {
	var gotTenant, gotSince, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = r.Header.Get("Xero-Tenant-Id")
		gotSince = r.Header.Get("If-Modified-Since")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"Payments":[]}`))
	}))
	defer server.Close()

	t.Setenv("XERO_API_BASE_URL", server.URL)
	client, err := NewClient("secret-token", "tenant-9")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := client.ListPayments(context.Background(), &since, 1, 100); err != nil {
		t.Fatalf("ListPayments failed: %v", err)
	}
	if gotTenant != "tenant-9" {
		t.Fatalf("missing tenant header, got %q", gotTenant)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotSince != since.Format(http.TimeFormat) {
		t.Fatalf("unexpected If-Modified-Since %q", gotSince)
	}
}
