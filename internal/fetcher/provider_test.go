package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testClient(t *testing.T, srv *httptest.Server, retries int) *Client {
	t.Helper()
	return NewClient(Options{
		BaseURL:    srv.URL,
		AppID:      "test-app-id",
		Timeout:    time.Second,
		Retries:    retries,
		RetryDelay: time.Millisecond,
	}, zerolog.Nop())
}

func TestFetchCurrencies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/currencies.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("app_id") != "test-app-id" {
			t.Errorf("missing app_id query parameter")
		}
		w.Write([]byte(`{"USD":"United States Dollar","EUR":"Euro"}`))
	}))
	defer srv.Close()

	currencies, err := testClient(t, srv, 0).FetchCurrencies(context.Background())
	if err != nil {
		t.Fatalf("fetch currencies: %v", err)
	}
	if len(currencies) != 2 {
		t.Fatalf("got %d currencies, want 2", len(currencies))
	}
	if currencies["EUR"] != "Euro" {
		t.Fatalf("EUR display name = %q", currencies["EUR"])
	}
}

func TestFetchCurrenciesRejectsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := testClient(t, srv, 0).FetchCurrencies(context.Background()); err == nil {
		t.Fatal("expected error on empty currency list")
	}
}

func TestFetchLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/latest.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"timestamp":1756600000,"base":"USD","rates":{"EUR":0.9,"GBP":0.8}}`))
	}))
	defer srv.Close()

	table, err := testClient(t, srv, 0).FetchLatest(context.Background())
	if err != nil {
		t.Fatalf("fetch latest: %v", err)
	}
	if table.Base != "USD" {
		t.Fatalf("base = %q, want USD", table.Base)
	}
	if !table.Rates["EUR"].Equal(decimal.RequireFromString("0.9")) {
		t.Fatalf("EUR rate = %s, want 0.9", table.Rates["EUR"])
	}
	if table.Timestamp != time.Unix(1756600000, 0).UTC() {
		t.Fatalf("timestamp = %s", table.Timestamp)
	}
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"USD":"United States Dollar"}`))
	}))
	defer srv.Close()

	if _, err := testClient(t, srv, 3).FetchCurrencies(context.Background()); err != nil {
		t.Fatalf("fetch currencies: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("server called %d times, want 3", got)
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "still down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := testClient(t, srv, 2).FetchCurrencies(context.Background()); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("server called %d times, want 3", got)
	}
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid app_id", http.StatusUnauthorized)
	}))
	defer srv.Close()

	if _, err := testClient(t, srv, 3).FetchCurrencies(context.Background()); err == nil {
		t.Fatal("expected error on 401")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server called %d times, want 1 (no retry on 4xx)", got)
	}
}
