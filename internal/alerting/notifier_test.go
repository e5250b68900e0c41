package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ArseniyBogdan/currency-converter-bot/internal/events"
)

func testNotification() events.Notification {
	cp := decimal.RequireFromString("5.93")
	return events.Notification{
		ChatID:         424242,
		BaseCurrency:   "EUR",
		TargetCurrency: "USD",
		NewRate:        decimal.RequireFromString("1.25"),
		ChangePercent:  &cp,
		Reason:         "rate exceeded 1.20",
		ObservedAt:     time.Now().UTC(),
	}
}

func TestTelegramNotify(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("test-token", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Fatalf("request path = %q", gotPath)
	}
	if gotPayload["chat_id"] != "424242" {
		t.Fatalf("chat_id = %q, want 424242", gotPayload["chat_id"])
	}
	text := gotPayload["text"]
	for _, want := range []string{"EUR/USD", "1.2500", "5.93%", "rate exceeded 1.20"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message %q does not contain %q", text, want)
		}
	}
}

func TestTelegramNotifyNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":false}`))
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("test-token", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error on ok=false response")
	}
}

func TestTelegramNotifyServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("test-token", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("expected error on 5xx response")
	}
}
