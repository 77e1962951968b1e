package notification

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/messaging"
)

func placedEvent(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(domain.OrderPlacedEvent{
		OrderID:     "6f1c",
		OrderNumber: "SNK-2026-0042",
		Email:       "ana@example.com",
		ItemCount:   3,
		Total:       decimal.RequireFromString("99.99"),
		Timestamp:   time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestConfirmationHandler_Handle(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("sends confirmation email", func(t *testing.T) {
		var got email
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/send" {
				t.Errorf("expected /send, got %s", r.URL.Path)
			}
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				t.Errorf("decode email: %v", err)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		h := NewConfirmationHandler(server.URL, server.Client(), logger)
		if err := h.Handle(context.Background(), placedEvent(t)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got.To != "ana@example.com" {
			t.Errorf("expected ana@example.com, got %s", got.To)
		}
		if !strings.Contains(got.Subject, "SNK-2026-0042") {
			t.Errorf("unexpected subject: %s", got.Subject)
		}
		if !strings.Contains(got.Body, "3 items") || !strings.Contains(got.Body, "$99.99") {
			t.Errorf("unexpected body: %s", got.Body)
		}
	})

	t.Run("email service failure is retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		h := NewConfirmationHandler(server.URL, server.Client(), logger)
		err := h.Handle(context.Background(), placedEvent(t))
		if err == nil {
			t.Fatal("expected error")
		}
		if messaging.IsPermanent(err) {
			t.Error("expected transient error")
		}
	})

	t.Run("bad payload is permanent", func(t *testing.T) {
		h := NewConfirmationHandler("http://unused", http.DefaultClient, logger)

		for _, payload := range []string{"{", `{"order_number":"SNK-2026-0001"}`} {
			err := h.Handle(context.Background(), []byte(payload))
			if !messaging.IsPermanent(err) {
				t.Errorf("payload %s: expected permanent error, got %v", payload, err)
			}
		}
	})
}
