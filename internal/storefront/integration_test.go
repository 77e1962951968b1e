//go:build integration

package storefront

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/coupon"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/flow"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/notification"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/testutil"
)

type emailCapture struct {
	mu     sync.Mutex
	emails []map[string]string
}

func (e *emailCapture) handler(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	e.emails = append(e.emails, req)
	e.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (e *emailCapture) getEmails() []map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]map[string]string, len(e.emails))
	copy(result, e.emails)
	return result
}

func TestCheckoutEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := testutil.Postgres(ctx, t)
	brokers := testutil.Kafka(ctx, t)

	producer, err := messaging.NewProducer(brokers, messaging.TopicOrderPlaced)
	if err != nil {
		t.Fatalf("failed to create producer: %v", err)
	}
	defer func() { _ = producer.Close() }()

	ordersHandler := orders.NewHandler(orders.NewOrderRepository(db), producer, coupon.DefaultCatalog(), logger)
	ordersMux := http.NewServeMux()
	ordersMux.HandleFunc("POST /orders", ordersHandler.HandleCreate)
	ordersMux.HandleFunc("GET /orders/{number}", ordersHandler.HandleGet)
	ordersServer := httptest.NewServer(ordersMux)
	defer ordersServer.Close()

	emailCap := &emailCapture{}
	emailMux := http.NewServeMux()
	emailMux.HandleFunc("POST /send", emailCap.handler)
	emailServer := httptest.NewServer(emailMux)
	defer emailServer.Close()

	placer := orders.NewClient(ordersServer.URL, ordersServer.Client())
	sessions := NewSessions(func(ctx context.Context, sessionID string) (*flow.Controller, error) {
		cartStore, err := cart.NewStore(ctx, cart.NewPostgresRepository(db, sessionID), logger)
		if err != nil {
			return nil, err
		}
		checkoutStore, err := checkout.NewStore(placer, logger)
		if err != nil {
			return nil, err
		}
		return flow.New(cartStore, checkoutStore, coupon.DefaultCatalog(), logger, flow.WithTiming(flow.Timing{})), nil
	})
	mux := http.NewServeMux()
	NewHandler(sessions, logger).Register(mux, nil)
	c := client{t: t, mux: mux, session: "e2e-shopper"}

	c.fillCart()
	if rec := c.do(http.MethodPost, "/cart/coupon", map[string]string{"code": "WELCOME10"}); rec.Code != http.StatusOK {
		t.Fatalf("apply coupon: expected status 200, got %d", rec.Code)
	}
	c.fillAddress()
	if rec := c.do(http.MethodPut, "/checkout/shipping-method", map[string]string{"method": "express"}); rec.Code != http.StatusOK {
		t.Fatalf("set shipping: expected status 200, got %d", rec.Code)
	}
	c.walkToReview()

	rec := c.do(http.MethodPost, "/checkout/order", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
	}
	number := decode[orderResponse](t, rec).OrderNumber
	if !orderNumberPattern.MatchString(number) || !strings.HasSuffix(number, "-0001") {
		t.Fatalf("expected first sequence number, got %q", number)
	}

	stored, err := orders.NewOrderRepository(db).GetByNumber(ctx, number)
	if err != nil || stored == nil {
		t.Fatalf("order %s not stored: %v", number, err)
	}
	// 100 - 10% + 19.99 express
	if !stored.Total.Equal(decimal.RequireFromString("109.99")) {
		t.Errorf("expected total 109.99, got %s", stored.Total)
	}
	if stored.CouponCode != "WELCOME10" {
		t.Errorf("expected WELCOME10, got %q", stored.CouponCode)
	}

	persisted, err := cart.NewPostgresRepository(db, "e2e-shopper").Load(ctx)
	if err != nil {
		t.Fatalf("failed to load cart: %v", err)
	}
	if len(persisted.Items) != 0 {
		t.Errorf("expected persisted cart cleared, got %d lines", len(persisted.Items))
	}

	consumer := messaging.NewConsumer(brokers, messaging.TopicOrderPlaced, "e2e", logger,
		messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	confirmations := notification.NewConfirmationHandler(emailServer.URL, emailServer.Client(), logger)
	consumeCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	go func() {
		_ = consumer.Consume(consumeCtx, func(ctx context.Context, payload []byte) error {
			var event domain.OrderPlacedEvent
			if err := json.Unmarshal(payload, &event); err == nil && event.OrderNumber == number {
				defer stopConsumer()
			}
			return confirmations.Handle(ctx, payload)
		})
	}()

	deadline := time.Now().Add(time.Minute)
	for len(emailCap.getEmails()) == 0 && time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
	}

	emails := emailCap.getEmails()
	if len(emails) != 1 {
		t.Fatalf("expected 1 confirmation email, got %d", len(emails))
	}
	if emails[0]["to"] != "ada@example.com" {
		t.Errorf("expected email to ada@example.com, got %s", emails[0]["to"])
	}
	if !strings.Contains(emails[0]["subject"], number) {
		t.Errorf("expected subject to mention %s, got %s", number, emails[0]["subject"])
	}
}
