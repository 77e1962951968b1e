package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var orderNumberPattern = regexp.MustCompile(`^SNK-\d{4}-\d{4}$`)

func newTestStore(t *testing.T, placer Placer, opts ...Option) *Store {
	t.Helper()

	store, err := NewStore(placer, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func testRequest() OrderRequest {
	return OrderRequest{
		Items: []domain.CartItem{
			{ID: "a", ProductID: "p1", VariantID: "v1", Price: decimal.NewFromInt(60), Quantity: 1},
			{ID: "b", ProductID: "p2", VariantID: "v2", Price: decimal.NewFromInt(40), Quantity: 1},
		},
		Subtotal:       decimal.NewFromInt(100),
		Discount:       decimal.NewFromInt(10),
		Total:          decimal.NewFromInt(90),
		ShippingMethod: domain.ShippingStandard,
		PaymentMethod:  domain.PaymentCard,
	}
}

// gatedPlacer blocks until release is closed.
type gatedPlacer struct {
	entered chan struct{}
	release chan struct{}
	number  string
	err     error

	mu    sync.Mutex
	calls int
}

func newGatedPlacer(number string, err error) *gatedPlacer {
	return &gatedPlacer{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
		number:  number,
		err:     err,
	}
}

func (p *gatedPlacer) Place(ctx context.Context, _ OrderRequest) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	p.entered <- struct{}{}
	select {
	case <-p.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return p.number, p.err
}

func (p *gatedPlacer) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestStore_Steps(t *testing.T) {
	t.Run("starts at information with defaults", func(t *testing.T) {
		st := newTestStore(t, NewSimulatedPlacer(0)).State()

		if st.CurrentStep != domain.StepInformation {
			t.Errorf("expected information, got %s", st.CurrentStep)
		}
		if st.ShippingMethod != domain.ShippingStandard {
			t.Errorf("expected standard shipping, got %s", st.ShippingMethod)
		}
		if st.PaymentMethod != domain.PaymentCard {
			t.Errorf("expected card payment, got %s", st.PaymentMethod)
		}
		if st.OrderComplete || st.OrderNumber != nil || st.IsProcessing {
			t.Errorf("expected clean session, got %+v", st)
		}
	})

	t.Run("prev at information is a no-op", func(t *testing.T) {
		store := newTestStore(t, NewSimulatedPlacer(0))
		if got := store.PrevStep(); got != domain.StepInformation {
			t.Errorf("expected information, got %s", got)
		}
	})

	t.Run("next walks the sequence and stops at review", func(t *testing.T) {
		store := newTestStore(t, NewSimulatedPlacer(0))

		want := []domain.Step{domain.StepShipping, domain.StepPayment, domain.StepReview, domain.StepReview}
		for i, w := range want {
			if got := store.NextStep(); got != w {
				t.Errorf("call %d: expected %s, got %s", i+1, w, got)
			}
		}
	})

	t.Run("prev moves back one step", func(t *testing.T) {
		store := newTestStore(t, NewSimulatedPlacer(0))
		store.NextStep()
		store.NextStep()

		if got := store.PrevStep(); got != domain.StepShipping {
			t.Errorf("expected shipping, got %s", got)
		}
	})

	t.Run("set step jumps and rejects unknown steps", func(t *testing.T) {
		store := newTestStore(t, NewSimulatedPlacer(0))

		if err := store.SetStep(domain.StepReview); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if store.Step() != domain.StepReview {
			t.Errorf("expected review, got %s", store.Step())
		}
		if err := store.SetStep("confirmation"); !errors.Is(err, ErrUnknownStep) {
			t.Errorf("expected ErrUnknownStep, got %v", err)
		}
	})
}

func TestStore_Setters(t *testing.T) {
	store := newTestStore(t, NewSimulatedPlacer(0))

	email := "ada@example.com"
	city := "Lisbon"
	store.SetShippingAddress(domain.AddressPatch{Email: &email})
	addr := store.SetShippingAddress(domain.AddressPatch{City: &city})

	if addr.Email != email || addr.City != city {
		t.Errorf("expected fields to accumulate, got %+v", addr)
	}

	if err := store.SetShippingMethod(domain.ShippingExpress); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetPaymentMethod(domain.PaymentPayPal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.SetShippingMethod("drone"); !errors.Is(err, ErrInvalidShipping) {
		t.Errorf("expected ErrInvalidShipping, got %v", err)
	}
	if err := store.SetPaymentMethod("cash"); !errors.Is(err, ErrInvalidPayment) {
		t.Errorf("expected ErrInvalidPayment, got %v", err)
	}

	st := store.State()
	if st.ShippingMethod != domain.ShippingExpress || st.PaymentMethod != domain.PaymentPayPal {
		t.Errorf("unexpected methods: %s, %s", st.ShippingMethod, st.PaymentMethod)
	}
}

func TestStore_PlaceOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("simulated backend issues an SNK number", func(t *testing.T) {
		store := newTestStore(t, NewSimulatedPlacer(time.Millisecond))

		number, err := store.PlaceOrder(ctx, testRequest())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !orderNumberPattern.MatchString(number) {
			t.Errorf("unexpected order number %q", number)
		}

		st := store.State()
		if !st.OrderComplete {
			t.Error("expected order to be complete")
		}
		if st.OrderNumber == nil || *st.OrderNumber != number {
			t.Errorf("expected order number %s, got %v", number, st.OrderNumber)
		}
		if st.IsProcessing {
			t.Error("expected processing to be cleared")
		}
	})

	t.Run("processing flag spans the call and blocks a second submit", func(t *testing.T) {
		placer := newGatedPlacer("SNK-2026-0042", nil)
		store := newTestStore(t, placer)

		done := make(chan error, 1)
		go func() {
			_, err := store.PlaceOrder(ctx, testRequest())
			done <- err
		}()

		<-placer.entered
		if !store.IsProcessing() {
			t.Error("expected processing while the backend is working")
		}
		if store.State().OrderComplete {
			t.Error("order must not be complete before the backend answers")
		}
		if _, err := store.PlaceOrder(ctx, testRequest()); !errors.Is(err, ErrOrderInProgress) {
			t.Errorf("expected ErrOrderInProgress, got %v", err)
		}
		if err := store.Reset(); !errors.Is(err, ErrOrderInProgress) {
			t.Errorf("expected reset to be refused mid-flight, got %v", err)
		}

		close(placer.release)
		if err := <-done; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if store.IsProcessing() {
			t.Error("expected processing to be cleared")
		}
		if placer.Calls() != 1 {
			t.Errorf("expected a single backend call, got %d", placer.Calls())
		}
		if _, err := store.PlaceOrder(ctx, testRequest()); !errors.Is(err, ErrOrderAlreadyPlaced) {
			t.Errorf("expected ErrOrderAlreadyPlaced, got %v", err)
		}
	})

	t.Run("backend failure leaves the session retryable", func(t *testing.T) {
		declined := &PlacementError{Reason: "payment declined"}
		store := newTestStore(t, PlacerFunc(func(context.Context, OrderRequest) (string, error) {
			return "", declined
		}))

		_, err := store.PlaceOrder(ctx, testRequest())
		var pe *PlacementError
		if !errors.As(err, &pe) {
			t.Fatalf("expected *PlacementError, got %v", err)
		}
		if pe.Reason != "payment declined" {
			t.Errorf("expected reason to be preserved, got %s", pe.Reason)
		}

		st := store.State()
		if st.IsProcessing || st.OrderComplete || st.OrderNumber != nil {
			t.Errorf("expected untouched session, got %+v", st)
		}
	})

	t.Run("plain errors become retryable placement errors", func(t *testing.T) {
		boom := errors.New("connection reset")
		store := newTestStore(t, PlacerFunc(func(context.Context, OrderRequest) (string, error) {
			return "", boom
		}))

		_, err := store.PlaceOrder(ctx, testRequest())
		var pe *PlacementError
		if !errors.As(err, &pe) || !pe.Retryable {
			t.Fatalf("expected retryable *PlacementError, got %v", err)
		}
		if !errors.Is(err, boom) {
			t.Errorf("expected wrapped cause, got %v", err)
		}
	})

	t.Run("times out and rolls back", func(t *testing.T) {
		placer := newGatedPlacer("never", nil)
		store := newTestStore(t, placer, WithTimeout(20*time.Millisecond))

		_, err := store.PlaceOrder(ctx, testRequest())
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
		var pe *PlacementError
		if !errors.As(err, &pe) || pe.Reason != "timed out" || !pe.Retryable {
			t.Errorf("expected retryable timeout, got %v", err)
		}
		if store.IsProcessing() || store.State().OrderComplete {
			t.Errorf("expected rollback, got %+v", store.State())
		}
	})

	t.Run("honours caller cancellation", func(t *testing.T) {
		placer := newGatedPlacer("never", nil)
		store := newTestStore(t, placer)

		cctx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			_, err := store.PlaceOrder(cctx, testRequest())
			done <- err
		}()

		<-placer.entered
		cancel()

		if err := <-done; !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if store.IsProcessing() {
			t.Error("expected processing to be cleared")
		}
	})

	t.Run("simulated backend rejects an empty order", func(t *testing.T) {
		store := newTestStore(t, NewSimulatedPlacer(0))

		_, err := store.PlaceOrder(ctx, OrderRequest{})
		var pe *PlacementError
		if !errors.As(err, &pe) || pe.Retryable {
			t.Fatalf("expected non-retryable *PlacementError, got %v", err)
		}
	})
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t, NewSimulatedPlacer(0))
	name := "Ada"
	store.SetShippingAddress(domain.AddressPatch{FirstName: &name})
	_ = store.SetShippingMethod(domain.ShippingExpress)
	store.NextStep()
	store.NextStep()
	store.NextStep()

	if _, err := store.PlaceOrder(context.Background(), testRequest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Reset(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := store.State()
	want := initialState()
	if st.CurrentStep != want.CurrentStep || st.ShippingMethod != want.ShippingMethod || st.PaymentMethod != want.PaymentMethod {
		t.Errorf("expected initial selections, got %+v", st)
	}
	if st.ShippingAddress != (domain.Address{}) {
		t.Errorf("expected empty address, got %+v", st.ShippingAddress)
	}
	if st.OrderComplete || st.OrderNumber != nil || st.IsProcessing {
		t.Errorf("expected order fields cleared, got %+v", st)
	}

	if _, err := store.PlaceOrder(context.Background(), testRequest()); err != nil {
		t.Errorf("expected a fresh session to accept an order, got %v", err)
	}
}

func TestFormatOrderNumber(t *testing.T) {
	if got := FormatOrderNumber(2026, 7); got != "SNK-2026-0007" {
		t.Errorf("expected SNK-2026-0007, got %s", got)
	}
	if got := FormatOrderNumber(2026, 9999); got != "SNK-2026-9999" {
		t.Errorf("expected SNK-2026-9999, got %s", got)
	}
}
