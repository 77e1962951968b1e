package checkout

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

// OrderRequest is everything a backend needs to accept an order.
type OrderRequest struct {
	Items           []domain.CartItem     `json:"items"`
	Coupon          *domain.Coupon        `json:"coupon,omitempty"`
	Subtotal        decimal.Decimal       `json:"subtotal"`
	Discount        decimal.Decimal       `json:"discount"`
	Shipping        decimal.Decimal       `json:"shipping"`
	Total           decimal.Decimal       `json:"total"`
	ShippingAddress domain.Address        `json:"shipping_address"`
	ShippingMethod  domain.ShippingMethod `json:"shipping_method"`
	PaymentMethod   domain.PaymentMethod  `json:"payment_method"`
}

// Placer submits an order and returns the order number it was issued.
type Placer interface {
	Place(ctx context.Context, req OrderRequest) (string, error)
}

// PlacementError is a failed order submission. The checkout is left
// untouched, so a Retryable failure can be submitted again.
type PlacementError struct {
	Reason    string
	Retryable bool
	Err       error
}

func (e *PlacementError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order placement failed: %s: %v", e.Reason, e.Err)
	}
	return "order placement failed: " + e.Reason
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}

// FormatOrderNumber renders SNK-<year>-<n>, n zero padded to four digits.
func FormatOrderNumber(year int, n int64) string {
	return fmt.Sprintf("SNK-%d-%04d", year, n)
}

// DefaultSimulatedDelay is how long the simulated backend takes to answer.
const DefaultSimulatedDelay = 2 * time.Second

// SimulatedPlacer stands in for a real order backend: it waits a fixed
// delay and makes up a random order number. Numbers are not unique.
type SimulatedPlacer struct {
	delay time.Duration
	now   func() time.Time
}

func NewSimulatedPlacer(delay time.Duration) *SimulatedPlacer {
	return &SimulatedPlacer{delay: delay, now: time.Now}
}

func (p *SimulatedPlacer) Place(ctx context.Context, req OrderRequest) (string, error) {
	if len(req.Items) == 0 {
		return "", &PlacementError{Reason: "order has no items"}
	}

	timer := time.NewTimer(p.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
	}

	return FormatOrderNumber(p.now().Year(), rand.Int64N(10000)), nil
}

// PlacerFunc adapts a function to the Placer interface.
type PlacerFunc func(ctx context.Context, req OrderRequest) (string, error)

func (f PlacerFunc) Place(ctx context.Context, req OrderRequest) (string, error) {
	return f(ctx, req)
}

// asPlacementError normalises whatever a Placer returned.
func asPlacementError(err error) *PlacementError {
	var pe *PlacementError
	if errors.As(err, &pe) {
		return pe
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &PlacementError{Reason: "timed out", Retryable: true, Err: err}
	case errors.Is(err, context.Canceled):
		return &PlacementError{Reason: "cancelled", Retryable: true, Err: err}
	default:
		return &PlacementError{Reason: "backend error", Retryable: true, Err: err}
	}
}
