package coupon

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	ErrNotFound     = errors.New("invalid coupon code")
	ErrExpired      = errors.New("coupon has expired")
	ErrBelowMinimum = errors.New("subtotal below coupon minimum")

	// ErrEmptyCode is returned for blank input. It matches ErrNotFound, but
	// callers usually treat it as a no-op rather than showing a message.
	ErrEmptyCode = fmt.Errorf("empty coupon code: %w", ErrNotFound)
)

var hundred = decimal.NewFromInt(100)

// BelowMinimumError carries the threshold the subtotal failed to reach.
type BelowMinimumError struct {
	MinPurchase decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("minimum purchase of $%s required", e.MinPurchase.StringFixed(2))
}

func (e *BelowMinimumError) Is(target error) bool {
	return target == ErrBelowMinimum
}

type Result struct {
	Coupon   domain.Coupon   `json:"coupon"`
	Discount decimal.Decimal `json:"discount"`
}

// NormalizeCode trims and upper-cases a shopper supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Evaluate validates code against the catalog and prices the discount for
// subtotal. Checks run in order and the first failure wins: the code must
// exist, now must be before its expiry, and subtotal must reach its minimum.
func Evaluate(code string, subtotal decimal.Decimal, catalog Catalog, now time.Time) (Result, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Result{}, ErrEmptyCode
	}

	c, ok := catalog.Lookup(code)
	if !ok {
		return Result{}, ErrNotFound
	}

	if !now.Before(c.ExpiresAt) {
		return Result{}, ErrExpired
	}

	if subtotal.LessThan(c.MinPurchase) {
		return Result{}, &BelowMinimumError{MinPurchase: c.MinPurchase}
	}

	return Result{Coupon: c, Discount: Amount(c, subtotal)}, nil
}

// Discount returns what an applied coupon takes off subtotal. It is zero when
// no coupon is applied or when subtotal has dropped below the coupon minimum,
// so it is safe to call on every read of the cart totals.
func Discount(c *domain.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if c == nil || subtotal.LessThan(c.MinPurchase) {
		return decimal.Zero
	}
	return Amount(*c, subtotal)
}

// Amount prices a coupon against subtotal without checking eligibility.
// The result is rounded to cents and never exceeds subtotal.
func Amount(c domain.Coupon, subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() || c.Value.IsNegative() {
		return decimal.Zero
	}

	var amount decimal.Decimal
	switch c.Type {
	case domain.CouponPercentage:
		amount = subtotal.Mul(c.Value).Div(hundred).Round(2)
	case domain.CouponFixed:
		amount = c.Value
	default:
		return decimal.Zero
	}

	return decimal.Min(amount, subtotal)
}
