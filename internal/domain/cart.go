package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartItem is a single cart line. Lines are unique per (ProductID, VariantID).
type CartItem struct {
	ID        string          `json:"id"`
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId"`
	Handle    string          `json:"handle"`
	Title     string          `json:"title"`
	Image     string          `json:"image"`
	Price     decimal.Decimal `json:"price"`
	Size      string          `json:"size"`
	Color     string          `json:"color"`
	Quantity  int             `json:"quantity"`
}

// LineTotal returns price × quantity.
func (i CartItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// SameVariant reports whether both lines refer to the same product variant.
func (i CartItem) SameVariant(other CartItem) bool {
	return i.ProductID == other.ProductID && i.VariantID == other.VariantID
}

type CouponType string

const (
	CouponPercentage CouponType = "percentage"
	CouponFixed      CouponType = "fixed"
)

type Coupon struct {
	Code        string          `json:"code"`
	Type        CouponType      `json:"type"`
	Value       decimal.Decimal `json:"value"`
	MinPurchase decimal.Decimal `json:"minPurchase"`
	Description string          `json:"description"`
	ExpiresAt   time.Time       `json:"expiresAt"`
}

// CartState is the persisted shape of a cart.
type CartState struct {
	Items         []CartItem `json:"items"`
	AppliedCoupon *Coupon    `json:"appliedCoupon"`
}

// Clone returns a deep copy so callers never share the backing slice.
func (s CartState) Clone() CartState {
	out := CartState{Items: make([]CartItem, len(s.Items))}
	copy(out.Items, s.Items)
	if s.AppliedCoupon != nil {
		c := *s.AppliedCoupon
		out.AppliedCoupon = &c
	}
	return out
}
