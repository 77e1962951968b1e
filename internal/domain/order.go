package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

type OrderLine struct {
	ProductID string          `json:"product_id"`
	VariantID string          `json:"variant_id"`
	Title     string          `json:"title"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type Order struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	Email           string          `json:"email"`
	Items           []OrderLine     `json:"items"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Discount        decimal.Decimal `json:"discount"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	ShippingMethod  ShippingMethod  `json:"shipping_method"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	ShippingAddress Address         `json:"shipping_address"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// ItemCount is the sum of line quantities.
func (o Order) ItemCount() int {
	n := 0
	for _, l := range o.Items {
		n += l.Quantity
	}
	return n
}
