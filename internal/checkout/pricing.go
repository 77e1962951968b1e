package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	freeShippingThreshold = decimal.NewFromInt(100)
	standardShipping      = decimal.RequireFromString("9.99")
	expressShipping       = decimal.RequireFromString("19.99")
)

// ShippingCost prices a shipping method for a discounted cart total.
// Standard shipping is free from 100.
func ShippingCost(m domain.ShippingMethod, total decimal.Decimal) decimal.Decimal {
	if m == domain.ShippingExpress {
		return expressShipping
	}
	if total.GreaterThanOrEqual(freeShippingThreshold) {
		return decimal.Zero
	}
	return standardShipping
}
