//go:build integration

package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/testutil"
)

func newOrder(email string, lines int) *domain.Order {
	order := &domain.Order{
		Email:           email,
		Subtotal:        decimal.NewFromInt(int64(lines) * 50),
		Discount:        decimal.Zero,
		Shipping:        decimal.RequireFromString("9.99"),
		ShippingMethod:  domain.ShippingStandard,
		PaymentMethod:   domain.PaymentCard,
		ShippingAddress: orderRequest("0").ShippingAddress,
		Status:          domain.OrderStatusPlaced,
		CreatedAt:       testNow,
	}
	for i := range lines {
		order.Items = append(order.Items, domain.OrderLine{
			ProductID: fmt.Sprintf("p%d", i),
			VariantID: fmt.Sprintf("p%d-42", i),
			Title:     "Runner",
			Size:      "42",
			Quantity:  1,
			Price:     decimal.RequireFromString("50.00"),
		})
	}
	order.Total = order.Subtotal.Add(order.Shipping)
	return order
}

func TestOrderRepository(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	repo := NewOrderRepository(testutil.Postgres(ctx, t))

	first := newOrder("ana@example.com", 2)
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	second := newOrder("bo@example.com", 1)
	second.CreatedAt = testNow.Add(time.Minute)
	if err := repo.Create(ctx, second); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	t.Run("numbers come from the sequence", func(t *testing.T) {
		if first.Number != "SNK-2026-0001" || second.Number != "SNK-2026-0002" {
			t.Errorf("expected sequential numbers, got %s and %s", first.Number, second.Number)
		}
		if first.ID == "" || first.ID == second.ID {
			t.Errorf("expected distinct ids, got %q and %q", first.ID, second.ID)
		}
	})

	t.Run("get by number", func(t *testing.T) {
		got, err := repo.GetByNumber(ctx, first.Number)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got == nil {
			t.Fatal("order not found")
		}
		if len(got.Items) != 2 || got.Items[0].ProductID != "p0" {
			t.Errorf("expected lines in order, got %+v", got.Items)
		}
		if !got.Total.Equal(first.Total) {
			t.Errorf("expected total %s, got %s", first.Total, got.Total)
		}
		if got.ShippingAddress != first.ShippingAddress {
			t.Errorf("expected address %+v, got %+v", first.ShippingAddress, got.ShippingAddress)
		}
	})

	t.Run("unknown number", func(t *testing.T) {
		got, err := repo.GetByNumber(ctx, "SNK-2026-9999")
		if err != nil || got != nil {
			t.Errorf("expected nil, nil, got %v, %v", got, err)
		}
	})

	t.Run("list newest first with lines", func(t *testing.T) {
		list, err := repo.List(ctx, 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("expected 2 orders, got %d", len(list))
		}
		if list[0].Number != second.Number {
			t.Errorf("expected %s first, got %s", second.Number, list[0].Number)
		}
		if len(list[0].Items) != 1 || len(list[1].Items) != 2 {
			t.Errorf("unexpected line counts %d and %d", len(list[0].Items), len(list[1].Items))
		}
	})
}
