package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/domain"
)

const orderColumns = `id, number, email, coupon_code, subtotal, discount, shipping, total,
	shipping_method, payment_method, shipping_address, status, created_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create stores order and fills in its ID and Number. Numbers come from the
// order_number_seq sequence, so they are unique across every replica.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	address, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT nextval('order_number_seq')`).Scan(&seq); err != nil {
		return fmt.Errorf("next order number: %w", err)
	}

	order.ID = uuid.New().String()
	order.Number = checkout.FormatOrderNumber(order.CreatedAt.Year(), seq)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, order.ID, order.Number, order.Email, order.CouponCode,
		order.Subtotal, order.Discount, order.Shipping, order.Total,
		order.ShippingMethod, order.PaymentMethod, address, order.Status, order.CreatedAt)
	if err != nil {
		return err
	}

	for i, line := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, variant_id, title, size, color, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, uuid.New().String(), order.ID, i, line.ProductID, line.VariantID,
			line.Title, line.Size, line.Color, line.Quantity, line.Price)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetByNumber returns nil, nil when no order carries number.
func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE number = $1
	`, number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, variant_id, title, size, color, quantity, price
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, order.ID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.ProductID, &line.VariantID, &line.Title, &line.Size, &line.Color, &line.Quantity, &line.Price); err != nil {
			return nil, err
		}
		order.Items = append(order.Items, line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return order, nil
}

// List returns the most recent orders first, at most limit of them.
func (r *OrderRepository) List(ctx context.Context, limit int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		order.Items = []domain.OrderLine{}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	lineRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, variant_id, title, size, color, quantity, price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = lineRows.Close() }()

	for lineRows.Next() {
		var orderID string
		var line domain.OrderLine
		if err := lineRows.Scan(&orderID, &line.ProductID, &line.VariantID, &line.Title, &line.Size, &line.Color, &line.Quantity, &line.Price); err != nil {
			return nil, err
		}
		order := orderMap[orderID]
		order.Items = append(order.Items, line)
	}

	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order   domain.Order
		address []byte
	)
	err := row.Scan(&order.ID, &order.Number, &order.Email, &order.CouponCode,
		&order.Subtotal, &order.Discount, &order.Shipping, &order.Total,
		&order.ShippingMethod, &order.PaymentMethod, &address, &order.Status, &order.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(address, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address of %s: %w", order.Number, err)
	}
	return &order, nil
}
