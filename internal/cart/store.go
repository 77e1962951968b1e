package cart

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/storefront/internal/coupon"
	"github.com/joao-fontenele/storefront/internal/domain"
)

var meter = otel.Meter("storefront/cart")

// Summary is a cart state together with its derived totals.
type Summary struct {
	Items         []domain.CartItem `json:"items"`
	AppliedCoupon *domain.Coupon    `json:"appliedCoupon"`
	TotalItems    int               `json:"totalItems"`
	Subtotal      decimal.Decimal   `json:"subtotal"`
	Discount      decimal.Decimal   `json:"discount"`
	Total         decimal.Decimal   `json:"total"`
}

// Summarize derives the totals of a cart. Discount eligibility is checked
// against the current subtotal every time, so a cart that shrinks below the
// coupon minimum loses its discount without the coupon being removed.
func Summarize(state domain.CartState) Summary {
	if state.Items == nil {
		state.Items = []domain.CartItem{}
	}
	s := Summary{
		Items:         state.Items,
		AppliedCoupon: state.AppliedCoupon,
		Subtotal:      decimal.Zero,
	}
	for _, item := range state.Items {
		s.TotalItems += item.Quantity
		s.Subtotal = s.Subtotal.Add(item.LineTotal())
	}
	s.Discount = coupon.Discount(state.AppliedCoupon, s.Subtotal)
	s.Total = decimal.Max(decimal.Zero, s.Subtotal.Sub(s.Discount))
	return s
}

// Store owns the cart lines of one shopper. Every mutation is written
// through to the repository; the drawer flag lives only in memory.
type Store struct {
	mu         sync.Mutex
	repo       Repository
	logger     *slog.Logger
	newID      func() string
	state      domain.CartState
	drawerOpen bool

	mutations metric.Int64Counter
}

type Option func(*Store)

// WithIDGenerator replaces the uuid based line id generator.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		s.newID = fn
	}
}

// NewStore loads the persisted cart from repo.
func NewStore(ctx context.Context, repo Repository, logger *slog.Logger, opts ...Option) (*Store, error) {
	state, err := repo.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	mutations, err := meter.Int64Counter("storefront.cart.mutations",
		metric.WithDescription("Cart mutations by operation"),
	)
	if err != nil {
		return nil, err
	}

	s := &Store{
		repo:      repo,
		logger:    logger,
		newID:     uuid.NewString,
		state:     state,
		mutations: mutations,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddItem adds a product variant to the cart. When a line for the same
// (ProductID, VariantID) exists its quantity grows instead.
func (s *Store) AddItem(ctx context.Context, item domain.CartItem) (domain.CartItem, error) {
	if item.Quantity < 1 {
		item.Quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	for i := range next.Items {
		if next.Items[i].SameVariant(item) {
			next.Items[i].Quantity += item.Quantity
			merged := next.Items[i]
			if err := s.commit(ctx, next, "add_item"); err != nil {
				return domain.CartItem{}, err
			}
			s.logger.Info("cart line merged", "line_id", merged.ID, "product_id", merged.ProductID, "variant_id", merged.VariantID, "quantity", merged.Quantity)
			return merged, nil
		}
	}

	item.ID = s.newID()
	next.Items = append(next.Items, item)
	if err := s.commit(ctx, next, "add_item"); err != nil {
		return domain.CartItem{}, err
	}
	s.logger.Info("cart line added", "line_id", item.ID, "product_id", item.ProductID, "variant_id", item.VariantID, "quantity", item.Quantity)
	return item, nil
}

// RemoveItem deletes the line with id. Unknown ids are ignored.
func (s *Store) RemoveItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.removeLocked(ctx, id)
}

// UpdateQuantity sets the absolute quantity of a line. A quantity of zero
// or less removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, id string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity <= 0 {
		return s.removeLocked(ctx, id)
	}

	next := s.state.Clone()
	for i := range next.Items {
		if next.Items[i].ID == id {
			next.Items[i].Quantity = quantity
			return s.commit(ctx, next, "update_quantity")
		}
	}
	return nil
}

// ClearCart drops every line and the applied coupon in one write.
func (s *Store) ClearCart(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.commit(ctx, domain.CartState{Items: []domain.CartItem{}}, "clear"); err != nil {
		return err
	}
	s.logger.Info("cart cleared")
	return nil
}

// RemoveOrdered takes the ordered quantities out of the cart in one write.
// Lines added or grown after the order was taken keep the difference. The
// coupon is dropped only when no line is left.
func (s *Store) RemoveOrdered(ctx context.Context, ordered []domain.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	qty := make(map[string]int, len(ordered))
	for _, item := range ordered {
		qty[item.ID] += item.Quantity
	}

	next := s.state.Clone()
	kept := make([]domain.CartItem, 0, len(next.Items))
	changed := false
	for _, item := range next.Items {
		if n, ok := qty[item.ID]; ok {
			changed = true
			item.Quantity -= n
			if item.Quantity <= 0 {
				continue
			}
		}
		kept = append(kept, item)
	}
	if !changed {
		return nil
	}
	next.Items = kept
	if len(kept) == 0 {
		next.AppliedCoupon = nil
	}

	if err := s.commit(ctx, next, "remove_ordered"); err != nil {
		return err
	}
	s.logger.Info("ordered lines removed", "ordered", len(ordered), "remaining", len(kept))
	return nil
}

// ApplyCoupon stores c as the applied coupon. Validation is the caller's job;
// see coupon.Evaluate.
func (s *Store) ApplyCoupon(ctx context.Context, c domain.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	next.AppliedCoupon = &c
	if err := s.commit(ctx, next, "apply_coupon"); err != nil {
		return err
	}
	s.logger.Info("coupon applied", "code", c.Code)
	return nil
}

func (s *Store) RemoveCoupon(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.AppliedCoupon == nil {
		return nil
	}
	code := s.state.AppliedCoupon.Code
	next := s.state.Clone()
	next.AppliedCoupon = nil
	if err := s.commit(ctx, next, "remove_coupon"); err != nil {
		return err
	}
	s.logger.Info("coupon removed", "code", code)
	return nil
}

func (s *Store) Items() []domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone().Items
}

func (s *Store) AppliedCoupon() *domain.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone().AppliedCoupon
}

func (s *Store) TotalItems() int {
	return s.Snapshot().TotalItems
}

func (s *Store) TotalPrice() decimal.Decimal {
	return s.Snapshot().Subtotal
}

func (s *Store) DiscountAmount() decimal.Decimal {
	return s.Snapshot().Discount
}

func (s *Store) FinalTotal() decimal.Decimal {
	return s.Snapshot().Total
}

// Snapshot returns a copy of the cart with totals computed from it.
func (s *Store) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summarize(s.state.Clone())
}

func (s *Store) OpenDrawer() {
	s.mu.Lock()
	s.drawerOpen = true
	s.mu.Unlock()
}

func (s *Store) CloseDrawer() {
	s.mu.Lock()
	s.drawerOpen = false
	s.mu.Unlock()
}

func (s *Store) ToggleDrawer() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawerOpen = !s.drawerOpen
	return s.drawerOpen
}

func (s *Store) DrawerOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drawerOpen
}

func (s *Store) removeLocked(ctx context.Context, id string) error {
	next := s.state.Clone()
	for i, item := range next.Items {
		if item.ID == id {
			next.Items = append(next.Items[:i], next.Items[i+1:]...)
			if err := s.commit(ctx, next, "remove_item"); err != nil {
				return err
			}
			s.logger.Info("cart line removed", "line_id", id, "product_id", item.ProductID)
			return nil
		}
	}
	return nil
}

// commit makes next the current state once it is saved. A failed save leaves
// the current state untouched. Must be called with mu held.
func (s *Store) commit(ctx context.Context, next domain.CartState, op string) error {
	if err := s.repo.Save(ctx, next); err != nil {
		s.logger.Error("failed to persist cart", "error", err, "operation", op)
		return fmt.Errorf("save cart: %w", err)
	}
	s.state = next
	s.mutations.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
	return nil
}
