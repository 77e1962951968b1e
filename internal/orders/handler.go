package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/coupon"
	"github.com/joao-fontenele/storefront/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type Repository interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	List(ctx context.Context, limit int) ([]domain.Order, error)
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Handler struct {
	repo      Repository
	publisher Publisher
	catalog   coupon.Catalog
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler builds the orders API. publisher may be nil, in which case no
// order.placed events are emitted.
func NewHandler(repo Repository, publisher Publisher, catalog coupon.Catalog, logger *slog.Logger) *Handler {
	return &Handler{
		repo:      repo,
		publisher: publisher,
		catalog:   catalog,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleCreate accepts an order from the storefront. Prices are recomputed
// here and the request is refused when its total disagrees.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req checkout.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := h.now().UTC()
	order, err := h.price(req, now)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, errTotalMismatch) {
			status = http.StatusConflict
		}
		h.logger.Info("order rejected", "reason", err.Error(), "email", req.ShippingAddress.Email)
		h.writeError(w, status, err.Error())
		return
	}

	if err := h.repo.Create(r.Context(), order); err != nil {
		h.logger.Error("failed to create order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if h.publisher != nil {
		event := domain.OrderPlacedEvent{
			OrderID:     order.ID,
			OrderNumber: order.Number,
			Email:       order.Email,
			ItemCount:   order.ItemCount(),
			Total:       order.Total,
			Timestamp:   order.CreatedAt,
		}
		if err := h.publisher.Publish(r.Context(), order.ID, event); err != nil {
			h.logger.Error("failed to publish order placed event", "error", err, "order_number", order.Number)
		}
	}

	h.logger.Info("order placed", "order_id", order.ID, "order_number", order.Number, "total", order.Total.StringFixed(2))
	h.writeJSON(w, http.StatusCreated, order)
}

var errTotalMismatch = errors.New("order total does not match")

func (h *Handler) price(req checkout.OrderRequest, now time.Time) (*domain.Order, error) {
	if len(req.Items) == 0 {
		return nil, errors.New("order has no items")
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("item %s has quantity %d", item.VariantID, item.Quantity)
		}
		if item.Price.IsNegative() {
			return nil, fmt.Errorf("item %s has a negative price", item.VariantID)
		}
	}
	if !req.ShippingMethod.Valid() {
		return nil, fmt.Errorf("%w: %q", checkout.ErrInvalidShipping, req.ShippingMethod)
	}
	if !req.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: %q", checkout.ErrInvalidPayment, req.PaymentMethod)
	}
	if missing := req.ShippingAddress.MissingFields(); len(missing) > 0 {
		return nil, fmt.Errorf("shipping address is incomplete: missing %s", strings.Join(missing, ", "))
	}

	state := domain.CartState{Items: req.Items}
	if req.Coupon != nil {
		res, err := coupon.Evaluate(req.Coupon.Code, cart.Summarize(state).Subtotal, h.catalog, now)
		if err != nil {
			return nil, fmt.Errorf("coupon %s: %w", coupon.NormalizeCode(req.Coupon.Code), err)
		}
		state.AppliedCoupon = &res.Coupon
	}

	sum := cart.Summarize(state)
	shipping := checkout.ShippingCost(req.ShippingMethod, sum.Total)
	total := sum.Total.Add(shipping)
	if !total.Equal(req.Total) {
		return nil, fmt.Errorf("%w: expected %s, got %s", errTotalMismatch, total.StringFixed(2), req.Total.StringFixed(2))
	}

	order := &domain.Order{
		Email:           req.ShippingAddress.Email,
		Items:           make([]domain.OrderLine, 0, len(req.Items)),
		Subtotal:        sum.Subtotal,
		Discount:        sum.Discount,
		Shipping:        shipping,
		Total:           total,
		ShippingMethod:  req.ShippingMethod,
		PaymentMethod:   req.PaymentMethod,
		ShippingAddress: req.ShippingAddress,
		Status:          domain.OrderStatusPlaced,
		CreatedAt:       now,
	}
	if state.AppliedCoupon != nil {
		order.CouponCode = state.AppliedCoupon.Code
	}
	for _, item := range req.Items {
		order.Items = append(order.Items, domain.OrderLine{
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Title:     item.Title,
			Size:      item.Size,
			Color:     item.Color,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	return order, nil
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	if number == "" {
		h.writeError(w, http.StatusBadRequest, "missing order number")
		return
	}

	order, err := h.repo.GetByNumber(r.Context(), number)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_number", number)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.logger.Info("order retrieved", "order_number", order.Number)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	orders, err := h.repo.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
