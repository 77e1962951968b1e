// Package storefront serves the cart and checkout of each shopper session over
// HTTP. Sessions are identified by the X-Session-ID header.
package storefront

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/coupon"
	"github.com/joao-fontenele/storefront/internal/domain"
	"github.com/joao-fontenele/storefront/internal/flow"
)

const SessionHeader = "X-Session-ID"

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type Handler struct {
	sessions *Sessions
	logger   *slog.Logger
}

func NewHandler(sessions *Sessions, logger *slog.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		logger:   logger,
	}
}

// Register mounts every route on mux, passing each handler through wrap.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	if wrap == nil {
		wrap = func(f http.HandlerFunc) http.HandlerFunc { return f }
	}

	routes := map[string]sessionHandler{
		"GET /cart":                     h.handleGetCart,
		"POST /cart/items":              h.handleAddItem,
		"PATCH /cart/items/{id}":        h.handleUpdateQuantity,
		"DELETE /cart/items/{id}":       h.handleRemoveItem,
		"DELETE /cart":                  h.handleClearCart,
		"POST /cart/coupon":             h.handleApplyCoupon,
		"DELETE /cart/coupon":           h.handleRemoveCoupon,
		"PUT /cart/drawer":              h.handleSetDrawer,
		"GET /checkout":                 h.handleGetCheckout,
		"POST /checkout/next":           h.handleNext,
		"POST /checkout/prev":           h.handlePrev,
		"PUT /checkout/step":            h.handleGoTo,
		"PATCH /checkout/address":       h.handleSetAddress,
		"PUT /checkout/shipping-method": h.handleSetShippingMethod,
		"PUT /checkout/payment-method":  h.handleSetPaymentMethod,
		"POST /checkout/order":          h.handlePlaceOrder,
		"GET /checkout/confirmation":    h.handleConfirmation,
		"POST /checkout/reset":          h.handleReset,
	}
	for pattern, fn := range routes {
		mux.HandleFunc(pattern, wrap(h.withSession(fn)))
	}
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller)

func (h *Handler) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(SessionHeader)
		if !sessionIDPattern.MatchString(id) {
			h.writeError(w, http.StatusBadRequest, "missing or invalid "+SessionHeader+" header")
			return
		}

		ctrl, err := h.sessions.Get(r.Context(), id)
		if err != nil {
			h.logger.Error("failed to open session", "error", err, "session_id", id)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		next(w, r, ctrl)
	}
}

type cartResponse struct {
	cart.Summary
	DrawerOpen bool `json:"drawerOpen"`
}

func (h *Handler) writeCart(w http.ResponseWriter, status int, ctrl *flow.Controller) {
	h.writeJSON(w, status, cartResponse{
		Summary:    ctrl.Cart().Snapshot(),
		DrawerOpen: ctrl.Cart().DrawerOpen(),
	})
}

func (h *Handler) handleGetCart(w http.ResponseWriter, _ *http.Request, ctrl *flow.Controller) {
	h.writeCart(w, http.StatusOK, ctrl)
}

type addItemRequest struct {
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

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" || req.VariantID == "" {
		h.writeError(w, http.StatusUnprocessableEntity, "productId and variantId are required")
		return
	}
	if req.Price.IsNegative() {
		h.writeError(w, http.StatusUnprocessableEntity, "price must not be negative")
		return
	}

	line, err := ctrl.Cart().AddItem(r.Context(), domain.CartItem{
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Handle:    req.Handle,
		Title:     req.Title,
		Image:     req.Image,
		Price:     req.Price,
		Size:      req.Size,
		Color:     req.Color,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, line)
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *Handler) handleUpdateQuantity(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	var req quantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		h.writeError(w, http.StatusBadRequest, "quantity is required")
		return
	}

	if err := ctrl.Cart().UpdateQuantity(r.Context(), r.PathValue("id"), *req.Quantity); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, ctrl)
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	if err := ctrl.Cart().RemoveItem(r.Context(), r.PathValue("id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, ctrl)
}

func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	if err := ctrl.Cart().ClearCart(r.Context()); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, ctrl)
}

type couponRequest struct {
	Code string `json:"code"`
}

func (h *Handler) handleApplyCoupon(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := ctrl.ApplyCoupon(r.Context(), req.Code); err != nil {
		if errors.Is(err, coupon.ErrNotFound) || errors.Is(err, coupon.ErrExpired) || errors.Is(err, coupon.ErrBelowMinimum) {
			h.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.writeStoreError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, ctrl)
}

func (h *Handler) handleRemoveCoupon(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	if err := ctrl.RemoveCoupon(r.Context()); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeCart(w, http.StatusOK, ctrl)
}

type drawerRequest struct {
	Open bool `json:"open"`
}

func (h *Handler) handleSetDrawer(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	var req drawerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Open {
		ctrl.Cart().OpenDrawer()
	} else {
		ctrl.Cart().CloseDrawer()
	}
	h.writeCart(w, http.StatusOK, ctrl)
}

func (h *Handler) handleGetCheckout(w http.ResponseWriter, _ *http.Request, ctrl *flow.Controller) {
	h.writeJSON(w, http.StatusOK, ctrl.Summary())
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	if _, err := ctrl.Next(r.Context()); err != nil {
		h.writeFlowError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ctrl.Summary())
}

func (h *Handler) handlePrev(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	if _, err := ctrl.Back(r.Context()); err != nil {
		h.writeFlowError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ctrl.Summary())
}

type stepRequest struct {
	Step domain.Step `json:"step"`
}

func (h *Handler) handleGoTo(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	var req stepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if _, err := ctrl.GoTo(r.Context(), req.Step); err != nil {
		h.writeFlowError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ctrl.Summary())
}

func (h *Handler) handleSetAddress(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	var patch domain.AddressPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.writeJSON(w, http.StatusOK, ctrl.Checkout().SetShippingAddress(patch))
}

type methodRequest struct {
	Method string `json:"method"`
}

func (h *Handler) handleSetShippingMethod(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	var req methodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := ctrl.Checkout().SetShippingMethod(domain.ShippingMethod(req.Method)); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, ctrl.Summary())
}

func (h *Handler) handleSetPaymentMethod(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	var req methodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := ctrl.Checkout().SetPaymentMethod(domain.PaymentMethod(req.Method)); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, ctrl.Summary())
}

type orderResponse struct {
	OrderNumber string `json:"orderNumber"`
}

func (h *Handler) handlePlaceOrder(w http.ResponseWriter, r *http.Request, ctrl *flow.Controller) {
	number, err := ctrl.PlaceOrder(r.Context())
	if err != nil {
		h.writeFlowError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, orderResponse{OrderNumber: number})
}

func (h *Handler) handleConfirmation(w http.ResponseWriter, _ *http.Request, ctrl *flow.Controller) {
	number, ok := ctrl.Confirmation()
	if !ok {
		h.writeError(w, http.StatusNotFound, "no order placed")
		return
	}
	h.writeJSON(w, http.StatusOK, orderResponse{OrderNumber: number})
}

func (h *Handler) handleReset(w http.ResponseWriter, _ *http.Request, ctrl *flow.Controller) {
	if err := ctrl.ContinueShopping(); err != nil {
		h.writeFlowError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ctrl.Summary())
}

type incompleteAddressResponse struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing"`
}

type placementErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

func (h *Handler) writeFlowError(w http.ResponseWriter, err error) {
	var addrErr *flow.IncompleteAddressError
	var placeErr *checkout.PlacementError

	switch {
	case errors.As(err, &addrErr):
		h.writeJSON(w, http.StatusUnprocessableEntity, incompleteAddressResponse{Error: err.Error(), Missing: addrErr.Missing})
	case errors.As(err, &placeErr):
		status := http.StatusUnprocessableEntity
		if placeErr.Retryable {
			status = http.StatusServiceUnavailable
		}
		h.writeJSON(w, status, placementErrorResponse{Error: placeErr.Error(), Retryable: placeErr.Retryable})
	case errors.Is(err, flow.ErrTransitionInProgress),
		errors.Is(err, flow.ErrNotAtReview),
		errors.Is(err, flow.ErrStepNotReached),
		errors.Is(err, checkout.ErrOrderInProgress),
		errors.Is(err, checkout.ErrOrderAlreadyPlaced):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, flow.ErrEmptyCart), errors.Is(err, checkout.ErrUnknownStep):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.writeStoreError(w, err)
	}
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	h.logger.Error("storefront request failed", "error", err)
	h.writeError(w, http.StatusInternalServerError, "internal server error")
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
