// Package flow drives a shopper through checkout: it gates and animates step
// changes, prices coupons against the live cart and hands the cart over to
// the order backend.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/checkout"
	"github.com/joao-fontenele/storefront/internal/coupon"
	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	ErrIncompleteAddress    = errors.New("shipping address is incomplete")
	ErrTransitionInProgress = errors.New("step transition in progress")
	ErrNotAtReview          = errors.New("orders can only be placed from the review step")
	ErrEmptyCart            = errors.New("cart is empty")
	ErrStepNotReached       = errors.New("checkout step not reached yet")
)

type IncompleteAddressError struct {
	Missing []string
}

func (e *IncompleteAddressError) Error() string {
	return fmt.Sprintf("%s: missing %s", ErrIncompleteAddress, strings.Join(e.Missing, ", "))
}

func (e *IncompleteAddressError) Is(target error) bool {
	return target == ErrIncompleteAddress
}

// Phase is where a step change is in its exit/enter animation.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseExiting  Phase = "exiting"
	PhaseEntering Phase = "entering"
)

// Timing holds how long the outgoing step takes to leave and the incoming
// one to settle.
type Timing struct {
	Exit  time.Duration
	Enter time.Duration
}

var DefaultTiming = Timing{Exit: 300 * time.Millisecond, Enter: 300 * time.Millisecond}

// Summary is what the order review and sidebar render.
type Summary struct {
	Cart       cart.Summary    `json:"cart"`
	Checkout   checkout.State  `json:"checkout"`
	Shipping   decimal.Decimal `json:"shipping"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	Phase      Phase           `json:"phase"`
}

type Controller struct {
	cart     *cart.Store
	checkout *checkout.Store
	catalog  coupon.Catalog
	notifier Notifier
	logger   *slog.Logger
	timing   Timing
	now      func() time.Time

	mu    sync.Mutex
	phase Phase
}

type Option func(*Controller)

func WithTiming(t Timing) Option {
	return func(c *Controller) {
		c.timing = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) {
		c.notifier = n
	}
}

func New(cartStore *cart.Store, checkoutStore *checkout.Store, catalog coupon.Catalog, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		cart:     cartStore,
		checkout: checkoutStore,
		catalog:  catalog,
		notifier: NewLogNotifier(logger),
		logger:   logger,
		timing:   DefaultTiming,
		now:      time.Now,
		phase:    PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Cart() *cart.Store {
	return c.cart
}

func (c *Controller) Checkout() *checkout.Store {
	return c.checkout
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) Summary() Summary {
	cs := c.cart.Snapshot()
	st := c.checkout.State()
	shipping := decimal.Zero
	if len(cs.Items) > 0 {
		shipping = checkout.ShippingCost(st.ShippingMethod, cs.Total)
	}

	return Summary{
		Cart:       cs,
		Checkout:   st,
		Shipping:   shipping,
		GrandTotal: cs.Total.Add(shipping),
		Phase:      c.Phase(),
	}
}

// Next validates the current step and advances to the following one.
// Leaving information requires a complete shipping address.
func (c *Controller) Next(ctx context.Context) (domain.Step, error) {
	st := c.checkout.State()
	if st.OrderComplete {
		return st.CurrentStep, checkout.ErrOrderAlreadyPlaced
	}

	if st.CurrentStep == domain.StepInformation {
		if missing := st.ShippingAddress.MissingFields(); len(missing) > 0 {
			return st.CurrentStep, &IncompleteAddressError{Missing: missing}
		}
	}

	if st.CurrentStep == domain.StepReview {
		return st.CurrentStep, nil
	}

	return c.transition(ctx, c.checkout.NextStep)
}

// Back returns to the previous step.
func (c *Controller) Back(ctx context.Context) (domain.Step, error) {
	st := c.checkout.State()
	if st.CurrentStep == domain.StepInformation || st.OrderComplete {
		return st.CurrentStep, nil
	}
	return c.transition(ctx, c.checkout.PrevStep)
}

// GoTo jumps back to an earlier step, as the edit links on the review step
// do. Steps ahead of the current one must be reached through Next.
func (c *Controller) GoTo(ctx context.Context, step domain.Step) (domain.Step, error) {
	st := c.checkout.State()
	if !step.Valid() {
		return st.CurrentStep, fmt.Errorf("%w: %q", checkout.ErrUnknownStep, step)
	}
	if st.OrderComplete {
		return st.CurrentStep, checkout.ErrOrderAlreadyPlaced
	}
	if step.Index() > st.CurrentStep.Index() {
		return st.CurrentStep, fmt.Errorf("%w: %s", ErrStepNotReached, step)
	}
	if step == st.CurrentStep {
		return step, nil
	}

	return c.transition(ctx, func() domain.Step {
		// step is valid, so SetStep cannot fail
		_ = c.checkout.SetStep(step)
		return step
	})
}

func (c *Controller) transition(ctx context.Context, apply func() domain.Step) (domain.Step, error) {
	c.mu.Lock()
	if c.phase != PhaseIdle {
		c.mu.Unlock()
		return c.checkout.Step(), ErrTransitionInProgress
	}
	c.phase = PhaseExiting
	c.mu.Unlock()

	defer c.setPhase(PhaseIdle)

	from := c.checkout.Step()
	if err := sleep(ctx, c.timing.Exit); err != nil {
		return from, err
	}

	to := apply()
	c.setPhase(PhaseEntering)
	c.logger.Debug("checkout step changed", "from", from, "to", to)

	// the step has already changed; a cancelled enter only cuts the animation short
	_ = sleep(ctx, c.timing.Enter)
	return to, nil
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// ApplyCoupon validates code against the current subtotal and applies it.
// A blank code does nothing and returns nil, nil.
func (c *Controller) ApplyCoupon(ctx context.Context, code string) (*coupon.Result, error) {
	res, err := coupon.Evaluate(code, c.cart.TotalPrice(), c.catalog, c.now())
	if errors.Is(err, coupon.ErrEmptyCode) {
		return nil, nil
	}
	if err != nil {
		c.logger.Info("coupon rejected", "code", coupon.NormalizeCode(code), "reason", err.Error())
		return nil, err
	}

	if err := c.cart.ApplyCoupon(ctx, res.Coupon); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Controller) RemoveCoupon(ctx context.Context) error {
	return c.cart.RemoveCoupon(ctx)
}

// PlaceOrder submits the cart from the review step. The submitted lines leave
// the cart only after the backend accepted the order, so a failed submission
// keeps them. Lines added while the order was in flight stay in the cart.
func (c *Controller) PlaceOrder(ctx context.Context) (string, error) {
	st := c.checkout.State()
	if st.OrderComplete {
		return "", checkout.ErrOrderAlreadyPlaced
	}
	if st.CurrentStep != domain.StepReview {
		return "", ErrNotAtReview
	}

	sum := c.Summary()
	if len(sum.Cart.Items) == 0 {
		return "", ErrEmptyCart
	}

	req := checkout.OrderRequest{
		Items:           sum.Cart.Items,
		Coupon:          sum.Cart.AppliedCoupon,
		Subtotal:        sum.Cart.Subtotal,
		Discount:        sum.Cart.Discount,
		Shipping:        sum.Shipping,
		Total:           sum.GrandTotal,
		ShippingAddress: st.ShippingAddress,
		ShippingMethod:  st.ShippingMethod,
		PaymentMethod:   st.PaymentMethod,
	}
	// a coupon that no longer qualifies is not sent
	if req.Discount.IsZero() {
		req.Coupon = nil
	}

	number, err := c.checkout.PlaceOrder(ctx, req)
	if errors.Is(err, checkout.ErrOrderInProgress) || errors.Is(err, checkout.ErrOrderAlreadyPlaced) {
		return "", err
	}
	if err != nil {
		c.notifier.Notify(ctx, Notification{
			Kind:    KindError,
			Title:   "Order failed",
			Message: err.Error(),
		})
		return "", err
	}

	if err := c.cart.RemoveOrdered(context.WithoutCancel(ctx), req.Items); err != nil {
		c.logger.Error("failed to remove ordered lines from cart", "error", err, "order_number", number)
	}

	c.notifier.Notify(ctx, Notification{
		Kind:    KindSuccess,
		Title:   "Order placed!",
		Message: "Your order " + number + " has been confirmed.",
	})
	return number, nil
}

// Confirmation reports the order number once an order has been placed.
func (c *Controller) Confirmation() (string, bool) {
	st := c.checkout.State()
	if !st.OrderComplete || st.OrderNumber == nil {
		return "", false
	}
	return *st.OrderNumber, true
}

// ContinueShopping leaves the confirmation screen and re-arms checkout.
func (c *Controller) ContinueShopping() error {
	return c.checkout.Reset()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
