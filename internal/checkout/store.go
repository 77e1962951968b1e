package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/storefront/internal/domain"
)

var (
	tracer = otel.Tracer("storefront/checkout")
	meter  = otel.Meter("storefront/checkout")
)

var (
	ErrOrderInProgress    = errors.New("order submission already in progress")
	ErrOrderAlreadyPlaced = errors.New("order already placed")
	ErrUnknownStep        = errors.New("unknown checkout step")
	ErrInvalidShipping    = errors.New("invalid shipping method")
	ErrInvalidPayment     = errors.New("invalid payment method")
)

// DefaultOrderTimeout bounds a single PlaceOrder call.
const DefaultOrderTimeout = 30 * time.Second

// State is the checkout session as seen by views.
type State struct {
	CurrentStep     domain.Step           `json:"currentStep"`
	ShippingAddress domain.Address        `json:"shippingAddress"`
	ShippingMethod  domain.ShippingMethod `json:"shippingMethod"`
	PaymentMethod   domain.PaymentMethod  `json:"paymentMethod"`
	IsProcessing    bool                  `json:"isProcessing"`
	OrderComplete   bool                  `json:"orderComplete"`
	OrderNumber     *string               `json:"orderNumber"`
}

func initialState() State {
	return State{
		CurrentStep:    domain.StepInformation,
		ShippingMethod: domain.ShippingStandard,
		PaymentMethod:  domain.PaymentCard,
	}
}

// Store sequences the checkout steps and submits the order.
type Store struct {
	mu      sync.Mutex
	state   State
	placer  Placer
	timeout time.Duration
	logger  *slog.Logger

	placed   metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

type Option func(*Store)

// WithTimeout overrides DefaultOrderTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

func NewStore(placer Placer, logger *slog.Logger, opts ...Option) (*Store, error) {
	placed, err := meter.Int64Counter("storefront.checkout.orders_placed",
		metric.WithDescription("Orders placed successfully"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("storefront.checkout.order_failures",
		metric.WithDescription("Order submissions that failed"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram("storefront.checkout.place_order.duration",
		metric.WithDescription("Time spent waiting on the order backend"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	s := &Store{
		state:    initialState(),
		placer:   placer,
		timeout:  DefaultOrderTimeout,
		logger:   logger,
		placed:   placed,
		failures: failures,
		duration: duration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns a copy of the session.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Step() domain.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CurrentStep
}

func (s *Store) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsProcessing
}

// NextStep advances one step. It does nothing at review; submitting the
// order is PlaceOrder's job.
func (s *Store) NextStep() domain.Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.state.CurrentStep.Index()
	if i < len(domain.Steps)-1 {
		s.state.CurrentStep = domain.Steps[i+1]
	}
	return s.state.CurrentStep
}

// PrevStep goes back one step. It does nothing at information.
func (s *Store) PrevStep() domain.Step {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.state.CurrentStep.Index()
	if i > 0 {
		s.state.CurrentStep = domain.Steps[i-1]
	}
	return s.state.CurrentStep
}

// SetStep jumps straight to step. The regular flow only uses NextStep and
// PrevStep.
func (s *Store) SetStep(step domain.Step) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}

	s.mu.Lock()
	s.state.CurrentStep = step
	s.mu.Unlock()
	return nil
}

// SetShippingAddress merges patch into the address collected so far.
func (s *Store) SetShippingAddress(patch domain.AddressPatch) domain.Address {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.ShippingAddress = patch.Apply(s.state.ShippingAddress)
	return s.state.ShippingAddress
}

func (s *Store) SetShippingMethod(m domain.ShippingMethod) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidShipping, m)
	}

	s.mu.Lock()
	s.state.ShippingMethod = m
	s.mu.Unlock()
	return nil
}

func (s *Store) SetPaymentMethod(m domain.PaymentMethod) error {
	if !m.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPayment, m)
	}

	s.mu.Lock()
	s.state.PaymentMethod = m
	s.mu.Unlock()
	return nil
}

// PlaceOrder submits req through the Placer. IsProcessing is true for the
// whole call; a second call in that window gets ErrOrderInProgress. On
// success the order number is recorded and OrderComplete set. On failure,
// timeout or cancellation the session is left as it was before the call and
// a *PlacementError is returned.
func (s *Store) PlaceOrder(ctx context.Context, req OrderRequest) (string, error) {
	s.mu.Lock()
	if s.state.IsProcessing {
		s.mu.Unlock()
		return "", ErrOrderInProgress
	}
	if s.state.OrderComplete {
		s.mu.Unlock()
		return "", ErrOrderAlreadyPlaced
	}
	s.state.IsProcessing = true
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "checkout.place_order",
		trace.WithAttributes(
			attribute.Int("checkout.line_count", len(req.Items)),
			attribute.String("checkout.total", req.Total.StringFixed(2)),
			attribute.String("checkout.payment_method", string(req.PaymentMethod)),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	number, err := s.placer.Place(ctx, req)
	s.duration.Record(ctx, time.Since(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.IsProcessing = false

	if err != nil {
		pe := asPlacementError(err)
		span.RecordError(pe)
		span.SetStatus(codes.Error, pe.Error())
		s.failures.Add(ctx, 1, metric.WithAttributes(attribute.Bool("retryable", pe.Retryable)))
		s.logger.Error("order placement failed", "error", pe, "reason", pe.Reason, "retryable", pe.Retryable)
		return "", pe
	}

	s.state.OrderComplete = true
	s.state.OrderNumber = &number
	span.SetAttributes(attribute.String("checkout.order_number", number))
	s.placed.Add(ctx, 1)
	s.logger.Info("order placed", "order_number", number, "total", req.Total.StringFixed(2))
	return number, nil
}

// Reset returns the session to its initial state. A Reset while an order is
// being submitted is refused so the result of that submission is not lost.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsProcessing {
		return ErrOrderInProgress
	}
	s.state = initialState()
	return nil
}

func (s *Store) snapshotLocked() State {
	out := s.state
	if s.state.OrderNumber != nil {
		n := *s.state.OrderNumber
		out.OrderNumber = &n
	}
	return out
}
