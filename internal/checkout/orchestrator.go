// Package checkout drives a priced cart through payment and order commit.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/storefront-checkout/internal/cart"
	"github.com/noah-isme/storefront-checkout/internal/discount"
	"github.com/noah-isme/storefront-checkout/internal/events"
	"github.com/noah-isme/storefront-checkout/internal/obs"
	"github.com/noah-isme/storefront-checkout/internal/order"
	"github.com/noah-isme/storefront-checkout/internal/payment"
	"github.com/noah-isme/storefront-checkout/internal/pricing"
	"github.com/noah-isme/storefront-checkout/internal/rental"
)

// Gateway opens hosted payment sessions.
type Gateway interface {
	ProviderName() string
	CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error)
}

// OrderCommitter creates orders idempotently by key.
type OrderCommitter interface {
	Commit(ctx context.Context, idempotencyKey string, payload order.Payload) (order.Result, error)
}

// CartClearer empties a customer's cart once the order exists.
type CartClearer interface {
	Clear(ctx context.Context, customerID string) error
}

// Locker serialises work on a key across replicas.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter records domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Config holds the orchestrator tunables.
type Config struct {
	Currency       string
	CurrencyScale  int32
	AdvanceRatio   decimal.Decimal
	GatewayTimeout time.Duration
	CommitTimeout  time.Duration
	LockTTL        time.Duration
	PaymentTTL     time.Duration
	FinishURL      string
}

var defaultAdvanceRatio = decimal.RequireFromString("0.3")

// Orchestrator owns the checkout state machine. Every transition is
// persisted before the next external call so any replica can pick a session
// up again. It never retries on its own.
type Orchestrator struct {
	Store   SessionStore
	Gateway Gateway
	Orders  OrderCommitter
	Carts   CartClearer
	Locker  Locker
	Events  Emitter
	Config  Config
	Logger  zerolog.Logger
	Now     func() time.Time
	NewID   func() string

	validateOnce sync.Once
	validate     *validator.Validate
}

// PlaceOrderRequest is a priced cart ready for checkout.
type PlaceOrderRequest struct {
	CustomerID  string
	Lines       []cart.LineItem
	Snapshot    discount.Snapshot
	Fulfillment Fulfillment
	PaymentMode PaymentMode
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

func (o *Orchestrator) tracer() trace.Tracer {
	return otel.Tracer("checkout.Orchestrator")
}

func (o *Orchestrator) withLock(ctx context.Context, id string, fn func(context.Context) error) error {
	if o.Locker == nil {
		return fn(ctx)
	}
	ttl := o.Config.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return o.Locker.WithLock(ctx, "checkout:"+id, ttl, fn)
}

// PlaceOrder validates the request, then either commits straight away when
// nothing is payable or opens a gateway session for the amount due.
func (o *Orchestrator) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Session, error) {
	return o.place(ctx, req, "", "")
}

func (o *Orchestrator) place(ctx context.Context, req PlaceOrderRequest, previousID, id string) (*Session, error) {
	if o.Store == nil {
		return nil, errors.New("checkout orchestrator not configured")
	}
	ctx, span := o.tracer().Start(ctx, "Checkout.PlaceOrder")
	defer span.End()

	if id == "" {
		id = o.newID()
	}
	now := o.now()
	s := &Session{
		ID:                id,
		CustomerID:        req.CustomerID,
		Lines:             append([]cart.LineItem(nil), req.Lines...),
		Snapshot:          req.Snapshot,
		Fulfillment:       req.Fulfillment,
		PaymentMode:       req.PaymentMode,
		Currency:          o.Config.Currency,
		State:             StateIdle,
		PreviousSessionID: previousID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.GatewayOrderID = s.ID
	span.SetAttributes(attribute.String("checkout.session_id", s.ID), attribute.String("checkout.customer_id", s.CustomerID))

	var out *Session
	err := o.withLock(ctx, s.ID, func(ctx context.Context) error {
		if err := o.advance(s, StateValidating, ""); err != nil {
			return err
		}
		if err := o.Store.Create(ctx, s); err != nil {
			return err
		}
		var err error
		out, err = o.validateAndPay(ctx, s)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("checkout.state", string(s.State)))
	return out, err
}

func (o *Orchestrator) validateAndPay(ctx context.Context, s *Session) (*Session, error) {
	if problems := o.check(s); len(problems) > 0 {
		if err := o.move(ctx, s, StateValidationFailed, strings.Join(problems, "; ")); err != nil {
			return s, err
		}
		return s, &ValidationError{Problems: problems}
	}

	if !s.Snapshot.Payable.IsPositive() {
		s.AmountDue = decimal.Zero
		if err := o.move(ctx, s, StateNoPaymentNeeded, ""); err != nil {
			return s, err
		}
		if err := o.move(ctx, s, StateCommitting, ""); err != nil {
			return s, err
		}
		return o.commit(ctx, s)
	}

	s.AmountDue = o.amountDue(s.Snapshot.Payable, s.PaymentMode)
	if o.Gateway != nil {
		s.Provider = o.Gateway.ProviderName()
	}
	if err := o.move(ctx, s, StateSessionCreating, ""); err != nil {
		return s, err
	}
	return o.openPayment(ctx, s)
}

func (o *Orchestrator) openPayment(ctx context.Context, s *Session) (*Session, error) {
	if o.Gateway == nil {
		return o.sessionFailed(ctx, s, errors.New("payment gateway not configured"))
	}
	callCtx := ctx
	if o.Config.GatewayTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.Config.GatewayTimeout)
		defer cancel()
	}
	ps, err := o.Gateway.CreateSession(callCtx, payment.SessionRequest{
		Reference:   s.GatewayOrderID,
		Amount:      s.AmountDue,
		Currency:    s.Currency,
		CustomerRef: s.CustomerID,
		Description: fmt.Sprintf("Checkout %s", s.ID),
		ExpiresIn:   o.Config.PaymentTTL,
		FinishURL:   o.Config.FinishURL,
	})
	if err != nil {
		return o.sessionFailed(ctx, s, err)
	}
	s.GatewaySessionID = ps.SessionID
	if ps.GatewayOrderID != "" {
		s.GatewayOrderID = ps.GatewayOrderID
	}
	if ps.Provider != "" {
		s.Provider = ps.Provider
	}
	s.RedirectURL = ps.RedirectURL
	s.PaymentToken = ps.Token
	if !ps.ExpiresAt.IsZero() {
		at := ps.ExpiresAt.UTC()
		s.PaymentExpiresAt = &at
	}
	if err := o.move(persistCtx(ctx), s, StateAwaitingPayment, ""); err != nil {
		return s, err
	}
	return s, nil
}

func (o *Orchestrator) sessionFailed(ctx context.Context, s *Session, cause error) (*Session, error) {
	if err := o.move(persistCtx(ctx), s, StateSessionFailed, cause.Error()); err != nil {
		return s, err
	}
	o.emit(ctx, s, events.TopicCheckoutSessionFailed, map[string]any{"reason": cause.Error()})
	return s, &GatewaySessionError{SessionID: s.ID, Err: cause}
}

// amountDue is the gateway charge. Full mode charges the payable exactly;
// advance charges the configured share rounded to the currency scale, at
// least one minor unit and never more than the payable. The payable itself
// is already representable at that scale.
func (o *Orchestrator) amountDue(payable pricing.Money, mode PaymentMode) pricing.Money {
	if mode != PaymentAdvance {
		return payable
	}
	ratio := o.Config.AdvanceRatio
	if !ratio.IsPositive() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = defaultAdvanceRatio
	}
	scale := o.Config.CurrencyScale
	due := payable.Mul(ratio).Round(scale)
	if unit := decimal.New(1, -scale); due.LessThan(unit) {
		due = unit
	}
	return decimal.Min(due, payable)
}

func (o *Orchestrator) validation() *validator.Validate {
	o.validateOnce.Do(func() {
		o.validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return o.validate
}

func (o *Orchestrator) check(s *Session) []string {
	var problems []string
	if strings.TrimSpace(s.CustomerID) == "" {
		problems = append(problems, "customer is required")
	}
	if len(s.Lines) == 0 {
		problems = append(problems, "cart is empty")
	}
	for _, line := range s.Lines {
		if line.RentalMode != "" && line.RentalMode != rental.ModeNone && line.DurationUnits <= 0 {
			problems = append(problems, fmt.Sprintf("%s: rental duration must be positive", line.Identity()))
			continue
		}
		if err := line.Check(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if sum := pricing.Sum(lineTotals(s.Lines)...); !sum.Equal(s.Snapshot.Subtotal) {
		problems = append(problems, fmt.Sprintf("subtotal %s does not match lines %s", s.Snapshot.Subtotal, sum))
	}
	if err := s.Snapshot.Check(); err != nil {
		problems = append(problems, err.Error())
	}
	if scale := o.Config.CurrencyScale; !s.Snapshot.Payable.Equal(s.Snapshot.Payable.Truncate(scale)) {
		problems = append(problems, fmt.Sprintf("payable %s has more than %d decimal places for %s", s.Snapshot.Payable, scale, s.Currency))
	}
	switch s.PaymentMode {
	case PaymentAdvance, PaymentFull:
	default:
		problems = append(problems, fmt.Sprintf("unknown payment mode %q", s.PaymentMode))
	}
	if err := o.validation().Struct(s.Fulfillment); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				problems = append(problems, fmt.Sprintf("%s failed %s", fieldPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}
	return problems
}

// fieldPath turns "Fulfillment.Address.City" into "fulfillment.address.city".
func fieldPath(ns string) string {
	return strings.ToLower(ns)
}

func lineTotals(lines []cart.LineItem) []pricing.Money {
	out := make([]pricing.Money, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.LineTotal)
	}
	return out
}

// HandleOutcome applies a verified gateway outcome. Duplicate deliveries are
// resolved from the stored state; only an ambiguous verifying or committing
// state repeats the idempotent commit.
func (o *Orchestrator) HandleOutcome(ctx context.Context, outcome payment.Outcome) (*Session, error) {
	if o.Store == nil {
		return nil, errors.New("checkout orchestrator not configured")
	}
	ctx, span := o.tracer().Start(ctx, "Checkout.HandleOutcome")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.gateway_order_id", outcome.GatewayOrderID),
		attribute.String("payment.status", string(outcome.Status)),
	)

	found, err := o.Store.GetByGatewayOrderID(ctx, outcome.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	var out *Session
	err = o.withLock(ctx, found.ID, func(ctx context.Context) error {
		s, err := o.Store.Get(ctx, found.ID)
		if err != nil {
			return err
		}
		out, err = o.applyOutcome(ctx, s, outcome)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (o *Orchestrator) applyOutcome(ctx context.Context, s *Session, outcome payment.Outcome) (*Session, error) {
	approvedNow := outcome.Status == payment.StatusApproved
	switch s.State {
	case StateCompleted:
		if approvedNow && outcome.GatewayRef != s.GatewayRef {
			return o.lateApproval(ctx, s, outcome)
		}
		return s, nil
	case StateCommitFailed:
		return s, &CommitError{SessionID: s.ID, GatewayRef: s.GatewayRef, Err: errors.New(s.FailureReason)}
	case StateCommitting:
		return o.commit(ctx, s)
	case StateVerifying:
		if s.GatewayRef == "" {
			s.GatewayRef = outcome.GatewayRef
		}
		return o.verify(ctx, s, outcome)
	case StateAwaitingPayment:
	default:
		if approvedNow {
			return o.lateApproval(ctx, s, outcome)
		}
		if s.State == StatePaymentFailed || s.State == StateAbandoned {
			return s, nil
		}
		return s, illegal(s.State, StateVerifying)
	}

	if outcome.Status == payment.StatusExpired {
		if err := o.move(ctx, s, StateAbandoned, "payment expired"); err != nil {
			return s, err
		}
		o.emit(ctx, s, events.TopicCheckoutAbandoned, map[string]any{"reason": "payment expired"})
		return s, ErrPaymentAbandoned
	}
	s.GatewayRef = outcome.GatewayRef
	if err := o.move(ctx, s, StateVerifying, ""); err != nil {
		return s, err
	}
	return o.verify(ctx, s, outcome)
}

// lateApproval reports money captured for a session that can no longer
// commit it. The session is left as is; the event carries the gateway
// reference for a manual refund.
func (o *Orchestrator) lateApproval(ctx context.Context, s *Session, outcome payment.Outcome) (*Session, error) {
	o.Logger.Error().
		Str("session_id", s.ID).
		Str("state", string(s.State)).
		Str("gateway_ref", outcome.GatewayRef).
		Str("amount", outcome.Amount.String()).
		Msg("payment approved for a checkout that cannot take it")
	o.emit(ctx, s, events.TopicPaymentLateApproval, map[string]any{
		"gatewayRef": outcome.GatewayRef,
		"provider":   outcome.Provider,
		"amount":     outcome.Amount,
	})
	return s, fmt.Errorf("%w: checkout %s in %s, payment %s", ErrLateApproval, s.ID, s.State, outcome.GatewayRef)
}

func (o *Orchestrator) verify(ctx context.Context, s *Session, outcome payment.Outcome) (*Session, error) {
	reason := ""
	switch {
	case outcome.Status != payment.StatusApproved:
		reason = "gateway reported " + string(outcome.Status)
		if outcome.RawStatus != "" {
			reason += " (" + outcome.RawStatus + ")"
		}
	case !outcome.Amount.IsZero() && !outcome.Amount.Equal(s.AmountDue):
		reason = fmt.Sprintf("paid amount %s does not match amount due %s", outcome.Amount, s.AmountDue)
		o.Logger.Error().
			Str("session_id", s.ID).
			Str("gateway_ref", outcome.GatewayRef).
			Str("amount", outcome.Amount.String()).
			Str("amount_due", s.AmountDue.String()).
			Msg("payment amount mismatch")
	}
	if reason != "" {
		if err := o.move(ctx, s, StatePaymentFailed, reason); err != nil {
			return s, err
		}
		o.emit(ctx, s, events.TopicPaymentFailed, map[string]any{"reason": reason, "gatewayRef": outcome.GatewayRef})
		return s, fmt.Errorf("%w: %s", ErrPaymentDeclined, reason)
	}
	if err := o.move(ctx, s, StateCommitting, ""); err != nil {
		return s, err
	}
	return o.commit(ctx, s)
}

// commit posts the order for a session already persisted in committing.
func (o *Orchestrator) commit(ctx context.Context, s *Session) (*Session, error) {
	if o.Orders == nil {
		return o.commitFailed(ctx, s, errors.New("order service not configured"))
	}
	ctx, span := o.tracer().Start(ctx, "Checkout.Commit")
	defer span.End()
	span.SetAttributes(attribute.String("checkout.session_id", s.ID), attribute.String("payment.gateway_ref", s.GatewayRef))

	paidAt := time.Time{}
	amountPaid := decimal.Zero
	if s.GatewayRef != "" {
		paidAt = o.now()
		amountPaid = s.AmountDue
	}
	payload := order.BuildPayload(order.Draft{
		CheckoutID:  s.ID,
		CustomerID:  s.CustomerID,
		Lines:       s.Lines,
		Snapshot:    s.Snapshot,
		Fulfillment: s.Fulfillment,
		AmountPaid:  amountPaid,
		PaymentMode: string(s.PaymentMode),
		Currency:    s.Currency,
		Provider:    s.Provider,
		GatewayRef:  s.GatewayRef,
		PaidAt:      paidAt,
	})

	callCtx := ctx
	if o.Config.CommitTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, o.Config.CommitTimeout)
		defer cancel()
	}
	res, err := o.Orders.Commit(callCtx, s.commitKey(), payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return o.commitFailed(ctx, s, err)
	}

	s.OrderID = res.OrderID
	if err := o.move(persistCtx(ctx), s, StateCompleted, ""); err != nil {
		return s, err
	}
	if o.Carts != nil {
		if err := o.Carts.Clear(persistCtx(ctx), s.CustomerID); err != nil {
			o.Logger.Warn().Err(err).Str("session_id", s.ID).Str("customer_id", s.CustomerID).Msg("clear cart after commit")
		}
	}
	o.emit(ctx, s, events.TopicCheckoutCompleted, map[string]any{
		"orderId":    s.OrderID,
		"gatewayRef": s.GatewayRef,
		"amountPaid": amountPaid,
		"duplicate":  res.Duplicate,
	})
	return s, nil
}

func (o *Orchestrator) commitFailed(ctx context.Context, s *Session, cause error) (*Session, error) {
	if err := o.move(persistCtx(ctx), s, StateCommitFailed, cause.Error()); err != nil {
		return s, err
	}
	if s.GatewayRef != "" {
		o.Logger.Error().Err(cause).
			Str("session_id", s.ID).
			Str("gateway_ref", s.GatewayRef).
			Str("amount_due", s.AmountDue.String()).
			Msg("payment captured but order not confirmed")
	}
	o.emit(ctx, s, events.TopicCheckoutCommitFailed, map[string]any{"gatewayRef": s.GatewayRef, "reason": cause.Error()})
	return s, &CommitError{SessionID: s.ID, GatewayRef: s.GatewayRef, Err: cause}
}

// Cancel abandons a session that is still waiting for payment. Cancelling an
// abandoned session again is a no-op.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) (*Session, error) {
	var out *Session
	err := o.withLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.Store.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		out = s
		switch s.State {
		case StateAbandoned:
			return nil
		case StateAwaitingPayment:
		default:
			return illegal(s.State, StateAbandoned)
		}
		if err := o.move(ctx, s, StateAbandoned, "cancelled by customer"); err != nil {
			return err
		}
		o.emit(ctx, s, events.TopicCheckoutAbandoned, map[string]any{"reason": "cancelled by customer"})
		return nil
	})
	return out, err
}

// RetryCommit re-posts the order of a paid session whose commit failed or was
// interrupted. It reuses the stored gateway reference and never touches the
// gateway.
func (o *Orchestrator) RetryCommit(ctx context.Context, sessionID string) (*Session, error) {
	var out *Session
	err := o.withLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.Store.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		out = s
		switch s.State {
		case StateCompleted:
			return nil
		case StateCommitFailed:
			s.FailureReason = ""
			if err := o.move(ctx, s, StateCommitting, ""); err != nil {
				return err
			}
		case StateCommitting:
		default:
			return illegal(s.State, StateCommitting)
		}
		out, err = o.commit(ctx, s)
		return err
	})
	return out, err
}

// RetrySession starts a new checkout from a session whose gateway session
// could not be created. The failed session is first marked superseded with
// the successor's id, so only one successor ever exists: repeated calls
// return it instead of opening another payment. The successor has its own
// identifiers and links back through PreviousSessionID.
func (o *Orchestrator) RetrySession(ctx context.Context, sessionID string) (*Session, error) {
	var prev *Session
	err := o.withLock(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.Store.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		prev = s
		switch s.State {
		case StateSuperseded:
			return nil
		case StateSessionFailed:
		default:
			return illegal(s.State, StateSuperseded)
		}
		s.NextSessionID = o.newID()
		return o.move(ctx, s, StateSuperseded, s.FailureReason)
	})
	if err != nil {
		return prev, err
	}

	next, err := o.Store.Get(ctx, prev.NextSessionID)
	if err == nil || !errors.Is(err, ErrSessionNotFound) {
		return next, err
	}
	next, err = o.place(ctx, PlaceOrderRequest{
		CustomerID:  prev.CustomerID,
		Lines:       prev.Lines,
		Snapshot:    prev.Snapshot,
		Fulfillment: prev.Fulfillment,
		PaymentMode: prev.PaymentMode,
	}, prev.ID, prev.NextSessionID)
	if errors.Is(err, ErrVersionConflict) {
		return o.Store.Get(ctx, prev.NextSessionID)
	}
	return next, err
}

// Get returns the stored session.
func (o *Orchestrator) Get(ctx context.Context, sessionID string) (*Session, error) {
	return o.Store.Get(ctx, sessionID)
}

// AcceptOutcome adapts HandleOutcome to the payment webhook: outcomes that
// were recorded, even as failures, are acknowledged so the gateway stops
// redelivering. Only errors that left the outcome unrecorded are returned.
func (o *Orchestrator) AcceptOutcome(ctx context.Context, outcome payment.Outcome) error {
	_, err := o.HandleOutcome(ctx, outcome)
	var commitErr *CommitError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPaymentDeclined), errors.Is(err, ErrPaymentAbandoned), errors.Is(err, ErrLateApproval):
		return nil
	case errors.As(err, &commitErr):
		return nil
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrIllegalTransition):
		o.Logger.Warn().Err(err).
			Str("gateway_order_id", outcome.GatewayOrderID).
			Str("gateway_ref", outcome.GatewayRef).
			Msg("payment callback ignored")
		return nil
	default:
		return err
	}
}

// advance changes the in-memory state after checking the transition table.
func (o *Orchestrator) advance(s *Session, to State, reason string) error {
	from := s.State
	if !CanTransition(from, to) {
		return illegal(from, to)
	}
	s.State = to
	s.FailureReason = reason
	s.UpdatedAt = o.now()
	if obs.CheckoutTransitionTotal != nil {
		obs.CheckoutTransitionTotal.WithLabelValues(string(from), string(to)).Inc()
	}
	entry := o.Logger.Info()
	if reason != "" {
		entry = o.Logger.Warn().Str("reason", reason)
	}
	entry.Str("session_id", s.ID).Str("from", string(from)).Str("to", string(to)).Msg("checkout_transition")
	return nil
}

// move advances and persists. On a failed write the in-memory copy is rolled
// back so callers never act on an unpersisted state.
func (o *Orchestrator) move(ctx context.Context, s *Session, to State, reason string) error {
	prev := *s
	if err := o.advance(s, to, reason); err != nil {
		return err
	}
	if err := o.Store.Update(ctx, s); err != nil {
		*s = prev
		return fmt.Errorf("persist %s -> %s: %w", prev.State, to, err)
	}
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, s *Session, topic string, extra map[string]any) {
	if o.Events == nil {
		return
	}
	payload := map[string]any{
		"sessionId":  s.ID,
		"customerId": s.CustomerID,
		"state":      s.State,
		"amountDue":  s.AmountDue,
		"currency":   s.Currency,
	}
	for k, v := range extra {
		payload[k] = v
	}
	if _, err := o.Events.Emit(persistCtx(ctx), topic, s.ID, payload); err != nil {
		o.Logger.Error().Err(err).Str("session_id", s.ID).Str("topic", topic).Msg("emit checkout event")
	}
}

// persistCtx keeps values of ctx but survives its cancellation, so that a
// timed-out external call can still be recorded.
func persistCtx(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
