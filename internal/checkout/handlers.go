package checkout

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-checkout/internal/cart"
	"github.com/noah-isme/storefront-checkout/internal/common"
	"github.com/noah-isme/storefront-checkout/internal/discount"
	"github.com/noah-isme/storefront-checkout/internal/events"
	"github.com/noah-isme/storefront-checkout/internal/lock"
	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

// CartOpener loads the cart of a customer.
type CartOpener interface {
	Open(ctx context.Context, customerID string) (*cart.Store, error)
}

// Quoter prices a cart subtotal with the requested discounts.
type Quoter interface {
	Quote(ctx context.Context, customerID string, subtotal pricing.Money, in cart.QuoteInput) (discount.Snapshot, error)
}

// EventLister returns the recorded events of a session.
type EventLister interface {
	ListByAggregate(ctx context.Context, aggregateID string) ([]events.Event, error)
}

// Handler exposes the orchestrator over HTTP.
type Handler struct {
	Orchestrator *Orchestrator
	Carts        CartOpener
	Quoter       Quoter
	Events       EventLister
	Logger       zerolog.Logger
}

// Routes mounts the checkout endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/{sessionId}", h.Get)
	r.Get("/{sessionId}/events", h.ListEvents)
	r.Post("/{sessionId}/cancel", h.Cancel)
	r.Post("/{sessionId}/retry-session", h.RetrySession)
	r.Post("/{sessionId}/retry-commit", h.RetryCommit)
}

type placeOrderRequest struct {
	Fulfillment  Fulfillment   `json:"fulfillment"`
	PaymentMode  PaymentMode   `json:"paymentMode"`
	CouponCode   string        `json:"couponCode"`
	WalletAmount pricing.Money `json:"walletAmount"`
}

// PlaceOrder prices the customer's cart and starts a checkout.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	customerID, ok := common.CustomerID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "customer identity missing", nil)
		return
	}
	var req placeOrderRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	if req.PaymentMode == "" {
		req.PaymentMode = PaymentFull
	}
	ctx := r.Context()
	store, err := h.Carts.Open(ctx, customerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := store.Items()
	snap, err := h.Quoter.Quote(ctx, customerID, store.Subtotal(), cart.QuoteInput{
		CouponCode:   req.CouponCode,
		WalletAmount: req.WalletAmount,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	s, err := h.Orchestrator.PlaceOrder(ctx, PlaceOrderRequest{
		CustomerID:  customerID,
		Lines:       items,
		Snapshot:    snap,
		Fulfillment: req.Fulfillment,
		PaymentMode: req.PaymentMode,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, s)
}

// session loads the path session and hides sessions of other customers.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	customerID, ok := common.CustomerID(r.Context())
	if !ok {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "customer identity missing", nil)
		return nil, false
	}
	id := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	s, err := h.Orchestrator.Get(r.Context(), id)
	if err == nil && s.CustomerID != customerID {
		err = ErrSessionNotFound
	}
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return s, true
}

// Get returns a checkout session.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	common.Data(w, http.StatusOK, s)
}

// ListEvents returns the domain events recorded for a session.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if h.Events == nil {
		common.Data(w, http.StatusOK, []events.Event{})
		return
	}
	list, err := h.Events.ListByAggregate(r.Context(), s.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []events.Event{}
	}
	common.Data(w, http.StatusOK, list)
}

// Cancel abandons a session waiting for payment.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.Orchestrator.Cancel)
}

// RetrySession opens a new checkout for a session whose payment session failed.
func (h *Handler) RetrySession(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.Orchestrator.RetrySession)
}

// RetryCommit re-posts the order of a paid session.
func (h *Handler) RetryCommit(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.Orchestrator.RetryCommit)
}

func (h *Handler) act(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*Session, error)) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	out, err := fn(r.Context(), s.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, out)
}

// ErrorToApp maps checkout errors to API errors, falling back to the cart
// mapping for pricing and discount failures.
func ErrorToApp(err error) *common.AppError {
	var (
		validationErr *ValidationError
		gatewayErr    *GatewaySessionError
		commitErr     *CommitError
	)
	switch {
	case errors.As(err, &validationErr):
		return common.NewAppError("VALIDATION_FAILED", "checkout validation failed", http.StatusUnprocessableEntity, err).
			WithDetails(map[string]any{"problems": validationErr.Problems})
	case errors.As(err, &gatewayErr):
		return common.NewAppError("GATEWAY_SESSION_FAILED", "payment session could not be created", http.StatusBadGateway, err).
			WithDetails(map[string]any{"sessionId": gatewayErr.SessionID})
	case errors.As(err, &commitErr):
		return common.NewAppError("ORDER_COMMIT_FAILED", "payment received but order not confirmed", http.StatusBadGateway, err).
			WithDetails(map[string]any{"sessionId": commitErr.SessionID, "gatewayRef": commitErr.GatewayRef})
	case errors.Is(err, ErrPaymentDeclined):
		return common.NewAppError("PAYMENT_DECLINED", "payment declined", http.StatusPaymentRequired, err)
	case errors.Is(err, ErrPaymentAbandoned):
		return common.NewAppError("PAYMENT_ABANDONED", "payment abandoned", http.StatusConflict, err)
	case errors.Is(err, ErrLateApproval):
		return common.NewAppError("PAYMENT_LATE_APPROVAL", "payment approved for a closed checkout", http.StatusConflict, err)
	case errors.Is(err, ErrIllegalTransition):
		return common.NewAppError("ILLEGAL_TRANSITION", err.Error(), http.StatusConflict, err)
	case errors.Is(err, ErrSessionNotFound):
		return common.NewAppError("SESSION_NOT_FOUND", "checkout session not found", http.StatusNotFound, err)
	case errors.Is(err, ErrVersionConflict), errors.Is(err, lock.ErrNotAcquired):
		return common.NewAppError("SESSION_BUSY", "checkout session is being updated", http.StatusConflict, err)
	}
	return cart.ErrorToApp(err)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	appErr := ErrorToApp(err)
	if appErr == nil {
		h.Logger.Error().Err(err).Msg("checkout request failed")
		common.WriteError(w, err)
		return
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		h.Logger.Error().Err(err).Str("code", appErr.Code).Msg("checkout request failed")
	}
	common.WriteError(w, appErr)
}
