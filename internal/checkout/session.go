package checkout

import (
	"time"

	"github.com/noah-isme/storefront-checkout/internal/cart"
	"github.com/noah-isme/storefront-checkout/internal/discount"
	"github.com/noah-isme/storefront-checkout/internal/order"
	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

// PaymentMode selects how much of the payable is charged up front.
type PaymentMode string

const (
	PaymentAdvance PaymentMode = "advance"
	PaymentFull    PaymentMode = "full"
)

// Fulfillment is the delivery or pickup target of a checkout.
type Fulfillment = order.Fulfillment

// Address is a delivery destination.
type Address = order.Address

// Session is one checkout attempt. The amount due never changes after the
// gateway session is created; a new amount needs a new session.
type Session struct {
	ID                string            `json:"sessionId"`
	CustomerID        string            `json:"customerId"`
	Lines             []cart.LineItem   `json:"lines"`
	Snapshot          discount.Snapshot `json:"snapshot"`
	Fulfillment       Fulfillment       `json:"fulfillment"`
	PaymentMode       PaymentMode       `json:"paymentMode"`
	AmountDue         pricing.Money     `json:"amountDue"`
	Currency          string            `json:"currency"`
	Provider          string            `json:"provider,omitempty"`
	GatewaySessionID  string            `json:"gatewaySessionId,omitempty"`
	GatewayOrderID    string            `json:"gatewayOrderId,omitempty"`
	RedirectURL       string            `json:"redirectUrl,omitempty"`
	PaymentToken      string            `json:"paymentToken,omitempty"`
	PaymentExpiresAt  *time.Time        `json:"paymentExpiresAt,omitempty"`
	GatewayRef        string            `json:"gatewayRef,omitempty"`
	OrderID           string            `json:"orderId,omitempty"`
	State             State             `json:"state"`
	FailureReason     string            `json:"failureReason,omitempty"`
	PreviousSessionID string            `json:"previousSessionId,omitempty"`
	NextSessionID     string            `json:"nextSessionId,omitempty"`
	Version           int64             `json:"version"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Lines = append([]cart.LineItem(nil), s.Lines...)
	if s.Fulfillment.Address != nil {
		addr := *s.Fulfillment.Address
		out.Fulfillment.Address = &addr
	}
	if s.PaymentExpiresAt != nil {
		at := *s.PaymentExpiresAt
		out.PaymentExpiresAt = &at
	}
	return &out
}

// commitKey is the idempotency key of the order commit: the gateway
// reference when a payment exists, the session otherwise.
func (s *Session) commitKey() string {
	if s.GatewayRef != "" {
		return s.GatewayRef
	}
	return "checkout:" + s.ID
}
