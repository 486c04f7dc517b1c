// Package payment talks to hosted payment gateways: it opens payment sessions
// and verifies the asynchronous callbacks that report their outcome.
package payment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/noah-isme/storefront-checkout/internal/pricing"
)

var (
	// ErrInvalidSignature is returned when a callback fails authentication.
	ErrInvalidSignature = errors.New("payment callback signature invalid")
	// ErrMalformedCallback is returned when a callback body cannot be parsed.
	ErrMalformedCallback = errors.New("payment callback malformed")
)

// Status is the normalised outcome reported by a gateway.
type Status string

const (
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
	StatusError    Status = "error"
	StatusPending  Status = "pending"
)

// Terminal reports whether the status ends the payment attempt.
func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// SessionRequest asks a gateway to open a hosted payment session.
type SessionRequest struct {
	Reference   string
	Amount      pricing.Money
	Currency    string
	CustomerRef string
	Description string
	ExpiresIn   time.Duration
	FinishURL   string
}

// Session is what the caller needs to launch the payment UI.
type Session struct {
	Provider       string    `json:"provider"`
	SessionID      string    `json:"sessionId"`
	GatewayOrderID string    `json:"gatewayOrderId"`
	Token          string    `json:"token,omitempty"`
	RedirectURL    string    `json:"redirectUrl"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Outcome is a verified gateway callback.
type Outcome struct {
	Provider       string
	GatewayOrderID string
	GatewayRef     string
	Status         Status
	RawStatus      string
	Amount         pricing.Money
	Payload        []byte
}

// Provider is a payment gateway integration.
type Provider interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	VerifyCallback(r *http.Request, body []byte) (Outcome, error)
}
