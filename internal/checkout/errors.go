package checkout

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrIllegalTransition is returned for a move the state table forbids.
	ErrIllegalTransition = errors.New("illegal checkout transition")
	// ErrSessionNotFound is returned when no session matches the identifier.
	ErrSessionNotFound = errors.New("checkout session not found")
	// ErrVersionConflict is returned when a session changed since it was read.
	ErrVersionConflict = errors.New("checkout session modified concurrently")
	// ErrPaymentDeclined is returned when the gateway declined the payment or
	// reported an amount other than the one requested.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPaymentAbandoned is returned when the customer left the payment.
	ErrPaymentAbandoned = errors.New("payment abandoned")
	// ErrLateApproval is returned when an approval arrives for a session that
	// can no longer commit it. Money moved without an order.
	ErrLateApproval = errors.New("payment approved for a closed checkout")
)

func illegal(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}

// ValidationError lists why a checkout was refused before any external call.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "checkout validation failed: " + strings.Join(e.Problems, "; ")
}

// GatewaySessionError wraps a failure to open a payment session.
type GatewaySessionError struct {
	SessionID string
	Err       error
}

func (e *GatewaySessionError) Error() string {
	return fmt.Sprintf("payment session for checkout %s failed: %v", e.SessionID, e.Err)
}

func (e *GatewaySessionError) Unwrap() error { return e.Err }

// CommitError means the payment went through but the order was not
// confirmed. GatewayRef identifies the payment for reconciliation.
type CommitError struct {
	SessionID  string
	GatewayRef string
	Err        error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("order commit for checkout %s (payment %s) failed: %v", e.SessionID, e.GatewayRef, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }
