package payment

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-checkout/internal/resilience"
)

// Midtrans opens Snap transactions and verifies Midtrans HTTP notifications.
type Midtrans struct {
	ServerKey string
	BaseURL   string
	Sandbox   bool
	HTTP      resilience.HTTPClient
	Now       func() time.Time
}

// Name implements Provider.
func (m Midtrans) Name() string { return "midtrans" }

func (m Midtrans) snapHost() string {
	host := strings.TrimRight(strings.TrimSpace(m.BaseURL), "/")
	if host != "" {
		return host
	}
	if m.Sandbox {
		return "https://app.sandbox.midtrans.com"
	}
	return "https://app.midtrans.com"
}

func (m Midtrans) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

type snapRequest struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	CustomerDetails *struct {
		FirstName string `json:"first_name"`
	} `json:"customer_details,omitempty"`
	Expiry *struct {
		Unit     string `json:"unit"`
		Duration int64  `json:"duration"`
	} `json:"expiry,omitempty"`
	Callbacks *struct {
		Finish string `json:"finish"`
	} `json:"callbacks,omitempty"`
}

// CreateSession creates a Snap transaction whose order id is the request
// reference. Snap only accepts whole currency amounts.
func (m Midtrans) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if strings.TrimSpace(req.Reference) == "" {
		return Session{}, errors.New("midtrans: reference is required")
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Truncate(0)) {
		return Session{}, fmt.Errorf("midtrans: amount %s must be a positive whole number", req.Amount)
	}
	var body snapRequest
	body.TransactionDetails.OrderID = req.Reference
	body.TransactionDetails.GrossAmount = req.Amount.IntPart()
	if req.CustomerRef != "" {
		body.CustomerDetails = &struct {
			FirstName string `json:"first_name"`
		}{FirstName: req.CustomerRef}
	}
	if req.ExpiresIn > 0 {
		body.Expiry = &struct {
			Unit     string `json:"unit"`
			Duration int64  `json:"duration"`
		}{Unit: "minute", Duration: int64(req.ExpiresIn / time.Minute)}
	}
	if req.FinishURL != "" {
		body.Callbacks = &struct {
			Finish string `json:"finish"`
		}{Finish: req.FinishURL}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Session{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.snapHost()+"/snap/v1/transactions", bytes.NewReader(payload))
	if err != nil {
		return Session{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.SetBasicAuth(m.ServerKey, "")

	resp, err := m.HTTP.Do(ctx, httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("midtrans: create transaction: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return Session{}, fmt.Errorf("midtrans: create transaction: %w", &resilience.StatusError{StatusCode: resp.StatusCode, Body: string(raw)})
	}
	var out struct {
		Token       string `json:"token"`
		RedirectURL string `json:"redirect_url"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Session{}, fmt.Errorf("midtrans: decode transaction: %w", err)
	}
	if out.Token == "" {
		return Session{}, errors.New("midtrans: empty snap token")
	}
	expiresAt := time.Time{}
	if req.ExpiresIn > 0 {
		expiresAt = m.now().Add(req.ExpiresIn).UTC()
	}
	return Session{
		Provider:       m.Name(),
		SessionID:      out.Token,
		GatewayOrderID: req.Reference,
		Token:          out.Token,
		RedirectURL:    out.RedirectURL,
		ExpiresAt:      expiresAt,
	}, nil
}

type midtransNotification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
}

// VerifyCallback checks the notification signature
// sha512(order_id + status_code + gross_amount + server_key) and normalises
// the transaction status.
func (m Midtrans) VerifyCallback(_ *http.Request, body []byte) (Outcome, error) {
	var n midtransNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrMalformedCallback, err)
	}
	if n.OrderID == "" {
		return Outcome{}, fmt.Errorf("%w: missing order_id", ErrMalformedCallback)
	}
	expected := m.signature(n.OrderID, n.StatusCode, n.GrossAmount)
	provided := strings.ToLower(strings.TrimSpace(n.SignatureKey))
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return Outcome{}, ErrInvalidSignature
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(n.GrossAmount))
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: gross_amount %q", ErrMalformedCallback, n.GrossAmount)
	}
	return Outcome{
		Provider:       m.Name(),
		GatewayOrderID: n.OrderID,
		GatewayRef:     n.TransactionID,
		Status:         midtransStatus(n.TransactionStatus, n.FraudStatus),
		RawStatus:      n.TransactionStatus,
		Amount:         amount,
		Payload:        body,
	}, nil
}

func (m Midtrans) signature(orderID, statusCode, grossAmount string) string {
	key := strings.TrimSpace(m.ServerKey)
	if key == "" {
		return ""
	}
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + key))
	return hex.EncodeToString(sum[:])
}

func midtransStatus(status, fraud string) Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "capture":
		switch strings.ToLower(strings.TrimSpace(fraud)) {
		case "", "accept":
			return StatusApproved
		case "challenge":
			return StatusPending
		default:
			return StatusDeclined
		}
	case "settlement":
		return StatusApproved
	case "deny", "cancel", "failure":
		return StatusDeclined
	case "expire":
		return StatusExpired
	case "pending", "authorize":
		return StatusPending
	default:
		return StatusError
	}
}
