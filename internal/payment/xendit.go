package payment

import (
	"bytes"
	"context"
	"crypto/subtle"
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

// Xendit opens invoices and verifies invoice callbacks.
type Xendit struct {
	SecretKey     string
	CallbackToken string
	BaseURL       string
	HTTP          resilience.HTTPClient
}

// Name implements Provider.
func (x Xendit) Name() string { return "xendit" }

func (x Xendit) host() string {
	host := strings.TrimRight(strings.TrimSpace(x.BaseURL), "/")
	if host == "" {
		return "https://api.xendit.co"
	}
	return host
}

type xenditInvoiceRequest struct {
	ExternalID         string          `json:"external_id"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency,omitempty"`
	Description        string          `json:"description,omitempty"`
	InvoiceDuration    int64           `json:"invoice_duration,omitempty"`
	SuccessRedirectURL string          `json:"success_redirect_url,omitempty"`
}

// CreateSession creates an invoice whose external id is the request reference.
func (x Xendit) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if strings.TrimSpace(req.Reference) == "" {
		return Session{}, errors.New("xendit: reference is required")
	}
	if !req.Amount.IsPositive() {
		return Session{}, fmt.Errorf("xendit: amount %s must be positive", req.Amount)
	}
	body := xenditInvoiceRequest{
		ExternalID:         req.Reference,
		Amount:             req.Amount,
		Currency:           req.Currency,
		Description:        req.Description,
		InvoiceDuration:    int64(req.ExpiresIn / time.Second),
		SuccessRedirectURL: req.FinishURL,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Session{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, x.host()+"/v2/invoices", bytes.NewReader(payload))
	if err != nil {
		return Session{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(x.SecretKey, "")

	resp, err := x.HTTP.Do(ctx, httpReq)
	if err != nil {
		return Session{}, fmt.Errorf("xendit: create invoice: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Session{}, fmt.Errorf("xendit: create invoice: %w", &resilience.StatusError{StatusCode: resp.StatusCode, Body: string(raw)})
	}
	var out struct {
		ID         string    `json:"id"`
		InvoiceURL string    `json:"invoice_url"`
		ExpiryDate time.Time `json:"expiry_date"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Session{}, fmt.Errorf("xendit: decode invoice: %w", err)
	}
	if out.ID == "" || out.InvoiceURL == "" {
		return Session{}, errors.New("xendit: incomplete invoice response")
	}
	return Session{
		Provider:       x.Name(),
		SessionID:      out.ID,
		GatewayOrderID: req.Reference,
		RedirectURL:    out.InvoiceURL,
		ExpiresAt:      out.ExpiryDate.UTC(),
	}, nil
}

type xenditCallback struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	PaymentID  string          `json:"payment_id"`
}

// VerifyCallback checks the x-callback-token header and normalises the
// invoice status.
func (x Xendit) VerifyCallback(r *http.Request, body []byte) (Outcome, error) {
	expected := strings.TrimSpace(x.CallbackToken)
	provided := strings.TrimSpace(r.Header.Get("x-callback-token"))
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) != 1 {
		return Outcome{}, ErrInvalidSignature
	}
	var cb xenditCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrMalformedCallback, err)
	}
	if cb.ExternalID == "" {
		return Outcome{}, fmt.Errorf("%w: missing external_id", ErrMalformedCallback)
	}
	amount := cb.PaidAmount
	if amount.IsZero() {
		amount = cb.Amount
	}
	ref := cb.PaymentID
	if ref == "" {
		ref = cb.ID
	}
	return Outcome{
		Provider:       x.Name(),
		GatewayOrderID: cb.ExternalID,
		GatewayRef:     ref,
		Status:         xenditStatus(cb.Status),
		RawStatus:      cb.Status,
		Amount:         amount,
		Payload:        body,
	}, nil
}

func xenditStatus(status string) Status {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "PAID", "SETTLED":
		return StatusApproved
	case "EXPIRED":
		return StatusExpired
	case "FAILED":
		return StatusDeclined
	case "PENDING":
		return StatusPending
	default:
		return StatusError
	}
}
