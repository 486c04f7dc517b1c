package order

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/storefront-checkout/internal/obs"
	"github.com/noah-isme/storefront-checkout/internal/resilience"
)

// ErrCommitRejected is returned when the order service refuses the payload.
var ErrCommitRejected = errors.New("order commit rejected")

// Result is the order service answer to a commit.
type Result struct {
	OrderID   string `json:"orderId"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Client posts orders to {BaseURL}/orders.
type Client struct {
	BaseURL  string
	HTTP     resilience.HTTPClient
	Duration obs.CallDuration
}

// Commit creates the order. The idempotency key lets the order service
// deduplicate repeated commits of the same payment; a 409 that names an
// order id means the order already exists and counts as success.
func (c *Client) Commit(ctx context.Context, idempotencyKey string, payload Payload) (Result, error) {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return Result{}, errors.New("order client not configured")
	}
	if strings.TrimSpace(idempotencyKey) == "" {
		return Result{}, errors.New("order commit requires an idempotency key")
	}
	ctx, span := otel.Tracer("order.Client").Start(ctx, "OrderClient.Commit")
	defer span.End()

	start := time.Now()
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("order.checkout_id", payload.CheckoutID),
			attribute.String("order.commit.result", result),
		)
		if obs.OrderCommitTotal != nil {
			obs.OrderCommitTotal.WithLabelValues(result).Inc()
		}
		if obs.OrderCommitLatency != nil {
			obs.OrderCommitLatency.Observe(obs.DurationMillis(time.Since(start)))
		}
		c.Duration.Record(ctx, time.Since(start), result)
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/orders", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("order commit: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var out Result
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := decodeResult(raw, &out); err != nil {
			return Result{}, fmt.Errorf("order commit: %w", err)
		}
		result = "ok"
		return out, nil
	case resp.StatusCode == http.StatusConflict:
		if err := decodeResult(raw, &out); err == nil {
			out.Duplicate = true
			result = "duplicate"
			return out, nil
		}
	}
	err = fmt.Errorf("%w: %w", ErrCommitRejected, &resilience.StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(raw))})
	result = "rejected"
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return Result{}, err
}

// decodeResult accepts both a bare body and the {"data": ...} envelope.
func decodeResult(raw []byte, out *Result) error {
	var envelope struct {
		Data *Result `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Data != nil && envelope.Data.OrderID != "" {
		*out = *envelope.Data
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	if out.OrderID == "" {
		return errors.New("response has no order id")
	}
	return nil
}
