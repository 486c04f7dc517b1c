// Package upstream reads customer and catalog data from the internal backend.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/noah-isme/storefront-checkout/internal/discount"
	"github.com/noah-isme/storefront-checkout/internal/pricing"
	"github.com/noah-isme/storefront-checkout/internal/resilience"
)

var errNotFound = errors.New("upstream: not found")

// Client is the backend API client. It satisfies pricing.SubscriptionLookup
// and the cart catalog, coupon and wallet sources.
type Client struct {
	BaseURL string
	HTTP    resilience.HTTPClient
}

// Subscription returns the customer's subscription, or nil when the customer
// has none.
func (c *Client) Subscription(ctx context.Context, customerID string) (*pricing.Subscription, error) {
	var sub pricing.Subscription
	err := c.get(ctx, "/customers/"+url.PathEscape(customerID)+"/subscription", nil, &sub)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Coupons lists the coupons the customer may use.
func (c *Client) Coupons(ctx context.Context, customerID string) ([]discount.Coupon, error) {
	var coupons []discount.Coupon
	err := c.get(ctx, "/customers/"+url.PathEscape(customerID)+"/coupons", nil, &coupons)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	return coupons, err
}

// WalletBalance returns the customer's spendable wallet balance.
func (c *Client) WalletBalance(ctx context.Context, customerID string) (pricing.Money, error) {
	var out struct {
		Balance pricing.Money `json:"balance"`
	}
	err := c.get(ctx, "/customers/"+url.PathEscape(customerID)+"/wallet", nil, &out)
	if errors.Is(err, errNotFound) {
		return pricing.Money{}, nil
	}
	if err != nil {
		return pricing.Money{}, err
	}
	return out.Balance, nil
}

// CatalogEntry returns the price columns of a product or variant.
func (c *Client) CatalogEntry(ctx context.Context, productID, variantID string) (pricing.CatalogEntry, error) {
	var q url.Values
	if variantID != "" {
		q = url.Values{"variantId": {variantID}}
	}
	var entry pricing.CatalogEntry
	err := c.get(ctx, "/catalog/products/"+url.PathEscape(productID), q, &entry)
	if errors.Is(err, errNotFound) {
		return pricing.CatalogEntry{}, fmt.Errorf("%w: %s", pricing.ErrUnknownProduct, productID)
	}
	if err != nil {
		return pricing.CatalogEntry{}, err
	}
	if entry.ProductID == "" {
		entry.ProductID = productID
	}
	if entry.VariantID == "" {
		entry.VariantID = variantID
	}
	return entry, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if c == nil || strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("upstream client not configured")
	}
	target := strings.TrimRight(c.BaseURL, "/") + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("upstream %s: %w", path, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("upstream %s: %w", path, &resilience.StatusError{StatusCode: resp.StatusCode, Body: string(raw)})
	}
	return decode(raw, out)
}

// decode accepts both a bare body and the {"data": ...} envelope.
func decode(raw []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		return json.Unmarshal(envelope.Data, out)
	}
	return json.Unmarshal(raw, out)
}
