package common

import (
	"context"
	"net/http"
	"strings"
)

// CustomerHeader carries the customer identifier set by the upstream gateway
// after it has authenticated the caller.
const CustomerHeader = "X-Customer-ID"

type ctxKey string

const customerIDKey ctxKey = "customer-id"

// WithCustomerID stores the customer identifier on ctx.
func WithCustomerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, customerIDKey, id)
}

// CustomerID extracts the customer identifier from ctx if present.
func CustomerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(customerIDKey).(string)
	return id, ok && id != ""
}

// RequireCustomer rejects requests without a customer identifier and puts
// the identifier on the request context.
func RequireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(CustomerHeader))
		if id == "" {
			JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "customer identity missing", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCustomerID(r.Context(), id)))
	})
}
