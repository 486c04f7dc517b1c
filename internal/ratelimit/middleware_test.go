package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/noah-isme/storefront-checkout/internal/common"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	store, err := NewStore(memory.NewStore(), "1-M")
	require.NoError(t, err)
	counted := Handler{Limiter: store, Key: func(*http.Request) string { return "static" }}.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	rr1 := httptest.NewRecorder()
	counted.ServeHTTP(rr1, req.Clone(req.Context()))
	require.Equal(t, http.StatusOK, rr1.Code)
	require.Equal(t, "0", rr1.Header().Get("X-RateLimit-Remaining"))

	rr2 := httptest.NewRecorder()
	counted.ServeHTTP(rr2, req.Clone(req.Context()))
	require.Equal(t, http.StatusTooManyRequests, rr2.Code)
	require.Equal(t, "1", rr2.Header().Get("X-RateLimit-Limit"))
	require.NotEmpty(t, rr2.Header().Get("Retry-After"))
	require.Contains(t, rr2.Body.String(), "RATE_LIMITED")
}

func TestHandlerKeysPerCustomer(t *testing.T) {
	store, err := NewStore(memory.NewStore(), "1-M")
	require.NoError(t, err)
	counted := Handler{Limiter: store}.Middleware(okHandler())

	for _, customer := range []string{"cust-1", "cust-2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req = req.WithContext(common.WithCustomerID(req.Context(), customer))
		rr := httptest.NewRecorder()
		counted.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code, customer)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestHandlerMiddlewareOnError(t *testing.T) {
	called := false
	counted := Handler{Limiter: failingLimiter{}, OnError: func(error) { called = true }}.Middleware(okHandler())

	rr := httptest.NewRecorder()
	counted.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, called)
}

func TestNewStoreRejectsBadRate(t *testing.T) {
	_, err := NewStore(memory.NewStore(), "ten per minute")
	require.Error(t, err)
}

func TestCustomerKeyFallsBackToAddress(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	require.Equal(t, "ip:10.0.0.1", CustomerKey(req))
}

func TestCustomerKeyIgnoresForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	require.Equal(t, "ip:10.0.0.1", CustomerKey(req))

	req.RemoteAddr = "10.0.0.2"
	require.Equal(t, "ip:10.0.0.2", CustomerKey(req))

	req.RemoteAddr = ""
	require.Equal(t, "ip:unknown", CustomerKey(req))
}

func TestSpoofedForwardedForSharesBucket(t *testing.T) {
	store, err := NewStore(memory.NewStore(), "1-M")
	require.NoError(t, err)
	counted := Handler{Limiter: store}.Middleware(okHandler())

	codes := make([]int, 0, 2)
	for _, spoof := range []string{"1.1.1.1", "2.2.2.2"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
		req.RemoteAddr = "10.0.0.9:4000"
		req.Header.Set("X-Forwarded-For", spoof)
		rr := httptest.NewRecorder()
		counted.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}
