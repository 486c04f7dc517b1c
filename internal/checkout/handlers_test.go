package checkout_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/storefront-checkout/internal/cart"
	"github.com/noah-isme/storefront-checkout/internal/checkout"
	"github.com/noah-isme/storefront-checkout/internal/common"
	"github.com/noah-isme/storefront-checkout/internal/discount"
	"github.com/noah-isme/storefront-checkout/internal/events"
)

type stubCoupons []discount.Coupon

func (s stubCoupons) Coupons(context.Context, string) ([]discount.Coupon, error) { return s, nil }

type stubEventList map[string][]events.Event

func (s stubEventList) ListByAggregate(_ context.Context, id string) ([]events.Event, error) {
	return s[id], nil
}

type handlerFixture struct {
	*fixture
	router http.Handler
	carts  *cart.Manager
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	carts := &cart.Manager{Storage: &cart.RedisStorage{Client: client}}
	h := &checkout.Handler{
		Orchestrator: f.orch,
		Carts:        carts,
		Quoter: &cart.Quoter{Coupons: stubCoupons{{
			Code: "HEMAT10", Kind: discount.KindPercentage, Value: money("10"), MinOrderAmount: money("0"),
		}}},
		Events: stubEventList{"chk-1": {{Topic: events.TopicCheckoutCompleted, AggregateID: "chk-1"}}},
		Logger: zerolog.Nop(),
	}
	r := chi.NewRouter()
	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(common.RequireCustomer)
		r.Post("/", h.PlaceOrder)
		h.Routes(r)
	})
	return &handlerFixture{fixture: f, router: r, carts: carts}
}

func (hf *handlerFixture) fillCart(t *testing.T, customerID string) {
	t.Helper()
	s, err := hf.carts.Open(context.Background(), customerID)
	require.NoError(t, err)
	require.NoError(t, s.AddOrMerge(context.Background(), tentLine()))
}

func (hf *handlerFixture) do(t *testing.T, method, path, customerID, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if customerID != "" {
		req.Header.Set(common.CustomerHeader, customerID)
	}
	rec := httptest.NewRecorder()
	hf.router.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

const pickupBody = `{"fulfillment":{"method":"pickup","pickupPointId":"store-1"},"couponCode":"HEMAT10"}`

func TestPlaceOrderEndpoint(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.fillCart(t, "cust-1")

	rec, body := hf.do(t, http.MethodPost, "/api/v1/checkout/", "cust-1", pickupBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	data := body["data"].(map[string]any)
	require.Equal(t, "chk-1", data["sessionId"])
	require.Equal(t, "awaiting_payment", data["state"])
	require.Equal(t, "full", data["paymentMode"])
	require.Equal(t, "900", data["amountDue"])
	require.Equal(t, "https://pay.example/chk-1", data["redirectUrl"])

	rec, body = hf.do(t, http.MethodGet, "/api/v1/checkout/chk-1", "cust-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "chk-1", body["data"].(map[string]any)["sessionId"])

	rec, body = hf.do(t, http.MethodGet, "/api/v1/checkout/chk-1", "cust-2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "SESSION_NOT_FOUND", errorCode(body))

	rec, body = hf.do(t, http.MethodGet, "/api/v1/checkout/chk-1/events", "cust-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, body["data"], 1)
}

func TestPlaceOrderEndpointErrors(t *testing.T) {
	hf := newHandlerFixture(t)

	rec, _ := hf.do(t, http.MethodPost, "/api/v1/checkout/", "", pickupBody)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := hf.do(t, http.MethodPost, "/api/v1/checkout/", "cust-1", `{"unknown":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "BAD_REQUEST", errorCode(body))

	rec, body = hf.do(t, http.MethodPost, "/api/v1/checkout/", "cust-1", `{"fulfillment":{"method":"pickup","pickupPointId":"store-1"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "VALIDATION_FAILED", errorCode(body))

	hf.fillCart(t, "cust-1")
	rec, body = hf.do(t, http.MethodPost, "/api/v1/checkout/", "cust-1", `{"fulfillment":{"method":"delivery"}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "VALIDATION_FAILED", errorCode(body))
	problems := body["error"].(map[string]any)["details"].(map[string]any)["problems"].([]any)
	require.Contains(t, problems, "fulfillment.address failed required_if")

	rec, _ = hf.do(t, http.MethodPost, "/api/v1/checkout/", "cust-1", `{"fulfillment":{"method":"pickup","pickupPointId":"p"},"couponCode":"NOPE"}`)
	require.GreaterOrEqual(t, rec.Code, http.StatusBadRequest)
	require.Less(t, rec.Code, http.StatusInternalServerError)
	require.Zero(t, hf.gateway.calls())

	hf.gateway.err = context.DeadlineExceeded
	rec, body = hf.do(t, http.MethodPost, "/api/v1/checkout/", "cust-1", pickupBody)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "GATEWAY_SESSION_FAILED", errorCode(body))
}

func TestSessionActionEndpoints(t *testing.T) {
	hf := newHandlerFixture(t)
	hf.fillCart(t, "cust-1")
	hf.gateway.err = context.DeadlineExceeded
	rec, _ := hf.do(t, http.MethodPost, "/api/v1/checkout/", "cust-1", pickupBody)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec, body := hf.do(t, http.MethodPost, "/api/v1/checkout/chk-1/cancel", "cust-1", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "ILLEGAL_TRANSITION", errorCode(body))

	hf.gateway.err = nil
	rec, body = hf.do(t, http.MethodPost, "/api/v1/checkout/chk-1/retry-session", "cust-1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := body["data"].(map[string]any)
	require.Equal(t, "chk-2", data["sessionId"])
	require.Equal(t, "chk-1", data["previousSessionId"])

	rec, _ = hf.do(t, http.MethodPost, "/api/v1/checkout/chk-2/retry-commit", "cust-1", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec, body = hf.do(t, http.MethodPost, "/api/v1/checkout/chk-2/cancel", "cust-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "abandoned", body["data"].(map[string]any)["state"])

	rec, body = hf.do(t, http.MethodPost, "/api/v1/checkout/missing/cancel", "cust-1", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "SESSION_NOT_FOUND", errorCode(body))
}

func TestErrorToApp(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{&checkout.ValidationError{Problems: []string{"cart is empty"}}, "VALIDATION_FAILED", http.StatusUnprocessableEntity},
		{&checkout.CommitError{SessionID: "chk-1", GatewayRef: "trx"}, "ORDER_COMMIT_FAILED", http.StatusBadGateway},
		{checkout.ErrPaymentDeclined, "PAYMENT_DECLINED", http.StatusPaymentRequired},
		{checkout.ErrPaymentAbandoned, "PAYMENT_ABANDONED", http.StatusConflict},
		{checkout.ErrLateApproval, "PAYMENT_LATE_APPROVAL", http.StatusConflict},
		{checkout.ErrVersionConflict, "SESSION_BUSY", http.StatusConflict},
	}
	for _, tc := range cases {
		appErr := checkout.ErrorToApp(tc.err)
		require.NotNil(t, appErr, tc.code)
		require.Equal(t, tc.code, appErr.Code)
		require.Equal(t, tc.status, appErr.HTTPStatus)
	}
}
