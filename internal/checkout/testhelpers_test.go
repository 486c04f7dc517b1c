package checkout_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/storefront-checkout/internal/cart"
	"github.com/noah-isme/storefront-checkout/internal/checkout"
	"github.com/noah-isme/storefront-checkout/internal/discount"
	"github.com/noah-isme/storefront-checkout/internal/events"
	"github.com/noah-isme/storefront-checkout/internal/lock"
	"github.com/noah-isme/storefront-checkout/internal/order"
	"github.com/noah-isme/storefront-checkout/internal/payment"
	"github.com/noah-isme/storefront-checkout/internal/rental"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*checkout.Session
	failNext error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*checkout.Session)}
}

func (m *memStore) Create(_ context.Context, s *checkout.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("%w: %s exists", checkout.ErrVersionConflict, s.ID)
	}
	s.Version = 1
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *memStore) Update(_ context.Context, s *checkout.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return err
	}
	cur, ok := m.sessions[s.ID]
	if !ok {
		return checkout.ErrSessionNotFound
	}
	if cur.Version != s.Version {
		return checkout.ErrVersionConflict
	}
	s.Version++
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*checkout.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", checkout.ErrSessionNotFound, id)
	}
	return s.Clone(), nil
}

func (m *memStore) GetByGatewayOrderID(_ context.Context, gatewayOrderID string) (*checkout.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.GatewayOrderID == gatewayOrderID {
			return s.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", checkout.ErrSessionNotFound, gatewayOrderID)
}

func (m *memStore) state(id string) checkout.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s.State
	}
	return ""
}

type stubGateway struct {
	mu       sync.Mutex
	requests []payment.SessionRequest
	err      error
	block    bool
	onCall   func(req payment.SessionRequest)
}

func (g *stubGateway) ProviderName() string { return "stub" }

func (g *stubGateway) CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	onCall := g.onCall
	g.mu.Unlock()
	if onCall != nil {
		onCall(req)
	}
	if g.block {
		<-ctx.Done()
		return payment.Session{}, ctx.Err()
	}
	if g.err != nil {
		return payment.Session{}, g.err
	}
	return payment.Session{
		Provider:       "stub",
		SessionID:      "gw-" + req.Reference,
		GatewayOrderID: req.Reference,
		Token:          "tok-" + req.Reference,
		RedirectURL:    "https://pay.example/" + req.Reference,
		ExpiresAt:      time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC),
	}, nil
}

func (g *stubGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// stubOrders creates one order per idempotency key, like the order service.
type stubOrders struct {
	mu       sync.Mutex
	orders   map[string]string
	keys     []string
	payloads []order.Payload

	// loseResponses makes the next n commits create the order but fail.
	loseResponses int
	fail          error
	block         bool
	onCall        func(key string)
}

func newStubOrders() *stubOrders {
	return &stubOrders{orders: make(map[string]string)}
}

func (o *stubOrders) Commit(ctx context.Context, key string, p order.Payload) (order.Result, error) {
	o.mu.Lock()
	o.keys = append(o.keys, key)
	o.payloads = append(o.payloads, p)
	onCall := o.onCall
	o.mu.Unlock()
	if onCall != nil {
		onCall(key)
	}
	if o.block {
		<-ctx.Done()
		return order.Result{}, ctx.Err()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return order.Result{}, o.fail
	}
	id, dup := o.orders[key]
	if !dup {
		id = fmt.Sprintf("ord-%d", len(o.orders)+1)
		o.orders[key] = id
	}
	if o.loseResponses > 0 {
		o.loseResponses--
		return order.Result{}, errors.New("connection reset")
	}
	return order.Result{OrderID: id, Duplicate: dup}, nil
}

func (o *stubOrders) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.keys)
}

func (o *stubOrders) created() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.orders)
}

type stubCarts struct {
	mu      sync.Mutex
	cleared []string
}

func (c *stubCarts) Clear(_ context.Context, customerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleared = append(c.cleared, customerID)
	return nil
}

type captureEvents struct {
	mu     sync.Mutex
	topics []string
	last   map[string]any
}

func (c *captureEvents) Emit(_ context.Context, topic, aggregateID string, payload any) (events.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	if m, ok := payload.(map[string]any); ok {
		c.last = m
	}
	return events.Event{Topic: topic, AggregateID: aggregateID}, nil
}

func (c *captureEvents) has(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.topics {
		if t == topic {
			return true
		}
	}
	return false
}

type fixture struct {
	orch    *checkout.Orchestrator
	store   *memStore
	gateway *stubGateway
	orders  *stubOrders
	carts   *stubCarts
	events  *captureEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   newMemStore(),
		gateway: &stubGateway{},
		orders:  newStubOrders(),
		carts:   &stubCarts{},
		events:  &captureEvents{},
	}
	seq := 0
	var seqMu sync.Mutex
	f.orch = &checkout.Orchestrator{
		Store:   f.store,
		Gateway: f.gateway,
		Orders:  f.orders,
		Carts:   f.carts,
		Locker:  &lock.Local{},
		Events:  f.events,
		Config: checkout.Config{
			Currency:       "IDR",
			CurrencyScale:  2,
			AdvanceRatio:   decimal.RequireFromString("0.3"),
			GatewayTimeout: time.Second,
			CommitTimeout:  time.Second,
			PaymentTTL:     30 * time.Minute,
		},
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) },
		NewID: func() string {
			seqMu.Lock()
			defer seqMu.Unlock()
			seq++
			return fmt.Sprintf("chk-%d", seq)
		},
	}
	return f
}

func money(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func tentLine() cart.LineItem {
	return cart.LineItem{
		ProductID:     "tent",
		Name:          "Tent",
		UnitPrice:     money("500"),
		Quantity:      2,
		RentalMode:    rental.ModeNone,
		DurationUnits: 1,
		LineTotal:     money("1000"),
	}
}

func pickup() checkout.Fulfillment {
	return checkout.Fulfillment{Method: "pickup", PickupPointID: "store-1"}
}

// placeRequest prices one 1000 line with a 10% coupon: payable 900.
func placeRequest(mode checkout.PaymentMode) checkout.PlaceOrderRequest {
	return checkout.PlaceOrderRequest{
		CustomerID: "cust-1",
		Lines:      []cart.LineItem{tentLine()},
		Snapshot: discount.Snapshot{
			Subtotal:       money("1000"),
			CouponCode:     "HEMAT10",
			CouponDiscount: money("100"),
			Payable:        money("900"),
		},
		Fulfillment: pickup(),
		PaymentMode: mode,
	}
}

func approved(s *checkout.Session, ref string) payment.Outcome {
	return payment.Outcome{
		Provider:       "stub",
		GatewayOrderID: s.GatewayOrderID,
		GatewayRef:     ref,
		Status:         payment.StatusApproved,
		Amount:         s.AmountDue,
	}
}
