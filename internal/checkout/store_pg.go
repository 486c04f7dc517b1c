package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PGStore keeps sessions in the checkout_sessions table.
type PGStore struct {
	Pool *pgxpool.Pool
}

const sessionColumns = `id, customer_id, state, payment_mode, amount_due::text, currency, provider,
gateway_session_id, gateway_order_id, redirect_url, payment_token, payment_expires_at, gateway_ref,
order_id, failure_reason, previous_session_id, next_session_id, lines, snapshot, fulfillment, version,
created_at, updated_at`

type sessionDocs struct {
	lines, snapshot, fulfillment []byte
}

func encodeDocs(s *Session) (sessionDocs, error) {
	var d sessionDocs
	var err error
	if d.lines, err = json.Marshal(s.Lines); err != nil {
		return d, err
	}
	if d.snapshot, err = json.Marshal(s.Snapshot); err != nil {
		return d, err
	}
	if d.fulfillment, err = json.Marshal(s.Fulfillment); err != nil {
		return d, err
	}
	return d, nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// Create implements SessionStore.
func (st *PGStore) Create(ctx context.Context, s *Session) error {
	docs, err := encodeDocs(s)
	if err != nil {
		return err
	}
	s.Version = 1
	_, err = st.Pool.Exec(ctx, `INSERT INTO checkout_sessions (
id, customer_id, state, payment_mode, amount_due, currency, provider, gateway_session_id, gateway_order_id,
redirect_url, payment_token, payment_expires_at, gateway_ref, order_id, failure_reason, previous_session_id,
next_session_id, lines, snapshot, fulfillment, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		s.ID, s.CustomerID, string(s.State), string(s.PaymentMode), s.AmountDue.String(), s.Currency, s.Provider,
		s.GatewaySessionID, nullable(s.GatewayOrderID), s.RedirectURL, s.PaymentToken, s.PaymentExpiresAt, s.GatewayRef,
		s.OrderID, s.FailureReason, nullable(s.PreviousSessionID), nullable(s.NextSessionID), docs.lines,
		docs.snapshot, docs.fulfillment, s.Version, s.CreatedAt, s.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s already exists", ErrVersionConflict, s.ID)
	}
	if err != nil {
		return fmt.Errorf("insert checkout session: %w", err)
	}
	return nil
}

// Update implements SessionStore.
func (st *PGStore) Update(ctx context.Context, s *Session) error {
	docs, err := encodeDocs(s)
	if err != nil {
		return err
	}
	tag, err := st.Pool.Exec(ctx, `UPDATE checkout_sessions SET
state = $3, amount_due = $4::numeric, provider = $5, gateway_session_id = $6, gateway_order_id = $7,
redirect_url = $8, payment_token = $9, payment_expires_at = $10, gateway_ref = $11, order_id = $12,
failure_reason = $13, lines = $14, snapshot = $15, fulfillment = $16, updated_at = $17, next_session_id = $18,
version = version + 1
WHERE id = $1 AND version = $2`,
		s.ID, s.Version, string(s.State), s.AmountDue.String(), s.Provider, s.GatewaySessionID,
		nullable(s.GatewayOrderID), s.RedirectURL, s.PaymentToken, s.PaymentExpiresAt, s.GatewayRef, s.OrderID,
		s.FailureReason, docs.lines, docs.snapshot, docs.fulfillment, s.UpdatedAt, nullable(s.NextSessionID))
	if err != nil {
		return fmt.Errorf("update checkout session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s at version %d", ErrVersionConflict, s.ID, s.Version)
	}
	s.Version++
	return nil
}

// Get implements SessionStore.
func (st *PGStore) Get(ctx context.Context, id string) (*Session, error) {
	return st.one(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE id = $1`, id)
}

// GetByGatewayOrderID implements SessionStore.
func (st *PGStore) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Session, error) {
	return st.one(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE gateway_order_id = $1`, gatewayOrderID)
}

func (st *PGStore) one(ctx context.Context, query string, arg string) (*Session, error) {
	var (
		s                          Session
		state, mode, amount        string
		gatewayOrderID, previousID *string
		nextID                     *string
		expiresAt                  *time.Time
		docs                       sessionDocs
	)
	err := st.Pool.QueryRow(ctx, query, arg).Scan(
		&s.ID, &s.CustomerID, &state, &mode, &amount, &s.Currency, &s.Provider,
		&s.GatewaySessionID, &gatewayOrderID, &s.RedirectURL, &s.PaymentToken, &expiresAt, &s.GatewayRef,
		&s.OrderID, &s.FailureReason, &previousID, &nextID, &docs.lines, &docs.snapshot, &docs.fulfillment,
		&s.Version, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, arg)
	}
	if err != nil {
		return nil, err
	}
	s.State = State(state)
	s.PaymentMode = PaymentMode(mode)
	if s.AmountDue, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("checkout session %s amount: %w", s.ID, err)
	}
	if gatewayOrderID != nil {
		s.GatewayOrderID = *gatewayOrderID
	}
	if previousID != nil {
		s.PreviousSessionID = *previousID
	}
	if nextID != nil {
		s.NextSessionID = *nextID
	}
	s.PaymentExpiresAt = expiresAt
	if err := json.Unmarshal(docs.lines, &s.Lines); err != nil {
		return nil, fmt.Errorf("checkout session %s lines: %w", s.ID, err)
	}
	if err := json.Unmarshal(docs.snapshot, &s.Snapshot); err != nil {
		return nil, fmt.Errorf("checkout session %s snapshot: %w", s.ID, err)
	}
	if err := json.Unmarshal(docs.fulfillment, &s.Fulfillment); err != nil {
		return nil, fmt.Errorf("checkout session %s fulfillment: %w", s.ID, err)
	}
	return &s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
