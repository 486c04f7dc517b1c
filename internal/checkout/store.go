package checkout

import "context"

// SessionStore persists checkout sessions. Update succeeds only when the
// stored version equals s.Version and then increments it.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Update(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*Session, error)
}
