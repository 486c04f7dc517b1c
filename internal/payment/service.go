package payment

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/storefront-checkout/internal/obs"
)

// Service opens gateway sessions through the configured provider and records
// their outcome on traces and metrics.
type Service struct {
	Provider Provider
	Timeout  time.Duration
	Logger   zerolog.Logger
	Duration obs.CallDuration
}

// ProviderName returns the configured provider name or "none".
func (s *Service) ProviderName() string {
	if s == nil || s.Provider == nil {
		return "none"
	}
	return s.Provider.Name()
}

// CreateSession opens a hosted payment session bounded by the service timeout.
func (s *Service) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	if s == nil || s.Provider == nil {
		return Session{}, errors.New("payment service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.CreateSession")
	defer span.End()

	start := time.Now()
	provider := s.Provider.Name()
	result := "error"
	defer func() {
		span.SetAttributes(
			attribute.String("payment.provider", provider),
			attribute.String("payment.reference", req.Reference),
			attribute.String("payment.amount", req.Amount.String()),
			attribute.Float64("payment.session.duration_ms", obs.DurationMillis(time.Since(start))),
			attribute.String("payment.session.result", result),
		)
		if obs.PaymentSessionTotal != nil {
			obs.PaymentSessionTotal.WithLabelValues(provider, result).Inc()
		}
		s.Duration.Record(ctx, time.Since(start), result, attribute.String("provider", provider))
	}()

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	session, err := s.Provider.CreateSession(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.Logger.Warn().Err(err).Str("provider", provider).Str("reference", req.Reference).Msg("payment session failed")
		return Session{}, err
	}
	result = "ok"
	return session, nil
}
