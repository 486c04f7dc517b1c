package payment

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/storefront-checkout/internal/common"
	"github.com/noah-isme/storefront-checkout/internal/obs"
)

// OutcomeHandler consumes verified, terminal gateway outcomes. An error means
// the outcome could not be recorded and the gateway should redeliver it.
type OutcomeHandler interface {
	AcceptOutcome(ctx context.Context, outcome Outcome) error
}

// Webhook receives gateway callbacks at /webhooks/payment/{provider}.
type Webhook struct {
	Providers map[string]Provider
	Replay    *redis.Client
	ReplayTTL time.Duration
	Handler   OutcomeHandler
	Logger    zerolog.Logger
}

const maxCallbackBody = 1 << 20

// ServeHTTP verifies the callback, drops replays and forwards terminal outcomes.
func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.ToLower(chi.URLParam(r, "provider"))
	result := "error"
	defer func() {
		if obs.PaymentWebhookTotal != nil {
			obs.PaymentWebhookTotal.WithLabelValues(name, result).Inc()
		}
	}()

	provider, ok := h.Providers[name]
	if !ok {
		result = "unknown_provider"
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_FOUND", "unknown payment provider", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unable to read body", nil)
		return
	}
	outcome, err := provider.VerifyCallback(r, body)
	switch {
	case errors.Is(err, ErrInvalidSignature):
		result = "invalid_signature"
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "callback signature invalid", nil)
		return
	case err != nil:
		result = "malformed"
		common.JSONError(w, http.StatusBadRequest, "MALFORMED_CALLBACK", err.Error(), nil)
		return
	}

	log := h.Logger.With().
		Str("provider", name).
		Str("gateway_order_id", outcome.GatewayOrderID).
		Str("status", string(outcome.Status)).
		Logger()

	replayKey := "wh:" + name + ":" + common.Sha256Hex(string(body))
	if h.Replay != nil {
		ttl := h.ReplayTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		fresh, err := h.Replay.SetNX(r.Context(), replayKey, "1", ttl).Result()
		if err != nil {
			log.Warn().Err(err).Msg("webhook replay guard unavailable")
		} else if !fresh {
			result = "duplicate"
			common.JSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	if !outcome.Status.Terminal() {
		result = "pending"
		common.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if h.Handler == nil {
		h.releaseReplay(replayKey)
		common.JSONError(w, http.StatusServiceUnavailable, "NOT_READY", "payment webhook not configured", nil)
		return
	}
	if err := h.Handler.AcceptOutcome(r.Context(), outcome); err != nil {
		h.releaseReplay(replayKey)
		log.Error().Err(err).Msg("payment callback not recorded")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "callback not recorded", nil)
		return
	}
	result = "ok"
	log.Info().Str("gateway_ref", outcome.GatewayRef).Msg("payment callback recorded")
	common.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Webhook) releaseReplay(key string) {
	if h.Replay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.Replay.Del(ctx, key).Err()
}
