package resilience

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrOpenCircuit is returned when the breaker refuses a call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return "unknown"
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return Open
	case gobreaker.StateHalfOpen:
		return HalfOpen
	}
	return Closed
}

// BreakerConfig tunes a Breaker. Zero values fall back to 10 requests, a 0.5
// failure ratio, a 30s cool-off and counts cleared every minute while closed.
type BreakerConfig struct {
	Target       string
	MinRequests  int
	FailureRatio float64
	OpenFor      time.Duration
	Interval     time.Duration
	Logger       zerolog.Logger
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MinRequests <= 0 {
		c.MinRequests = 10
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = 0.5
	}
	if c.FailureRatio > 1 {
		c.FailureRatio = 1
	}
	if c.OpenFor <= 0 {
		c.OpenFor = 30 * time.Second
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	c.Target = strings.TrimSpace(c.Target)
	if c.Target == "" {
		c.Target = "default"
	}
	return c
}

// Breaker guards one outbound dependency on top of gobreaker. While
// half-open a single trial call goes out and its outcome decides between closed
// and open. Transitions feed the breaker metrics and the log.
type Breaker struct {
	cfg BreakerConfig
	cb  *gobreaker.TwoStepCircuitBreaker[struct{}]
}

// NewBreaker builds a closed breaker and publishes its state gauge.
func NewBreaker(cfg BreakerConfig) *Breaker {
	cfg = cfg.withDefaults()
	b := &Breaker{cfg: cfg}
	b.cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        cfg.Target,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if int(counts.Requests) < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			b.transition(fromGobreaker(from), fromGobreaker(to))
		},
	})
	BreakerState.WithLabelValues(cfg.Target).Set(float64(Closed))
	return b
}

// Target names the guarded dependency.
func (b *Breaker) Target() string { return b.cfg.Target }

// State returns the current position.
func (b *Breaker) State() State { return fromGobreaker(b.cb.State()) }

// Allow asks to send one call. The returned func must be called once with
// the outcome. A refusal wraps ErrOpenCircuit.
func (b *Breaker) Allow() (func(success bool), error) {
	done, err := b.cb.Allow()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpenCircuit, b.cfg.Target, err)
	}
	return done, nil
}

func (b *Breaker) transition(from, to State) {
	target := b.cfg.Target
	BreakerState.WithLabelValues(target).Set(float64(to))
	BreakerTransitions.WithLabelValues(target, from.String(), to.String()).Inc()
	evt := b.cfg.Logger.Warn()
	if to == Open {
		BreakerOpenedTotal.WithLabelValues(target).Inc()
		evt = b.cfg.Logger.Error()
	} else if to == Closed {
		evt = b.cfg.Logger.Info()
	}
	evt.Str("target", target).Str("from_state", from.String()).Str("to_state", to.String()).Msg("breaker_transition")
}
