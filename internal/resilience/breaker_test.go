package resilience

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(target string, min int) *Breaker {
	return NewBreaker(BreakerConfig{Target: target, MinRequests: min, FailureRatio: 0.5, OpenFor: 20 * time.Millisecond})
}

func report(t *testing.T, b *Breaker, success bool) {
	t.Helper()
	done, err := b.Allow()
	require.NoError(t, err)
	done(success)
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	b := newTestBreaker("orders-test", 2)

	report(t, b, false)
	require.Equal(t, Closed, b.State(), "below minimum requests")
	report(t, b, false)
	require.Equal(t, Open, b.State())
	_, err := b.Allow()
	require.ErrorIs(t, err, ErrOpenCircuit)

	require.Eventually(t, func() bool { return b.State() == HalfOpen }, time.Second, 5*time.Millisecond)
	done, err := b.Allow()
	require.NoError(t, err)
	_, err = b.Allow()
	require.ErrorIs(t, err, ErrOpenCircuit, "single trial call while half-open")

	done(true)
	require.Equal(t, Closed, b.State())
	report(t, b, true)
}

func TestBreakerFailedTrialReopens(t *testing.T) {
	b := newTestBreaker("upstream-test", 1)

	report(t, b, false)
	require.Eventually(t, func() bool { return b.State() == HalfOpen }, time.Second, 5*time.Millisecond)
	report(t, b, false)
	require.Equal(t, Open, b.State())
	_, err := b.Allow()
	require.ErrorIs(t, err, ErrOpenCircuit)
}

func TestBreakerStaysClosedBelowRatio(t *testing.T) {
	b := newTestBreaker("ratio-test", 4)
	for i := 0; i < 20; i++ {
		report(t, b, i%4 != 0)
	}
	require.Equal(t, Closed, b.State())
}

func TestBreakerMetrics(t *testing.T) {
	b := newTestBreaker("midtrans-test", 1)

	report(t, b, false)
	require.Equal(t, 1.0, testutil.ToFloat64(BreakerState.WithLabelValues("midtrans-test")))
	require.Eventually(t, func() bool { return b.State() == HalfOpen }, time.Second, 5*time.Millisecond)
	require.Equal(t, 2.0, testutil.ToFloat64(BreakerState.WithLabelValues("midtrans-test")))
	report(t, b, true)
	require.Equal(t, 0.0, testutil.ToFloat64(BreakerState.WithLabelValues("midtrans-test")))

	require.Equal(t, 1.0, testutil.ToFloat64(BreakerOpenedTotal.WithLabelValues("midtrans-test")))
	require.Equal(t, 1.0, testutil.ToFloat64(BreakerTransitions.WithLabelValues("midtrans-test", "closed", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(BreakerTransitions.WithLabelValues("midtrans-test", "open", "half_open")))
	require.Equal(t, 1.0, testutil.ToFloat64(BreakerTransitions.WithLabelValues("midtrans-test", "half_open", "closed")))
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, Backoff(base, 0, 0))
	require.Equal(t, 4*base, Backoff(base, 3, 0))

	d := Backoff(base, 2, 0.2)
	require.InDelta(t, float64(2*base), float64(d), float64(2*base)*0.2)
}
