package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// CheckoutTransitionTotal counts checkout state transitions.
	CheckoutTransitionTotal *prometheus.CounterVec
	// PaymentSessionTotal counts gateway session creation outcomes.
	PaymentSessionTotal *prometheus.CounterVec
	// PaymentWebhookTotal counts inbound payment callback processing outcomes.
	PaymentWebhookTotal *prometheus.CounterVec
	// OrderCommitTotal counts order commit outcomes.
	OrderCommitTotal *prometheus.CounterVec
	// OrderCommitLatency records commit latency in milliseconds.
	OrderCommitLatency prometheus.Histogram
	// CartMutationTotal counts cart writes by operation and outcome.
	CartMutationTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		CheckoutTransitionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_transition_total",
			Help:      "Count of checkout session state transitions.",
		}, []string{"from", "to"})
		PaymentSessionTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_session_total",
			Help:      "Count of payment gateway session creation outcomes.",
		}, []string{"provider", "result"})
		PaymentWebhookTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_webhook_total",
			Help:      "Count of processed payment webhooks by outcome.",
		}, []string{"provider", "result"})
		OrderCommitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_commit_total",
			Help:      "Count of order commit outcomes.",
		}, []string{"result"})
		OrderCommitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_commit_duration_ms",
			Help:      "Latency of order commit calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		})
		CartMutationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutation_total",
			Help:      "Count of cart mutations by operation and outcome.",
		}, []string{"op", "result"})

		for _, vec := range []**prometheus.CounterVec{
			&CheckoutTransitionTotal, &PaymentSessionTotal, &PaymentWebhookTotal, &OrderCommitTotal, &CartMutationTotal,
		} {
			target := vec
			mustRegisterCollector(reg, *target, func(existing prometheus.Collector) {
				if v, ok := existing.(*prometheus.CounterVec); ok {
					*target = v
				}
			})
		}
		mustRegisterCollector(reg, OrderCommitLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				OrderCommitLatency = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
