package obs

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/noah-isme/storefront-checkout"

// Meter returns the service meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(instrumentationName)
}

// CallDuration records how long an outbound call took, in seconds, labelled
// with its result. The zero value records nothing.
type CallDuration struct {
	h metric.Float64Histogram
}

// NewCallDuration creates the histogram name on meter.
func NewCallDuration(meter metric.Meter, name, description string) (CallDuration, error) {
	h, err := meter.Float64Histogram(name,
		metric.WithUnit("s"),
		metric.WithDescription(description),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30),
	)
	if err != nil {
		return CallDuration{}, err
	}
	return CallDuration{h: h}, nil
}

// Record adds one observation.
func (c CallDuration) Record(ctx context.Context, d time.Duration, result string, attrs ...attribute.KeyValue) {
	if c.h == nil {
		return
	}
	attrs = append(attrs, attribute.String("result", result))
	c.h.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}
