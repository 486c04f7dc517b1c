package payment_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/noah-isme/storefront-checkout/internal/obs"
	"github.com/noah-isme/storefront-checkout/internal/payment"
)

type slowProvider struct{}

func (slowProvider) Name() string { return "slow" }

func (slowProvider) CreateSession(ctx context.Context, _ payment.SessionRequest) (payment.Session, error) {
	<-ctx.Done()
	return payment.Session{}, ctx.Err()
}

func (slowProvider) VerifyCallback(*http.Request, []byte) (payment.Outcome, error) {
	return payment.Outcome{}, payment.ErrInvalidSignature
}

func TestServiceBoundsGatewayCall(t *testing.T) {
	svc := &payment.Service{Provider: slowProvider{}, Timeout: 20 * time.Millisecond, Logger: zerolog.Nop()}
	start := time.Now()
	_, err := svc.CreateSession(context.Background(), payment.SessionRequest{Reference: "chk-1", Amount: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(start), time.Second)
}

func TestServiceRequiresProvider(t *testing.T) {
	var svc *payment.Service
	_, err := svc.CreateSession(context.Background(), payment.SessionRequest{})
	require.Error(t, err)
	require.Equal(t, "none", svc.ProviderName())
}

func TestServiceRecordsSessionDuration(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	duration, err := obs.NewCallDuration(mp.Meter("test"), "payment.session.duration", "gateway session latency")
	require.NoError(t, err)

	svc := &payment.Service{Provider: slowProvider{}, Timeout: 10 * time.Millisecond, Logger: zerolog.Nop(), Duration: duration}
	_, err = svc.CreateSession(ctx, payment.SessionRequest{Reference: "chk-1", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	hist := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	dp := hist.DataPoints[0]
	require.Equal(t, uint64(1), dp.Count)
	result, _ := dp.Attributes.Value(attribute.Key("result"))
	require.Equal(t, "timeout", result.AsString())
	provider, _ := dp.Attributes.Value(attribute.Key("provider"))
	require.Equal(t, "slow", provider.AsString())
}
