package obs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestCallDurationRecords(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	d, err := NewCallDuration(mp.Meter("test"), "order.commit.duration", "order commit latency")
	require.NoError(t, err)
	d.Record(ctx, 250*time.Millisecond, "ok", attribute.String("provider", "midtrans"))
	d.Record(ctx, time.Second, "timeout")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	m := rm.ScopeMetrics[0].Metrics[0]
	require.Equal(t, "order.commit.duration", m.Name)
	require.Equal(t, "s", m.Unit)

	hist, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 2)
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	require.Equal(t, uint64(2), total)
}

func TestZeroCallDurationIsNoop(t *testing.T) {
	var d CallDuration
	d.Record(context.Background(), time.Second, "ok")
}

func TestTelemetryDisabledInstallsNothing(t *testing.T) {
	tel, err := StartTelemetry(context.Background(), TelemetryConfig{ServiceName: "test"})
	require.NoError(t, err)
	require.False(t, tel.Tracing)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestTelemetryRejectsUnknownExporter(t *testing.T) {
	_, err := StartTelemetry(context.Background(), TelemetryConfig{ServiceName: "test", TracingEnabled: true, TraceExporter: "zipkin"})
	require.Error(t, err)
}
