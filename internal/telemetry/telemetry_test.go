package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordGeneration(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordGeneration(ctx, "fast", "success", 1500*time.Millisecond)
	m.RecordGeneration(ctx, "fast", "success", time.Second)
	m.RecordGeneration(ctx, "pro", "refused", time.Second)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, md := range rm.ScopeMetrics[0].Metrics {
		byName[md.Name] = md
	}

	counter, ok := byName["studio.generations"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	total := int64(0)
	for _, dp := range counter.DataPoints {
		total += dp.Value
		outcome, _ := dp.Attributes.Value("outcome")
		if outcome.AsString() == "success" {
			assert.Equal(t, int64(2), dp.Value)
		}
	}
	assert.Equal(t, int64(3), total)

	hist, ok := byName["studio.generation.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2)
}

func TestInitWithoutEndpoint(t *testing.T) {
	p, err := Init(context.Background(), Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, err = NewMetrics(p.Meter())
	assert.NoError(t, err)
}
