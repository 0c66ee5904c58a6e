package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/adapters/memory"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	sums := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				key := m.Name
				if outcome, ok := dp.Attributes.Value("outcome"); ok {
					key += "/" + outcome.AsString()
				}
				sums[key] += dp.Value
			}
		}
	}
	return sums
}

func TestHandlerRecordsOutcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	spans := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)).Tracer("test")

	calls := 0
	inner := ports.HandlerFunc(func(context.Context, domain.LogRecord) error {
		calls++
		switch calls {
		case 1:
			return nil
		case 2:
			return errors.New("index offline")
		default:
			return domain.Permanent(errors.New("unparseable payload"))
		}
	})
	h := NewHandler("search-index", inner, WithMeter(meter), WithTracer(tracer))

	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, domain.LogRecord{Offset: 0}))
	require.Error(t, h.Handle(ctx, domain.LogRecord{Offset: 1}))
	err := h.Handle(ctx, domain.LogRecord{Offset: 2})
	require.Equal(t, domain.FailurePermanent, domain.Classify(err))

	sums := collectSums(t, reader)
	require.Equal(t, int64(1), sums["catalog.consumer.events/applied"])
	require.Equal(t, int64(1), sums["catalog.consumer.events/TRANSIENT"])
	require.Equal(t, int64(1), sums["catalog.consumer.events/PERMANENT"])
	require.Len(t, spans.Ended(), 3)
}

func TestDeadLetterStoreCounts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	store := NewDeadLetterStore(memory.NewDeadLetterStore(), WithMeter(meter))

	ctx := context.Background()
	letter := domain.DeadLetter{ID: "dl-1", Group: "graph-index"}
	require.NoError(t, store.Put(ctx, letter))
	got, err := store.Get(ctx, "dl-1")
	require.NoError(t, err)
	require.False(t, got.Resolved())

	sums := collectSums(t, reader)
	require.Equal(t, int64(1), sums["catalog.consumer.dead_lettered"])
	require.Zero(t, sums["catalog.consumer.replayed"])
}
