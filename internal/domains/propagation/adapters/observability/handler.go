package observability

import (
	"context"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

const tracerName = "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/adapters/observability/handler"

type settings struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics consumerMetrics
}

type Option func(*settings)

// WithLogger injects a slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithTracer injects a tracer implementation.
func WithTracer(tr trace.Tracer) Option {
	return func(s *settings) {
		s.tracer = tr
	}
}

// WithMeter injects the meter used to create consumer instruments.
func WithMeter(m metric.Meter) Option {
	return func(s *settings) {
		s.metrics = newConsumerMetrics(m)
	}
}

func newSettings(opts []Option) settings {
	s := settings{metrics: newConsumerMetrics(nil)}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Handler decorates a consumer group handler with a span per record, outcome
// counters, and an apply latency histogram.
type Handler struct {
	group string
	inner ports.Handler
	settings
}

// NewHandler wraps inner, labelling telemetry with the consumer group name.
func NewHandler(group string, inner ports.Handler, opts ...Option) *Handler {
	return &Handler{group: group, inner: inner, settings: newSettings(opts)}
}

// Handle applies record through the wrapped handler.
func (h *Handler) Handle(ctx context.Context, record domain.LogRecord) error {
	ctx, span := h.tracer.Start(ctx, "Consumer.Handle", trace.WithAttributes(
		attribute.String("consumer.group", h.group),
		attribute.Int("log.partition", int(record.Partition)),
		attribute.Int64("log.offset", int64(record.Offset)),
		attribute.String("event.id", record.Event.ID),
		attribute.String("entity.urn", record.Event.EntityUrn.String()),
		attribute.String("aspect.name", record.Event.AspectName),
	))
	defer span.End()

	started := time.Now()
	err := h.inner.Handle(ctx, record)
	h.metrics.recordLatency(ctx, h.group, time.Since(started))
	if err == nil {
		h.metrics.recordOutcome(ctx, h.group, "applied")
		return nil
	}

	kind := domain.Classify(err)
	h.metrics.recordOutcome(ctx, h.group, string(kind))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	level := slog.LevelWarn
	if kind == domain.FailurePermanent {
		level = slog.LevelError
	}
	h.logger.LogAttrs(ctx, level, "event apply failed",
		slog.String("group", h.group),
		slog.Int("partition", int(record.Partition)),
		slog.Int64("offset", int64(record.Offset)),
		slog.String("event_id", record.Event.ID),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
	return err
}

// DeadLetterStore counts quarantined and replayed events on their way to the store.
type DeadLetterStore struct {
	inner ports.DeadLetterStore
	settings
}

// NewDeadLetterStore wraps inner.
func NewDeadLetterStore(inner ports.DeadLetterStore, opts ...Option) *DeadLetterStore {
	return &DeadLetterStore{inner: inner, settings: newSettings(opts)}
}

// Put records the letter and counts it as dead-lettered or replayed.
func (s *DeadLetterStore) Put(ctx context.Context, letter domain.DeadLetter) error {
	if err := s.inner.Put(ctx, letter); err != nil {
		return err
	}
	if letter.Resolved() {
		addCounter(ctx, s.metrics.replayed, 1, attribute.String("consumer.group", letter.Group))
		return nil
	}
	addCounter(ctx, s.metrics.deadLettered, 1, attribute.String("consumer.group", letter.Group))
	return nil
}

func (s *DeadLetterStore) Get(ctx context.Context, id string) (*domain.DeadLetter, error) {
	return s.inner.Get(ctx, id)
}

func (s *DeadLetterStore) List(ctx context.Context, group string) ([]domain.DeadLetter, error) {
	return s.inner.List(ctx, group)
}

type consumerMetrics struct {
	outcomes     metric.Int64Counter
	deadLettered metric.Int64Counter
	replayed     metric.Int64Counter
	latency      metric.Float64Histogram
}

func newConsumerMetrics(m metric.Meter) consumerMetrics {
	if m == nil {
		return consumerMetrics{}
	}
	outcomes, _ := m.Int64Counter("catalog.consumer.events", metric.WithDescription("Handler outcomes per consumer group"))
	deadLettered, _ := m.Int64Counter("catalog.consumer.dead_lettered", metric.WithDescription("Events moved to the dead-letter store"))
	replayed, _ := m.Int64Counter("catalog.consumer.replayed", metric.WithDescription("Dead letters requeued by an operator"))
	latency, _ := m.Float64Histogram("catalog.consumer.apply_duration", metric.WithUnit("s"), metric.WithDescription("Handler apply latency"))
	return consumerMetrics{outcomes: outcomes, deadLettered: deadLettered, replayed: replayed, latency: latency}
}

func (m consumerMetrics) recordOutcome(ctx context.Context, group, outcome string) {
	addCounter(ctx, m.outcomes, 1, attribute.String("consumer.group", group), attribute.String("outcome", outcome))
}

func (m consumerMetrics) recordLatency(ctx context.Context, group string, d time.Duration) {
	if m.latency == nil {
		return
	}
	m.latency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("consumer.group", group)))
}

func addCounter(ctx context.Context, counter metric.Int64Counter, value int64, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

var (
	_ ports.Handler         = (*Handler)(nil)
	_ ports.DeadLetterStore = (*DeadLetterStore)(nil)
)
