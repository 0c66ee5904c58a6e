package observability

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application"
	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

const tracerName = "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/observability/service"

// Service decorates the aspects application port with tracing, logging, and metrics.
type Service struct {
	inner   ports.Service
	tracer  trace.Tracer
	logger  *slog.Logger
	metrics serviceMetrics
}

type Option func(*Service)

// WithLogger injects a slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithTracer injects a tracer implementation.
func WithTracer(tr trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tr
	}
}

// WithMeter injects the meter used to create service metrics instruments.
func WithMeter(m metric.Meter) Option {
	return func(s *Service) {
		s.metrics = newServiceMetrics(m)
	}
}

// New wires a decorator around the core service.
func New(inner ports.Service, opts ...Option) ports.Service {
	s := &Service{
		inner:   inner,
		tracer:  nooptrace.NewTracerProvider().Tracer(tracerName),
		logger:  defaultLogger(),
		metrics: newServiceMetrics(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.tracer == nil {
		s.tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	if s.logger == nil {
		s.logger = defaultLogger()
	}
	return s
}

// Submit validates and applies a proposal with instrumentation.
func (s *Service) Submit(ctx context.Context, input types.SubmitProposalInput) (*types.SubmitResult, error) {
	p := input.Proposal
	ctx, span := s.startSpan(ctx, "Service.Submit",
		attribute.String("entity.urn", p.EntityUrn.String()),
		attribute.String("aspect.name", p.AspectName),
		attribute.String("change.type", string(p.ChangeType)),
	)
	defer span.End()

	attrs := []slog.Attr{
		slog.String("urn", p.EntityUrn.String()),
		slog.String("aspect", p.AspectName),
		slog.String("change_type", string(p.ChangeType)),
	}
	s.logInfo(ctx, "submitting proposal", attrs...)
	result, err := s.inner.Submit(ctx, input)
	if err != nil {
		reason := "error"
		if r, ok := application.RejectionOf(err); ok {
			reason = string(r.Reason)
		}
		s.metrics.recordRejected(ctx, p.AspectName, reason)
		return nil, s.handleError(ctx, span, err, "proposal rejected", append(attrs, slog.String("reason", reason))...)
	}
	span.SetAttributes(attribute.Int64("aspect.version", result.Version), attribute.Bool("replayed", result.Replayed))
	if !result.Replayed {
		s.metrics.recordApplied(ctx, p.AspectName, string(p.ChangeType))
	}
	s.logInfo(ctx, "proposal applied", append(attrs,
		slog.Int64("version", result.Version),
		slog.String("event_id", result.EventID),
		slog.Bool("replayed", result.Replayed),
	)...)
	return result, nil
}

// Latest loads the current version of an aspect.
func (s *Service) Latest(ctx context.Context, key domain.AspectKey) (*domain.VersionedAspect, error) {
	ctx, span := s.startSpan(ctx, "Service.Latest", keyAttrs(key)...)
	defer span.End()

	result, err := s.inner.Latest(ctx, key)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to load aspect", slog.String("key", key.String()))
	}
	return result, nil
}

// GetVersion loads one historical version.
func (s *Service) GetVersion(ctx context.Context, key domain.AspectKey, version int64) (*domain.VersionedAspect, error) {
	ctx, span := s.startSpan(ctx, "Service.GetVersion", append(keyAttrs(key), attribute.Int64("aspect.version", version))...)
	defer span.End()

	result, err := s.inner.GetVersion(ctx, key, version)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to load aspect version", slog.String("key", key.String()), slog.Int64("version", version))
	}
	return result, nil
}

// History lists every version of an aspect.
func (s *Service) History(ctx context.Context, key domain.AspectKey) ([]*domain.VersionedAspect, error) {
	ctx, span := s.startSpan(ctx, "Service.History", keyAttrs(key)...)
	defer span.End()

	result, err := s.inner.History(ctx, key)
	if err != nil {
		return nil, s.handleError(ctx, span, err, "failed to load aspect history", slog.String("key", key.String()))
	}
	span.SetAttributes(attribute.Int("aspect.history.count", len(result)))
	return result, nil
}

// OutboxSummary reports staged events not yet published.
func (s *Service) OutboxSummary(ctx context.Context) (ports.OutboxSummary, error) {
	ctx, span := s.startSpan(ctx, "Service.OutboxSummary")
	defer span.End()

	result, err := s.inner.OutboxSummary(ctx)
	if err != nil {
		return ports.OutboxSummary{}, s.handleError(ctx, span, err, "failed to summarize outbox")
	}
	span.SetAttributes(attribute.Int("outbox.pending", result.Pending))
	return result, nil
}

func keyAttrs(key domain.AspectKey) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("entity.urn", key.EntityUrn.String()),
		attribute.String("aspect.name", key.AspectName),
	}
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := s.tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer(tracerName)
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (s *Service) logInfo(ctx context.Context, msg string, attrs ...slog.Attr) {
	if s.logger == nil {
		return
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

func (s *Service) logError(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if s.logger == nil {
		return
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.LogAttrs(ctx, slog.LevelError, msg, attrs...)
}

func (s *Service) handleError(ctx context.Context, span trace.Span, err error, msg string, attrs ...slog.Attr) error {
	if err == nil {
		return nil
	}
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	s.logError(ctx, msg, err, attrs...)
	return err
}

func defaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type serviceMetrics struct {
	applied  metric.Int64Counter
	rejected metric.Int64Counter
}

func newServiceMetrics(m metric.Meter) serviceMetrics {
	if m == nil {
		return serviceMetrics{}
	}
	applied, _ := m.Int64Counter("catalog.proposals.applied", metric.WithDescription("Number of proposals applied as new aspect versions"))
	rejected, _ := m.Int64Counter("catalog.proposals.rejected", metric.WithDescription("Number of proposals rejected"))
	return serviceMetrics{applied: applied, rejected: rejected}
}

func (m serviceMetrics) recordApplied(ctx context.Context, aspect, changeType string) {
	addCounter(ctx, m.applied, 1, attribute.String("aspect.name", aspect), attribute.String("change.type", changeType))
}

func (m serviceMetrics) recordRejected(ctx context.Context, aspect, reason string) {
	addCounter(ctx, m.rejected, 1, attribute.String("aspect.name", aspect), attribute.String("reason", reason))
}

func addCounter(ctx context.Context, counter metric.Int64Counter, value int64, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(attrs...))
}

var _ ports.Service = (*Service)(nil)
