package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

const (
	defaultSweepBatch          = 100
	defaultRelayStorageTimeout = 5 * time.Second
)

// OutboxRelay moves staged audit events from the Aspect Store to the event
// log. Events of one entity are published strictly in staging order: a failed
// publish stops that entity's batch so a later event can never overtake it.
type OutboxRelay struct {
	store     ports.AspectStore
	publisher ports.EventPublisher
	limiter   *rate.Limiter
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger
}

// RelayOption customizes the relay.
type RelayOption func(*OutboxRelay)

// WithSweepRate throttles sweep re-publishing to perSecond events.
func WithSweepRate(perSecond float64) RelayOption {
	return func(r *OutboxRelay) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithBatchSize bounds how many staged events one sweep reads.
func WithBatchSize(n int) RelayOption {
	return func(r *OutboxRelay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithRelayStorageTimeout bounds each outbox read and status update.
func WithRelayStorageTimeout(d time.Duration) RelayOption {
	return func(r *OutboxRelay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRelayLogger injects a slog logger.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *OutboxRelay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewOutboxRelay wires the relay.
func NewOutboxRelay(store ports.AspectStore, publisher ports.EventPublisher, opts ...RelayOption) *OutboxRelay {
	r := &OutboxRelay{
		store:     store,
		publisher: publisher,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		batchSize: defaultSweepBatch,
		timeout:   defaultRelayStorageTimeout,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Flush publishes every staged event of one entity.
func (r *OutboxRelay) Flush(ctx context.Context, urn domain.EntityUrn) error {
	events, err := r.pending(ctx, ports.OutboxFilter{EntityUrn: &urn})
	if err != nil {
		return err
	}
	for _, event := range events {
		if err := r.publishOne(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Published int
	Failed    int
}

// Sweep re-publishes one batch of staged events across all entities.
func (r *OutboxRelay) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	events, err := r.pending(ctx, ports.OutboxFilter{Limit: r.batchSize})
	if err != nil {
		return result, err
	}
	blocked := map[string]bool{}
	for _, event := range events {
		urn := event.EntityUrn.String()
		if blocked[urn] {
			continue
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return result, err
		}
		if err := r.publishOne(ctx, event); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			blocked[urn] = true
			result.Failed++
			continue
		}
		result.Published++
	}
	if result.Published > 0 || result.Failed > 0 {
		r.logger.InfoContext(ctx, "outbox sweep",
			slog.Int("published", result.Published),
			slog.Int("failed", result.Failed))
	}
	return result, nil
}

// Run sweeps every interval until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.ErrorContext(ctx, "outbox sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *OutboxRelay) pending(ctx context.Context, filter ports.OutboxFilter) ([]domain.AuditEvent, error) {
	readCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.store.PendingOutbox(readCtx, filter)
}

// publishOne publishes event and records the outcome. The status update
// survives caller cancellation but not the storage timeout.
func (r *OutboxRelay) publishOne(ctx context.Context, event domain.AuditEvent) error {
	err := r.publisher.Publish(ctx, event)
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err != nil {
		if recErr := r.store.RecordPublishFailure(updateCtx, event.ID, err.Error()); recErr != nil {
			r.logger.WarnContext(ctx, "record publish failure", slog.String("event.id", event.ID), slog.String("error", recErr.Error()))
		}
		return err
	}
	return r.store.MarkPublished(updateCtx, event.ID)
}
