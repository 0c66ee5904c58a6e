package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	aspectports "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

var _ aspectports.EventPublisher = (*Publisher)(nil)

// Publisher appends audit events to the log partitioned by entity urn.
type Publisher struct {
	log         ports.EventLog
	partitioner Partitioner
	policy      RetryPolicy
	timeout     time.Duration
	logger      *slog.Logger
}

// PublisherOption customizes a Publisher.
type PublisherOption func(*Publisher)

// WithPublishRetry overrides the retry policy for transient append failures.
func WithPublishRetry(policy RetryPolicy) PublisherOption {
	return func(p *Publisher) {
		p.policy = policy
	}
}

// WithPublishTimeout bounds each append attempt.
func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithPublisherLogger injects a slog logger.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher wires a publisher over log.
func NewPublisher(log ports.EventLog, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		log:         log,
		partitioner: NewPartitioner(log.Partitions()),
		policy:      RetryPolicy{InitialInterval: 50 * time.Millisecond, MaxInterval: time.Second, Multiplier: 2, MaxAttempts: 3},
		timeout:     5 * time.Second,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Publish returns once the log durably accepted the event. After the retry
// budget is spent the error wraps aspects ports.ErrUnavailable.
func (p *Publisher) Publish(ctx context.Context, event aspects.AuditEvent) error {
	key := event.EntityUrn.String()
	partition := p.partitioner.Partition(key)
	attempt := 0
	op := func() error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		_, err := p.log.Append(attemptCtx, partition, key, event)
		if errors.Is(err, ports.ErrUnknownPartition) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(p.policy.bounded(), ctx)); err != nil {
		p.logger.WarnContext(ctx, "publish failed",
			slog.String("event.id", event.ID),
			slog.String("urn", key),
			slog.Int("partition", int(partition)),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: publish %s: %v", aspectports.ErrUnavailable, event.ID, err)
	}
	return nil
}
