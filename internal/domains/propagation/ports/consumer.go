package ports

import (
	"context"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
)

// Handler applies one record to a materialized view. Implementations must be
// idempotent and classify failures with domain.Transient / domain.Permanent.
type Handler interface {
	Handle(ctx context.Context, record domain.LogRecord) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, record domain.LogRecord) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, record domain.LogRecord) error {
	return f(ctx, record)
}

// Admin is the operator surface of the dispatcher.
type Admin interface {
	DeadLetters(ctx context.Context, group string) ([]domain.DeadLetter, error)
	Replay(ctx context.Context, id string) (*domain.DeadLetter, error)
	Lag(ctx context.Context) ([]domain.PartitionLag, error)
}
