package ports

import (
	"context"
	"errors"
	"time"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
)

var (
	// ErrNotFound indicates the aspect (or version) was never written.
	ErrNotFound = errors.New("aspect not found")
	// ErrConflict indicates another writer advanced the version first.
	ErrConflict = errors.New("aspect version conflict")
	// ErrUnavailable indicates a transient infrastructure fault.
	ErrUnavailable = errors.New("aspect store unavailable")
)

// OutboxFilter narrows the staged events returned by PendingOutbox.
type OutboxFilter struct {
	// EntityUrn restricts results to one entity when set.
	EntityUrn *domain.EntityUrn
	Limit     int
}

// OutboxSummary reports staged-but-unpublished depth.
type OutboxSummary struct {
	Pending        int
	OldestStagedAt time.Time
}

// AspectStore is the durable source of truth for aspect versions. CommitVersion
// is a storage-level compare-and-swap: it succeeds only when the stored head
// version still equals expected (nil meaning "never written") and it stages the
// audit event in the outbox inside the same transaction.
type AspectStore interface {
	Latest(ctx context.Context, key domain.AspectKey) (*domain.VersionedAspect, error)
	Get(ctx context.Context, key domain.AspectKey, version int64) (*domain.VersionedAspect, error)
	History(ctx context.Context, key domain.AspectKey) ([]*domain.VersionedAspect, error)
	CommitVersion(ctx context.Context, expected *int64, next domain.VersionedAspect, event domain.AuditEvent) error

	// PendingOutbox returns staged events in staging order.
	PendingOutbox(ctx context.Context, filter OutboxFilter) ([]domain.AuditEvent, error)
	// MarkPublished removes an event from the pending set. Unknown ids are ignored.
	MarkPublished(ctx context.Context, eventID string) error
	// RecordPublishFailure bumps the attempt counter of a staged event.
	RecordPublishFailure(ctx context.Context, eventID string, reason string) error
	OutboxSummary(ctx context.Context) (OutboxSummary, error)
}
