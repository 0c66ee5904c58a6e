package ports

import (
	"context"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
)

// EventPublisher appends audit events to the durable event log. Publish
// returns once the log has durably accepted the event, not once consumers
// processed it. Re-publishing an already accepted event is a no-op.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.AuditEvent) error
}
