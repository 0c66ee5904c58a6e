package ports

import (
	"context"
	"errors"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
)

// ErrUnknownPartition is returned for partitions outside [0, Partitions()).
var ErrUnknownPartition = errors.New("unknown partition")

// EventLog is a durable, partitioned, append-only log of audit events.
type EventLog interface {
	Partitions() int
	// Append adds event at the end of partition. Appending an event id that is
	// already in the log returns the existing record unchanged.
	Append(ctx context.Context, partition domain.Partition, key string, event aspects.AuditEvent) (domain.LogRecord, error)
	// Read returns up to limit records starting at from, in offset order.
	Read(ctx context.Context, partition domain.Partition, from domain.Offset, limit int) ([]domain.LogRecord, error)
	// Head returns the offset the next append will receive.
	Head(ctx context.Context, partition domain.Partition) (domain.Offset, error)
	// Wait blocks until the partition holds a record at offset from or ctx ends.
	Wait(ctx context.Context, partition domain.Partition, from domain.Offset) error
}

// CheckpointStore persists consumer progress. Commit never moves a checkpoint backwards.
type CheckpointStore interface {
	Load(ctx context.Context, group string, partition domain.Partition) (domain.Checkpoint, error)
	Commit(ctx context.Context, checkpoint domain.Checkpoint) error
}

// DeadLetterStore keeps quarantined events for inspection and replay.
type DeadLetterStore interface {
	// Put inserts or replaces the dead letter with the same id.
	Put(ctx context.Context, letter domain.DeadLetter) error
	Get(ctx context.Context, id string) (*domain.DeadLetter, error)
	// List returns dead letters of group (all groups when empty), oldest first.
	List(ctx context.Context, group string) ([]domain.DeadLetter, error)
}
