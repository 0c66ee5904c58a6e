package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

var _ ports.EventLog = (*EventLog)(nil)

// EventLog is an in-process partitioned log. Waiters block on a per-partition
// channel that is closed and replaced on every append.
type EventLog struct {
	mu         sync.RWMutex
	partitions [][]domain.LogRecord
	byID       map[string]domain.LogRecord
	notify     []chan struct{}
	now        func() time.Time
	failAppend error
}

// NewEventLog creates a log with n partitions.
func NewEventLog(n int) *EventLog {
	if n < 1 {
		n = 1
	}
	l := &EventLog{
		partitions: make([][]domain.LogRecord, n),
		byID:       map[string]domain.LogRecord{},
		notify:     make([]chan struct{}, n),
		now:        time.Now,
	}
	for i := range l.notify {
		l.notify[i] = make(chan struct{})
	}
	return l
}

// FailAppends makes appends fail with err until called with nil.
func (l *EventLog) FailAppends(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failAppend = err
}

// Partitions returns the partition count.
func (l *EventLog) Partitions() int {
	return len(l.partitions)
}

// Append adds the event unless its id is already present.
func (l *EventLog) Append(_ context.Context, partition domain.Partition, key string, event aspects.AuditEvent) (domain.LogRecord, error) {
	if err := l.check(partition); err != nil {
		return domain.LogRecord{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAppend != nil {
		return domain.LogRecord{}, l.failAppend
	}
	if existing, ok := l.byID[event.ID]; ok {
		return existing, nil
	}
	record := domain.LogRecord{
		Partition:  partition,
		Offset:     domain.Offset(len(l.partitions[partition])),
		Key:        key,
		Event:      event,
		AppendedAt: l.now().UTC(),
	}
	l.partitions[partition] = append(l.partitions[partition], record)
	l.byID[event.ID] = record
	close(l.notify[partition])
	l.notify[partition] = make(chan struct{})
	return record, nil
}

// Read returns records from offset from.
func (l *EventLog) Read(_ context.Context, partition domain.Partition, from domain.Offset, limit int) ([]domain.LogRecord, error) {
	if err := l.check(partition); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	records := l.partitions[partition]
	if from < 0 {
		from = 0
	}
	if int(from) >= len(records) {
		return nil, nil
	}
	end := len(records)
	if limit > 0 && int(from)+limit < end {
		end = int(from) + limit
	}
	return append([]domain.LogRecord(nil), records[from:end]...), nil
}

// Head returns the next offset to be written.
func (l *EventLog) Head(_ context.Context, partition domain.Partition) (domain.Offset, error) {
	if err := l.check(partition); err != nil {
		return 0, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return domain.Offset(len(l.partitions[partition])), nil
}

// Wait blocks until a record exists at from.
func (l *EventLog) Wait(ctx context.Context, partition domain.Partition, from domain.Offset) error {
	if err := l.check(partition); err != nil {
		return err
	}
	for {
		l.mu.RLock()
		ready := int(from) < len(l.partitions[partition])
		ch := l.notify[partition]
		l.mu.RUnlock()
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (l *EventLog) check(partition domain.Partition) error {
	if partition < 0 || int(partition) >= len(l.partitions) {
		return fmt.Errorf("%w: %d", ports.ErrUnknownPartition, partition)
	}
	return nil
}
