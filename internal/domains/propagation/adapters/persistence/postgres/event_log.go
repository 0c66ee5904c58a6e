package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

// NotifyChannel is the LISTEN/NOTIFY channel appends are announced on.
const NotifyChannel = "catalog_audit_log"

// fallbackPoll is used by Wait when no listener is attached.
const fallbackPoll = 500 * time.Millisecond

var _ ports.EventLog = (*EventLog)(nil)

// ErrPartitionMismatch means the configured partition count differs from the
// count the stored log was created with. Keys would route to new partitions.
var ErrPartitionMismatch = errors.New("partition count does not match the stored log")

// EventLog stores the partitioned log in PostgreSQL. Appends serialize on the
// partition's head row; commits announce the partition via pg_notify.
type EventLog struct {
	db         *gorm.DB
	partitions int

	mu     sync.Mutex
	notify []chan struct{}
}

// NewEventLog wires a log with a fixed partition count.
func NewEventLog(db *gorm.DB, partitions int) *EventLog {
	if partitions < 1 {
		partitions = 1
	}
	l := &EventLog{db: db, partitions: partitions, notify: make([]chan struct{}, partitions)}
	for i := range l.notify {
		l.notify[i] = make(chan struct{})
	}
	return l
}

type logRecord struct {
	Partition  int32     `gorm:"primaryKey;column:log_partition;autoIncrement:false"`
	Offset     int64     `gorm:"primaryKey;column:log_offset;autoIncrement:false"`
	EventID    string    `gorm:"column:event_id;size:64;uniqueIndex"`
	Key        string    `gorm:"column:partition_key;size:512;index"`
	Event      string    `gorm:"column:event;type:jsonb"`
	AppendedAt time.Time `gorm:"column:appended_at"`
}

func (logRecord) TableName() string { return "audit_log" }

type headRecord struct {
	Partition  int32 `gorm:"primaryKey;column:log_partition;autoIncrement:false"`
	NextOffset int64 `gorm:"column:next_offset"`
}

func (headRecord) TableName() string { return "audit_log_heads" }

// metaRecord is the single row fixing the partition layout of the log.
type metaRecord struct {
	ID         int16     `gorm:"primaryKey;column:id;autoIncrement:false"`
	Partitions int32     `gorm:"column:partitions"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (metaRecord) TableName() string { return "audit_log_meta" }

// Pin records the partition count on first use and rejects a different count
// afterwards. A log created before the metadata row existed is checked
// against the highest partition it holds.
func (l *EventLog) Pin(ctx context.Context) error {
	if l == nil || l.db == nil {
		return errors.New("postgres event log not configured")
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxPartition sql.NullInt32
		if err := tx.Model(&headRecord{}).Select("MAX(log_partition)").Row().Scan(&maxPartition); err != nil {
			return err
		}
		if maxPartition.Valid && int(maxPartition.Int32) >= l.partitions {
			return fmt.Errorf("%w: configured %d, log holds partition %d", ErrPartitionMismatch, l.partitions, maxPartition.Int32)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&metaRecord{ID: 1, Partitions: int32(l.partitions), CreatedAt: time.Now().UTC()}).Error; err != nil {
			return err
		}
		var meta metaRecord
		if err := tx.First(&meta, "id = ?", 1).Error; err != nil {
			return err
		}
		if int(meta.Partitions) != l.partitions {
			return fmt.Errorf("%w: configured %d, stored %d", ErrPartitionMismatch, l.partitions, meta.Partitions)
		}
		return nil
	})
}

// Partitions returns the partition count.
func (l *EventLog) Partitions() int { return l.partitions }

// Append inserts the event at the partition head unless its id is already stored.
func (l *EventLog) Append(ctx context.Context, partition domain.Partition, key string, event aspects.AuditEvent) (domain.LogRecord, error) {
	if err := l.check(partition); err != nil {
		return domain.LogRecord{}, err
	}
	encoded, err := json.Marshal(event)
	if err != nil {
		return domain.LogRecord{}, err
	}
	var stored logRecord
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&headRecord{Partition: int32(partition)}).Error; err != nil {
			return err
		}
		var head headRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&head, "log_partition = ?", int32(partition)).Error; err != nil {
			return err
		}
		err := tx.First(&stored, "event_id = ?", event.ID).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		stored = logRecord{
			Partition:  int32(partition),
			Offset:     head.NextOffset,
			EventID:    event.ID,
			Key:        key,
			Event:      string(encoded),
			AppendedAt: time.Now().UTC(),
		}
		if err := tx.Create(&stored).Error; err != nil {
			return err
		}
		if err := tx.Model(&headRecord{}).Where("log_partition = ?", int32(partition)).
			Update("next_offset", head.NextOffset+1).Error; err != nil {
			return err
		}
		return tx.Exec("SELECT pg_notify(?, ?)", NotifyChannel, strconv.Itoa(int(partition))).Error
	})
	if err != nil {
		return domain.LogRecord{}, err
	}
	return stored.toDomain()
}

// Read returns records in offset order.
func (l *EventLog) Read(ctx context.Context, partition domain.Partition, from domain.Offset, limit int) ([]domain.LogRecord, error) {
	if err := l.check(partition); err != nil {
		return nil, err
	}
	query := l.db.WithContext(ctx).
		Where("log_partition = ? AND log_offset >= ?", int32(partition), int64(from)).
		Order("log_offset ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []logRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]domain.LogRecord, 0, len(rows))
	for _, row := range rows {
		record, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// Head returns the next offset to be assigned.
func (l *EventLog) Head(ctx context.Context, partition domain.Partition) (domain.Offset, error) {
	if err := l.check(partition); err != nil {
		return 0, err
	}
	var head headRecord
	err := l.db.WithContext(ctx).First(&head, "log_partition = ?", int32(partition)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return domain.Offset(head.NextOffset), nil
}

// Wait blocks until the partition reaches from+1 records. Wake-ups come from
// Listen; without a listener the head is polled.
func (l *EventLog) Wait(ctx context.Context, partition domain.Partition, from domain.Offset) error {
	if err := l.check(partition); err != nil {
		return err
	}
	for {
		l.mu.Lock()
		ch := l.notify[partition]
		l.mu.Unlock()

		head, err := l.Head(ctx, partition)
		if err != nil {
			return err
		}
		if head > from {
			return nil
		}
		timer := time.NewTimer(fallbackPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-ch:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// Listen forwards notifications from listener to waiters until ctx ends. A nil
// notification means the connection was re-established and wakes everyone.
func (l *EventLog) Listen(ctx context.Context, listener *pq.Listener) error {
	if err := listener.Listen(NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	defer func() { _ = listener.UnlistenAll() }()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			if n == nil {
				l.wakeAll()
				continue
			}
			p, err := strconv.Atoi(n.Extra)
			if err != nil || p < 0 || p >= l.partitions {
				l.wakeAll()
				continue
			}
			l.wake(p)
		case <-time.After(90 * time.Second):
			_ = listener.Ping()
		}
	}
}

func (l *EventLog) wake(p int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	close(l.notify[p])
	l.notify[p] = make(chan struct{})
}

func (l *EventLog) wakeAll() {
	for p := 0; p < l.partitions; p++ {
		l.wake(p)
	}
}

func (l *EventLog) check(partition domain.Partition) error {
	if l == nil || l.db == nil {
		return errors.New("postgres event log not configured")
	}
	if partition < 0 || int(partition) >= l.partitions {
		return fmt.Errorf("%w: %d", ports.ErrUnknownPartition, partition)
	}
	return nil
}

func (r logRecord) toDomain() (domain.LogRecord, error) {
	var event aspects.AuditEvent
	if err := json.Unmarshal([]byte(r.Event), &event); err != nil {
		return domain.LogRecord{}, fmt.Errorf("decode log record %d/%d: %w", r.Partition, r.Offset, err)
	}
	return domain.LogRecord{
		Partition:  domain.Partition(r.Partition),
		Offset:     domain.Offset(r.Offset),
		Key:        r.Key,
		Event:      event,
		AppendedAt: r.AppendedAt.UTC(),
	}, nil
}
