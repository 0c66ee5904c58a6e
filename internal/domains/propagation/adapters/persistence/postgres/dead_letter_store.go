package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

var _ ports.DeadLetterStore = (*DeadLetterStore)(nil)

// DeadLetterStore persists quarantined events in PostgreSQL.
type DeadLetterStore struct {
	db *gorm.DB
}

// NewDeadLetterStore wires the store.
func NewDeadLetterStore(db *gorm.DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

type deadLetterRecord struct {
	ID            string                 `gorm:"primaryKey;column:id;size:64"`
	Group         string                 `gorm:"column:consumer_group;size:128;index"`
	Partition     int32                  `gorm:"column:log_partition"`
	Offset        int64                  `gorm:"column:log_offset"`
	EventID       string                 `gorm:"column:event_id;size:64;index"`
	Record        string                 `gorm:"column:record;type:jsonb"`
	Failures      []domain.FailureRecord `gorm:"column:failures;serializer:json"`
	Reasons       pq.StringArray         `gorm:"column:reasons;type:text[]"`
	QuarantinedAt time.Time              `gorm:"column:quarantined_at;index"`
	ReplayedAt    *time.Time             `gorm:"column:replayed_at"`
}

func (deadLetterRecord) TableName() string { return "dead_letters" }

// Put upserts by id.
func (s *DeadLetterStore) Put(ctx context.Context, letter domain.DeadLetter) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	record, err := toDeadLetterRecord(letter)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"failures", "reasons", "quarantined_at", "replayed_at"}),
	}).Create(&record).Error
}

// Get loads one dead letter.
func (s *DeadLetterStore) Get(ctx context.Context, id string) (*domain.DeadLetter, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var record deadLetterRecord
	if err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDeadLetterNotFound, id)
		}
		return nil, err
	}
	letter, err := record.toDomain()
	if err != nil {
		return nil, err
	}
	return &letter, nil
}

// List returns dead letters oldest first.
func (s *DeadLetterStore) List(ctx context.Context, group string) ([]domain.DeadLetter, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Order("quarantined_at ASC, id ASC")
	if group != "" {
		query = query.Where("consumer_group = ?", group)
	}
	var records []deadLetterRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	letters := make([]domain.DeadLetter, 0, len(records))
	for _, record := range records {
		letter, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

func (s *DeadLetterStore) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres dead letter store not configured")
	}
	return nil
}

func toDeadLetterRecord(letter domain.DeadLetter) (deadLetterRecord, error) {
	encoded, err := json.Marshal(letter.Record)
	if err != nil {
		return deadLetterRecord{}, err
	}
	reasons := make(pq.StringArray, 0, len(letter.Failures))
	for _, f := range letter.Failures {
		reasons = append(reasons, f.Reason)
	}
	return deadLetterRecord{
		ID:            letter.ID,
		Group:         letter.Group,
		Partition:     int32(letter.Record.Partition),
		Offset:        int64(letter.Record.Offset),
		EventID:       letter.Record.Event.ID,
		Record:        string(encoded),
		Failures:      letter.Failures,
		Reasons:       reasons,
		QuarantinedAt: letter.QuarantinedAt,
		ReplayedAt:    letter.ReplayedAt,
	}, nil
}

func (r deadLetterRecord) toDomain() (domain.DeadLetter, error) {
	var record domain.LogRecord
	if err := json.Unmarshal([]byte(r.Record), &record); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("decode dead letter %s: %w", r.ID, err)
	}
	letter := domain.DeadLetter{
		ID:            r.ID,
		Group:         r.Group,
		Record:        record,
		Failures:      r.Failures,
		QuarantinedAt: r.QuarantinedAt.UTC(),
	}
	if r.ReplayedAt != nil {
		at := r.ReplayedAt.UTC()
		letter.ReplayedAt = &at
	}
	return letter, nil
}
