package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

var _ ports.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore persists proposal idempotency keys in PostgreSQL.
type IdempotencyStore struct {
	db        *gorm.DB
	retention time.Duration
}

// NewIdempotencyStore wires a PostgreSQL-backed idempotency store. Keys older
// than retention are treated as unknown; zero keeps them forever.
func NewIdempotencyStore(db *gorm.DB, retention time.Duration) *IdempotencyStore {
	return &IdempotencyStore{db: db, retention: retention}
}

// Get loads a record by key, returning nil when absent.
func (s *IdempotencyStore) Get(ctx context.Context, key string) (*ports.IdempotencyRecord, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var record idempotencyRecord
	if err := s.db.WithContext(ctx).First(&record, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translate(err, key)
	}
	found := toPortRecord(&record)
	if ports.IdempotencyExpired(*found, s.retention, time.Now().UTC()) {
		return nil, nil
	}
	return found, nil
}

// Save inserts the record. When the key already exists the stored record is
// returned, with ErrIdempotencyConflict if it belongs to a different proposal.
func (s *IdempotencyStore) Save(ctx context.Context, record ports.IdempotencyRecord) (*ports.IdempotencyRecord, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	dbRecord := toDBRecord(record)
	result := s.db.WithContext(ctx).Clauses(s.onConflict(now)).Create(&dbRecord)
	if result.Error != nil {
		return nil, translate(result.Error, record.Key)
	}
	if result.RowsAffected == 1 {
		return toPortRecord(&dbRecord), nil
	}
	existing, err := s.Get(ctx, record.Key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.New("idempotency key vanished after conflict")
	}
	if existing.RequestHash != record.RequestHash {
		return existing, ports.ErrIdempotencyConflict
	}
	return existing, nil
}

// onConflict keeps a live key and takes over an expired one in the same statement.
func (s *IdempotencyStore) onConflict(now time.Time) clause.OnConflict {
	if s.retention <= 0 {
		return clause.OnConflict{DoNothing: true}
	}
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"request_hash", "urn", "aspect", "version", "event_id", "created_at", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "proposal_idempotency_keys.created_at <= ?", Vars: []any{now.Add(-s.retention)}},
		}},
	}
}

func (s *IdempotencyStore) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres idempotency store not configured")
	}
	return nil
}

type idempotencyRecord struct {
	Key         string    `gorm:"primaryKey;column:key;size:255"`
	RequestHash string    `gorm:"column:request_hash;size:128"`
	Urn         string    `gorm:"column:urn;size:512"`
	Aspect      string    `gorm:"column:aspect;size:128"`
	Version     int64     `gorm:"column:version"`
	EventID     string    `gorm:"column:event_id;size:64"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (idempotencyRecord) TableName() string { return "proposal_idempotency_keys" }

func toDBRecord(rec ports.IdempotencyRecord) idempotencyRecord {
	return idempotencyRecord{
		Key:         rec.Key,
		RequestHash: rec.RequestHash,
		Urn:         rec.EntityUrn,
		Aspect:      rec.AspectName,
		Version:     rec.Version,
		EventID:     rec.EventID,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

func toPortRecord(rec *idempotencyRecord) *ports.IdempotencyRecord {
	if rec == nil {
		return nil
	}
	return &ports.IdempotencyRecord{
		Key:         rec.Key,
		RequestHash: rec.RequestHash,
		EntityUrn:   rec.Urn,
		AspectName:  rec.Aspect,
		Version:     rec.Version,
		EventID:     rec.EventID,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}
