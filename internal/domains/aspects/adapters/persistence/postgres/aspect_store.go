package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

var _ ports.AspectStore = (*AspectStore)(nil)

// AspectStore persists aspect versions and the outbox in PostgreSQL. The
// aspect_heads row is the compare-and-swap target; the primary key on
// aspect_versions backs it up.
type AspectStore struct {
	db *gorm.DB
}

// NewAspectStore wires a PostgreSQL-backed store. Caller manages DB lifecycle
// and runs migrations.
func NewAspectStore(db *gorm.DB) *AspectStore {
	return &AspectStore{db: db}
}

type aspectVersionRecord struct {
	Urn        string    `gorm:"primaryKey;column:urn;size:512"`
	Aspect     string    `gorm:"primaryKey;column:aspect;size:128"`
	Version    int64     `gorm:"primaryKey;column:version;autoIncrement:false"`
	EntityType string    `gorm:"column:entity_type;size:128;index"`
	Payload    *string   `gorm:"column:payload;type:jsonb"`
	Deleted    bool      `gorm:"column:deleted"`
	ProducerID string    `gorm:"column:producer_id;size:128"`
	RunID      string    `gorm:"column:run_id;size:128"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (aspectVersionRecord) TableName() string { return "aspect_versions" }

type aspectHeadRecord struct {
	Urn       string    `gorm:"primaryKey;column:urn;size:512"`
	Aspect    string    `gorm:"primaryKey;column:aspect;size:128"`
	Version   int64     `gorm:"column:version"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (aspectHeadRecord) TableName() string { return "aspect_heads" }

type outboxRecord struct {
	Seq         int64      `gorm:"primaryKey;column:seq;autoIncrement"`
	EventID     string     `gorm:"column:event_id;size:64;uniqueIndex"`
	Urn         string     `gorm:"column:urn;size:512;index"`
	Event       string     `gorm:"column:event;type:jsonb"`
	StagedAt    time.Time  `gorm:"column:staged_at"`
	PublishedAt *time.Time `gorm:"column:published_at;index"`
	Attempts    int        `gorm:"column:attempts"`
	LastError   string     `gorm:"column:last_error"`
}

func (outboxRecord) TableName() string { return "aspect_outbox" }

// Latest returns the head version.
func (s *AspectStore) Latest(ctx context.Context, key domain.AspectKey) (*domain.VersionedAspect, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var record aspectVersionRecord
	err := s.db.WithContext(ctx).
		Where("urn = ? AND aspect = ?", key.EntityUrn.String(), key.AspectName).
		Order("version DESC").
		First(&record).Error
	if err != nil {
		return nil, translate(err, key.String())
	}
	return record.toDomain()
}

// Get returns one version.
func (s *AspectStore) Get(ctx context.Context, key domain.AspectKey, version int64) (*domain.VersionedAspect, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var record aspectVersionRecord
	err := s.db.WithContext(ctx).
		First(&record, "urn = ? AND aspect = ? AND version = ?", key.EntityUrn.String(), key.AspectName, version).Error
	if err != nil {
		return nil, translate(err, fmt.Sprintf("%s@%d", key, version))
	}
	return record.toDomain()
}

// History lists versions ascending.
func (s *AspectStore) History(ctx context.Context, key domain.AspectKey) ([]*domain.VersionedAspect, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var records []aspectVersionRecord
	if err := s.db.WithContext(ctx).
		Where("urn = ? AND aspect = ?", key.EntityUrn.String(), key.AspectName).
		Order("version ASC").
		Find(&records).Error; err != nil {
		return nil, translate(err, key.String())
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrNotFound, key)
	}
	result := make([]*domain.VersionedAspect, 0, len(records))
	for i := range records {
		v, err := records[i].toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

// CommitVersion advances the head from expected to next.Version, appends the
// version row and stages the event, all in one transaction.
func (s *AspectStore) CommitVersion(ctx context.Context, expected *int64, next domain.VersionedAspect, event domain.AuditEvent) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	urn := next.EntityUrn.String()
	version := toVersionRecord(next)
	encoded, err := json.Marshal(event)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var result *gorm.DB
		if expected == nil {
			result = tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&aspectHeadRecord{Urn: urn, Aspect: next.AspectName, Version: next.Version, UpdatedAt: now})
		} else {
			result = tx.Model(&aspectHeadRecord{}).
				Where("urn = ? AND aspect = ? AND version = ?", urn, next.AspectName, *expected).
				Updates(map[string]any{"version": next.Version, "updated_at": now})
		}
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s/%s", ports.ErrConflict, urn, next.AspectName)
		}
		if err := tx.Create(&version).Error; err != nil {
			return err
		}
		return tx.Create(&outboxRecord{
			EventID:  event.ID,
			Urn:      urn,
			Event:    string(encoded),
			StagedAt: now,
		}).Error
	})
	if err != nil {
		return translate(err, urn)
	}
	return nil
}

// PendingOutbox returns unpublished events in staging order.
func (s *AspectStore) PendingOutbox(ctx context.Context, filter ports.OutboxFilter) ([]domain.AuditEvent, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Where("published_at IS NULL").Order("seq ASC")
	if filter.EntityUrn != nil {
		query = query.Where("urn = ?", filter.EntityUrn.String())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var records []outboxRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, translate(err, "outbox")
	}
	events := make([]domain.AuditEvent, 0, len(records))
	for _, record := range records {
		var event domain.AuditEvent
		if err := json.Unmarshal([]byte(record.Event), &event); err != nil {
			return nil, fmt.Errorf("decode outbox event %s: %w", record.EventID, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// MarkPublished stamps the event as published.
func (s *AspectStore) MarkPublished(ctx context.Context, eventID string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&outboxRecord{}).
		Where("event_id = ? AND published_at IS NULL", eventID).
		Update("published_at", time.Now().UTC()).Error
	return translate(err, eventID)
}

// RecordPublishFailure increments the attempt counter.
func (s *AspectStore) RecordPublishFailure(ctx context.Context, eventID string, reason string) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Model(&outboxRecord{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{"attempts": gorm.Expr("attempts + 1"), "last_error": reason}).Error
	return translate(err, eventID)
}

// OutboxSummary reports pending depth and age.
func (s *AspectStore) OutboxSummary(ctx context.Context) (ports.OutboxSummary, error) {
	if err := s.ensureDB(); err != nil {
		return ports.OutboxSummary{}, err
	}
	var row struct {
		Pending int
		Oldest  *time.Time
	}
	err := s.db.WithContext(ctx).Model(&outboxRecord{}).
		Select("COUNT(*) AS pending, MIN(staged_at) AS oldest").
		Where("published_at IS NULL").
		Scan(&row).Error
	if err != nil {
		return ports.OutboxSummary{}, translate(err, "outbox")
	}
	summary := ports.OutboxSummary{Pending: row.Pending}
	if row.Oldest != nil {
		summary.OldestStagedAt = *row.Oldest
	}
	return summary, nil
}

func (s *AspectStore) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres aspect store not configured")
	}
	return nil
}

// translate keeps domain sentinels and marks everything else as unavailable.
func translate(err error, subject string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", ports.ErrNotFound, subject)
	case errors.Is(err, ports.ErrConflict), errors.Is(err, ports.ErrNotFound):
		return err
	case errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %s: %v", ports.ErrUnavailable, subject, err)
	}
}

func toVersionRecord(v domain.VersionedAspect) aspectVersionRecord {
	record := aspectVersionRecord{
		Urn:        v.EntityUrn.String(),
		Aspect:     v.AspectName,
		Version:    v.Version,
		EntityType: v.EntityType,
		Deleted:    v.Deleted,
		ProducerID: v.SystemMetadata.ProducerID,
		RunID:      v.SystemMetadata.RunID,
		CreatedAt:  v.SystemMetadata.Timestamp,
	}
	if len(v.Payload) > 0 {
		payload := string(v.Payload)
		record.Payload = &payload
	}
	return record
}

func (r aspectVersionRecord) toDomain() (*domain.VersionedAspect, error) {
	urn, err := domain.ParseEntityUrn(r.Urn)
	if err != nil {
		return nil, err
	}
	v := &domain.VersionedAspect{
		EntityUrn:  urn,
		EntityType: r.EntityType,
		AspectName: r.Aspect,
		Version:    r.Version,
		Deleted:    r.Deleted,
		SystemMetadata: domain.SystemMetadata{
			ProducerID: r.ProducerID,
			Timestamp:  r.CreatedAt.UTC(),
			RunID:      r.RunID,
		},
	}
	if r.Payload != nil {
		v.Payload = json.RawMessage(*r.Payload)
	}
	return v, nil
}
