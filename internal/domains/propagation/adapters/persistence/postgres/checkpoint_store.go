package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

var _ ports.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore persists one row per (group, partition).
type CheckpointStore struct {
	db *gorm.DB
}

// NewCheckpointStore wires the store.
func NewCheckpointStore(db *gorm.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

type checkpointRecord struct {
	Group      string    `gorm:"primaryKey;column:consumer_group;size:128"`
	Partition  int32     `gorm:"primaryKey;column:log_partition;autoIncrement:false"`
	LastOffset int64     `gorm:"column:last_offset"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (checkpointRecord) TableName() string { return "consumer_checkpoints" }

// Load returns the checkpoint or an empty one.
func (s *CheckpointStore) Load(ctx context.Context, group string, partition domain.Partition) (domain.Checkpoint, error) {
	if err := s.ensureDB(); err != nil {
		return domain.Checkpoint{}, err
	}
	var record checkpointRecord
	err := s.db.WithContext(ctx).First(&record, "consumer_group = ? AND log_partition = ?", group, int32(partition)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NewCheckpoint(group, partition), nil
	}
	if err != nil {
		return domain.Checkpoint{}, err
	}
	return domain.Checkpoint{
		Group:     record.Group,
		Partition: domain.Partition(record.Partition),
		Offset:    domain.Offset(record.LastOffset),
		UpdatedAt: record.UpdatedAt.UTC(),
	}, nil
}

// Commit upserts the checkpoint only when it moves forward.
func (s *CheckpointStore) Commit(ctx context.Context, checkpoint domain.Checkpoint) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	record := checkpointRecord{
		Group:      checkpoint.Group,
		Partition:  int32(checkpoint.Partition),
		LastOffset: int64(checkpoint.Offset),
		UpdatedAt:  time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "consumer_group"}, {Name: "log_partition"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_offset", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "consumer_checkpoints.last_offset < excluded.last_offset"},
		}},
	}).Create(&record).Error
}

func (s *CheckpointStore) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres checkpoint store not configured")
	}
	return nil
}
