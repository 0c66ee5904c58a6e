package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/ports"
)

var _ ports.GraphStore = (*GraphStore)(nil)

// GraphStore keeps the graph view as edge rows grouped by the aspect that produced them.
type GraphStore struct {
	db *gorm.DB
}

// NewGraphStore wires the store.
func NewGraphStore(db *gorm.DB) *GraphStore {
	return &GraphStore{db: db}
}

type graphSourceRecord struct {
	Urn       string    `gorm:"primaryKey;column:urn;size:512"`
	Aspect    string    `gorm:"primaryKey;column:aspect;size:128"`
	Version   int64     `gorm:"column:version"`
	EventID   string    `gorm:"column:event_id;size:64"`
	AppliedAt time.Time `gorm:"column:applied_at"`
}

func (graphSourceRecord) TableName() string { return "graph_sources" }

type graphEdgeRecord struct {
	ID        int64  `gorm:"primaryKey;column:id;autoIncrement"`
	SourceUrn string `gorm:"column:source_urn;size:512;index:idx_graph_edges_source"`
	Aspect    string `gorm:"column:aspect;size:128;index:idx_graph_edges_source"`
	FromUrn   string `gorm:"column:from_urn;size:512;index"`
	ToUrn     string `gorm:"column:to_urn;size:512;index"`
	Kind      string `gorm:"column:kind;size:64"`
}

func (graphEdgeRecord) TableName() string { return "graph_edges" }

// ReplaceEdges swaps the source's edges in one transaction guarded by its version.
func (s *GraphStore) ReplaceEdges(ctx context.Context, source domain.AppliedVersion, edges []domain.Edge) (bool, error) {
	if err := s.ensureDB(); err != nil {
		return false, err
	}
	urn := source.EntityUrn.String()
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		head := graphSourceRecord{Urn: urn, Aspect: source.AspectName, Version: source.Version, EventID: source.EventID, AppliedAt: source.AppliedAt.UTC()}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "urn"}, {Name: "aspect"}},
			DoUpdates: clause.AssignmentColumns([]string{"version", "event_id", "applied_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "graph_sources.version < excluded.version"},
			}},
		}).Create(&head)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		applied = true
		if err := tx.Where("source_urn = ? AND aspect = ?", urn, source.AspectName).Delete(&graphEdgeRecord{}).Error; err != nil {
			return err
		}
		if len(edges) == 0 {
			return nil
		}
		records := make([]graphEdgeRecord, 0, len(edges))
		for _, e := range edges {
			records = append(records, graphEdgeRecord{
				SourceUrn: urn,
				Aspect:    source.AspectName,
				FromUrn:   e.From.String(),
				ToUrn:     e.To.String(),
				Kind:      e.Kind,
			})
		}
		return tx.Create(&records).Error
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Edges returns edges touching urn in either direction.
func (s *GraphStore) Edges(ctx context.Context, urn aspects.EntityUrn) ([]domain.Edge, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var records []graphEdgeRecord
	err := s.db.WithContext(ctx).
		Where("from_urn = ? OR to_urn = ?", urn.String(), urn.String()).
		Order("from_urn ASC, kind ASC, to_urn ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	edges := make([]domain.Edge, 0, len(records))
	for _, r := range records {
		from, err := aspects.ParseEntityUrn(r.FromUrn)
		if err != nil {
			return nil, err
		}
		to, err := aspects.ParseEntityUrn(r.ToUrn)
		if err != nil {
			return nil, err
		}
		edges = append(edges, domain.Edge{From: from, To: to, Kind: r.Kind, Aspect: r.Aspect})
	}
	return edges, nil
}

// Applied returns the last applied version of key, or nil.
func (s *GraphStore) Applied(ctx context.Context, key aspects.AspectKey) (*domain.AppliedVersion, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var record graphSourceRecord
	err := s.db.WithContext(ctx).First(&record, "urn = ? AND aspect = ?", key.EntityUrn.String(), key.AspectName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.AppliedVersion{
		EntityUrn:  key.EntityUrn,
		AspectName: record.Aspect,
		Version:    record.Version,
		EventID:    record.EventID,
		AppliedAt:  record.AppliedAt.UTC(),
	}, nil
}

func (s *GraphStore) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres graph store not configured")
	}
	return nil
}
