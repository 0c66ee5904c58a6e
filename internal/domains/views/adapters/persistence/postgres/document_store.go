package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/ports"
)

var _ ports.DocumentStore = (*DocumentStore)(nil)

// DocumentStore keeps one document view in the shared view_documents table,
// so API processes can read what worker processes materialize.
type DocumentStore struct {
	db   *gorm.DB
	view string
}

// NewDocumentStore wires the store for the named view.
func NewDocumentStore(db *gorm.DB, view string) *DocumentStore {
	return &DocumentStore{db: db, view: view}
}

type documentRecord struct {
	View       string    `gorm:"primaryKey;column:view_name;size:64"`
	Urn        string    `gorm:"primaryKey;column:urn;size:512"`
	Aspect     string    `gorm:"primaryKey;column:aspect;size:128"`
	EntityType string    `gorm:"column:entity_type;size:128"`
	Version    int64     `gorm:"column:version"`
	EventID    string    `gorm:"column:event_id;size:64"`
	Payload    *string   `gorm:"column:payload;type:jsonb"`
	Deleted    bool      `gorm:"column:deleted"`
	Text       string    `gorm:"column:search_text;type:text"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (documentRecord) TableName() string { return "view_documents" }

// Put upserts doc only when its version is newer than the stored one.
func (s *DocumentStore) Put(ctx context.Context, doc domain.Document) (bool, error) {
	if err := s.ensureDB(); err != nil {
		return false, err
	}
	record := documentRecord{
		View:       s.view,
		Urn:        doc.EntityUrn.String(),
		Aspect:     doc.AspectName,
		EntityType: doc.EntityType,
		Version:    doc.Version,
		EventID:    doc.EventID,
		Deleted:    doc.Deleted,
		Text:       doc.Text,
		UpdatedAt:  doc.UpdatedAt.UTC(),
	}
	if len(doc.Payload) > 0 {
		payload := string(doc.Payload)
		record.Payload = &payload
	}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "view_name"}, {Name: "urn"}, {Name: "aspect"}},
		DoUpdates: clause.AssignmentColumns([]string{"entity_type", "version", "event_id", "payload", "deleted", "search_text", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "view_documents.version < excluded.version"},
		}},
	}).Create(&record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Get loads the document, tombstones included.
func (s *DocumentStore) Get(ctx context.Context, key aspects.AspectKey) (*domain.Document, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var record documentRecord
	err := s.db.WithContext(ctx).First(&record, "view_name = ? AND urn = ? AND aspect = ?", s.view, key.EntityUrn.String(), key.AspectName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	doc, err := record.toDomain()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Search matches every query term case-insensitively against the search text.
func (s *DocumentStore) Search(ctx context.Context, query string, limit int) ([]domain.Document, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Where("view_name = ? AND deleted = ?", s.view, false)
	for _, term := range strings.Fields(query) {
		tx = tx.Where("search_text ILIKE ?", "%"+escapeLike(term)+"%")
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var records []documentRecord
	if err := tx.Order("urn ASC, aspect ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(records))
	for _, record := range records {
		doc, err := record.toDomain()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (r documentRecord) toDomain() (domain.Document, error) {
	urn, err := aspects.ParseEntityUrn(r.Urn)
	if err != nil {
		return domain.Document{}, err
	}
	doc := domain.Document{
		EntityUrn:  urn,
		EntityType: r.EntityType,
		AspectName: r.Aspect,
		Version:    r.Version,
		EventID:    r.EventID,
		Deleted:    r.Deleted,
		Text:       r.Text,
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if r.Payload != nil {
		doc.Payload = []byte(*r.Payload)
	}
	return doc, nil
}

func escapeLike(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

func (s *DocumentStore) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("postgres document store not configured")
	}
	return nil
}
