package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/ports"
)

var _ ports.DocumentStore = (*DocumentStore)(nil)

// DocumentStore is an in-memory document view.
type DocumentStore struct {
	mu      sync.RWMutex
	docs    map[aspects.AspectKey]domain.Document
	failErr error
}

// NewDocumentStore constructs an empty store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: map[aspects.AspectKey]domain.Document{}}
}

// FailWrites makes every Put fail with err until called with nil.
func (s *DocumentStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *DocumentStore) Put(_ context.Context, doc domain.Document) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return false, s.failErr
	}
	if current, ok := s.docs[doc.Key()]; ok {
		applied := current.Applied()
		if !domain.Newer(&applied, doc.Version) {
			return false, nil
		}
	}
	doc.Payload = append([]byte(nil), doc.Payload...)
	s.docs[doc.Key()] = doc
	return true, nil
}

func (s *DocumentStore) Get(_ context.Context, key aspects.AspectKey) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	return &doc, nil
}

func (s *DocumentStore) Search(_ context.Context, query string, limit int) ([]domain.Document, error) {
	terms := strings.Fields(strings.ToLower(query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Document
	for _, doc := range s.docs {
		if doc.Deleted || !matches(doc.Text, terms) {
			continue
		}
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().String() < out[j].Key().String() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matches(text string, terms []string) bool {
	text = strings.ToLower(text)
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}
