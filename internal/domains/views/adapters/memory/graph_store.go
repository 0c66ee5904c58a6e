package memory

import (
	"context"
	"sort"
	"sync"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/ports"
)

var _ ports.GraphStore = (*GraphStore)(nil)

// GraphStore is an in-memory graph view.
type GraphStore struct {
	mu      sync.RWMutex
	applied map[aspects.AspectKey]domain.AppliedVersion
	edges   map[aspects.AspectKey][]domain.Edge
	failErr error
}

// NewGraphStore constructs an empty store.
func NewGraphStore() *GraphStore {
	return &GraphStore{
		applied: map[aspects.AspectKey]domain.AppliedVersion{},
		edges:   map[aspects.AspectKey][]domain.Edge{},
	}
}

// FailWrites makes every ReplaceEdges fail with err until called with nil.
func (s *GraphStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *GraphStore) ReplaceEdges(_ context.Context, source domain.AppliedVersion, edges []domain.Edge) (bool, error) {
	key := aspects.AspectKey{EntityUrn: source.EntityUrn, AspectName: source.AspectName}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return false, s.failErr
	}
	if current, ok := s.applied[key]; ok && !domain.Newer(&current, source.Version) {
		return false, nil
	}
	s.applied[key] = source
	if len(edges) == 0 {
		delete(s.edges, key)
	} else {
		s.edges[key] = append([]domain.Edge(nil), edges...)
	}
	return true, nil
}

func (s *GraphStore) Edges(_ context.Context, urn aspects.EntityUrn) ([]domain.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Edge
	for _, edges := range s.edges {
		for _, e := range edges {
			if e.From == urn || e.To == urn {
				out = append(out, e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.From != b.From {
			return a.From.String() < b.From.String()
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.To.String() < b.To.String()
	})
	return out, nil
}

func (s *GraphStore) Applied(_ context.Context, key aspects.AspectKey) (*domain.AppliedVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	applied, ok := s.applied[key]
	if !ok {
		return nil, nil
	}
	return &applied, nil
}
