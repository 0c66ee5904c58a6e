package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

var _ ports.DeadLetterStore = (*DeadLetterStore)(nil)

// DeadLetterStore keeps dead letters in memory.
type DeadLetterStore struct {
	mu      sync.RWMutex
	letters map[string]domain.DeadLetter
}

// NewDeadLetterStore constructs an empty store.
func NewDeadLetterStore() *DeadLetterStore {
	return &DeadLetterStore{letters: map[string]domain.DeadLetter{}}
}

// Put upserts by id.
func (s *DeadLetterStore) Put(_ context.Context, letter domain.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	letter.Failures = append([]domain.FailureRecord(nil), letter.Failures...)
	s.letters[letter.ID] = letter
	return nil
}

// Get returns one dead letter.
func (s *DeadLetterStore) Get(_ context.Context, id string) (*domain.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	letter, ok := s.letters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDeadLetterNotFound, id)
	}
	return &letter, nil
}

// List returns dead letters ordered by quarantine time.
func (s *DeadLetterStore) List(_ context.Context, group string) ([]domain.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	letters := make([]domain.DeadLetter, 0, len(s.letters))
	for _, letter := range s.letters {
		if group == "" || letter.Group == group {
			letters = append(letters, letter)
		}
	}
	sort.Slice(letters, func(i, j int) bool {
		if letters[i].QuarantinedAt.Equal(letters[j].QuarantinedAt) {
			return letters[i].ID < letters[j].ID
		}
		return letters[i].QuarantinedAt.Before(letters[j].QuarantinedAt)
	})
	return letters, nil
}

// Reset drops every dead letter.
func (s *DeadLetterStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = map[string]domain.DeadLetter{}
}
