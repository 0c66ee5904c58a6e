package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

var _ ports.AspectStore = (*AspectStore)(nil)

type outboxEntry struct {
	seq      int64
	event    domain.AuditEvent
	stagedAt time.Time
	attempts int
	lastErr  string
}

// AspectStore keeps aspect histories and the outbox in process memory. The
// mutex provides the compare-and-swap for a single process.
type AspectStore struct {
	mu       sync.RWMutex
	versions map[string][]domain.VersionedAspect
	outbox   []*outboxEntry
	seq      int64
	now      func() time.Time
	// failCommit, when set, is returned by CommitVersion. Used by tests.
	failCommit error
}

// NewAspectStore constructs an empty store.
func NewAspectStore() *AspectStore {
	return &AspectStore{
		versions: map[string][]domain.VersionedAspect{},
		now:      time.Now,
	}
}

// WithClock overrides the time source for deterministic testing.
func (s *AspectStore) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// FailCommits makes subsequent commits fail with err until called with nil.
func (s *AspectStore) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

// Latest returns the newest version, including tombstones.
func (s *AspectStore) Latest(_ context.Context, key domain.AspectKey) (*domain.VersionedAspect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.versions[key.String()]
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrNotFound, key)
	}
	latest := history[len(history)-1]
	return &latest, nil
}

// Get returns one version.
func (s *AspectStore) Get(_ context.Context, key domain.AspectKey, version int64) (*domain.VersionedAspect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.versions[key.String()]
	if version < 0 || version >= int64(len(history)) {
		return nil, fmt.Errorf("%w: %s@%d", ports.ErrNotFound, key, version)
	}
	found := history[version]
	return &found, nil
}

// History returns all versions in ascending order.
func (s *AspectStore) History(_ context.Context, key domain.AspectKey) ([]*domain.VersionedAspect, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.versions[key.String()]
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", ports.ErrNotFound, key)
	}
	result := make([]*domain.VersionedAspect, 0, len(history))
	for i := range history {
		v := history[i]
		result = append(result, &v)
	}
	return result, nil
}

// CommitVersion appends next when the head still equals expected and stages event.
func (s *AspectStore) CommitVersion(_ context.Context, expected *int64, next domain.VersionedAspect, event domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommit != nil {
		return s.failCommit
	}
	k := domain.AspectKey{EntityUrn: next.EntityUrn, AspectName: next.AspectName}.String()
	history := s.versions[k]
	switch {
	case expected == nil && len(history) != 0:
		return fmt.Errorf("%w: %s already at version %d", ports.ErrConflict, k, history[len(history)-1].Version)
	case expected != nil && (len(history) == 0 || history[len(history)-1].Version != *expected):
		return fmt.Errorf("%w: %s moved past version %d", ports.ErrConflict, k, *expected)
	}
	if next.Version != int64(len(history)) {
		return fmt.Errorf("%w: %s next version %d is not contiguous", ports.ErrConflict, k, next.Version)
	}
	s.versions[k] = append(history, next)
	s.seq++
	s.outbox = append(s.outbox, &outboxEntry{seq: s.seq, event: event, stagedAt: s.now()})
	return nil
}

// PendingOutbox returns staged events in staging order.
func (s *AspectStore) PendingOutbox(_ context.Context, filter ports.OutboxFilter) ([]domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []domain.AuditEvent
	for _, entry := range s.outbox {
		if filter.EntityUrn != nil && entry.event.EntityUrn != *filter.EntityUrn {
			continue
		}
		events = append(events, entry.event)
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}
	return events, nil
}

// MarkPublished drops the event from the outbox.
func (s *AspectStore) MarkPublished(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.outbox {
		if entry.event.ID == eventID {
			s.outbox = append(s.outbox[:i], s.outbox[i+1:]...)
			return nil
		}
	}
	return nil
}

// RecordPublishFailure notes a failed publish attempt.
func (s *AspectStore) RecordPublishFailure(_ context.Context, eventID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range s.outbox {
		if entry.event.ID == eventID {
			entry.attempts++
			entry.lastErr = reason
			return nil
		}
	}
	return nil
}

// OutboxSummary reports the pending depth.
func (s *AspectStore) OutboxSummary(_ context.Context) (ports.OutboxSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary := ports.OutboxSummary{Pending: len(s.outbox)}
	if len(s.outbox) > 0 {
		summary.OldestStagedAt = s.outbox[0].stagedAt
	}
	return summary, nil
}
