package memory

import (
	"context"
	"sync"
	"time"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

var _ ports.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyOption configures the in-memory idempotency store.
type IdempotencyOption func(*IdempotencyStore)

// WithRetention expires keys older than d. Zero keeps keys forever.
func WithRetention(d time.Duration) IdempotencyOption {
	return func(s *IdempotencyStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithIdempotencyClock overrides the time source.
func WithIdempotencyClock(now func() time.Time) IdempotencyOption {
	return func(s *IdempotencyStore) {
		if now != nil {
			s.now = now
		}
	}
}

// IdempotencyStore keeps proposal keys in a map. Expired keys are evicted
// lazily when a save finds the last sweep older than the retention.
type IdempotencyStore struct {
	mu        sync.Mutex
	byKey     map[string]ports.IdempotencyRecord
	retention time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewIdempotencyStore constructs an empty in-memory store.
func NewIdempotencyStore(opts ...IdempotencyOption) *IdempotencyStore {
	s := &IdempotencyStore{byKey: map[string]ports.IdempotencyRecord{}, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.lastSweep = s.now()
	return s
}

// Get returns the live record for key, or nil.
func (s *IdempotencyStore) Get(_ context.Context, key string) (*ports.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.live(key, s.now())
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// Save stores record unless a live record holds the key. A live record with a
// different request hash is returned with ErrIdempotencyConflict.
func (s *IdempotencyStore) Save(_ context.Context, record ports.IdempotencyRecord) (*ports.IdempotencyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweep(now)

	if existing, ok := s.live(record.Key, now); ok {
		if existing.RequestHash != record.RequestHash {
			return &existing, ports.ErrIdempotencyConflict
		}
		return &existing, nil
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	s.byKey[record.Key] = record
	return &record, nil
}

// Len reports stored keys, expired ones included until the next sweep.
func (s *IdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

func (s *IdempotencyStore) live(key string, now time.Time) (ports.IdempotencyRecord, bool) {
	record, ok := s.byKey[key]
	if !ok || ports.IdempotencyExpired(record, s.retention, now) {
		return ports.IdempotencyRecord{}, false
	}
	return record, true
}

func (s *IdempotencyStore) sweep(now time.Time) {
	if s.retention <= 0 || now.Sub(s.lastSweep) < s.retention {
		return
	}
	for key, record := range s.byKey {
		if ports.IdempotencyExpired(record, s.retention, now) {
			delete(s.byKey, key)
		}
	}
	s.lastSweep = now
}
