package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

var _ ports.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore keeps checkpoints in memory.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]domain.Checkpoint
	now         func() time.Time
	failCommit  error
}

// NewCheckpointStore constructs an empty store.
func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: map[string]domain.Checkpoint{}, now: time.Now}
}

// FailCommits makes subsequent commits fail with err until called with nil.
func (s *CheckpointStore) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

// Load returns the stored checkpoint or an empty one.
func (s *CheckpointStore) Load(_ context.Context, group string, partition domain.Partition) (domain.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cp, ok := s.checkpoints[checkpointKey(group, partition)]; ok {
		return cp, nil
	}
	return domain.NewCheckpoint(group, partition), nil
}

// Commit advances the checkpoint; lower offsets are ignored.
func (s *CheckpointStore) Commit(_ context.Context, checkpoint domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCommit != nil {
		return s.failCommit
	}
	key := checkpointKey(checkpoint.Group, checkpoint.Partition)
	if current, ok := s.checkpoints[key]; ok && current.Offset >= checkpoint.Offset {
		return nil
	}
	checkpoint.UpdatedAt = s.now().UTC()
	s.checkpoints[key] = checkpoint
	return nil
}

func checkpointKey(group string, partition domain.Partition) string {
	return fmt.Sprintf("%s/%d", group, partition)
}
