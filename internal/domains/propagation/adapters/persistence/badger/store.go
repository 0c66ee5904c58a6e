package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

var (
	_ ports.CheckpointStore = (*CheckpointStore)(nil)
	_ ports.DeadLetterStore = (*DeadLetterStore)(nil)
)

const (
	checkpointPrefix = "checkpoint/"
	deadLetterPrefix = "deadletter/"
)

// CheckpointStore keeps consumer checkpoints in a local badger database, for
// workers that own their checkpoints outside the shared SQL store.
type CheckpointStore struct {
	db  *badger.DB
	now func() time.Time
}

// NewCheckpointStore wires the store. Caller owns the database lifecycle.
func NewCheckpointStore(db *badger.DB) *CheckpointStore {
	return &CheckpointStore{db: db, now: time.Now}
}

func checkpointKey(group string, partition domain.Partition) []byte {
	return []byte(fmt.Sprintf("%s%s/%d", checkpointPrefix, group, partition))
}

// Load returns the stored checkpoint or an empty one.
func (s *CheckpointStore) Load(ctx context.Context, group string, partition domain.Partition) (domain.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return domain.Checkpoint{}, err
	}
	cp := domain.NewCheckpoint(group, partition)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(group, partition))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &cp) })
	})
	return cp, err
}

// Commit writes the checkpoint unless the stored one is already further.
func (s *CheckpointStore) Commit(ctx context.Context, checkpoint domain.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := checkpointKey(checkpoint.Group, checkpoint.Partition)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var current domain.Checkpoint
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &current) }); err != nil {
				return err
			}
			if current.Offset >= checkpoint.Offset {
				return nil
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		checkpoint.UpdatedAt = s.now().UTC()
		encoded, err := json.Marshal(checkpoint)
		if err != nil {
			return err
		}
		return txn.Set(key, encoded)
	})
}

// DeadLetterStore keeps dead letters in badger.
type DeadLetterStore struct {
	db *badger.DB
}

// NewDeadLetterStore wires the store.
func NewDeadLetterStore(db *badger.DB) *DeadLetterStore {
	return &DeadLetterStore{db: db}
}

// Put upserts by id.
func (s *DeadLetterStore) Put(ctx context.Context, letter domain.DeadLetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded, err := json.Marshal(letter)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(deadLetterPrefix+letter.ID), encoded)
	})
}

// Get loads one dead letter.
func (s *DeadLetterStore) Get(ctx context.Context, id string) (*domain.DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var letter domain.DeadLetter
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(deadLetterPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrDeadLetterNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return json.Unmarshal(val, &letter) })
	})
	if err != nil {
		return nil, err
	}
	return &letter, nil
}

// List scans all dead letters, oldest first.
func (s *DeadLetterStore) List(ctx context.Context, group string) ([]domain.DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var letters []domain.DeadLetter
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(deadLetterPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var letter domain.DeadLetter
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &letter) }); err != nil {
				return err
			}
			if group == "" || letter.Group == group {
				letters = append(letters, letter)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(letters, func(i, j int) bool {
		if letters[i].QuarantinedAt.Equal(letters[j].QuarantinedAt) {
			return letters[i].ID < letters[j].ID
		}
		return letters[i].QuarantinedAt.Before(letters[j].QuarantinedAt)
	})
	return letters, nil
}
