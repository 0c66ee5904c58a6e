package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

// ErrUnknownGroup is returned when a dead letter names a group this process does not run.
var ErrUnknownGroup = errors.New("unknown consumer group")

var _ ports.Admin = (*Admin)(nil)

// Admin exposes dead letter inspection, replay and lag.
type Admin struct {
	dispatcher  *Dispatcher
	log         ports.EventLog
	checkpoints ports.CheckpointStore
	deadLetters *DeadLetterHandler
}

// NewAdmin wires the admin use cases.
func NewAdmin(dispatcher *Dispatcher, log ports.EventLog, checkpoints ports.CheckpointStore, deadLetters *DeadLetterHandler) *Admin {
	return &Admin{dispatcher: dispatcher, log: log, checkpoints: checkpoints, deadLetters: deadLetters}
}

// DeadLetters lists quarantined events of group, or all groups when empty.
func (a *Admin) DeadLetters(ctx context.Context, group string) ([]domain.DeadLetter, error) {
	if group != "" {
		if _, ok := a.dispatcher.Group(group); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
		}
	}
	return a.deadLetters.List(ctx, group)
}

// Replay re-injects the dead letter at the head of its group's partition queue.
func (a *Admin) Replay(ctx context.Context, id string) (*domain.DeadLetter, error) {
	letter, err := a.deadLetters.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	group, ok := a.dispatcher.Group(letter.Group)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, letter.Group)
	}
	if err := group.Inject(*letter); err != nil {
		return nil, err
	}
	return letter, nil
}

// Lag reports head minus checkpoint for every group and partition.
func (a *Admin) Lag(ctx context.Context) ([]domain.PartitionLag, error) {
	var result []domain.PartitionLag
	for _, group := range a.dispatcher.Groups() {
		for i := 0; i < group.Partitions(); i++ {
			p := domain.Partition(i)
			head, err := a.log.Head(ctx, p)
			if err != nil {
				return nil, err
			}
			cp, err := a.checkpoints.Load(ctx, group.Name(), p)
			if err != nil {
				return nil, err
			}
			result = append(result, domain.PartitionLag{
				Group:      group.Name(),
				Partition:  p,
				Head:       head,
				Checkpoint: cp.Offset,
				Lag:        domain.ComputeLag(head, cp),
				State:      group.State(p),
			})
		}
	}
	return result, nil
}
