package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
)

const (
	defaultBatchSize      = 100
	defaultPollTimeout    = 2 * time.Second
	defaultApplyTimeout   = 5 * time.Second
	defaultStorageTimeout = 5 * time.Second
)

// ErrCheckpointAhead means a stored checkpoint points past the end of the log,
// so the checkpoints and the log do not describe the same history.
var ErrCheckpointAhead = errors.New("checkpoint is ahead of the log head")

// GroupConfig describes one consumer group.
type GroupConfig struct {
	Name    string
	Handler ports.Handler
	Retry   RetryPolicy
	// BatchSize bounds records read per pull.
	BatchSize int
	// PollTimeout bounds one blocking wait for new records.
	PollTimeout time.Duration
	// ApplyTimeout bounds one handler invocation.
	ApplyTimeout time.Duration
	// StorageTimeout bounds log, checkpoint and dead letter calls.
	StorageTimeout time.Duration
	Logger         *slog.Logger
}

// ConsumerGroup reads every partition from its own checkpoints and applies
// records through its handler. Each partition has one sequential worker.
type ConsumerGroup struct {
	cfg         GroupConfig
	log         ports.EventLog
	checkpoints ports.CheckpointStore
	deadLetters *DeadLetterHandler
	states      []atomic.Int32
	queues      []*replayQueue
	logger      *slog.Logger
}

// NewConsumerGroup wires a group over the shared log.
func NewConsumerGroup(cfg GroupConfig, log ports.EventLog, checkpoints ports.CheckpointStore, deadLetters *DeadLetterHandler) (*ConsumerGroup, error) {
	if cfg.Name == "" {
		return nil, errors.New("consumer group name is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("consumer group %s has no handler", cfg.Name)
	}
	cfg.Retry = cfg.Retry.normalized()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = defaultApplyTimeout
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = defaultStorageTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	n := log.Partitions()
	g := &ConsumerGroup{
		cfg:         cfg,
		log:         log,
		checkpoints: checkpoints,
		deadLetters: deadLetters,
		states:      make([]atomic.Int32, n),
		queues:      make([]*replayQueue, n),
		logger:      logger.With(slog.String("group", cfg.Name)),
	}
	for i := range g.queues {
		g.queues[i] = newReplayQueue()
	}
	return g, nil
}

// Name returns the group name.
func (g *ConsumerGroup) Name() string { return g.cfg.Name }

// Partitions returns how many partitions the group consumes.
func (g *ConsumerGroup) Partitions() int { return len(g.queues) }

// State reports where the partition worker currently is.
func (g *ConsumerGroup) State(partition domain.Partition) domain.PartitionState {
	if partition < 0 || int(partition) >= len(g.states) {
		return domain.StateIdle
	}
	return domain.PartitionState(g.states[partition].Load())
}

// Inject queues a dead letter ahead of the partition's unread records.
func (g *ConsumerGroup) Inject(letter domain.DeadLetter) error {
	p := letter.Record.Partition
	if p < 0 || int(p) >= len(g.queues) {
		return fmt.Errorf("%w: %d", ports.ErrUnknownPartition, p)
	}
	g.queues[p].push(letter)
	return nil
}

// Run consumes until ctx is cancelled. In-flight applies finish before it returns.
// It fails with ErrCheckpointAhead when a checkpoint does not fit the log.
func (g *ConsumerGroup) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)
	for i := range g.queues {
		w := &partitionWorker{group: g, partition: domain.Partition(i)}
		eg.Go(func() error { return w.run(egCtx) })
	}
	return eg.Wait()
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeQuarantined
	outcomeAborted
)

type partitionWorker struct {
	group     *ConsumerGroup
	partition domain.Partition
}

func (w *partitionWorker) setState(s domain.PartitionState) {
	w.group.states[w.partition].Store(int32(s))
}

func (w *partitionWorker) logger() *slog.Logger {
	return w.group.logger.With(slog.Int("partition", int(w.partition)))
}

func (w *partitionWorker) run(ctx context.Context) error {
	defer w.setState(domain.StateIdle)
	cp, ok := w.loadCheckpoint(ctx)
	if !ok {
		return nil
	}
	next := cp.Next()
	var head domain.Offset
	err := w.retryStorage(ctx, func(c context.Context) error {
		var err error
		head, err = w.group.log.Head(c, w.partition)
		return err
	})
	if err != nil {
		return nil
	}
	if next > head {
		return fmt.Errorf("%w: group %s partition %d checkpoint %d, head %d",
			ErrCheckpointAhead, w.group.cfg.Name, w.partition, cp.Offset, head)
	}
	queue := w.group.queues[w.partition]
	readBackoff := w.group.cfg.Retry.exponential()

	for ctx.Err() == nil {
		if letter, ok := queue.pop(); ok {
			w.replay(ctx, letter)
			continue
		}

		w.setState(domain.StateReading)
		readCtx, cancel := context.WithTimeout(ctx, w.group.cfg.StorageTimeout)
		records, err := w.group.log.Read(readCtx, w.partition, next, w.group.cfg.BatchSize)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger().WarnContext(ctx, "read failed", slog.String("error", err.Error()))
			if !sleep(ctx, readBackoff.NextBackOff()) {
				return nil
			}
			continue
		}
		readBackoff.Reset()

		if len(records) == 0 {
			w.wait(ctx, next, queue)
			continue
		}

		for _, record := range records {
			if queue.pending() {
				break
			}
			if w.process(ctx, record) == outcomeAborted {
				return nil
			}
			w.setState(domain.StateCheckpointing)
			if !w.commit(ctx, record.Offset) {
				return nil
			}
			next = record.Offset + 1
		}
	}
	return nil
}

// wait blocks until the log grows, a replay arrives, the poll times out or ctx ends.
func (w *partitionWorker) wait(ctx context.Context, next domain.Offset, queue *replayQueue) {
	waitCtx, cancel := context.WithTimeout(ctx, w.group.cfg.PollTimeout)
	defer cancel()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-queue.signal:
			cancel()
		case <-done:
		}
	}()
	_ = w.group.log.Wait(waitCtx, w.partition, next)
}

// process applies one record until it succeeds, is quarantined, or ctx ends
// during a backoff.
func (w *partitionWorker) process(ctx context.Context, record domain.LogRecord) outcome {
	cfg := w.group.cfg
	b := cfg.Retry.exponential()
	var failures []domain.FailureRecord
	for attempt := 1; ; attempt++ {
		w.setState(domain.StateApplying)
		applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ApplyTimeout)
		err := cfg.Handler.Handle(applyCtx, record)
		cancel()
		if err == nil {
			return outcomeApplied
		}

		kind := domain.Classify(err)
		failures = append(failures, domain.FailureRecord{Attempt: attempt, Kind: kind, Reason: err.Error(), At: time.Now().UTC()})
		if kind == domain.FailurePermanent || (cfg.Retry.MaxAttempts > 0 && attempt >= cfg.Retry.MaxAttempts) {
			w.setState(domain.StateDeadLettered)
			if !w.quarantine(ctx, record, failures) {
				return outcomeAborted
			}
			return outcomeQuarantined
		}

		w.setState(domain.StateRetrying)
		delay := b.NextBackOff()
		w.logger().DebugContext(ctx, "transient failure, retrying",
			slog.String("event.id", record.Event.ID),
			slog.Int64("offset", int64(record.Offset)),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if !sleep(ctx, delay) {
			return outcomeAborted
		}
	}
}

func (w *partitionWorker) replay(ctx context.Context, letter domain.DeadLetter) {
	w.logger().InfoContext(ctx, "replaying dead letter", slog.String("dead_letter.id", letter.ID), slog.String("event.id", letter.Record.Event.ID))
	if w.process(ctx, letter.Record) != outcomeApplied {
		return
	}
	err := w.retryStorage(ctx, func(c context.Context) error { return w.group.deadLetters.Resolve(c, letter) })
	if err != nil {
		w.logger().WarnContext(ctx, "resolve dead letter", slog.String("dead_letter.id", letter.ID), slog.String("error", err.Error()))
	}
}

func (w *partitionWorker) quarantine(ctx context.Context, record domain.LogRecord, failures []domain.FailureRecord) bool {
	err := w.retryStorage(ctx, func(c context.Context) error {
		_, err := w.group.deadLetters.Quarantine(c, w.group.cfg.Name, record, failures)
		return err
	})
	return err == nil
}

func (w *partitionWorker) commit(ctx context.Context, offset domain.Offset) bool {
	cp := domain.Checkpoint{Group: w.group.cfg.Name, Partition: w.partition, Offset: offset}
	err := w.retryStorage(ctx, func(c context.Context) error { return w.group.checkpoints.Commit(c, cp) })
	return err == nil
}

func (w *partitionWorker) loadCheckpoint(ctx context.Context) (domain.Checkpoint, bool) {
	var cp domain.Checkpoint
	err := w.retryStorage(ctx, func(c context.Context) error {
		var err error
		cp, err = w.group.checkpoints.Load(c, w.group.cfg.Name, w.partition)
		return err
	})
	return cp, err == nil
}

// retryStorage retries op with backoff. Each attempt gets its own timeout and
// survives cancellation of ctx; retrying stops once ctx is done.
func (w *partitionWorker) retryStorage(ctx context.Context, op func(context.Context) error) error {
	b := w.group.cfg.Retry.exponential()
	for {
		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.group.cfg.StorageTimeout)
		err := op(opCtx)
		cancel()
		if err == nil {
			return nil
		}
		w.logger().WarnContext(ctx, "storage call failed", slog.String("error", err.Error()))
		if !sleep(ctx, b.NextBackOff()) {
			return err
		}
	}
}

// sleep waits d or until ctx ends; it reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// replayQueue holds dead letters to re-apply before the next unread record.
type replayQueue struct {
	mu      sync.Mutex
	letters []domain.DeadLetter
	signal  chan struct{}
}

func newReplayQueue() *replayQueue {
	return &replayQueue{signal: make(chan struct{}, 1)}
}

func (q *replayQueue) push(letter domain.DeadLetter) {
	q.mu.Lock()
	q.letters = append(q.letters, letter)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *replayQueue) pop() (domain.DeadLetter, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.letters) == 0 {
		return domain.DeadLetter{}, false
	}
	letter := q.letters[0]
	q.letters = q.letters[1:]
	return letter, true
}

func (q *replayQueue) pending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.letters) > 0
}
