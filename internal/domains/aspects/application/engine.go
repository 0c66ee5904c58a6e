package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

const (
	defaultMaxRetries     = 3
	defaultStorageTimeout = 5 * time.Second
)

// Engine computes the next version of an aspect and commits it together with
// its audit event through the store's compare-and-swap.
type Engine struct {
	store      ports.AspectStore
	schemas    ports.SchemaRegistry
	relay      *OutboxRelay
	maxRetries int
	timeout    time.Duration
	producerID string
	now        func() time.Time
	newID      func() string
	logger     *slog.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithMaxRetries bounds the local retries on version conflicts.
func WithMaxRetries(n int) EngineOption {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithStorageTimeout bounds every store call.
func WithStorageTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRelay makes the engine publish staged events right after commit.
func WithRelay(relay *OutboxRelay) EngineOption {
	return func(e *Engine) {
		e.relay = relay
	}
}

// WithProducerID stamps versions with the producing instance.
func WithProducerID(id string) EngineOption {
	return func(e *Engine) {
		e.producerID = id
	}
}

// WithEngineClock overrides the time source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator overrides event id generation.
func WithIDGenerator(newID func() string) EngineOption {
	return func(e *Engine) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// WithEngineLogger injects a slog logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine wires the apply engine.
func NewEngine(store ports.AspectStore, schemas ports.SchemaRegistry, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		schemas:    schemas,
		maxRetries: defaultMaxRetries,
		timeout:    defaultStorageTimeout,
		now:        time.Now,
		newID:      uuid.NewString,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Apply commits the proposal as the next version and returns its audit event.
// The proposal must already have passed the Validator.
func (e *Engine) Apply(ctx context.Context, proposal domain.ChangeProposal) (domain.AuditEvent, error) {
	for attempt := 0; ; attempt++ {
		event, err := e.attempt(ctx, proposal)
		if err == nil {
			e.flush(ctx, event)
			return event, nil
		}
		if !errors.Is(err, ports.ErrConflict) {
			return domain.AuditEvent{}, mapError(err)
		}
		if attempt >= e.maxRetries {
			return domain.AuditEvent{}, reject(ReasonConflict, fmt.Errorf("%s after %d attempts: %w", proposal.AspectName, attempt+1, err))
		}
		e.logger.DebugContext(ctx, "version conflict, retrying",
			slog.String("urn", proposal.EntityUrn.String()),
			slog.String("aspect", proposal.AspectName),
			slog.Int("attempt", attempt+1))
	}
}

func (e *Engine) attempt(ctx context.Context, proposal domain.ChangeProposal) (domain.AuditEvent, error) {
	key := domain.AspectKey{EntityUrn: proposal.EntityUrn, AspectName: proposal.AspectName}
	current, err := e.latest(ctx, key)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	next, err := e.materialize(proposal, current)
	if err != nil {
		return domain.AuditEvent{}, err
	}
	event := domain.NewAuditEvent(e.newID(), current, next, proposal.ChangeType, proposal.Actor)

	var expected *int64
	if current != nil {
		v := current.Version
		expected = &v
	}
	storeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if err := e.store.CommitVersion(storeCtx, expected, next, event); err != nil {
		return domain.AuditEvent{}, err
	}
	return event, nil
}

func (e *Engine) latest(ctx context.Context, key domain.AspectKey) (*domain.VersionedAspect, error) {
	storeCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	current, err := e.store.Latest(storeCtx, key)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	return current, err
}

func (e *Engine) materialize(proposal domain.ChangeProposal, current *domain.VersionedAspect) (domain.VersionedAspect, error) {
	producer := strings.TrimSpace(proposal.ProducerID)
	if producer == "" {
		producer = e.producerID
	}
	next := domain.VersionedAspect{
		EntityUrn:  proposal.EntityUrn,
		EntityType: proposal.EntityType,
		AspectName: proposal.AspectName,
		Version:    domain.NextVersion(current),
		SystemMetadata: domain.SystemMetadata{
			ProducerID: producer,
			Timestamp:  e.now().UTC(),
			RunID:      proposal.RunID,
		},
	}
	live := current != nil && !current.Deleted
	switch proposal.ChangeType {
	case domain.ChangeUpsert:
		next.Payload = proposal.Payload
	case domain.ChangeDelete:
		if !live {
			return next, fmt.Errorf("%w: %s", ports.ErrNotFound, proposal.AspectName)
		}
		next.Deleted = true
	case domain.ChangePatch:
		if !live {
			return next, reject(ReasonSchemaInvalid, fmt.Errorf("cannot patch absent aspect %s", proposal.AspectName))
		}
		ops, err := types.ParsePatch(proposal.Payload)
		if err != nil {
			return next, err
		}
		patched, err := applyPatch(current.Payload, ops)
		if err != nil {
			return next, err
		}
		canonical, err := e.schemas.Validate(proposal.EntityType, proposal.AspectName, patched)
		if err != nil {
			return next, reject(ReasonSchemaInvalid, err)
		}
		next.Payload = canonical
	default:
		return next, domain.ErrInvalidChangeType
	}
	return next, nil
}

// flush publishes what was just staged. Failures stay in the outbox for the sweeper.
func (e *Engine) flush(ctx context.Context, event domain.AuditEvent) {
	if e.relay == nil {
		return
	}
	if err := e.relay.Flush(ctx, event.EntityUrn); err != nil {
		e.logger.WarnContext(ctx, "publish deferred to outbox sweep",
			slog.String("event.id", event.ID),
			slog.String("urn", event.EntityUrn.String()),
			slog.String("error", err.Error()))
	}
}
