package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

// Service orchestrates the aspects bounded context use cases.
type Service struct {
	store       ports.AspectStore
	validator   *Validator
	engine      *Engine
	idempotency ports.IdempotencyStore
	now         func() time.Time
}

// NewService wires the aspects service with its dependencies. idempotency may be nil.
func NewService(store ports.AspectStore, validator *Validator, engine *Engine, idempotency ports.IdempotencyStore) *Service {
	return &Service{
		store:       store,
		validator:   validator,
		engine:      engine,
		idempotency: idempotency,
		now:         time.Now,
	}
}

// WithClock overrides the time source for deterministic testing.
func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Submit validates, authorizes and applies one proposal.
func (s *Service) Submit(ctx context.Context, input types.SubmitProposalInput) (*types.SubmitResult, error) {
	proposal := input.Proposal
	if strings.TrimSpace(proposal.Actor) == "" {
		proposal.Actor = input.Actor.Actor
	}
	if err := proposal.Normalize(s.now().UTC()); err != nil {
		return nil, mapError(err)
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	var fingerprint string
	if key != "" && s.idempotency != nil {
		var err error
		fingerprint, err = FingerprintProposal(proposal)
		if err != nil {
			return nil, reject(ReasonSchemaInvalid, err)
		}
		existing, err := s.idempotency.Get(ctx, key)
		if err != nil {
			return nil, mapError(err)
		}
		if existing != nil {
			return replayResult(existing, fingerprint)
		}
	}

	validated, err := s.validator.Validate(ctx, proposal, input.Actor)
	if err != nil {
		return nil, err
	}
	event, err := s.engine.Apply(ctx, validated)
	if err != nil {
		return nil, err
	}
	result := &types.SubmitResult{
		EntityUrn:  event.EntityUrn,
		AspectName: event.AspectName,
		Version:    event.CurrentVersion,
		EventID:    event.ID,
		Event:      &event,
	}

	if fingerprint != "" {
		record := ports.IdempotencyRecord{
			Key:         key,
			RequestHash: fingerprint,
			EntityUrn:   event.EntityUrn.String(),
			AspectName:  event.AspectName,
			Version:     event.CurrentVersion,
			EventID:     event.ID,
		}
		stored, err := s.idempotency.Save(ctx, record)
		if err != nil {
			if errors.Is(err, ports.ErrIdempotencyConflict) && stored != nil {
				return replayResult(stored, fingerprint)
			}
			return nil, mapError(err)
		}
	}
	return result, nil
}

func replayResult(record *ports.IdempotencyRecord, fingerprint string) (*types.SubmitResult, error) {
	if record.RequestHash != fingerprint {
		return nil, fmt.Errorf("%w: key %s was used for a different proposal", ports.ErrIdempotencyConflict, record.Key)
	}
	urn, err := domain.ParseEntityUrn(record.EntityUrn)
	if err != nil {
		return nil, err
	}
	return &types.SubmitResult{
		EntityUrn:  urn,
		AspectName: record.AspectName,
		Version:    record.Version,
		EventID:    record.EventID,
		Replayed:   true,
	}, nil
}

// Latest loads the newest version from the Aspect Store.
func (s *Service) Latest(ctx context.Context, key domain.AspectKey) (*domain.VersionedAspect, error) {
	aspect, err := s.store.Latest(ctx, key)
	if err != nil {
		return nil, mapError(err)
	}
	return aspect, nil
}

// GetVersion loads one historical version.
func (s *Service) GetVersion(ctx context.Context, key domain.AspectKey, version int64) (*domain.VersionedAspect, error) {
	aspect, err := s.store.Get(ctx, key, version)
	if err != nil {
		return nil, mapError(err)
	}
	return aspect, nil
}

// History lists every version in ascending order.
func (s *Service) History(ctx context.Context, key domain.AspectKey) ([]*domain.VersionedAspect, error) {
	history, err := s.store.History(ctx, key)
	if err != nil {
		return nil, mapError(err)
	}
	return history, nil
}

// OutboxSummary reports staged-but-unpublished events.
func (s *Service) OutboxSummary(ctx context.Context) (ports.OutboxSummary, error) {
	summary, err := s.store.OutboxSummary(ctx)
	if err != nil {
		return ports.OutboxSummary{}, mapError(err)
	}
	return summary, nil
}

var _ ports.Service = (*Service)(nil)
