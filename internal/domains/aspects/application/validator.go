package application

import (
	"context"
	"errors"

	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

// Validator gates proposals on schema and privilege before any storage access.
type Validator struct {
	schemas    ports.SchemaRegistry
	authorizer ports.Authorizer
}

// NewValidator wires the schema registry and authorizer.
func NewValidator(schemas ports.SchemaRegistry, authorizer ports.Authorizer) *Validator {
	return &Validator{schemas: schemas, authorizer: authorizer}
}

// Validate returns the proposal with a canonical payload, or a *Rejection.
// It has no side effects.
func (v *Validator) Validate(ctx context.Context, proposal domain.ChangeProposal, actor domain.ActorContext) (domain.ChangeProposal, error) {
	if !v.schemas.Known(proposal.AspectName) {
		return proposal, reject(ReasonSchemaInvalid, errors.Join(ErrSchemaInvalid, errUnknownAspect(proposal.AspectName)))
	}
	switch proposal.ChangeType {
	case domain.ChangeUpsert:
		canonical, err := v.schemas.Validate(proposal.EntityType, proposal.AspectName, proposal.Payload)
		if err != nil {
			return proposal, reject(ReasonSchemaInvalid, err)
		}
		proposal.Payload = canonical
	case domain.ChangePatch:
		// The patched document is validated against the schema once the base
		// version is known.
		if _, err := types.ParsePatch(proposal.Payload); err != nil {
			return proposal, reject(ReasonSchemaInvalid, err)
		}
	case domain.ChangeDelete:
		proposal.Payload = nil
	}

	if actor.Anonymous() {
		return proposal, reject(ReasonUnauthorized, errors.New("actor identity is required"))
	}
	if err := v.authorizer.Authorize(ctx, actor, proposal.EntityType, proposal.AspectName, proposal.ChangeType); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return proposal, reject(ReasonUnauthorized, err)
		}
		return proposal, mapError(err)
	}
	return proposal, nil
}

type errUnknownAspect string

func (e errUnknownAspect) Error() string { return "unknown aspect " + string(e) }
