package proposals

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application"
	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

const (
	// SubmitProposalActivityName validates and applies one proposal.
	SubmitProposalActivityName = "proposals.activities.Submit"

	// Application error types carried back to the orchestrator.
	ErrorTypeNotFound            = "NotFound"
	ErrorTypeIdempotencyConflict = "IdempotencyConflict"
)

// Activities groups activities that operate on the aspects bounded context.
type Activities struct {
	service ports.Service
}

// NewActivities wires the aspects service into the Temporal activities bundle.
func NewActivities(service ports.Service) *Activities {
	return &Activities{service: service}
}

// SubmitProposal runs the proposal through validation and the apply engine.
// Rejections that retrying cannot change are returned as non-retryable.
func (a *Activities) SubmitProposal(ctx context.Context, input types.SubmitProposalInput) (*types.SubmitResult, error) {
	logger := activity.GetLogger(ctx)
	urn := input.Proposal.EntityUrn.String()
	aspect := input.Proposal.AspectName
	if a == nil || a.service == nil {
		logger.Error("proposal activity not initialized", "urn", urn)
		return nil, errors.New("proposal activity not initialized")
	}
	logger.Info("SubmitProposal activity started", "urn", urn, "aspect", aspect)
	result, err := a.service.Submit(ctx, input)
	if err != nil {
		logger.Error("SubmitProposal activity failed", "urn", urn, "aspect", aspect, "error", err)
		return nil, toActivityError(err)
	}
	logger.Info("SubmitProposal activity completed", "urn", urn, "aspect", aspect, "version", result.Version)
	return result, nil
}

func toActivityError(err error) error {
	switch {
	case errors.Is(err, ports.ErrIdempotencyConflict):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrorTypeIdempotencyConflict, err)
	case errors.Is(err, ports.ErrNotFound):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrorTypeNotFound, err)
	}
	rejection, ok := application.RejectionOf(err)
	if !ok {
		return err
	}
	switch rejection.Reason {
	case application.ReasonSchemaInvalid, application.ReasonUnauthorized:
		return temporal.NewNonRetryableApplicationError(rejection.Detail, string(rejection.Reason), err)
	default:
		return temporal.NewApplicationError(rejection.Detail, string(rejection.Reason), err)
	}
}
