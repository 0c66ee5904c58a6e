package ports

import (
	"context"

	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
)

// Service exposes the write and read use cases of the aspects context.
type Service interface {
	Submit(ctx context.Context, input types.SubmitProposalInput) (*types.SubmitResult, error)
	Latest(ctx context.Context, key domain.AspectKey) (*domain.VersionedAspect, error)
	GetVersion(ctx context.Context, key domain.AspectKey, version int64) (*domain.VersionedAspect, error)
	History(ctx context.Context, key domain.AspectKey) ([]*domain.VersionedAspect, error)
	OutboxSummary(ctx context.Context) (OutboxSummary, error)
}

// WorkflowOrchestrator runs proposal submission through a durable workflow engine.
type WorkflowOrchestrator interface {
	SubmitProposal(ctx context.Context, input types.SubmitProposalInput) (*types.SubmitResult, error)
}
