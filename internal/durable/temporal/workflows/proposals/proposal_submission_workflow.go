package proposals

import (
	"go.temporal.io/sdk/workflow"

	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/durable/temporal/sequences"
)

const (
	// ProposalSubmissionWorkflowName is the public identifier for registering the workflow.
	ProposalSubmissionWorkflowName = "proposals.workflows.Submission"
	// ProposalSubmissionTaskQueue is the queue consumed by the worker applying proposals.
	ProposalSubmissionTaskQueue = "CATALOG_PROPOSALS"
)

// ProposalSubmissionWorkflowInput carries one proposal plus the caller trace.
type ProposalSubmissionWorkflowInput struct {
	Command types.SubmitProposalInput
	TraceID string
	// Fingerprint identifies the proposal behind an idempotency key.
	Fingerprint string
}

// ProposalSubmissionWorkflow durably applies a change proposal.
func ProposalSubmissionWorkflow(ctx workflow.Context, input ProposalSubmissionWorkflowInput) (*types.SubmitResult, error) {
	logger := workflow.GetLogger(ctx)
	urn := input.Command.Proposal.EntityUrn.String()
	logger.Info("ProposalSubmissionWorkflow started", withTraceID(input.TraceID, "urn", urn)...)
	result, err := sequences.RunProposalSubmissionSequence(ctx, input.Command)
	if err != nil {
		logger.Error("ProposalSubmissionWorkflow failed", withTraceID(input.TraceID, "urn", urn, "error", err)...)
		return nil, err
	}
	logger.Info("ProposalSubmissionWorkflow completed", withTraceID(input.TraceID, "urn", urn, "version", result.Version)...)
	return result, nil
}

func withTraceID(traceID string, keyvals ...interface{}) []interface{} {
	if traceID == "" {
		return keyvals
	}
	return append(keyvals, "traceId", traceID)
}
