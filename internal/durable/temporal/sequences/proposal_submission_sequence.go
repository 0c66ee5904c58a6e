package sequences

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	proposalactivities "github.com/Apurer/go-catalog-pipeline/internal/durable/temporal/activities/proposals"
)

// RunProposalSubmissionSequence executes the activities that durably apply a proposal.
// Conflict and Unavailable rejections are retried here, at proposal level.
func RunProposalSubmissionSequence(ctx workflow.Context, input types.SubmitProposalInput) (*types.SubmitResult, error) {
	logger := workflow.GetLogger(ctx)
	urn := input.Proposal.EntityUrn.String()
	logger.Info("proposal submission sequence started", "urn", urn, "aspect", input.Proposal.AspectName)
	options := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, options)

	var result types.SubmitResult
	err := workflow.ExecuteActivity(ctx, proposalactivities.SubmitProposalActivityName, input).Get(ctx, &result)
	if err != nil {
		logger.Error("proposal submission sequence failed", "urn", urn, "error", err)
		return nil, err
	}
	logger.Info("proposal submission sequence completed", "urn", urn, "version", result.Version)
	return &result, nil
}
