package proposals

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application"
	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
	proposalactivities "github.com/Apurer/go-catalog-pipeline/internal/durable/temporal/activities/proposals"
)

type scriptedService struct {
	ports.Service
	calls   atomic.Int32
	results []error
}

func (s *scriptedService) Submit(_ context.Context, input types.SubmitProposalInput) (*types.SubmitResult, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.results) && s.results[n] != nil {
		return nil, s.results[n]
	}
	return &types.SubmitResult{EntityUrn: input.Proposal.EntityUrn, AspectName: input.Proposal.AspectName, Version: 2, EventID: "evt-1"}, nil
}

func runSubmission(t *testing.T, svc *scriptedService) (*types.SubmitResult, error) {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterActivityWithOptions(proposalactivities.NewActivities(svc).SubmitProposal, activity.RegisterOptions{Name: proposalactivities.SubmitProposalActivityName})

	env.ExecuteWorkflow(ProposalSubmissionWorkflow, ProposalSubmissionWorkflowInput{
		Command: types.SubmitProposalInput{
			Proposal: domain.ChangeProposal{
				EntityUrn:  domain.MustParseEntityUrn("glossaryTerm:revenue"),
				AspectName: "glossaryTermInfo",
				ChangeType: domain.ChangeUpsert,
			},
			Actor: domain.ActorContext{Actor: "corpuser:alice"},
		},
		TraceID: "trace-1",
	})
	require.True(t, env.IsWorkflowCompleted())
	if err := env.GetWorkflowError(); err != nil {
		return nil, err
	}
	var result types.SubmitResult
	require.NoError(t, env.GetWorkflowResult(&result))
	return &result, nil
}

func TestProposalSubmissionWorkflow_Applies(t *testing.T) {
	svc := &scriptedService{}
	result, err := runSubmission(t, svc)
	require.NoError(t, err)
	require.Equal(t, int64(2), result.Version)
	require.Equal(t, "evt-1", result.EventID)
	require.EqualValues(t, 1, svc.calls.Load())
}

func TestProposalSubmissionWorkflow_RetriesConflict(t *testing.T) {
	conflict := application.NewRejection(application.ReasonConflict, "version 1 already committed")
	svc := &scriptedService{results: []error{conflict}}
	result, err := runSubmission(t, svc)
	require.NoError(t, err)
	require.Equal(t, int64(2), result.Version)
	require.EqualValues(t, 2, svc.calls.Load())
}

func TestProposalSubmissionWorkflow_SchemaInvalidIsNotRetried(t *testing.T) {
	invalid := application.NewRejection(application.ReasonSchemaInvalid, "name is required")
	svc := &scriptedService{results: []error{invalid, invalid, invalid}}
	_, err := runSubmission(t, svc)
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, string(application.ReasonSchemaInvalid), appErr.Type())
	require.EqualValues(t, 1, svc.calls.Load())
}
