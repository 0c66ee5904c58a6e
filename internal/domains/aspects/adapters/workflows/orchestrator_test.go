package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/api/serviceerror"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/mocks"
	"go.temporal.io/sdk/temporal"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application"
	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
	proposalactivities "github.com/Apurer/go-catalog-pipeline/internal/durable/temporal/activities/proposals"
)

func TestBuildSubmissionWorkflowID(t *testing.T) {
	input := types.SubmitProposalInput{
		Proposal: domain.ChangeProposal{EntityUrn: domain.MustParseEntityUrn("glossaryNode:finance"), AspectName: "GlossaryNodeInfo"},
	}
	require.Equal(t, "proposal-glossaryNode:finance-GlossaryNodeInfo-abc", buildSubmissionWorkflowID(input, "abc"))

	input.IdempotencyKey = " key-1 "
	first := buildSubmissionWorkflowID(input, "abc")
	require.True(t, strings.HasPrefix(first, "proposal-idem-"))
	require.Equal(t, first, buildSubmissionWorkflowID(input, "other-trace"))

	input.Actor = domain.ActorContext{Actor: "corpuser:bob"}
	require.NotEqual(t, first, buildSubmissionWorkflowID(input, "abc"))
}

func keyedSubmission(payload string) types.SubmitProposalInput {
	return types.SubmitProposalInput{
		IdempotencyKey: "key-1",
		Actor:          domain.ActorContext{Actor: "corpuser:alice"},
		Proposal: domain.ChangeProposal{
			EntityUrn:  domain.MustParseEntityUrn("glossaryTerm:revenue"),
			AspectName: domain.AspectGlossaryTermInfo,
			ChangeType: domain.ChangeUpsert,
			Payload:    []byte(payload),
		},
	}
}

// runningSubmission makes the client report a submission already started with
// the fingerprint of running.
func runningSubmission(t *testing.T, running types.SubmitProposalInput) *mocks.Client {
	t.Helper()
	fingerprint, err := submissionFingerprint(running)
	require.NoError(t, err)
	payload, err := converter.GetDefaultDataConverter().ToPayload(fingerprint)
	require.NoError(t, err)

	c := mocks.NewClient(t)
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("started", "req-1", "run-1"))
	c.On("DescribeWorkflowExecution", mock.Anything, mock.Anything, "run-1").
		Return(&workflowservice.DescribeWorkflowExecutionResponse{
			WorkflowExecutionInfo: &workflowpb.WorkflowExecutionInfo{
				Memo: &commonpb.Memo{Fields: map[string]*commonpb.Payload{fingerprintMemo: payload}},
			},
		}, nil)
	return c
}

func TestTemporalProposalWorkflows_ReplaysSameProposal(t *testing.T) {
	input := keyedSubmission(`{"name":"Revenue"}`)
	c := runningSubmission(t, input)
	run := mocks.NewWorkflowRun(t)
	run.On("Get", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(1).(*types.SubmitResult) = types.SubmitResult{Version: 3, EventID: "evt-3"}
	}).Return(nil)
	c.On("GetWorkflow", mock.Anything, mock.Anything, "run-1").Return(run)

	result, err := NewTemporalProposalWorkflows(c).SubmitProposal(context.Background(), input)
	require.NoError(t, err)
	require.True(t, result.Replayed)
	require.Equal(t, int64(3), result.Version)
}

func TestTemporalProposalWorkflows_KeyReusedForOtherProposal(t *testing.T) {
	c := runningSubmission(t, keyedSubmission(`{"name":"Revenue"}`))

	_, err := NewTemporalProposalWorkflows(c).SubmitProposal(context.Background(), keyedSubmission(`{"name":"Net revenue"}`))
	require.ErrorIs(t, err, ports.ErrIdempotencyConflict)
	c.AssertNotCalled(t, "GetWorkflow", mock.Anything, mock.Anything, mock.Anything)
}

func TestTemporalProposalWorkflows_StartsWithFingerprintMemo(t *testing.T) {
	input := keyedSubmission(`{"name":"Revenue"}`)
	fingerprint, err := submissionFingerprint(input)
	require.NoError(t, err)

	run := mocks.NewWorkflowRun(t)
	run.On("Get", mock.Anything, mock.Anything).Return(nil)
	c := mocks.NewClient(t)
	c.On("ExecuteWorkflow", mock.Anything, mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
		return o.Memo[fingerprintMemo] == fingerprint
	}), mock.Anything, mock.Anything).Return(run, nil)

	result, err := NewTemporalProposalWorkflows(c).SubmitProposal(context.Background(), input)
	require.NoError(t, err)
	require.False(t, result.Replayed)
}

func TestFromWorkflowError(t *testing.T) {
	err := fromWorkflowError(temporal.NewNonRetryableApplicationError("missing privilege", string(application.ReasonUnauthorized), nil))
	require.ErrorIs(t, err, application.ErrUnauthorized)
	rejection, ok := application.RejectionOf(err)
	require.True(t, ok)
	require.Equal(t, application.ReasonUnauthorized, rejection.Reason)

	err = fromWorkflowError(fmt.Errorf("workflow failed: %w",
		temporal.NewApplicationError("version raced", string(application.ReasonConflict), nil)))
	require.ErrorIs(t, err, ports.ErrConflict)

	err = fromWorkflowError(temporal.NewNonRetryableApplicationError("gone", proposalactivities.ErrorTypeNotFound, nil))
	require.ErrorIs(t, err, ports.ErrNotFound)

	plain := errors.New("boom")
	require.Equal(t, plain, fromWorkflowError(plain))
}

type stubService struct {
	ports.Service
	calls int
}

func (s *stubService) Submit(_ context.Context, input types.SubmitProposalInput) (*types.SubmitResult, error) {
	s.calls++
	return &types.SubmitResult{EntityUrn: input.Proposal.EntityUrn, AspectName: input.Proposal.AspectName, Version: 4}, nil
}

func TestInlineProposalWorkflows(t *testing.T) {
	svc := &stubService{}
	result, err := NewInlineProposalWorkflows(svc).SubmitProposal(context.Background(), types.SubmitProposalInput{
		Proposal: domain.ChangeProposal{EntityUrn: domain.MustParseEntityUrn("test:freshness"), AspectName: "TestInfo"},
	})
	require.NoError(t, err)
	require.Equal(t, int64(4), result.Version)
	require.Equal(t, 1, svc.calls)

	_, err = (*InlineProposalWorkflows)(nil).SubmitProposal(context.Background(), types.SubmitProposalInput{})
	require.Error(t, err)
}
