package workflows

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/temporal"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application"
	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
	proposalactivities "github.com/Apurer/go-catalog-pipeline/internal/durable/temporal/activities/proposals"
	proposalworkflows "github.com/Apurer/go-catalog-pipeline/internal/durable/temporal/workflows/proposals"
)

var (
	_ ports.WorkflowOrchestrator = (*TemporalProposalWorkflows)(nil)
	_ ports.WorkflowOrchestrator = (*InlineProposalWorkflows)(nil)
)

// TemporalProposalWorkflows submits proposals through a Temporal cluster.
type TemporalProposalWorkflows struct {
	client    client.Client
	taskQueue string
}

// NewTemporalProposalWorkflows wires a Temporal client into the orchestrator.
func NewTemporalProposalWorkflows(c client.Client) *TemporalProposalWorkflows {
	return &TemporalProposalWorkflows{client: c, taskQueue: proposalworkflows.ProposalSubmissionTaskQueue}
}

// SubmitProposal starts the submission workflow and waits for the committed version.
func (o *TemporalProposalWorkflows) SubmitProposal(ctx context.Context, input types.SubmitProposalInput) (*types.SubmitResult, error) {
	if o == nil || o.client == nil {
		return nil, errors.New("temporal proposal workflows not configured")
	}
	traceComponent := workflowTraceComponent(ctx)
	workflowID := buildSubmissionWorkflowID(input, traceComponent)
	fingerprint, err := submissionFingerprint(input)
	if err != nil {
		return nil, application.NewRejection(application.ReasonSchemaInvalid, err.Error())
	}
	options := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: o.taskQueue,
		Memo:      map[string]interface{}{fingerprintMemo: fingerprint},
	}
	run, err := o.client.ExecuteWorkflow(
		ctx,
		options,
		proposalworkflows.ProposalSubmissionWorkflow,
		proposalworkflows.ProposalSubmissionWorkflowInput{Command: input, TraceID: traceComponent, Fingerprint: fingerprint},
	)
	if err != nil {
		var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &alreadyStarted) && strings.TrimSpace(input.IdempotencyKey) != "" {
			return o.replay(ctx, workflowID, alreadyStarted.RunId, fingerprint)
		}
		return nil, fmt.Errorf("%w: start submission workflow: %v", ports.ErrUnavailable, err)
	}
	var result types.SubmitResult
	if err := run.Get(ctx, &result); err != nil {
		return nil, fromWorkflowError(err)
	}
	return &result, nil
}

// replay returns the outcome of the submission already running under the same
// key, provided it carries the same proposal.
func (o *TemporalProposalWorkflows) replay(ctx context.Context, workflowID, runID, fingerprint string) (*types.SubmitResult, error) {
	described, err := o.client.DescribeWorkflowExecution(ctx, workflowID, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: describe submission workflow: %v", ports.ErrUnavailable, err)
	}
	var stored string
	if payload, ok := described.GetWorkflowExecutionInfo().GetMemo().GetFields()[fingerprintMemo]; ok {
		if err := converter.GetDefaultDataConverter().FromPayload(payload, &stored); err != nil {
			return nil, fmt.Errorf("decode submission fingerprint: %w", err)
		}
	}
	if stored != fingerprint {
		return nil, fmt.Errorf("%w: key is bound to a different proposal", ports.ErrIdempotencyConflict)
	}
	var result types.SubmitResult
	if err := o.client.GetWorkflow(ctx, workflowID, runID).Get(ctx, &result); err != nil {
		return nil, fromWorkflowError(err)
	}
	result.Replayed = true
	return &result, nil
}

// fromWorkflowError restores the typed rejection an activity reported.
func fromWorkflowError(err error) error {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return err
	}
	switch appErr.Type() {
	case proposalactivities.ErrorTypeNotFound:
		return fmt.Errorf("%w: %s", ports.ErrNotFound, appErr.Error())
	case proposalactivities.ErrorTypeIdempotencyConflict:
		return fmt.Errorf("%w: %s", ports.ErrIdempotencyConflict, appErr.Error())
	case string(application.ReasonSchemaInvalid), string(application.ReasonUnauthorized),
		string(application.ReasonConflict), string(application.ReasonUnavailable):
		return application.NewRejection(application.RejectionReason(appErr.Type()), appErr.Error())
	}
	return err
}

// InlineProposalWorkflows executes the service directly without Temporal, for tests or dev fallbacks.
type InlineProposalWorkflows struct {
	service ports.Service
}

// NewInlineProposalWorkflows wraps the aspects service for synchronous execution.
func NewInlineProposalWorkflows(service ports.Service) *InlineProposalWorkflows {
	return &InlineProposalWorkflows{service: service}
}

// SubmitProposal delegates to the application service without durable orchestration.
func (o *InlineProposalWorkflows) SubmitProposal(ctx context.Context, input types.SubmitProposalInput) (*types.SubmitResult, error) {
	if o == nil || o.service == nil {
		return nil, errors.New("inline proposal workflows not configured")
	}
	return o.service.Submit(ctx, input)
}

const fingerprintMemo = "proposalFingerprint"

// submissionFingerprint hashes the proposal as the service will see it, with
// the caller standing in for a missing proposal actor.
func submissionFingerprint(input types.SubmitProposalInput) (string, error) {
	proposal := input.Proposal
	if strings.TrimSpace(proposal.Actor) == "" {
		proposal.Actor = input.Actor.Actor
	}
	return application.FingerprintProposal(proposal)
}

// buildSubmissionWorkflowID scopes idempotency keys to the calling actor.
func buildSubmissionWorkflowID(input types.SubmitProposalInput, traceComponent string) string {
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		return fmt.Sprintf("proposal-idem-%s", hashIdempotencyKey(input.Actor.Actor+"\x00"+key))
	}
	return fmt.Sprintf("proposal-%s-%s-%s",
		input.Proposal.EntityUrn.String(), input.Proposal.AspectName, traceComponent)
}

func hashIdempotencyKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

func workflowTraceComponent(ctx context.Context) string {
	if traceID := workflowTraceID(ctx); traceID != "" {
		return traceID
	}
	return fmt.Sprintf("fallback-%d", time.Now().UnixNano())
}

func workflowTraceID(ctx context.Context) string {
	spanCtx := oteltrace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() || !spanCtx.TraceID().IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}
