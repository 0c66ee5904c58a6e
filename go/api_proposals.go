package catalogserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	aspectshttpmapper "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/http/mapper"
	aspectstypes "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	aspectsdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	aspectsports "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

// IdempotencyKeyHeader carries the optional proposal idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

const actorContextKey = "catalog.actor"

// ProposalAPI accepts change proposals.
type ProposalAPI struct {
	service   aspectsports.Service
	workflows aspectsports.WorkflowOrchestrator
	verifier  aspectsports.ActorVerifier
}

// NewProposalAPI wires the submission path. workflows may be nil to call the service directly.
func NewProposalAPI(service aspectsports.Service, workflows aspectsports.WorkflowOrchestrator, verifier aspectsports.ActorVerifier) ProposalAPI {
	return ProposalAPI{service: service, workflows: workflows, verifier: verifier}
}

// Post /v1/proposals
// Submit a change proposal for one aspect
func (api *ProposalAPI) SubmitProposal(c *gin.Context) {
	actor, ok := authenticate(c, api.verifier)
	if !ok {
		return
	}
	var payload aspectshttpmapper.ProposalRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondBadRequest(c, err)
		return
	}
	input, err := aspectshttpmapper.ToSubmitInput(payload, actor, c.GetHeader(IdempotencyKeyHeader))
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := api.submit(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, aspectshttpmapper.FromSubmitResult(result))
}

func (api *ProposalAPI) submit(ctx context.Context, input aspectstypes.SubmitProposalInput) (*aspectstypes.SubmitResult, error) {
	if api.workflows != nil {
		return api.workflows.SubmitProposal(ctx, input)
	}
	return api.service.Submit(ctx, input)
}

// authenticate resolves the bearer token, responding 401 when it is missing or invalid.
func authenticate(c *gin.Context, verifier aspectsports.ActorVerifier) (aspectsdomain.ActorContext, bool) {
	if cached, ok := c.Get(actorContextKey); ok {
		if actor, ok := cached.(aspectsdomain.ActorContext); ok {
			return actor, true
		}
	}
	if verifier == nil {
		respondError(c, aspectsports.ErrUnauthorized)
		return aspectsdomain.ActorContext{}, false
	}
	actor, err := verifier.Verify(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		respondError(c, err)
		return aspectsdomain.ActorContext{}, false
	}
	c.Set(actorContextKey, actor)
	return actor, true
}
