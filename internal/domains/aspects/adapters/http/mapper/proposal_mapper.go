package mapper

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

// SystemMetadata is the client-supplied provenance of a proposal.
type SystemMetadata struct {
	RunID      string `json:"runId,omitempty"`
	ProducerID string `json:"producerId,omitempty"`
}

// ProposalRequest is the POST /v1/proposals body. The actor is taken from the
// bearer token, never from the body. An UPSERT may omit entityUrn and name
// only entityType; the server then mints the entity key.
type ProposalRequest struct {
	EntityUrn      string          `json:"entityUrn,omitempty"`
	EntityType     string          `json:"entityType,omitempty"`
	AspectName     string          `json:"aspectName" binding:"required"`
	ChangeType     string          `json:"changeType" binding:"required"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	SystemMetadata *SystemMetadata `json:"systemMetadata,omitempty"`
}

// ToSubmitInput converts the request into the application command.
func ToSubmitInput(req ProposalRequest, actor domain.ActorContext, idempotencyKey string) (types.SubmitProposalInput, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	changeType := domain.ChangeType(strings.ToUpper(strings.TrimSpace(req.ChangeType)))
	urn, err := entityUrn(req, changeType, actor, idempotencyKey)
	if err != nil {
		return types.SubmitProposalInput{}, err
	}
	proposal := domain.ChangeProposal{
		EntityUrn:  urn,
		EntityType: req.EntityType,
		AspectName: req.AspectName,
		ChangeType: changeType,
		Payload:    req.Payload,
		Actor:      actor.Actor,
	}
	if req.SystemMetadata != nil {
		proposal.RunID = req.SystemMetadata.RunID
		proposal.ProducerID = req.SystemMetadata.ProducerID
	}
	return types.SubmitProposalInput{
		Proposal:       proposal,
		Actor:          actor,
		IdempotencyKey: idempotencyKey,
	}, nil
}

// entityKeySpace scopes keys derived from idempotency keys.
var entityKeySpace = uuid.MustParse("6f1c1f0e-8a52-5d8e-9c7b-3f4f0d2a9e61")

// entityUrn parses the requested urn or mints one for a new entity. A retried
// request carrying the same idempotency key mints the same key.
func entityUrn(req ProposalRequest, changeType domain.ChangeType, actor domain.ActorContext, idempotencyKey string) (domain.EntityUrn, error) {
	if strings.TrimSpace(req.EntityUrn) != "" {
		return domain.ParseEntityUrn(req.EntityUrn)
	}
	entityType := strings.TrimSpace(req.EntityType)
	if entityType == "" {
		return domain.EntityUrn{}, fmt.Errorf("%w: entityUrn or entityType is required", domain.ErrInvalidUrn)
	}
	if changeType != domain.ChangeUpsert {
		return domain.EntityUrn{}, fmt.Errorf("%w: %s needs an existing entityUrn", domain.ErrInvalidUrn, changeType)
	}
	id := uuid.NewString()
	if idempotencyKey != "" {
		id = uuid.NewSHA1(entityKeySpace, []byte(actor.Actor+"\x00"+idempotencyKey)).String()
	}
	return domain.NewEntityUrn(entityType, id)
}

// SubmitResponse acknowledges a committed version.
type SubmitResponse struct {
	EntityUrn  string `json:"urn"`
	AspectName string `json:"aspect"`
	Version    int64  `json:"version"`
	EventID    string `json:"eventId,omitempty"`
	Replayed   bool   `json:"replayed,omitempty"`
}

// FromSubmitResult maps the application result.
func FromSubmitResult(result *types.SubmitResult) SubmitResponse {
	if result == nil {
		return SubmitResponse{}
	}
	return SubmitResponse{
		EntityUrn:  result.EntityUrn.String(),
		AspectName: result.AspectName,
		Version:    result.Version,
		EventID:    result.EventID,
		Replayed:   result.Replayed,
	}
}

// Version is one stored aspect version.
type Version struct {
	EntityUrn  string          `json:"urn"`
	AspectName string          `json:"aspect"`
	Version    int64           `json:"version"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Deleted    bool            `json:"deleted,omitempty"`
	RunID      string          `json:"runId,omitempty"`
	ProducerID string          `json:"producerId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// FromVersionedAspect maps a stored version.
func FromVersionedAspect(v *domain.VersionedAspect) Version {
	if v == nil {
		return Version{}
	}
	return Version{
		EntityUrn:  v.EntityUrn.String(),
		AspectName: v.AspectName,
		Version:    v.Version,
		Payload:    v.Payload,
		Deleted:    v.Deleted,
		RunID:      v.SystemMetadata.RunID,
		ProducerID: v.SystemMetadata.ProducerID,
		CreatedAt:  v.SystemMetadata.Timestamp,
	}
}

// FromHistory maps versions oldest first.
func FromHistory(history []*domain.VersionedAspect) []Version {
	out := make([]Version, 0, len(history))
	for _, v := range history {
		out = append(out, FromVersionedAspect(v))
	}
	return out
}

// OutboxSummary reports events committed but not yet on the log.
type OutboxSummary struct {
	Pending          int        `json:"pending"`
	OldestStagedAt   *time.Time `json:"oldestStagedAt,omitempty"`
	OldestAgeSeconds float64    `json:"oldestAgeSeconds"`
}

// FromOutboxSummary maps the outbox state, computing age against now.
func FromOutboxSummary(summary ports.OutboxSummary, now time.Time) OutboxSummary {
	out := OutboxSummary{Pending: summary.Pending}
	if summary.Pending > 0 && !summary.OldestStagedAt.IsZero() {
		oldest := summary.OldestStagedAt
		out.OldestStagedAt = &oldest
		out.OldestAgeSeconds = now.Sub(oldest).Seconds()
	}
	return out
}
