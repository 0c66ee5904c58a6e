package mapper

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

func TestToSubmitInput(t *testing.T) {
	actor := domain.ActorContext{Actor: "urn:li:corpuser:datahub", Privileges: []domain.Privilege{domain.PrivilegeAdmin}}
	input, err := ToSubmitInput(ProposalRequest{
		EntityUrn:      "urn:li:glossaryNode:finance",
		AspectName:     "GlossaryNodeInfo",
		ChangeType:     " upsert ",
		Payload:        json.RawMessage(`{"name":"Finance"}`),
		SystemMetadata: &SystemMetadata{RunID: "ingest-7", ProducerID: "glossary-importer"},
	}, actor, " key-1 ")
	require.NoError(t, err)
	assert.Equal(t, "glossaryNode:finance", input.Proposal.EntityUrn.String())
	assert.Equal(t, domain.ChangeUpsert, input.Proposal.ChangeType)
	assert.Equal(t, "urn:li:corpuser:datahub", input.Proposal.Actor)
	assert.Equal(t, "ingest-7", input.Proposal.RunID)
	assert.Equal(t, "glossary-importer", input.Proposal.ProducerID)
	assert.Equal(t, "key-1", input.IdempotencyKey)

	_, err = ToSubmitInput(ProposalRequest{EntityUrn: "nocolon", AspectName: "Status", ChangeType: "UPSERT"}, actor, "")
	require.ErrorIs(t, err, domain.ErrInvalidUrn)
}

func TestToSubmitInputMintsEntityKey(t *testing.T) {
	actor := domain.ActorContext{Actor: "corpuser:alice"}
	req := ProposalRequest{
		EntityType: "glossaryNode",
		AspectName: domain.AspectGlossaryNodeInfo,
		ChangeType: "UPSERT",
		Payload:    json.RawMessage(`{"name":"Finance"}`),
	}

	first, err := ToSubmitInput(req, actor, "")
	require.NoError(t, err)
	second, err := ToSubmitInput(req, actor, "")
	require.NoError(t, err)
	assert.Equal(t, "glossaryNode", first.Proposal.EntityUrn.EntityType)
	assert.NotEqual(t, first.Proposal.EntityUrn, second.Proposal.EntityUrn)
	_, err = uuid.Parse(first.Proposal.EntityUrn.Key)
	require.NoError(t, err)

	retried, err := ToSubmitInput(req, actor, "create-finance")
	require.NoError(t, err)
	again, err := ToSubmitInput(req, actor, " create-finance ")
	require.NoError(t, err)
	assert.Equal(t, retried.Proposal.EntityUrn, again.Proposal.EntityUrn)
	other, err := ToSubmitInput(req, domain.ActorContext{Actor: "corpuser:bob"}, "create-finance")
	require.NoError(t, err)
	assert.NotEqual(t, retried.Proposal.EntityUrn, other.Proposal.EntityUrn)

	req.ChangeType = "DELETE"
	_, err = ToSubmitInput(req, actor, "")
	require.ErrorIs(t, err, domain.ErrInvalidUrn)

	_, err = ToSubmitInput(ProposalRequest{AspectName: domain.AspectStatus, ChangeType: "UPSERT"}, actor, "")
	require.ErrorIs(t, err, domain.ErrInvalidUrn)
}

func TestFromOutboxSummary(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)
	out := FromOutboxSummary(ports.OutboxSummary{Pending: 2, OldestStagedAt: now.Add(-10 * time.Second)}, now)
	require.NotNil(t, out.OldestStagedAt)
	assert.InDelta(t, 10.0, out.OldestAgeSeconds, 0.001)

	empty := FromOutboxSummary(ports.OutboxSummary{}, now)
	assert.Nil(t, empty.OldestStagedAt)
	assert.Zero(t, empty.OldestAgeSeconds)
}
