package application

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	aspectmemory "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/memory"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/policy"
	aspectapp "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application"
	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	propmemory "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/adapters/memory"
	propagation "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/application"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/adapters/memory"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
)

// Two upserts travel from submission through the log into the aspect cache,
// which must end with the second payload only.
func TestEndToEnd_UpsertsReachAspectCache(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := propmemory.NewEventLog(4)
	store := aspectmemory.NewAspectStore()
	schemas := aspectapp.DefaultSchemaRegistry()
	relay := aspectapp.NewOutboxRelay(store, propagation.NewPublisher(log))
	engine := aspectapp.NewEngine(store, schemas, aspectapp.WithRelay(relay))
	svc := aspectapp.NewService(store, aspectapp.NewValidator(schemas, policy.Default()), engine, aspectmemory.NewIdempotencyStore())

	signal := NewSignal()
	cacheStore := memory.NewDocumentStore()
	group, err := propagation.NewConsumerGroup(propagation.GroupConfig{
		Name:        domain.ViewAspectCache,
		Handler:     NewAspectCache(cacheStore, WithSignal(signal)),
		PollTimeout: 50 * time.Millisecond,
	}, log, propmemory.NewCheckpointStore(), propagation.NewDeadLetterHandler(propmemory.NewDeadLetterStore(), nil))
	require.NoError(t, err)
	stopped := make(chan error, 1)
	go func() { stopped <- group.Run(ctx) }()

	actor := aspects.ActorContext{Actor: "corpuser:alice", Privileges: []aspects.Privilege{aspects.PrivilegeEditEntity, aspects.PrivilegeManageGlossary}}
	urn := aspects.MustParseEntityUrn("glossaryNode:finance")
	submitNode := func(payload string) *types.SubmitResult {
		result, err := svc.Submit(ctx, types.SubmitProposalInput{
			Actor: actor,
			Proposal: aspects.ChangeProposal{
				EntityUrn:  urn,
				AspectName: aspects.AspectGlossaryNodeInfo,
				ChangeType: aspects.ChangeUpsert,
				Payload:    json.RawMessage(payload),
			},
		})
		require.NoError(t, err)
		return result
	}

	first := submitNode(`{"name":"Finance"}`)
	require.Equal(t, int64(0), first.Version)
	require.Nil(t, first.Event.PreviousVersion)
	second := submitNode(`{"name":"Finance & Accounting"}`)
	require.Equal(t, int64(1), second.Version)
	require.Equal(t, int64(0), *second.Event.PreviousVersion)

	reader := NewReader(memory.NewDocumentStore(), cacheStore, memory.NewGraphStore(), WithReaderSignal(signal))
	key := aspects.AspectKey{EntityUrn: urn, AspectName: aspects.AspectGlossaryNodeInfo}
	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
	defer waitCancel()
	applied, err := reader.WaitForVersion(waitCtx, domain.ViewAspectCache, key, second.Version)
	require.NoError(t, err)
	require.Equal(t, second.EventID, applied.EventID)

	doc, err := reader.Document(ctx, domain.ViewAspectCache, key, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"Finance & Accounting"}`, string(doc.Payload))

	cancel()
	require.NoError(t, <-stopped)
}
