package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	aspectmemory "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/memory"
	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

type authorizerFunc func(actor domain.ActorContext, changeType domain.ChangeType) error

func (f authorizerFunc) Authorize(_ context.Context, actor domain.ActorContext, _, _ string, changeType domain.ChangeType) error {
	return f(actor, changeType)
}

var allowEditors = authorizerFunc(func(actor domain.ActorContext, changeType domain.ChangeType) error {
	required := domain.PrivilegeEditEntity
	if changeType == domain.ChangeDelete {
		required = domain.PrivilegeDeleteEntity
	}
	if !actor.Has(required) {
		return fmt.Errorf("%w: missing %s", ports.ErrUnauthorized, required)
	}
	return nil
})

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	seen   map[string]bool
	fail   error
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.AuditEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	if p.seen == nil {
		p.seen = map[string]bool{}
	}
	if p.seen[event.ID] {
		return nil
	}
	p.seen[event.ID] = true
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) setFail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func (p *recordingPublisher) published() []domain.AuditEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.AuditEvent(nil), p.events...)
}

type fixture struct {
	store     *aspectmemory.AspectStore
	publisher *recordingPublisher
	relay     *OutboxRelay
	svc       *Service
}

func newFixture(t *testing.T, opts ...EngineOption) fixture {
	t.Helper()
	store := aspectmemory.NewAspectStore()
	publisher := &recordingPublisher{}
	relay := NewOutboxRelay(store, publisher)
	schemas := DefaultSchemaRegistry()
	engine := NewEngine(store, schemas, append([]EngineOption{WithRelay(relay)}, opts...)...)
	svc := NewService(store, NewValidator(schemas, allowEditors), engine, aspectmemory.NewIdempotencyStore())
	return fixture{store: store, publisher: publisher, relay: relay, svc: svc}
}

var editor = domain.ActorContext{
	Actor:      "corpuser:alice",
	Privileges: []domain.Privilege{domain.PrivilegeEditEntity, domain.PrivilegeDeleteEntity},
}

func proposal(urn, aspect, changeType, payload string) domain.ChangeProposal {
	p := domain.ChangeProposal{
		EntityUrn:  domain.MustParseEntityUrn(urn),
		AspectName: aspect,
		ChangeType: domain.ChangeType(changeType),
	}
	if payload != "" {
		p.Payload = json.RawMessage(payload)
	}
	return p
}

func submit(t *testing.T, svc *Service, p domain.ChangeProposal) *types.SubmitResult {
	t.Helper()
	result, err := svc.Submit(context.Background(), types.SubmitProposalInput{Proposal: p, Actor: editor})
	require.NoError(t, err)
	return result
}

func TestSubmit_FirstAndSecondUpsert(t *testing.T) {
	f := newFixture(t)

	first := submit(t, f.svc, proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Finance"}`))
	require.Equal(t, int64(0), first.Version)
	require.Nil(t, first.Event.PreviousVersion)
	require.Equal(t, int64(0), first.Event.CurrentVersion)
	require.Nil(t, first.Event.PreviousPayload)

	second := submit(t, f.svc, proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Finance & Accounting"}`))
	require.Equal(t, int64(1), second.Version)
	require.NotNil(t, second.Event.PreviousVersion)
	require.Equal(t, int64(0), *second.Event.PreviousVersion)
	require.JSONEq(t, `{"name":"Finance"}`, string(second.Event.PreviousPayload))
	require.JSONEq(t, `{"name":"Finance & Accounting"}`, string(second.Event.CurrentPayload))

	published := f.publisher.published()
	require.Len(t, published, 2)
	require.Equal(t, first.EventID, published[0].ID)
	require.Equal(t, second.EventID, published[1].ID)

	summary, err := f.svc.OutboxSummary(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Pending)
}

func TestSubmit_RejectsSchemaInvalidWithoutMutation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]domain.ChangeProposal{
		"unknown field":    proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Finance","color":"red"}`),
		"missing required": proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"definition":"x"}`),
		"not json":         proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":`),
		"unknown aspect":   proposal("glossaryNode:finance", "Mystery", "UPSERT", `{}`),
		"wrong entity":     proposal("dataset:orders", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Orders"}`),
		"bad urn in field": proposal("glossaryTerm:revenue", domain.AspectGlossaryRelatedTerms, "UPSERT", `{"relatedTerms":["nope"]}`),
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Submit(context.Background(), types.SubmitProposalInput{Proposal: p, Actor: editor})
			require.ErrorIs(t, err, ErrSchemaInvalid)
			rejection, ok := RejectionOf(err)
			require.True(t, ok)
			require.Equal(t, ReasonSchemaInvalid, rejection.Reason)
		})
	}

	summary, err := f.store.OutboxSummary(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Pending)
	require.Empty(t, f.publisher.published())
}

func TestSubmit_RejectsUnauthorized(t *testing.T) {
	f := newFixture(t)
	p := proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Finance"}`)

	_, err := f.svc.Submit(context.Background(), types.SubmitProposalInput{
		Proposal: p,
		Actor:    domain.ActorContext{Actor: "corpuser:bob"},
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Submit(context.Background(), types.SubmitProposalInput{Proposal: p})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.svc.Latest(context.Background(), domain.AspectKey{EntityUrn: p.EntityUrn, AspectName: p.AspectName})
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func TestSubmit_DeleteAppendsTombstone(t *testing.T) {
	f := newFixture(t)
	urn := "glossaryTerm:revenue"
	aspect := domain.AspectGlossaryTermInfo

	submit(t, f.svc, proposal(urn, aspect, "UPSERT", `{"name":"Revenue","definition":"Money in"}`))
	deleted := submit(t, f.svc, proposal(urn, aspect, "DELETE", ""))
	require.Equal(t, int64(1), deleted.Version)
	require.True(t, deleted.Event.IsTombstone())
	require.Nil(t, deleted.Event.CurrentPayload)
	require.JSONEq(t, `{"name":"Revenue","definition":"Money in"}`, string(deleted.Event.PreviousPayload))

	_, err := f.svc.Submit(context.Background(), types.SubmitProposalInput{Proposal: proposal(urn, aspect, "DELETE", ""), Actor: editor})
	require.ErrorIs(t, err, ports.ErrNotFound)

	restored := submit(t, f.svc, proposal(urn, aspect, "UPSERT", `{"name":"Revenue","definition":"Income"}`))
	require.Equal(t, int64(2), restored.Version)
	require.Nil(t, restored.Event.PreviousPayload)

	history, err := f.svc.History(context.Background(), domain.AspectKey{EntityUrn: domain.MustParseEntityUrn(urn), AspectName: aspect})
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.True(t, history[1].Deleted)
}

func TestSubmit_DeleteMissingAspect(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), types.SubmitProposalInput{
		Proposal: proposal("glossaryTerm:ghost", domain.AspectGlossaryTermInfo, "DELETE", ""),
		Actor:    editor,
	})
	require.ErrorIs(t, err, ports.ErrNotFound)
}

func TestSubmit_Patch(t *testing.T) {
	f := newFixture(t)
	urn := "glossaryTerm:revenue"
	aspect := domain.AspectGlossaryTermInfo

	_, err := f.svc.Submit(context.Background(), types.SubmitProposalInput{
		Proposal: proposal(urn, aspect, "PATCH", `[{"op":"set","path":"name","value":"Revenue"}]`),
		Actor:    editor,
	})
	require.ErrorIs(t, err, ErrSchemaInvalid)

	submit(t, f.svc, proposal(urn, aspect, "UPSERT", `{"name":"Revenue","definition":"Money in","termSource":"INTERNAL"}`))
	patched := submit(t, f.svc, proposal(urn, aspect, "PATCH",
		`[{"op":"set","path":"definition","value":"Money received"},{"op":"remove","path":"termSource"}]`))
	require.Equal(t, int64(1), patched.Version)
	require.Equal(t, domain.ChangePatch, patched.Event.ChangeType)
	require.JSONEq(t, `{"name":"Revenue","definition":"Money received"}`, string(patched.Event.CurrentPayload))

	_, err = f.svc.Submit(context.Background(), types.SubmitProposalInput{
		Proposal: proposal(urn, aspect, "PATCH", `[{"op":"remove","path":"definition"}]`),
		Actor:    editor,
	})
	require.ErrorIs(t, err, ErrSchemaInvalid)
}

func TestSubmit_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	p := proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Finance"}`)
	input := types.SubmitProposalInput{Proposal: p, Actor: editor, IdempotencyKey: "req-1"}

	first, err := f.svc.Submit(context.Background(), input)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	replayed, err := f.svc.Submit(context.Background(), input)
	require.NoError(t, err)
	require.True(t, replayed.Replayed)
	require.Equal(t, first.Version, replayed.Version)
	require.Equal(t, first.EventID, replayed.EventID)
	require.Len(t, f.publisher.published(), 1)

	input.Proposal = proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Other"}`)
	_, err = f.svc.Submit(context.Background(), input)
	require.ErrorIs(t, err, ports.ErrIdempotencyConflict)
}

// racingStore lets a competing writer commit right before the first CAS attempt.
type racingStore struct {
	*aspectmemory.AspectStore
	once    sync.Once
	compete func()
}

func (s *racingStore) CommitVersion(ctx context.Context, expected *int64, next domain.VersionedAspect, event domain.AuditEvent) error {
	s.once.Do(s.compete)
	return s.AspectStore.CommitVersion(ctx, expected, next, event)
}

func TestEngine_ConflictRetriesWithFreshVersion(t *testing.T) {
	for _, tc := range []struct {
		name       string
		maxRetries int
		wantErr    bool
	}{
		{name: "retried", maxRetries: 3},
		{name: "exhausted", maxRetries: 0, wantErr: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			inner := aspectmemory.NewAspectStore()
			schemas := DefaultSchemaRegistry()
			competitor := NewEngine(inner, schemas)
			base := proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Finance"}`)
			require.NoError(t, base.Normalize(time.Now()))
			_, err := competitor.Apply(context.Background(), base)
			require.NoError(t, err)

			store := &racingStore{AspectStore: inner, compete: func() {
				_, err := competitor.Apply(context.Background(), base)
				require.NoError(t, err)
			}}
			engine := NewEngine(store, schemas, WithMaxRetries(tc.maxRetries))
			event, err := engine.Apply(context.Background(), base)
			if tc.wantErr {
				require.ErrorIs(t, err, ports.ErrConflict)
				rejection, ok := RejectionOf(err)
				require.True(t, ok)
				require.Equal(t, ReasonConflict, rejection.Reason)
				return
			}
			require.NoError(t, err)
			require.Equal(t, int64(2), event.CurrentVersion)
			require.Equal(t, int64(1), *event.PreviousVersion)
		})
	}
}

func TestEngine_ConcurrentAppliesProduceContiguousVersions(t *testing.T) {
	f := newFixture(t, WithMaxRetries(100))
	const writers = 20

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", fmt.Sprintf(`{"name":"Finance %d"}`, i))
			_, err := f.svc.Submit(context.Background(), types.SubmitProposalInput{Proposal: p, Actor: editor})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := f.svc.History(context.Background(), domain.AspectKey{
		EntityUrn:  domain.MustParseEntityUrn("glossaryNode:finance"),
		AspectName: domain.AspectGlossaryNodeInfo,
	})
	require.NoError(t, err)
	require.Len(t, history, writers)
	for i, v := range history {
		require.Equal(t, int64(i), v.Version)
	}
}

func TestEngine_StorageFailureIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.FailCommits(fmt.Errorf("%w: connection reset", ports.ErrUnavailable))

	_, err := f.svc.Submit(context.Background(), types.SubmitProposalInput{
		Proposal: proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Finance"}`),
		Actor:    editor,
	})
	require.ErrorIs(t, err, ports.ErrUnavailable)
	rejection, ok := RejectionOf(err)
	require.True(t, ok)
	require.Equal(t, ReasonUnavailable, rejection.Reason)
}

func TestOutbox_PublishFailureIsSweptLaterInOrder(t *testing.T) {
	f := newFixture(t)
	f.publisher.setFail(errors.New("log down"))

	first := submit(t, f.svc, proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Finance"}`))
	second := submit(t, f.svc, proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Finance 2"}`))
	require.Empty(t, f.publisher.published())

	summary, err := f.svc.OutboxSummary(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Pending)
	require.False(t, summary.OldestStagedAt.IsZero())

	result, err := f.relay.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed, "a failed entity is skipped for the rest of the pass")

	f.publisher.setFail(nil)
	result, err = f.relay.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.Published)

	published := f.publisher.published()
	require.Len(t, published, 2)
	require.Equal(t, first.EventID, published[0].ID)
	require.Equal(t, second.EventID, published[1].ID)

	summary, err = f.svc.OutboxSummary(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Pending)
}

// stallingStore blocks outbox calls until their context ends.
type stallingStore struct {
	*aspectmemory.AspectStore
	stallPending bool
	stallMark    bool
}

func (s *stallingStore) PendingOutbox(ctx context.Context, filter ports.OutboxFilter) ([]domain.AuditEvent, error) {
	if s.stallPending {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.AspectStore.PendingOutbox(ctx, filter)
}

func (s *stallingStore) MarkPublished(ctx context.Context, eventID string) error {
	if s.stallMark {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.AspectStore.MarkPublished(ctx, eventID)
}

func TestOutbox_StorageCallsAreBounded(t *testing.T) {
	store := &stallingStore{AspectStore: aspectmemory.NewAspectStore(), stallMark: true}
	publisher := &recordingPublisher{}
	relay := NewOutboxRelay(store, publisher, WithRelayStorageTimeout(50*time.Millisecond))
	schemas := DefaultSchemaRegistry()
	svc := NewService(store, NewValidator(schemas, allowEditors), NewEngine(store, schemas, WithRelay(relay)), nil)

	started := time.Now()
	result := submit(t, svc, proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Finance"}`))
	require.Less(t, time.Since(started), 2*time.Second)
	require.Equal(t, int64(0), result.Version)
	require.Len(t, publisher.published(), 1)

	// The stalled mark leaves the event staged for the next sweep.
	store.stallMark = false
	store.stallPending = true
	started = time.Now()
	_, err := relay.Sweep(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Less(t, time.Since(started), 2*time.Second)

	store.stallPending = false
	swept, err := relay.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, swept.Published)
}

func TestEngine_StampsProducer(t *testing.T) {
	f := newFixture(t, WithProducerID("catalog-api-1"))

	own := submit(t, f.svc, proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Finance"}`))
	require.Equal(t, "catalog-api-1", own.Event.SystemMetadata.ProducerID)

	p := proposal("glossaryNode:finance", domain.AspectGlossaryNodeInfo, "UPSERT", `{"name":"Finance 2"}`)
	p.ProducerID = "glossary-importer"
	p.RunID = "ingest-7"
	client := submit(t, f.svc, p)

	stored, err := f.store.History(context.Background(), domain.AspectKey{EntityUrn: p.EntityUrn, AspectName: p.AspectName})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, "glossary-importer", stored[1].SystemMetadata.ProducerID)
	require.Equal(t, "ingest-7", stored[1].SystemMetadata.RunID)
	require.Equal(t, "glossary-importer", client.Event.SystemMetadata.ProducerID)
}
