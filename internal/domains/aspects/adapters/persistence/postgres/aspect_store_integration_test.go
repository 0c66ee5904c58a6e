//go:build integration
// +build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
	"github.com/Apurer/go-catalog-pipeline/internal/platform/postgres/pgtest"
)

var node = domain.MustParseEntityUrn("glossaryNode:finance")

func version(v int64, payload string) (domain.VersionedAspect, domain.AuditEvent) {
	next := domain.VersionedAspect{
		EntityUrn:      node,
		EntityType:     node.EntityType,
		AspectName:     domain.AspectGlossaryNodeInfo,
		Version:        v,
		Payload:        json.RawMessage(payload),
		SystemMetadata: domain.SystemMetadata{ProducerID: "test", Timestamp: time.Now().UTC()},
	}
	var prev *domain.VersionedAspect
	if v > 0 {
		prev = &domain.VersionedAspect{Version: v - 1}
	}
	id := "evt-" + string(rune('a'+v))
	return next, domain.NewAuditEvent(id, prev, next, domain.ChangeUpsert, "corpuser:alice")
}

func TestAspectStore_CommitAndRead(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, _, cleanup := pgtest.Setup(t)
	defer cleanup()

	store := NewAspectStore(db)
	ctx := context.Background()
	key := domain.AspectKey{EntityUrn: node, AspectName: domain.AspectGlossaryNodeInfo}

	_, err := store.Latest(ctx, key)
	require.ErrorIs(t, err, ports.ErrNotFound)

	v0, e0 := version(0, `{"name":"Finance"}`)
	require.NoError(t, store.CommitVersion(ctx, nil, v0, e0))
	expected := int64(0)
	v1, e1 := version(1, `{"name":"Finance & Accounting"}`)
	require.NoError(t, store.CommitVersion(ctx, &expected, v1, e1))

	latest, err := store.Latest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.Version)
	assert.JSONEq(t, `{"name":"Finance & Accounting"}`, string(latest.Payload))

	history, err := store.History(ctx, key)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(0), history[0].Version)

	first, err := store.Get(ctx, key, 0)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Finance"}`, string(first.Payload))

	pending, err := store.PendingOutbox(ctx, ports.OutboxFilter{EntityUrn: &node})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, e0.ID, pending[0].ID)

	require.NoError(t, store.RecordPublishFailure(ctx, e0.ID, "log unavailable"))
	require.NoError(t, store.MarkPublished(ctx, e0.ID))
	summary, err := store.OutboxSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pending)
}

func TestAspectStore_CompareAndSwap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, _, cleanup := pgtest.Setup(t)
	defer cleanup()

	store := NewAspectStore(db)
	ctx := context.Background()

	v0, e0 := version(0, `{"name":"Finance"}`)
	require.NoError(t, store.CommitVersion(ctx, nil, v0, e0))

	// both writers read version 0; exactly one may claim version 1
	base := int64(0)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next, event := version(1, `{"name":"writer"}`)
			event.ID = event.ID + string(rune('0'+i))
			errs[i] = store.CommitVersion(ctx, &base, next, event)
		}(i)
	}
	wg.Wait()

	conflicts := 0
	for _, err := range errs {
		if errors.Is(err, ports.ErrConflict) {
			conflicts++
		} else {
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 1, conflicts)

	// a second "first write" is a conflict as well
	dup, dupEvent := version(0, `{"name":"again"}`)
	dupEvent.ID = "evt-dup"
	require.ErrorIs(t, store.CommitVersion(ctx, nil, dup, dupEvent), ports.ErrConflict)
}

func TestIdempotencyStore_SaveAndConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, _, cleanup := pgtest.Setup(t)
	defer cleanup()

	store := NewIdempotencyStore(db, 0)
	ctx := context.Background()
	record := ports.IdempotencyRecord{Key: "k-1", RequestHash: "h1", EntityUrn: node.String(), AspectName: domain.AspectGlossaryNodeInfo, Version: 3, EventID: "evt"}

	saved, err := store.Save(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, int64(3), saved.Version)

	again, err := store.Save(ctx, record)
	require.NoError(t, err)
	assert.Equal(t, "evt", again.EventID)

	record.RequestHash = "h2"
	_, err = store.Save(ctx, record)
	require.ErrorIs(t, err, ports.ErrIdempotencyConflict)

	missing, err := store.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIdempotencyStore_ExpiredKeyIsReused(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, _, cleanup := pgtest.Setup(t)
	defer cleanup()

	store := NewIdempotencyStore(db, time.Hour)
	ctx := context.Background()
	stale := idempotencyRecord{Key: "k-old", RequestHash: "h1", Urn: node.String(), Aspect: domain.AspectGlossaryNodeInfo, Version: 1, EventID: "evt-old",
		CreatedAt: time.Now().UTC().Add(-2 * time.Hour), UpdatedAt: time.Now().UTC().Add(-2 * time.Hour)}
	require.NoError(t, db.Create(&stale).Error)

	missing, err := store.Get(ctx, "k-old")
	require.NoError(t, err)
	assert.Nil(t, missing)

	saved, err := store.Save(ctx, ports.IdempotencyRecord{Key: "k-old", RequestHash: "h2", EntityUrn: node.String(), AspectName: domain.AspectGlossaryNodeInfo, Version: 4, EventID: "evt-new"})
	require.NoError(t, err)
	assert.Equal(t, "evt-new", saved.EventID)

	live, err := store.Get(ctx, "k-old")
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.Equal(t, int64(4), live.Version)
}
