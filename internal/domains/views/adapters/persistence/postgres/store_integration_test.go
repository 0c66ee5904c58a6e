//go:build integration
// +build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/platform/postgres/pgtest"
)

var revenue = aspects.MustParseEntityUrn("glossaryTerm:revenue")

func TestDocumentStore_VersionGuardAndSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, _, cleanup := pgtest.Setup(t)
	defer cleanup()

	search := NewDocumentStore(db, domain.ViewSearch)
	cache := NewDocumentStore(db, domain.ViewAspectCache)
	ctx := context.Background()
	doc := func(v int64, payload, text string) domain.Document {
		return domain.Document{
			EntityUrn: revenue, EntityType: revenue.EntityType, AspectName: aspects.AspectGlossaryTermInfo,
			Version: v, Payload: []byte(payload), Text: text, UpdatedAt: time.Now(),
		}
	}

	applied, err := search.Put(ctx, doc(1, `{"name":"Net Revenue"}`, "net revenue"))
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = search.Put(ctx, doc(0, `{"name":"Revenue"}`, "revenue"))
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := search.Get(ctx, aspects.AspectKey{EntityUrn: revenue, AspectName: aspects.AspectGlossaryTermInfo})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	_, err = cache.Get(ctx, aspects.AspectKey{EntityUrn: revenue, AspectName: aspects.AspectGlossaryTermInfo})
	require.ErrorIs(t, err, domain.ErrDocumentNotFound)

	hits, err := search.Search(ctx, "NET", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	tombstone := doc(2, "", "")
	tombstone.Deleted = true
	tombstone.Payload = nil
	_, err = search.Put(ctx, tombstone)
	require.NoError(t, err)
	hits, err = search.Search(ctx, "net", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGraphStore_ReplaceEdges(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db, _, cleanup := pgtest.Setup(t)
	defer cleanup()

	store := NewGraphStore(db)
	ctx := context.Background()
	income := aspects.MustParseEntityUrn("glossaryTerm:income")
	profit := aspects.MustParseEntityUrn("glossaryTerm:profit")
	source := func(v int64) domain.AppliedVersion {
		return domain.AppliedVersion{EntityUrn: revenue, AspectName: aspects.AspectGlossaryRelatedTerms, Version: v, AppliedAt: time.Now()}
	}

	applied, err := store.ReplaceEdges(ctx, source(0), []domain.Edge{
		{From: revenue, To: income, Kind: domain.EdgeIsA, Aspect: aspects.AspectGlossaryRelatedTerms},
		{From: revenue, To: profit, Kind: domain.EdgeRelatedTo, Aspect: aspects.AspectGlossaryRelatedTerms},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.ReplaceEdges(ctx, source(1), []domain.Edge{
		{From: revenue, To: income, Kind: domain.EdgeIsA, Aspect: aspects.AspectGlossaryRelatedTerms},
	})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.ReplaceEdges(ctx, source(0), nil)
	require.NoError(t, err)
	assert.False(t, applied)

	edges, err := store.Edges(ctx, revenue)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, income, edges[0].To)

	incoming, err := store.Edges(ctx, income)
	require.NoError(t, err)
	assert.Len(t, incoming, 1)

	version, err := store.Applied(ctx, aspects.AspectKey{EntityUrn: revenue, AspectName: aspects.AspectGlossaryRelatedTerms})
	require.NoError(t, err)
	assert.Equal(t, int64(1), version.Version)
}
