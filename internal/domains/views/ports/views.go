package ports

import (
	"context"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
)

// DocumentStore holds one document per (urn, aspect) for a document view.
type DocumentStore interface {
	// Put stores doc unless the stored document already has the same or a
	// newer version. It reports whether doc was stored.
	Put(ctx context.Context, doc domain.Document) (bool, error)
	// Get returns the stored document, tombstones included.
	Get(ctx context.Context, key aspects.AspectKey) (*domain.Document, error)
	// Search returns live documents whose text contains every query term.
	Search(ctx context.Context, query string, limit int) ([]domain.Document, error)
}

// GraphStore holds the edges each (urn, aspect) contributes to the graph view.
type GraphStore interface {
	// ReplaceEdges swaps the edges contributed by source for edges unless the
	// store already applied the same or a newer version of source.
	ReplaceEdges(ctx context.Context, source domain.AppliedVersion, edges []domain.Edge) (bool, error)
	// Edges returns the edges touching urn in either direction.
	Edges(ctx context.Context, urn aspects.EntityUrn) ([]domain.Edge, error)
	Applied(ctx context.Context, key aspects.AspectKey) (*domain.AppliedVersion, error)
}

// Reader is the read interface over the materialized views.
type Reader interface {
	// Document reads a document view. A non-nil minVersion makes the call fail
	// with domain.ErrNotYetConsistent while the view lags behind it.
	Document(ctx context.Context, view string, key aspects.AspectKey, minVersion *int64) (*domain.Document, error)
	AppliedVersion(ctx context.Context, view string, key aspects.AspectKey) (*domain.AppliedVersion, error)
	// WaitForVersion blocks until the view applied version or ctx ends.
	WaitForVersion(ctx context.Context, view string, key aspects.AspectKey, version int64) (domain.AppliedVersion, error)
	Search(ctx context.Context, query string, limit int) ([]domain.Document, error)
	Edges(ctx context.Context, urn aspects.EntityUrn) ([]domain.Edge, error)
}
