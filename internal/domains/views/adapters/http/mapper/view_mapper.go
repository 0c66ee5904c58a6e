package mapper

import (
	"encoding/json"
	"time"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
)

// AppliedVersion tells readers which write a view reflects.
type AppliedVersion struct {
	Version   int64     `json:"version"`
	EventID   string    `json:"eventId,omitempty"`
	AppliedAt time.Time `json:"appliedAt"`
}

// Document is a materialized read.
type Document struct {
	View           string          `json:"view"`
	EntityUrn      string          `json:"urn"`
	EntityType     string          `json:"entityType,omitempty"`
	AspectName     string          `json:"aspect"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	AppliedVersion AppliedVersion  `json:"appliedVersion"`
}

// FromDocument maps a view document.
func FromDocument(view string, doc *domain.Document) Document {
	if doc == nil {
		return Document{View: view}
	}
	return Document{
		View:       view,
		EntityUrn:  doc.EntityUrn.String(),
		EntityType: doc.EntityType,
		AspectName: doc.AspectName,
		Payload:    doc.Payload,
		AppliedVersion: AppliedVersion{
			Version:   doc.Version,
			EventID:   doc.EventID,
			AppliedAt: doc.UpdatedAt,
		},
	}
}

// SearchResult wraps search-index hits.
type SearchResult struct {
	Query string     `json:"query"`
	Hits  []Document `json:"hits"`
}

// FromSearch maps search hits.
func FromSearch(query string, docs []domain.Document) SearchResult {
	hits := make([]Document, 0, len(docs))
	for i := range docs {
		hits = append(hits, FromDocument(domain.ViewSearch, &docs[i]))
	}
	return SearchResult{Query: query, Hits: hits}
}

// Edge is one relationship from the graph-index view.
type Edge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Kind   string `json:"kind"`
	Aspect string `json:"aspect,omitempty"`
}

// FromEdges maps graph edges.
func FromEdges(edges []domain.Edge) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		out = append(out, Edge{From: e.From.String(), To: e.To.String(), Kind: e.Kind, Aspect: e.Aspect})
	}
	return out
}
