package domain

import (
	"encoding/json"
	"errors"
	"time"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
)

// Names of the materialized views fed by consumer groups.
const (
	ViewSearch      = "search-index"
	ViewGraph       = "graph-index"
	ViewAspectCache = "aspect-cache"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	// ErrNotYetConsistent means the view has not applied the requested version yet.
	ErrNotYetConsistent = errors.New("view has not applied the requested version yet")
	ErrUnknownView      = errors.New("unknown view")
)

// AppliedVersion is the consistency signal of a view: the last aspect version
// whose effect the view holds for one (urn, aspect).
type AppliedVersion struct {
	EntityUrn  aspects.EntityUrn `json:"entityUrn"`
	AspectName string            `json:"aspectName"`
	Version    int64             `json:"version"`
	EventID    string            `json:"eventId,omitempty"`
	AppliedAt  time.Time         `json:"appliedAt"`
}

// Document is the materialized state of one aspect in a document view. A
// deleted document is kept as a tombstone so older redeliveries stay ignored.
type Document struct {
	EntityUrn  aspects.EntityUrn `json:"entityUrn"`
	EntityType string            `json:"entityType"`
	AspectName string            `json:"aspectName"`
	Version    int64             `json:"version"`
	EventID    string            `json:"eventId,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Deleted    bool              `json:"deleted,omitempty"`
	// Text is the searchable projection of the payload.
	Text      string    `json:"text,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Key returns the aspect the document materializes.
func (d Document) Key() aspects.AspectKey {
	return aspects.AspectKey{EntityUrn: d.EntityUrn, AspectName: d.AspectName}
}

// Applied returns the consistency signal carried by the document.
func (d Document) Applied() AppliedVersion {
	return AppliedVersion{EntityUrn: d.EntityUrn, AspectName: d.AspectName, Version: d.Version, EventID: d.EventID, AppliedAt: d.UpdatedAt}
}

// Newer reports whether version should replace the current one.
func Newer(current *AppliedVersion, version int64) bool {
	return current == nil || version > current.Version
}

// Edge relation kinds.
const (
	EdgeParentNode = "IsPartOf"
	EdgeIsA        = "IsA"
	EdgeHasA       = "HasA"
	EdgeRelatedTo  = "RelatedTo"
	EdgeOwnedBy    = "OwnedBy"
)

// Edge is one directed relationship derived from an aspect.
type Edge struct {
	From   aspects.EntityUrn `json:"from"`
	To     aspects.EntityUrn `json:"to"`
	Kind   string            `json:"kind"`
	Aspect string            `json:"aspect"`
}
