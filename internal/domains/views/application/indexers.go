package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	propagation "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
	propagationports "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/ports"
)

var (
	_ propagationports.Handler = (*SearchIndexer)(nil)
	_ propagationports.Handler = (*AspectCache)(nil)
	_ propagationports.Handler = (*GraphIndexer)(nil)
)

// ErrUnreadablePayload marks an event whose payload the view cannot interpret.
var ErrUnreadablePayload = errors.New("unreadable payload")

// searchable lists the payload fields copied into the search text.
var searchable = []string{"name", "definition", "description", "category", "termSource", "owners.#.owner"}

type indexerOptions struct {
	now    func() time.Time
	signal *Signal
}

// IndexerOption configures a view handler.
type IndexerOption func(*indexerOptions)

// WithSignal wakes readers after each applied event.
func WithSignal(signal *Signal) IndexerOption {
	return func(o *indexerOptions) {
		o.signal = signal
	}
}

// WithIndexerClock overrides the time source for deterministic testing.
func WithIndexerClock(now func() time.Time) IndexerOption {
	return func(o *indexerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func newIndexerOptions(opts []IndexerOption) indexerOptions {
	o := indexerOptions{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o indexerOptions) notify() {
	if o.signal != nil {
		o.signal.Notify()
	}
}

// SearchIndexer keeps a searchable document per (urn, aspect).
type SearchIndexer struct {
	store ports.DocumentStore
	indexerOptions
}

// NewSearchIndexer wires the handler over store.
func NewSearchIndexer(store ports.DocumentStore, opts ...IndexerOption) *SearchIndexer {
	return &SearchIndexer{store: store, indexerOptions: newIndexerOptions(opts)}
}

// Handle upserts or tombstones the document for the event.
func (h *SearchIndexer) Handle(ctx context.Context, record propagation.LogRecord) error {
	doc, err := documentFor(record.Event, h.now())
	if err != nil {
		return err
	}
	if !doc.Deleted {
		doc.Text = searchText(record.Event)
	}
	return putDocument(ctx, h.store, doc, h.indexerOptions)
}

// AspectCache keeps the latest payload of every aspect for point reads.
type AspectCache struct {
	store ports.DocumentStore
	indexerOptions
}

// NewAspectCache wires the handler over store.
func NewAspectCache(store ports.DocumentStore, opts ...IndexerOption) *AspectCache {
	return &AspectCache{store: store, indexerOptions: newIndexerOptions(opts)}
}

// Handle overwrites the cached aspect with the event's current state.
func (h *AspectCache) Handle(ctx context.Context, record propagation.LogRecord) error {
	doc, err := documentFor(record.Event, h.now())
	if err != nil {
		return err
	}
	return putDocument(ctx, h.store, doc, h.indexerOptions)
}

func documentFor(event aspects.AuditEvent, now time.Time) (domain.Document, error) {
	doc := domain.Document{
		EntityUrn:  event.EntityUrn,
		EntityType: event.EntityType,
		AspectName: event.AspectName,
		Version:    event.CurrentVersion,
		EventID:    event.ID,
		UpdatedAt:  now.UTC(),
	}
	if event.IsTombstone() {
		doc.Deleted = true
		return doc, nil
	}
	if !gjson.ValidBytes(event.CurrentPayload) {
		return doc, propagation.Permanent(fmt.Errorf("%w: %s version %d", ErrUnreadablePayload, event.Key(), event.CurrentVersion))
	}
	doc.Payload = event.CurrentPayload
	return doc, nil
}

func putDocument(ctx context.Context, store ports.DocumentStore, doc domain.Document, opts indexerOptions) error {
	applied, err := store.Put(ctx, doc)
	if err != nil {
		return propagation.Transient(fmt.Errorf("store document %s: %w", doc.Key(), err))
	}
	if applied {
		opts.notify()
	}
	return nil
}

func searchText(event aspects.AuditEvent) string {
	parts := []string{event.EntityUrn.String(), event.AspectName}
	for _, path := range searchable {
		value := gjson.GetBytes(event.CurrentPayload, path)
		if !value.Exists() {
			continue
		}
		if value.IsArray() {
			for _, item := range value.Array() {
				parts = append(parts, item.String())
			}
			continue
		}
		parts = append(parts, value.String())
	}
	return strings.Join(parts, " ")
}

// GraphIndexer derives relationship edges from aspects that reference other entities.
type GraphIndexer struct {
	store ports.GraphStore
	indexerOptions
}

// NewGraphIndexer wires the handler over store.
func NewGraphIndexer(store ports.GraphStore, opts ...IndexerOption) *GraphIndexer {
	return &GraphIndexer{store: store, indexerOptions: newIndexerOptions(opts)}
}

// edgePaths maps aspect names to the payload paths holding target urns.
var edgePaths = map[string][]struct{ path, kind string }{
	aspects.AspectGlossaryNodeInfo: {{"parentNode", domain.EdgeParentNode}},
	aspects.AspectGlossaryTermInfo: {{"parentNode", domain.EdgeParentNode}},
	aspects.AspectGlossaryRelatedTerms: {
		{"isRelatedTerms", domain.EdgeIsA},
		{"hasRelatedTerms", domain.EdgeHasA},
		{"relatedTerms", domain.EdgeRelatedTo},
	},
	aspects.AspectOwnership: {{"owners.#.owner", domain.EdgeOwnedBy}},
}

// Handle replaces the edges the aspect contributes. A tombstone removes them.
func (h *GraphIndexer) Handle(ctx context.Context, record propagation.LogRecord) error {
	event := record.Event
	source := domain.AppliedVersion{
		EntityUrn:  event.EntityUrn,
		AspectName: event.AspectName,
		Version:    event.CurrentVersion,
		EventID:    event.ID,
		AppliedAt:  h.now().UTC(),
	}
	var edges []domain.Edge
	if !event.IsTombstone() {
		var err error
		if edges, err = edgesFor(event); err != nil {
			return propagation.Permanent(err)
		}
	}
	applied, err := h.store.ReplaceEdges(ctx, source, edges)
	if err != nil {
		return propagation.Transient(fmt.Errorf("replace edges %s: %w", event.Key(), err))
	}
	if applied {
		h.notify()
	}
	return nil
}

func edgesFor(event aspects.AuditEvent) ([]domain.Edge, error) {
	if !gjson.ValidBytes(event.CurrentPayload) {
		return nil, fmt.Errorf("%w: %s version %d", ErrUnreadablePayload, event.Key(), event.CurrentVersion)
	}
	var edges []domain.Edge
	for _, edge := range edgePaths[event.AspectName] {
		value := gjson.GetBytes(event.CurrentPayload, edge.path)
		targets := []gjson.Result{value}
		if value.IsArray() {
			targets = value.Array()
		}
		for _, target := range targets {
			if target.String() == "" {
				continue
			}
			urn, err := aspects.ParseEntityUrn(target.String())
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrUnreadablePayload, event.AspectName, edge.path, err)
			}
			edges = append(edges, domain.Edge{From: event.EntityUrn, To: urn, Kind: edge.kind, Aspect: event.AspectName})
		}
	}
	return edges, nil
}
