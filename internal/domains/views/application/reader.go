package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/views/ports"
)

var _ ports.Reader = (*Reader)(nil)

const defaultPollInterval = 250 * time.Millisecond

// Reader serves the materialized views and their consistency signal.
type Reader struct {
	documents map[string]ports.DocumentStore
	graph     ports.GraphStore
	signal    *Signal
	poll      time.Duration
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithReaderSignal lets WaitForVersion wake as soon as a local handler applies an event.
func WithReaderSignal(signal *Signal) ReaderOption {
	return func(r *Reader) {
		r.signal = signal
	}
}

// WithPollInterval bounds how long WaitForVersion sleeps between checks when
// the views are written by another process.
func WithPollInterval(d time.Duration) ReaderOption {
	return func(r *Reader) {
		if d > 0 {
			r.poll = d
		}
	}
}

// NewReader wires the search index, aspect cache, and graph views.
func NewReader(search, cache ports.DocumentStore, graph ports.GraphStore, opts ...ReaderOption) *Reader {
	r := &Reader{
		documents: map[string]ports.DocumentStore{
			domain.ViewSearch:      search,
			domain.ViewAspectCache: cache,
		},
		graph: graph,
		poll:  defaultPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Document reads one aspect from a document view. Tombstones read as not found.
func (r *Reader) Document(ctx context.Context, view string, key aspects.AspectKey, minVersion *int64) (*domain.Document, error) {
	store, err := r.documentStore(view)
	if err != nil {
		return nil, err
	}
	doc, err := store.Get(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrDocumentNotFound) {
		return nil, err
	}
	if minVersion != nil && (doc == nil || doc.Version < *minVersion) {
		return nil, fmt.Errorf("%w: %s in %s wants version %d", domain.ErrNotYetConsistent, key, view, *minVersion)
	}
	if doc == nil || doc.Deleted {
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, key)
	}
	return doc, nil
}

// AppliedVersion returns the last version the view applied for key, or nil.
func (r *Reader) AppliedVersion(ctx context.Context, view string, key aspects.AspectKey) (*domain.AppliedVersion, error) {
	if view == domain.ViewGraph {
		return r.graph.Applied(ctx, key)
	}
	store, err := r.documentStore(view)
	if err != nil {
		return nil, err
	}
	doc, err := store.Get(ctx, key)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	applied := doc.Applied()
	return &applied, nil
}

// WaitForVersion blocks until the view applied version (or a later one) for key.
func (r *Reader) WaitForVersion(ctx context.Context, view string, key aspects.AspectKey, version int64) (domain.AppliedVersion, error) {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		var wake <-chan struct{}
		if r.signal != nil {
			wake = r.signal.C()
		}
		applied, err := r.AppliedVersion(ctx, view, key)
		if err != nil {
			return domain.AppliedVersion{}, err
		}
		if applied != nil && applied.Version >= version {
			return *applied, nil
		}
		select {
		case <-ctx.Done():
			return domain.AppliedVersion{}, fmt.Errorf("%w: %s in %s wants version %d: %v", domain.ErrNotYetConsistent, key, view, version, ctx.Err())
		case <-wake:
		case <-ticker.C:
		}
	}
}

// Search queries the search index view.
func (r *Reader) Search(ctx context.Context, query string, limit int) ([]domain.Document, error) {
	return r.documents[domain.ViewSearch].Search(ctx, query, limit)
}

// Edges queries the graph view.
func (r *Reader) Edges(ctx context.Context, urn aspects.EntityUrn) ([]domain.Edge, error) {
	return r.graph.Edges(ctx, urn)
}

func (r *Reader) documentStore(view string) (ports.DocumentStore, error) {
	if view == "" {
		view = domain.ViewAspectCache
	}
	store, ok := r.documents[view]
	if !ok || store == nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownView, view)
	}
	return store, nil
}
