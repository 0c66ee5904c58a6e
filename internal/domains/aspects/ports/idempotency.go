package ports

import (
	"context"
	"errors"
	"time"
)

// ErrIdempotencyConflict indicates the same key was used with a different proposal.
var ErrIdempotencyConflict = errors.New("idempotency conflict")

// IdempotencyRecord associates a client-supplied key with the version it produced.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	EntityUrn   string
	AspectName  string
	Version     int64
	EventID     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IdempotencyStore persists idempotency keys so retried submissions replay the
// original outcome instead of writing a second version.
type IdempotencyStore interface {
	// Get returns the stored record for the key, or nil when unknown.
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	// Save persists the record. When the key exists with a different request hash
	// the stored record is returned together with ErrIdempotencyConflict.
	Save(ctx context.Context, record IdempotencyRecord) (*IdempotencyRecord, error)
}

// IdempotencyExpired reports whether record is past retention at now. Expired
// keys behave as unknown, so a client may reuse them for a new proposal.
func IdempotencyExpired(record IdempotencyRecord, retention time.Duration, now time.Time) bool {
	return retention > 0 && now.Sub(record.CreatedAt) >= retention
}
