package ports

import (
	"context"
	"errors"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
)

// ErrUnauthorized is returned by authorizers and verifiers when the actor may
// not perform the change.
var ErrUnauthorized = errors.New("unauthorized")

// Authorizer decides whether an actor may perform a change. Implementations
// must be side-effect free.
type Authorizer interface {
	Authorize(ctx context.Context, actor domain.ActorContext, entityType, aspectName string, changeType domain.ChangeType) error
}

// SchemaRegistry checks aspect payloads against declared schemas.
type SchemaRegistry interface {
	// Validate decodes payload into the aspect schema and returns the
	// canonical encoding.
	Validate(entityType, aspectName string, payload []byte) ([]byte, error)
	Known(aspectName string) bool
}

// ActorVerifier resolves an identity token into an actor context.
type ActorVerifier interface {
	Verify(ctx context.Context, token string) (domain.ActorContext, error)
}
