// Package errors renders catalog failures as RFC 7807 Problem Details.
package errors

import (
	"fmt"
	"net/http"
)

// ProblemDetail is the body of every non-2xx catalog response.
// See: https://www.rfc-editor.org/rfc/rfc7807
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Reason mirrors the rejection reason of a proposal (SchemaInvalid, Conflict, ...).
	Reason     string         `json:"reason,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

func (p ProblemDetail) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%s: %s", p.Title, p.Detail)
	}
	return p.Title
}

// WithDetail returns a copy with the given detail message.
func (p ProblemDetail) WithDetail(detail string) ProblemDetail {
	p.Detail = detail
	return p
}

// WithReason returns a copy tagged with a rejection reason.
func (p ProblemDetail) WithReason(reason string) ProblemDetail {
	p.Reason = reason
	return p
}

// WithExtension returns a copy with an additional extension property.
// The map is cloned so templates are never mutated.
func (p ProblemDetail) WithExtension(key string, value any) ProblemDetail {
	ext := make(map[string]any, len(p.Extensions)+1)
	for k, v := range p.Extensions {
		ext[k] = v
	}
	ext[key] = value
	p.Extensions = ext
	return p
}

const (
	TypeSchemaInvalid       = "/problems/schema-invalid"
	TypeBadRequest          = "/problems/bad-request"
	TypeUnauthorized        = "/problems/unauthorized"
	TypeForbidden           = "/problems/forbidden"
	TypeNotFound            = "/problems/not-found"
	TypeConflict            = "/problems/version-conflict"
	TypeIdempotencyConflict = "/problems/idempotency-conflict"
	TypeNotYetConsistent    = "/problems/not-yet-consistent"
	TypeUnavailable         = "/problems/unavailable"
	TypeInternal            = "/problems/internal-error"
)

var (
	ErrSchemaInvalid = ProblemDetail{
		Type:   TypeSchemaInvalid,
		Title:  "Proposal Does Not Match Aspect Schema",
		Status: http.StatusBadRequest,
	}

	ErrBadRequest = ProblemDetail{
		Type:   TypeBadRequest,
		Title:  "Bad Request",
		Status: http.StatusBadRequest,
	}

	ErrUnauthorized = ProblemDetail{
		Type:   TypeUnauthorized,
		Title:  "Actor Not Authenticated",
		Status: http.StatusUnauthorized,
	}

	ErrForbidden = ProblemDetail{
		Type:   TypeForbidden,
		Title:  "Actor Lacks Privilege",
		Status: http.StatusForbidden,
	}

	ErrNotFound = ProblemDetail{
		Type:   TypeNotFound,
		Title:  "Resource Not Found",
		Status: http.StatusNotFound,
	}

	// ErrConflict is returned when another writer committed the version first.
	ErrConflict = ProblemDetail{
		Type:   TypeConflict,
		Title:  "Aspect Version Conflict",
		Status: http.StatusConflict,
	}

	ErrIdempotencyConflict = ProblemDetail{
		Type:   TypeIdempotencyConflict,
		Title:  "Idempotency Key Reused With A Different Proposal",
		Status: http.StatusConflict,
	}

	// ErrNotYetConsistent is a 202: the write committed but the view has not caught up.
	ErrNotYetConsistent = ProblemDetail{
		Type:   TypeNotYetConsistent,
		Title:  "View Not Yet Consistent",
		Status: http.StatusAccepted,
	}

	ErrUnavailable = ProblemDetail{
		Type:   TypeUnavailable,
		Title:  "Catalog Temporarily Unavailable",
		Status: http.StatusServiceUnavailable,
	}

	ErrInternal = ProblemDetail{
		Type:   TypeInternal,
		Title:  "Internal Server Error",
		Status: http.StatusInternalServerError,
	}
)

// NewNotFoundProblem names the missing resource in the detail and extensions.
func NewNotFoundProblem(resourceType string, identifier any) ProblemDetail {
	return ErrNotFound.
		WithDetail(fmt.Sprintf("%s '%v' not found", resourceType, identifier)).
		WithExtension("resourceType", resourceType).
		WithExtension("identifier", identifier)
}

// NewNotYetConsistentProblem reports how far the view lags behind the requested version.
func NewNotYetConsistentProblem(view string, applied, wanted int64) ProblemDetail {
	return ErrNotYetConsistent.
		WithDetail(fmt.Sprintf("view %s applied version %d, want %d", view, applied, wanted)).
		WithExtension("view", view).
		WithExtension("appliedVersion", applied).
		WithExtension("minVersion", wanted)
}
