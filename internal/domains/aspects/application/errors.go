package application

import (
	"context"
	"errors"
	"fmt"

	types "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
)

var (
	// ErrSchemaInvalid signals a payload that does not match the aspect schema.
	ErrSchemaInvalid = errors.New("schema invalid")
	// ErrUnauthorized signals the actor lacks the privilege for the change.
	ErrUnauthorized = ports.ErrUnauthorized
)

// RejectionReason classifies why a proposal produced no effect.
type RejectionReason string

const (
	ReasonSchemaInvalid RejectionReason = "SchemaInvalid"
	ReasonUnauthorized  RejectionReason = "Unauthorized"
	ReasonConflict      RejectionReason = "Conflict"
	ReasonUnavailable   RejectionReason = "Unavailable"
)

// Rejection is the structured failure returned to submitters.
type Rejection struct {
	Reason RejectionReason
	Detail string
	Err    error
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Unwrap exposes both the reason sentinel and the underlying cause.
func (r *Rejection) Unwrap() []error {
	errs := []error{reasonSentinel(r.Reason)}
	if r.Err != nil {
		errs = append(errs, r.Err)
	}
	return errs
}

func reasonSentinel(reason RejectionReason) error {
	switch reason {
	case ReasonSchemaInvalid:
		return ErrSchemaInvalid
	case ReasonUnauthorized:
		return ErrUnauthorized
	case ReasonConflict:
		return ports.ErrConflict
	default:
		return ports.ErrUnavailable
	}
}

func reject(reason RejectionReason, err error) *Rejection {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &Rejection{Reason: reason, Detail: detail, Err: err}
}

// RejectionOf extracts the rejection carried by err, if any.
func RejectionOf(err error) (*Rejection, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := RejectionOf(err); ok {
		return err
	}
	switch {
	case errors.Is(err, domain.ErrInvalidUrn),
		errors.Is(err, domain.ErrEmptyAspectName),
		errors.Is(err, domain.ErrEntityTypeMismatch),
		errors.Is(err, domain.ErrEmptyPayload),
		errors.Is(err, domain.ErrInvalidChangeType),
		errors.Is(err, types.ErrInvalidPatch):
		return reject(ReasonSchemaInvalid, err)
	case errors.Is(err, ports.ErrConflict):
		return reject(ReasonConflict, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ports.ErrUnavailable):
		return reject(ReasonUnavailable, err)
	}
	return err
}

// NewRejection rebuilds a rejection that crossed a process boundary.
func NewRejection(reason RejectionReason, detail string) *Rejection {
	return &Rejection{Reason: reason, Detail: detail}
}
