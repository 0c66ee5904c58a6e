package domain

import (
	"errors"
	"fmt"
	"time"
)

// FailureKind separates retryable handler failures from poison events.
type FailureKind string

const (
	FailureTransient FailureKind = "TRANSIENT"
	FailurePermanent FailureKind = "PERMANENT"
)

// HandlerError tags a handler failure with its kind.
type HandlerError struct {
	Kind FailureKind
	Err  error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &HandlerError{Kind: FailureTransient, Err: err}
}

// Permanent marks err as a poison event that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &HandlerError{Kind: FailurePermanent, Err: err}
}

// Classify returns the kind carried by err. Unclassified errors and timeouts are transient.
func Classify(err error) FailureKind {
	var handlerErr *HandlerError
	if errors.As(err, &handlerErr) {
		return handlerErr.Kind
	}
	return FailureTransient
}

// FailureRecord is one failed apply attempt.
type FailureRecord struct {
	Attempt int         `json:"attempt"`
	Kind    FailureKind `json:"kind"`
	Reason  string      `json:"reason"`
	At      time.Time   `json:"at"`
}
