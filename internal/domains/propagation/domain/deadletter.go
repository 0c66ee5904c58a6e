package domain

import (
	"errors"
	"time"
)

// ErrDeadLetterNotFound is returned for unknown dead letter ids.
var ErrDeadLetterNotFound = errors.New("dead letter not found")

// DeadLetter is an event a consumer group quarantined after it could not be applied.
type DeadLetter struct {
	ID            string          `json:"id"`
	Group         string          `json:"group"`
	Record        LogRecord       `json:"record"`
	Failures      []FailureRecord `json:"failures"`
	QuarantinedAt time.Time       `json:"quarantinedAt"`
	ReplayedAt    *time.Time      `json:"replayedAt,omitempty"`
}

// Resolved reports whether a replay applied the event successfully.
func (d DeadLetter) Resolved() bool {
	return d.ReplayedAt != nil
}

// LastReason returns the most recent failure reason.
func (d DeadLetter) LastReason() string {
	if len(d.Failures) == 0 {
		return ""
	}
	return d.Failures[len(d.Failures)-1].Reason
}
