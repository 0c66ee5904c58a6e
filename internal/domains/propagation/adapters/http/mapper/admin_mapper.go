package mapper

import (
	"time"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
)

// Failure is one failed delivery attempt.
type Failure struct {
	Attempt int       `json:"attempt"`
	Kind    string    `json:"kind"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// DeadLetter is the operator view of a quarantined event.
type DeadLetter struct {
	ID            string     `json:"id"`
	Group         string     `json:"group"`
	Partition     int32      `json:"partition"`
	Offset        int64      `json:"offset"`
	EventID       string     `json:"eventId"`
	EntityUrn     string     `json:"urn"`
	AspectName    string     `json:"aspect"`
	Version       int64      `json:"version"`
	LastReason    string     `json:"lastReason,omitempty"`
	Failures      []Failure  `json:"failures"`
	QuarantinedAt time.Time  `json:"quarantinedAt"`
	ReplayedAt    *time.Time `json:"replayedAt,omitempty"`
}

// FromDeadLetter maps a dead letter.
func FromDeadLetter(d domain.DeadLetter) DeadLetter {
	failures := make([]Failure, 0, len(d.Failures))
	for _, f := range d.Failures {
		failures = append(failures, Failure{Attempt: f.Attempt, Kind: string(f.Kind), Reason: f.Reason, At: f.At})
	}
	return DeadLetter{
		ID:            d.ID,
		Group:         d.Group,
		Partition:     int32(d.Record.Partition),
		Offset:        int64(d.Record.Offset),
		EventID:       d.Record.Event.ID,
		EntityUrn:     d.Record.Event.EntityUrn.String(),
		AspectName:    d.Record.Event.AspectName,
		Version:       d.Record.Event.CurrentVersion,
		LastReason:    d.LastReason(),
		Failures:      failures,
		QuarantinedAt: d.QuarantinedAt,
		ReplayedAt:    d.ReplayedAt,
	}
}

// FromDeadLetters maps a list of dead letters.
func FromDeadLetters(letters []domain.DeadLetter) []DeadLetter {
	out := make([]DeadLetter, 0, len(letters))
	for _, d := range letters {
		out = append(out, FromDeadLetter(d))
	}
	return out
}

// PartitionLag is the backlog of one group in one partition.
type PartitionLag struct {
	Group      string `json:"group"`
	Partition  int32  `json:"partition"`
	Head       int64  `json:"head"`
	Checkpoint int64  `json:"checkpoint"`
	Lag        int64  `json:"lag"`
	State      string `json:"state"`
}

// FromLag maps lag rows.
func FromLag(rows []domain.PartitionLag) []PartitionLag {
	out := make([]PartitionLag, 0, len(rows))
	for _, r := range rows {
		out = append(out, PartitionLag{
			Group:      r.Group,
			Partition:  int32(r.Partition),
			Head:       int64(r.Head),
			Checkpoint: int64(r.Checkpoint),
			Lag:        r.Lag,
			State:      r.State.String(),
		})
	}
	return out
}
