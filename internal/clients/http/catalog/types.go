package catalog

import (
	"fmt"
	"time"
)

// Failure is one failed delivery attempt of a dead letter.
type Failure struct {
	Attempt int       `json:"attempt"`
	Kind    string    `json:"kind"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// DeadLetter is a quarantined event as reported by the admin API.
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

// PartitionLag is the backlog of one consumer group in one partition.
type PartitionLag struct {
	Group      string `json:"group"`
	Partition  int32  `json:"partition"`
	Head       int64  `json:"head"`
	Checkpoint int64  `json:"checkpoint"`
	Lag        int64  `json:"lag"`
	State      string `json:"state"`
}

// OutboxSummary reports events committed but not yet on the log.
type OutboxSummary struct {
	Pending          int        `json:"pending"`
	OldestStagedAt   *time.Time `json:"oldestStagedAt,omitempty"`
	OldestAgeSeconds float64    `json:"oldestAgeSeconds"`
}

// Problem is an RFC 7807 error returned by the catalog.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (p *Problem) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("catalog API %d %s: %s", p.Status, p.Title, p.Detail)
	}
	return fmt.Sprintf("catalog API %d %s", p.Status, p.Title)
}
