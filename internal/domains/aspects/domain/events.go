package domain

import (
	"encoding/json"
	"time"
)

// Event is the base interface for all domain events.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// AuditEvent records one applied change proposal. It is the unit of downstream
// propagation and is partitioned by entity urn.
type AuditEvent struct {
	ID              string          `json:"id"`
	EntityUrn       EntityUrn       `json:"entityUrn"`
	EntityType      string          `json:"entityType"`
	AspectName      string          `json:"aspectName"`
	PreviousVersion *int64          `json:"previousVersion"`
	CurrentVersion  int64           `json:"currentVersion"`
	PreviousPayload json.RawMessage `json:"previousPayload,omitempty"`
	CurrentPayload  json.RawMessage `json:"currentPayload,omitempty"`
	ChangeType      ChangeType      `json:"changeType"`
	Actor           string          `json:"actor,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
	SystemMetadata  SystemMetadata  `json:"systemMetadata"`
}

// EventName returns the event type identifier.
func (e AuditEvent) EventName() string {
	switch e.ChangeType {
	case ChangeDelete:
		return "catalog.aspect.deleted"
	case ChangePatch:
		return "catalog.aspect.patched"
	default:
		return "catalog.aspect.upserted"
	}
}

// OccurredAt returns when the change was applied.
func (e AuditEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// Key returns the aspect the event describes.
func (e AuditEvent) Key() AspectKey {
	return AspectKey{EntityUrn: e.EntityUrn, AspectName: e.AspectName}
}

// IsTombstone reports whether the event deletes the aspect.
func (e AuditEvent) IsTombstone() bool {
	return e.ChangeType == ChangeDelete
}

// NewAuditEvent derives the audit event for next, given the version it superseded.
func NewAuditEvent(id string, previous *VersionedAspect, next VersionedAspect, changeType ChangeType, actor string) AuditEvent {
	event := AuditEvent{
		ID:             id,
		EntityUrn:      next.EntityUrn,
		EntityType:     next.EntityType,
		AspectName:     next.AspectName,
		CurrentVersion: next.Version,
		CurrentPayload: next.Payload,
		ChangeType:     changeType,
		Actor:          actor,
		Timestamp:      next.SystemMetadata.Timestamp,
		SystemMetadata: next.SystemMetadata,
	}
	if previous != nil {
		prev := previous.Version
		event.PreviousVersion = &prev
		if !previous.Deleted {
			event.PreviousPayload = previous.Payload
		}
	}
	return event
}

var _ Event = AuditEvent{}
