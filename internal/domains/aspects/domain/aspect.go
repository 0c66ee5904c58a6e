package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChangeType is the kind of mutation a proposal requests.
type ChangeType string

const (
	ChangeUpsert ChangeType = "UPSERT"
	ChangeDelete ChangeType = "DELETE"
	ChangePatch  ChangeType = "PATCH"
)

var (
	ErrInvalidChangeType  = errors.New("invalid change type")
	ErrEmptyAspectName    = errors.New("aspect name is required")
	ErrEntityTypeMismatch = errors.New("entity type does not match urn")
	ErrEmptyPayload       = errors.New("payload is required")
)

// ParseChangeType normalizes user input into a known change type.
func ParseChangeType(raw string) (ChangeType, error) {
	switch ct := ChangeType(strings.ToUpper(strings.TrimSpace(raw))); ct {
	case ChangeUpsert, ChangeDelete, ChangePatch:
		return ct, nil
	case "":
		return ChangeUpsert, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidChangeType, raw)
	}
}

// SystemMetadata describes who produced a version and when.
type SystemMetadata struct {
	ProducerID string    `json:"producerId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"runId,omitempty"`
}

// ChangeProposal is a requested, not yet applied, mutation of one aspect.
type ChangeProposal struct {
	EntityUrn  EntityUrn       `json:"entityUrn"`
	EntityType string          `json:"entityType"`
	AspectName string          `json:"aspectName"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ChangeType ChangeType      `json:"changeType"`
	Actor      string          `json:"actor"`
	Timestamp  time.Time       `json:"timestamp"`
	RunID      string          `json:"runId,omitempty"`
	// ProducerID names the client that produced the change, when it says so.
	ProducerID string `json:"producerId,omitempty"`
}

// Normalize fills defaults and checks the structural invariants that do not
// depend on the aspect schema.
func (p *ChangeProposal) Normalize(now time.Time) error {
	if p.EntityUrn.IsZero() {
		return fmt.Errorf("%w: entity urn is required", ErrInvalidUrn)
	}
	p.AspectName = strings.TrimSpace(p.AspectName)
	if p.AspectName == "" {
		return ErrEmptyAspectName
	}
	p.EntityType = strings.TrimSpace(p.EntityType)
	if p.EntityType == "" {
		p.EntityType = p.EntityUrn.EntityType
	}
	if !strings.EqualFold(p.EntityType, p.EntityUrn.EntityType) {
		return fmt.Errorf("%w: %s vs %s", ErrEntityTypeMismatch, p.EntityType, p.EntityUrn.EntityType)
	}
	ct, err := ParseChangeType(string(p.ChangeType))
	if err != nil {
		return err
	}
	p.ChangeType = ct
	if ct != ChangeDelete && len(p.Payload) == 0 {
		return ErrEmptyPayload
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
	return nil
}

// VersionedAspect is one immutable version of an aspect. Versions start at 0
// and grow by exactly one per applied proposal.
type VersionedAspect struct {
	EntityUrn      EntityUrn       `json:"entityUrn"`
	EntityType     string          `json:"entityType"`
	AspectName     string          `json:"aspectName"`
	Version        int64           `json:"version"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Deleted        bool            `json:"deleted,omitempty"`
	SystemMetadata SystemMetadata  `json:"systemMetadata"`
}

// NextVersion returns the version that follows current, where a nil current
// means the aspect was never written.
func NextVersion(current *VersionedAspect) int64 {
	if current == nil {
		return 0
	}
	return current.Version + 1
}

// AspectKey addresses the version sequence of one aspect on one entity.
type AspectKey struct {
	EntityUrn  EntityUrn
	AspectName string
}

func (k AspectKey) String() string {
	return k.EntityUrn.String() + "/" + k.AspectName
}
