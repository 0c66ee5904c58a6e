package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
)

// ErrInvalidPatch indicates a PATCH payload that cannot be interpreted.
var ErrInvalidPatch = errors.New("invalid patch document")

// SubmitProposalInput carries one proposal plus the caller identity.
type SubmitProposalInput struct {
	Proposal       domain.ChangeProposal `json:"proposal"`
	Actor          domain.ActorContext   `json:"actor"`
	IdempotencyKey string                `json:"idempotencyKey,omitempty"`
}

// SubmitResult is returned once the version is durably committed. Replayed is
// set when the result came from a previous submission with the same key.
type SubmitResult struct {
	EntityUrn  domain.EntityUrn   `json:"entityUrn"`
	AspectName string             `json:"aspectName"`
	Version    int64              `json:"version"`
	EventID    string             `json:"eventId"`
	Event      *domain.AuditEvent `json:"event,omitempty"`
	Replayed   bool               `json:"replayed,omitempty"`
}

// Patch operations.
const (
	PatchSet    = "set"
	PatchRemove = "remove"
)

// PatchOperation is one step of a PATCH payload. Path uses dot notation.
type PatchOperation struct {
	Op    string          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// ParsePatch decodes and checks a PATCH payload.
func ParsePatch(payload []byte) ([]PatchOperation, error) {
	var ops []PatchOperation
	if err := json.Unmarshal(payload, &ops); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("%w: no operations", ErrInvalidPatch)
	}
	for i := range ops {
		ops[i].Op = strings.ToLower(strings.TrimSpace(ops[i].Op))
		ops[i].Path = strings.TrimSpace(ops[i].Path)
		if ops[i].Path == "" {
			return nil, fmt.Errorf("%w: operation %d has empty path", ErrInvalidPatch, i)
		}
		switch ops[i].Op {
		case PatchSet:
			if len(ops[i].Value) == 0 {
				return nil, fmt.Errorf("%w: operation %d sets no value", ErrInvalidPatch, i)
			}
		case PatchRemove:
		default:
			return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidPatch, ops[i].Op)
		}
	}
	return ops, nil
}
