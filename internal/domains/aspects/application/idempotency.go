package application

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
)

type normalizedProposal struct {
	EntityUrn  string          `json:"entityUrn"`
	EntityType string          `json:"entityType"`
	AspectName string          `json:"aspectName"`
	ChangeType string          `json:"changeType"`
	Actor      string          `json:"actor"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// FingerprintProposal builds a deterministic hash of the proposal content. The
// timestamp and run id are excluded so client retries hash identically.
func FingerprintProposal(p domain.ChangeProposal) (string, error) {
	normalized := normalizedProposal{
		EntityUrn:  p.EntityUrn.String(),
		EntityType: strings.ToLower(p.EntityType),
		AspectName: p.AspectName,
		ChangeType: string(p.ChangeType),
		Actor:      p.Actor,
	}
	if len(p.Payload) > 0 {
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, p.Payload); err != nil {
			return "", err
		}
		normalized.Payload = compacted.Bytes()
	}
	payload, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
