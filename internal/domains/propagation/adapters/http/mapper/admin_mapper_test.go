package mapper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aspects "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/domain"
)

func TestFromDeadLetter(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	letter := domain.DeadLetter{
		ID:    "dl-1",
		Group: "search-index",
		Record: domain.LogRecord{
			Partition: 3,
			Offset:    17,
			Event: aspects.AuditEvent{
				ID:             "evt-1",
				EntityUrn:      aspects.MustParseEntityUrn("glossaryTerm:revenue"),
				AspectName:     "GlossaryTermInfo",
				CurrentVersion: 2,
			},
		},
		Failures: []domain.FailureRecord{
			{Attempt: 1, Kind: domain.FailureTransient, Reason: "timeout", At: at},
			{Attempt: 2, Kind: domain.FailurePermanent, Reason: "unreadable payload", At: at},
		},
		QuarantinedAt: at,
	}
	out := FromDeadLetter(letter)
	assert.Equal(t, int32(3), out.Partition)
	assert.Equal(t, int64(17), out.Offset)
	assert.Equal(t, "glossaryTerm:revenue", out.EntityUrn)
	assert.Equal(t, "unreadable payload", out.LastReason)
	require.Len(t, out.Failures, 2)
	assert.Equal(t, "PERMANENT", out.Failures[1].Kind)
	assert.Nil(t, out.ReplayedAt)
}

func TestFromLag(t *testing.T) {
	rows := FromLag([]domain.PartitionLag{{Group: "graph-index", Partition: 1, Head: 10, Checkpoint: 6, Lag: 3, State: domain.StateRetrying}})
	require.Len(t, rows, 1)
	assert.Equal(t, "RETRYING", rows[0].State)
	assert.Equal(t, int64(3), rows[0].Lag)
}
