package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	boom := errors.New("boom")
	require.Equal(t, FailurePermanent, Classify(fmt.Errorf("wrapped: %w", Permanent(boom))))
	require.Equal(t, FailureTransient, Classify(Transient(boom)))
	require.Equal(t, FailureTransient, Classify(boom))
	require.Equal(t, FailureTransient, Classify(context.DeadlineExceeded))
	require.ErrorIs(t, Permanent(boom), boom)
	require.NoError(t, Permanent(nil))
}

func TestComputeLag(t *testing.T) {
	cp := NewCheckpoint("search-index", 3)
	require.Equal(t, Offset(0), cp.Next())
	require.Equal(t, int64(5), ComputeLag(5, cp))

	cp.Offset = 4
	require.Equal(t, int64(0), ComputeLag(5, cp))
	require.Equal(t, int64(0), ComputeLag(2, cp))
}

func TestPartitionState_JSON(t *testing.T) {
	data, err := json.Marshal(PartitionLag{State: StateDeadLettered})
	require.NoError(t, err)
	require.Contains(t, string(data), `"state":"DEAD_LETTERED"`)

	var decoded PartitionLag
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, StateDeadLettered, decoded.State)
}
