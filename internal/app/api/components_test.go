package api

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/require"

	aspectstypes "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application/types"
	aspectsdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/domain"
	viewsdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
	platformconfig "github.com/Apurer/go-catalog-pipeline/internal/platform/config"
)

func TestBuildInMemoryPipeline(t *testing.T) {
	cfg, err := platformconfig.ParseWith[Config](env.Options{Environment: map[string]string{
		"LOG_PARTITIONS":        "2",
		"JWT_SIGNING_KEY":       "secret",
		"OUTBOX_SWEEP_INTERVAL": "50ms",
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components, err := Build(ctx, cfg, nil, BuildOptions{Consumers: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, components.Close()) }()
	require.NotNil(t, components.Verifier)
	require.Len(t, components.Dispatcher.Groups(), 3)

	stopped := make(chan error, 1)
	go func() { stopped <- components.RunBackground(ctx) }()

	urn := aspectsdomain.MustParseEntityUrn("glossaryTerm:revenue")
	result, err := components.Service.Submit(ctx, aspectstypes.SubmitProposalInput{
		Actor: aspectsdomain.ActorContext{Actor: "corpuser:admin", Privileges: []aspectsdomain.Privilege{aspectsdomain.PrivilegeAdmin}},
		Proposal: aspectsdomain.ChangeProposal{
			EntityUrn:  urn,
			AspectName: aspectsdomain.AspectGlossaryTermInfo,
			ChangeType: aspectsdomain.ChangeUpsert,
			Payload:    json.RawMessage(`{"name":"Revenue","definition":"Money earned"}`),
		},
	})
	require.NoError(t, err)

	key := aspectsdomain.AspectKey{EntityUrn: urn, AspectName: aspectsdomain.AspectGlossaryTermInfo}
	for _, view := range []string{viewsdomain.ViewAspectCache, viewsdomain.ViewSearch} {
		waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := components.Reader.WaitForVersion(waitCtx, view, key, result.Version)
		waitCancel()
		require.NoError(t, err, view)
	}
	hits, err := components.Reader.Search(ctx, "revenue", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	lag, err := components.Admin.Lag(ctx)
	require.NoError(t, err)
	require.Len(t, lag, 3*2)

	cancel()
	require.NoError(t, <-stopped)
}

func TestBuildRejectsCheckpointDirOverMemoryLog(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		LogPartitions:          2,
		ConsumerGroups:         []string{viewsdomain.ViewAspectCache},
		ConsumerBackoffInitial: time.Millisecond,
		ConsumerBackoffMax:     time.Millisecond,
		StorageTimeout:         time.Second,
		OutboxSweepInterval:    time.Second,
		OutboxBatchSize:        10,
		OutboxRatePerSecond:    10,
		CheckpointDir:          dir,
	}
	// A restart would find checkpoints from the previous run over an empty log.
	for run := 0; run < 2; run++ {
		components, err := Build(context.Background(), cfg, nil, BuildOptions{Consumers: true})
		require.Error(t, err, "run %d", run)
		require.Nil(t, components)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}
