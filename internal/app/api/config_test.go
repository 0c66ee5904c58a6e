package api

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformconfig "github.com/Apurer/go-catalog-pipeline/internal/platform/config"
)

func TestConfigDefaults(t *testing.T) {
	cfg, err := platformconfig.ParseWith[Config](env.Options{Environment: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 8, cfg.LogPartitions)
	assert.Equal(t, []string{"search-index", "graph-index", "aspect-cache"}, cfg.ConsumerGroups)
	assert.Equal(t, 3, cfg.ApplyMaxRetries)
	assert.Equal(t, 5, cfg.ConsumerMaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.ConsumerBackoffInitial)
	assert.Equal(t, 10*time.Second, cfg.OutboxSweepInterval)
	assert.False(t, cfg.Durable())
}

func TestConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"partitions":    {"LOG_PARTITIONS": "0"},
		"unknown group": {"CONSUMER_GROUPS": "search-index,lineage"},
		"duplicate":     {"CONSUMER_GROUPS": "aspect-cache, aspect-cache"},
		"backoff":       {"CONSUMER_BACKOFF_INITIAL": "10s", "CONSUMER_BACKOFF_MAX": "1s"},
		"not a number":  {"OUTBOX_BATCH_SIZE": "many"},
		"checkpoints":   {"CHECKPOINT_DIR": "/var/lib/catalog"},
	}
	for name, environment := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := platformconfig.ParseWith[Config](env.Options{Environment: environment})
			require.Error(t, err)
		})
	}
}
