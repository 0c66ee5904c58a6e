package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/Apurer/go-catalog-pipeline/internal/app/api"
)

// outbox-sweeper publishes one batch of staged audit events and exits.
// Schedule it (cron, k8s CronJob) next to the API's own periodic sweep.
func main() {
	cfg, err := api.LoadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if !cfg.Durable() {
		log.Fatal("POSTGRES_DSN not set; nothing durable to sweep")
	}
	components, err := api.Build(ctx, cfg, nil, api.BuildOptions{})
	if err != nil {
		log.Fatalf("failed to wire catalog components: %v", err)
	}
	defer func() { _ = components.Close() }()

	result, err := components.Relay.Sweep(ctx)
	if err != nil {
		log.Fatalf("outbox sweep failed: %v", err)
	}
	summary, err := components.Service.OutboxSummary(ctx)
	if err != nil {
		log.Fatalf("outbox summary failed: %v", err)
	}
	logger.Info("outbox sweep completed",
		slog.Int("published", result.Published),
		slog.Int("failed", result.Failed),
		slog.Int("pending", summary.Pending))
}
