package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/Apurer/go-catalog-pipeline/internal/app/api"
	proposalactivities "github.com/Apurer/go-catalog-pipeline/internal/durable/temporal/activities/proposals"
	proposalworkflows "github.com/Apurer/go-catalog-pipeline/internal/durable/temporal/workflows/proposals"
	platformobservability "github.com/Apurer/go-catalog-pipeline/internal/platform/observability"
)

func main() {
	ctx := context.Background()
	const serviceName = "catalog-worker"
	cfg, err := api.LoadConfig()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	instruments, shutdown, err := platformobservability.Init(ctx, serviceName)
	if err != nil {
		log.Fatalf("failed to initialize observability: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			instruments.Logger.Error("failed to shutdown observability", slog.String("error", err.Error()))
		}
	}()
	logger := instruments.Logger

	if !cfg.Durable() {
		logger.Error("POSTGRES_DSN is required: the worker must share the aspect store with the API")
		os.Exit(1)
	}
	components, err := api.Build(ctx, cfg, instruments, api.BuildOptions{})
	if err != nil {
		logger.Error("failed to wire catalog components", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = components.Close() }()
	proposalActivities := proposalactivities.NewActivities(components.Service)

	temporalClient, err := api.ConnectTemporalClient(cfg, instruments, "temporal-worker")
	if err != nil {
		logger.Error("failed to create Temporal client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer temporalClient.Close()

	w := worker.New(temporalClient, proposalworkflows.ProposalSubmissionTaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(proposalworkflows.ProposalSubmissionWorkflow, workflow.RegisterOptions{Name: proposalworkflows.ProposalSubmissionWorkflowName})
	w.RegisterActivityWithOptions(proposalActivities.SubmitProposal, activity.RegisterOptions{Name: proposalactivities.SubmitProposalActivityName})

	logger.Info("worker listening", slog.String("taskQueue", proposalworkflows.ProposalSubmissionTaskQueue), slog.String("namespace", cfg.TemporalNamespace))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Error("Temporal worker exited with error", slog.String("error", err.Error()))
		return
	}
	logger.Info("Temporal worker stopped")
}
