package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	workerlog "go.temporal.io/sdk/log"
	"golang.org/x/sync/errgroup"

	catalogserver "github.com/Apurer/go-catalog-pipeline/go"
	aspectsworkflows "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/workflows"
	aspectsports "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
	platformobservability "github.com/Apurer/go-catalog-pipeline/internal/platform/observability"
)

const serviceName = "catalog-api"

// Run boots the catalog HTTP API together with the consumer groups and the
// outbox relay, and blocks until ctx is cancelled.
func Run(ctx context.Context) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}
	if cfg.JWTSigningKey == "" {
		return errors.New("JWT_SIGNING_KEY is required to authenticate proposals")
	}
	instruments, shutdown, err := platformobservability.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			instruments.Logger.Error("failed to shutdown observability", slog.String("error", err.Error()))
		}
	}()
	logger := instruments.Logger

	components, err := Build(ctx, cfg, instruments, BuildOptions{Consumers: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}()

	var workflows aspectsports.WorkflowOrchestrator = aspectsworkflows.NewInlineProposalWorkflows(components.Service)
	switch {
	case !cfg.Durable():
		logger.Warn("in-memory storage is process local, running proposals inline")
	default:
		if temporalClient, err := ConnectTemporalClient(cfg, instruments, "temporal-client"); err != nil {
			logger.Warn("Temporal workflows unavailable, running proposals inline", slog.String("error", err.Error()))
		} else {
			defer temporalClient.Close()
			workflows = aspectsworkflows.NewTemporalProposalWorkflows(temporalClient)
			logger.Info("Temporal workflows enabled", slog.String("namespace", cfg.TemporalNamespace))
		}
	}

	handlers := catalogserver.ApiHandleFunctions{
		ProposalAPI: catalogserver.NewProposalAPI(components.Service, workflows, components.Verifier),
		EntityAPI:   catalogserver.NewEntityAPI(components.Service, components.Reader),
		AdminAPI:    catalogserver.NewAdminAPI(components.Admin, components.Service, components.Verifier),
		Metrics:     instruments.MetricsHandler,
	}
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName))
	catalogserver.NewRouterWithGinEngine(router, handlers)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return components.RunBackground(gctx) })
	g.Go(func() error {
		logger.Info("Catalog API listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("Catalog API exited", slog.String("addr", server.Addr), slog.String("error", err.Error()))
		return err
	}
	return nil
}

// ConnectTemporalClient dials Temporal with tracing and structured logging.
func ConnectTemporalClient(cfg Config, instruments *platformobservability.Instruments, tracerName string) (client.Client, error) {
	if cfg.TemporalDisabled {
		return nil, errors.New("temporal disabled via TEMPORAL_DISABLED env")
	}
	tracerOptions := temporalotel.TracerOptions{}
	if instruments != nil {
		tracerOptions.Tracer = instruments.Tracer(tracerName)
	}
	tracingInterceptor, err := temporalotel.NewTracingInterceptor(tracerOptions)
	if err != nil {
		return nil, err
	}
	options := client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    workerlog.NewStructuredLogger(effectiveLogger(instruments)),
	}
	options.Interceptors = append(options.Interceptors, tracingInterceptor)
	return client.Dial(options)
}

func effectiveLogger(instruments *platformobservability.Instruments) *slog.Logger {
	if instruments != nil && instruments.Logger != nil {
		return instruments.Logger
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
