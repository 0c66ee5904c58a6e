package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/auth"
	aspectsmemory "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/memory"
	aspectsobs "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/observability"
	aspectspostgres "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/persistence/postgres"
	"github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/adapters/policy"
	aspectsapp "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/application"
	aspectsports "github.com/Apurer/go-catalog-pipeline/internal/domains/aspects/ports"
	propagationmemory "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/adapters/memory"
	propagationobs "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/adapters/observability"
	propagationbadger "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/adapters/persistence/badger"
	propagationpostgres "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/adapters/persistence/postgres"
	propagationapp "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/application"
	propagationports "github.com/Apurer/go-catalog-pipeline/internal/domains/propagation/ports"
	viewsmemory "github.com/Apurer/go-catalog-pipeline/internal/domains/views/adapters/memory"
	viewspostgres "github.com/Apurer/go-catalog-pipeline/internal/domains/views/adapters/persistence/postgres"
	viewsapp "github.com/Apurer/go-catalog-pipeline/internal/domains/views/application"
	viewsdomain "github.com/Apurer/go-catalog-pipeline/internal/domains/views/domain"
	viewsports "github.com/Apurer/go-catalog-pipeline/internal/domains/views/ports"
	platformbadger "github.com/Apurer/go-catalog-pipeline/internal/platform/badger"
	"github.com/Apurer/go-catalog-pipeline/internal/platform/migrations"
	platformobservability "github.com/Apurer/go-catalog-pipeline/internal/platform/observability"
	platformpostgres "github.com/Apurer/go-catalog-pipeline/internal/platform/postgres"
)

// BuildOptions selects which parts of the pipeline a process hosts.
type BuildOptions struct {
	// Consumers wires the views, consumer groups, dispatcher and admin.
	// Only one process per deployment should host them.
	Consumers bool
}

// Components is the wired catalog pipeline.
type Components struct {
	Logger   *slog.Logger
	Store    aspectsports.AspectStore
	Service  aspectsports.Service
	Relay    *aspectsapp.OutboxRelay
	Log      propagationports.EventLog
	Verifier aspectsports.ActorVerifier

	// Set only with BuildOptions.Consumers.
	Dispatcher *propagationapp.Dispatcher
	Admin      propagationports.Admin
	Reader     viewsports.Reader

	cfg     Config
	db      *gorm.DB
	pgLog   *propagationpostgres.EventLog
	closers []func() error
}

// Build wires storage, the write path and, optionally, the consumers.
// With POSTGRES_DSN empty every store is in memory.
func Build(ctx context.Context, cfg Config, instruments *platformobservability.Instruments, opts BuildOptions) (*Components, error) {
	logger := effectiveLogger(instruments)
	c := &Components{Logger: logger, cfg: cfg}
	if err := cfg.checkStorage(); err != nil {
		return nil, err
	}

	if cfg.Durable() {
		db, err := platformpostgres.Connect(ctx, cfg.PostgresDSN, platformpostgres.Options{Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		c.db = db
		c.closers = append(c.closers, func() error { return platformpostgres.Close(db) })
		if err := migrations.Run(db); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("catalog storage configured with postgres")
	} else {
		logger.Warn("POSTGRES_DSN not set, falling back to in-memory catalog storage")
	}

	authorizer, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if cfg.JWTSigningKey != "" {
		verifier, err := auth.NewJWTVerifier(cfg.JWTSigningKey)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		c.Verifier = verifier
	}

	var idempotency aspectsports.IdempotencyStore
	if c.db != nil {
		c.Store = aspectspostgres.NewAspectStore(c.db)
		idempotency = aspectspostgres.NewIdempotencyStore(c.db, cfg.IdempotencyRetention)
		c.pgLog = propagationpostgres.NewEventLog(c.db, cfg.LogPartitions)
		if err := c.pgLog.Pin(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("LOG_PARTITIONS: %w", err)
		}
		c.Log = c.pgLog
	} else {
		c.Store = aspectsmemory.NewAspectStore()
		idempotency = aspectsmemory.NewIdempotencyStore(aspectsmemory.WithRetention(cfg.IdempotencyRetention))
		c.Log = propagationmemory.NewEventLog(cfg.LogPartitions)
	}

	publisher := propagationapp.NewPublisher(c.Log,
		propagationapp.WithPublishTimeout(cfg.StorageTimeout),
		propagationapp.WithPublisherLogger(logger))
	c.Relay = aspectsapp.NewOutboxRelay(c.Store, publisher,
		aspectsapp.WithSweepRate(cfg.OutboxRatePerSecond),
		aspectsapp.WithBatchSize(cfg.OutboxBatchSize),
		aspectsapp.WithRelayStorageTimeout(cfg.StorageTimeout),
		aspectsapp.WithRelayLogger(logger))
	schemas := aspectsapp.DefaultSchemaRegistry()
	engine := aspectsapp.NewEngine(c.Store, schemas,
		aspectsapp.WithRelay(c.Relay),
		aspectsapp.WithMaxRetries(cfg.ApplyMaxRetries),
		aspectsapp.WithStorageTimeout(cfg.StorageTimeout),
		aspectsapp.WithProducerID(cfg.producerID()),
		aspectsapp.WithEngineLogger(logger))
	core := aspectsapp.NewService(c.Store, aspectsapp.NewValidator(schemas, authorizer), engine, idempotency)
	c.Service = aspectsobs.New(core,
		aspectsobs.WithLogger(logger),
		aspectsobs.WithTracer(instruments.Tracer("internal.aspects.application")),
		aspectsobs.WithMeter(instruments.Meter("internal.aspects.application")),
	)

	if opts.Consumers {
		if err := c.buildConsumers(instruments); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Components) buildConsumers(instruments *platformobservability.Instruments) error {
	cfg := c.cfg
	obsOpts := []propagationobs.Option{
		propagationobs.WithLogger(c.Logger),
		propagationobs.WithTracer(instruments.Tracer("internal.propagation.consumers")),
		propagationobs.WithMeter(instruments.Meter("internal.propagation.consumers")),
	}

	var (
		checkpoints propagationports.CheckpointStore
		deadLetters propagationports.DeadLetterStore
	)
	switch {
	case cfg.CheckpointDir != "":
		kv, err := platformbadger.Open(platformbadger.Config{Path: cfg.CheckpointDir, SyncWrites: true, Logger: c.Logger})
		if err != nil {
			return fmt.Errorf("open checkpoint dir: %w", err)
		}
		c.closers = append(c.closers, kv.Close)
		checkpoints = propagationbadger.NewCheckpointStore(kv)
		deadLetters = propagationbadger.NewDeadLetterStore(kv)
		c.Logger.Info("consumer checkpoints configured with badger", slog.String("dir", cfg.CheckpointDir))
	case c.db != nil:
		checkpoints = propagationpostgres.NewCheckpointStore(c.db)
		deadLetters = propagationpostgres.NewDeadLetterStore(c.db)
	default:
		checkpoints = propagationmemory.NewCheckpointStore()
		deadLetters = propagationmemory.NewDeadLetterStore()
	}
	dlq := propagationapp.NewDeadLetterHandler(propagationobs.NewDeadLetterStore(deadLetters, obsOpts...), c.Logger)

	var (
		search, cache viewsports.DocumentStore
		graph         viewsports.GraphStore
	)
	if c.db != nil {
		search = viewspostgres.NewDocumentStore(c.db, viewsdomain.ViewSearch)
		cache = viewspostgres.NewDocumentStore(c.db, viewsdomain.ViewAspectCache)
		graph = viewspostgres.NewGraphStore(c.db)
	} else {
		search = viewsmemory.NewDocumentStore()
		cache = viewsmemory.NewDocumentStore()
		graph = viewsmemory.NewGraphStore()
	}
	signal := viewsapp.NewSignal()
	handlers := map[string]propagationports.Handler{
		viewsdomain.ViewSearch:      viewsapp.NewSearchIndexer(search, viewsapp.WithSignal(signal)),
		viewsdomain.ViewGraph:       viewsapp.NewGraphIndexer(graph, viewsapp.WithSignal(signal)),
		viewsdomain.ViewAspectCache: viewsapp.NewAspectCache(cache, viewsapp.WithSignal(signal)),
	}
	retry := propagationapp.RetryPolicy{
		InitialInterval: cfg.ConsumerBackoffInitial,
		MaxInterval:     cfg.ConsumerBackoffMax,
		Multiplier:      2,
		MaxAttempts:     cfg.ConsumerMaxAttempts,
	}
	var groups []*propagationapp.ConsumerGroup
	for _, name := range cfg.ConsumerGroups {
		handler, ok := handlers[name]
		if !ok {
			return fmt.Errorf("no handler for consumer group %q", name)
		}
		group, err := propagationapp.NewConsumerGroup(propagationapp.GroupConfig{
			Name:           name,
			Handler:        propagationobs.NewHandler(name, handler, obsOpts...),
			Retry:          retry,
			StorageTimeout: cfg.StorageTimeout,
			Logger:         c.Logger.With(slog.String("group", name)),
		}, c.Log, checkpoints, dlq)
		if err != nil {
			return err
		}
		groups = append(groups, group)
	}
	dispatcher, err := propagationapp.NewDispatcher(c.Logger, groups...)
	if err != nil {
		return err
	}
	c.Dispatcher = dispatcher
	c.Admin = propagationapp.NewAdmin(dispatcher, c.Log, checkpoints, dlq)
	c.Reader = viewsapp.NewReader(search, cache, graph, viewsapp.WithReaderSignal(signal))
	return nil
}

// RunBackground runs the dispatcher, the periodic outbox sweep and the log
// listener until ctx ends. A failing part stops the rest.
func (c *Components) RunBackground(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if c.Dispatcher != nil {
		g.Go(func() error { return c.Dispatcher.Run(ctx) })
	}
	g.Go(func() error { return c.Relay.Run(ctx, c.cfg.OutboxSweepInterval) })
	if c.pgLog != nil && c.Dispatcher != nil {
		listener := platformpostgres.NewListener(c.cfg.PostgresDSN, c.Logger)
		g.Go(func() error {
			defer listener.Close()
			return c.pgLog.Listen(ctx, listener)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases storage in reverse order of acquisition.
func (c *Components) Close() error {
	var err error
	for i := len(c.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, c.closers[i]())
	}
	c.closers = nil
	return err
}
