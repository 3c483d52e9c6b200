// Package server builds the application's dependency graph and runs it
// either once (batch mode) or behind the HTTP API (serve mode).
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/job-ingest-crawler/internal/adapter"
	"github.com/JakeFAU/job-ingest-crawler/internal/adapter/greenhouse"
	"github.com/JakeFAU/job-ingest-crawler/internal/adapter/htmlboard"
	"github.com/JakeFAU/job-ingest-crawler/internal/adapter/lever"
	"github.com/JakeFAU/job-ingest-crawler/internal/adapter/rapidapi"
	"github.com/JakeFAU/job-ingest-crawler/internal/api"
	"github.com/JakeFAU/job-ingest-crawler/internal/clock/system"
	"github.com/JakeFAU/job-ingest-crawler/internal/config"
	"github.com/JakeFAU/job-ingest-crawler/internal/crawler"
	"github.com/JakeFAU/job-ingest-crawler/internal/dedup"
	"github.com/JakeFAU/job-ingest-crawler/internal/dispatcher"
	"github.com/JakeFAU/job-ingest-crawler/internal/extract"
	"github.com/JakeFAU/job-ingest-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/job-ingest-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/job-ingest-crawler/internal/hash/sha256"
	"github.com/JakeFAU/job-ingest-crawler/internal/id/uuid"
	"github.com/JakeFAU/job-ingest-crawler/internal/ingest"
	"github.com/JakeFAU/job-ingest-crawler/internal/metrics"
	"github.com/JakeFAU/job-ingest-crawler/internal/normalize"
	"github.com/JakeFAU/job-ingest-crawler/internal/pipeline"
	"github.com/JakeFAU/job-ingest-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/job-ingest-crawler/internal/policy/simple"
	gcppublisher "github.com/JakeFAU/job-ingest-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/job-ingest-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/job-ingest-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/job-ingest-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/job-ingest-crawler/internal/storage/postgres"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     crawler.Clock
	hasher    *sha256.Hasher
	ids       *uuid.Generator
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	pipeline  *pipeline.Pipeline
	runs      crawler.RunStore
	pool      *pgxpool.Pool
	storage   *storage.Client
	publisher *gcppublisher.Publisher
	checks    []api.ReadinessCheck
}

// Build creates the application's dependencies. out receives dry-run
// JSON lines; pass os.Stdout from main.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, out io.Writer) (app *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app = &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		hasher: sha256.New(),
		ids:    uuid.New(),
	}
	defer func() {
		if err != nil {
			app.closeInfrastructure()
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("sources", len(cfg.EnabledSources())),
		zap.Bool("dry_run", cfg.Pipeline.DryRun),
	)

	if err = app.setupDatabase(ctx); err != nil {
		return nil, err
	}
	blobs, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	hashes, err := app.setupHashStore(ctx)
	if err != nil {
		return nil, err
	}
	if app.runs, err = app.setupRunStore(ctx); err != nil {
		return nil, err
	}
	if err = app.setupPublisher(ctx); err != nil {
		return nil, err
	}

	layer := app.setupFetchLayer()
	registry := app.setupAdapters(layer, blobs)

	deps := pipeline.Deps{
		Adapters:   registry,
		Normalizer: normalize.New(normalize.NewClassifier(cfg.Classify), app.hasher, logger),
		Dedup:      dedup.New(hashes, cfg.Dedup.SkipKnown, logger),
		Runs:       app.runs,
		Blocked:    layer,
		IDs:        app.ids,
		Clock:      app.clock,
		Output:     out,
	}
	if app.publisher != nil {
		deps.Publisher = app.publisher
	}
	if !cfg.Pipeline.DryRun {
		client, ingestErr := ingest.New(ingest.Config{
			BaseURL:   cfg.Ingest.BaseURL,
			Secret:    cfg.Ingest.Secret,
			BatchSize: cfg.Ingest.BatchSize,
			Timeout:   cfg.Ingest.Timeout,
			UserAgent: cfg.Fetch.UserAgent,
		}, crawler.NewRetryPolicy(cfg.Ingest.MaxAttempts, cfg.Fetch.BackoffInitial, cfg.Fetch.BackoffMax), logger)
		if ingestErr != nil {
			return nil, fmt.Errorf("ingest client init failed: %w", ingestErr)
		}
		deps.Ingester = client
	}

	app.pipeline, err = pipeline.New(cfg.Sources, deps, pipeline.Config{
		SourceConcurrency: cfg.Pipeline.SourceConcurrency,
		DryRun:            cfg.Pipeline.DryRun,
		ReportTopic:       cfg.PubSub.TopicName,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("pipeline init failed: %w", err)
	}
	app.dispatch = dispatcher.New(app.pipeline, app.ids, logger.Named("dispatcher"))
	app.apiServer = api.NewServer(app.dispatch, app.runs, cfg.Server, logger.Named("api"), app.checks...)
	return app, nil
}

// Handler exposes the API router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunOnce executes a single run and pushes metrics when a Pushgateway is
// configured.
func (a *App) RunOnce(ctx context.Context) (crawler.RunReport, error) {
	report, err := a.dispatch.RunOnce(ctx)
	if url := a.cfg.Metrics.PushGatewayURL; url != "" {
		if pushErr := metrics.Push(url, a.cfg.Metrics.Job, a.cfg.Metrics.Instance); pushErr != nil {
			a.logger.Warn("metrics push failed", zap.Error(pushErr))
		}
	}
	return report, err
}

// Serve starts the API and the optional schedule, blocking until ctx is
// canceled or a termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Duration("schedule", a.cfg.Server.ScheduleInterval))
		a.dispatch.Run(ctx, a.cfg.Server.ScheduleInterval)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-dispatchDone

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases clients and pools.
func (a *App) Close() {
	a.closeInfrastructure()
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.publisher = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	needed := a.cfg.Dedup.Store == "postgres" || a.cfg.DB.RunsTable != ""
	if a.cfg.DB.DSN == "" || !needed {
		a.logger.Debug("no postgres-backed store configured, skipping pool")
		return nil
	}
	var err error
	a.pool, err = pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	pool := a.pool
	a.checks = append(a.checks, api.ReadinessCheck{Name: "postgres", Check: func(ctx context.Context) error {
		return pool.Ping(ctx)
	}})
	a.logger.Info("postgres pool initialized")
	return nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Provider {
	case "gcs":
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(ctx, a.storage, gcsstorage.Config{
			Bucket: a.cfg.Storage.GCSBucket,
			Prefix: a.cfg.Storage.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS snapshot storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local snapshot storage", zap.String("path", a.cfg.Storage.LocalDir))
		return blobs, nil
	case "memory":
		a.logger.Info("using in-memory snapshot storage")
		return memoryStorage.NewBlobStore(), nil
	default:
		a.logger.Info("html snapshots disabled")
		return nil, nil
	}
}

func (a *App) setupHashStore(ctx context.Context) (crawler.HashStore, error) {
	switch a.cfg.Dedup.Store {
	case "postgres":
		if a.pool == nil {
			return nil, fmt.Errorf("%w: db.dsn for postgres hash store", crawler.ErrMissingConfig)
		}
		store, err := pgstore.NewHashStore(a.pool, a.cfg.Dedup.Table, a.cfg.Dedup.TTL, a.clock)
		if err != nil {
			return nil, fmt.Errorf("postgres hash store init failed: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres hash store schema: %w", err)
		}
		a.logger.Info("using postgres hash store", zap.String("table", a.cfg.Dedup.Table))
		return store, nil
	case "local":
		store, err := localstorage.NewHashStore(localstorage.HashStoreConfig{
			Path: a.cfg.Dedup.Path,
			TTL:  a.cfg.Dedup.TTL,
		}, a.clock, a.logger.Named("hashes"))
		if err != nil {
			return nil, fmt.Errorf("local hash store init failed: %w", err)
		}
		a.logger.Info("using local hash store", zap.String("path", a.cfg.Dedup.Path))
		return store, nil
	default:
		a.logger.Info("using in-memory hash store")
		return memoryStorage.NewHashStore(), nil
	}
}

func (a *App) setupRunStore(ctx context.Context) (crawler.RunStore, error) {
	if a.pool == nil || a.cfg.DB.RunsTable == "" {
		return memoryStorage.NewRunStore(a.cfg.Server.RunHistory), nil
	}
	store, err := pgstore.NewRunStore(a.pool, a.cfg.DB.RunsTable)
	if err != nil {
		return nil, fmt.Errorf("postgres run store init failed: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("postgres run store schema: %w", err)
	}
	a.logger.Info("using postgres run store", zap.String("table", a.cfg.DB.RunsTable))
	return store, nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, run reports are not published")
		return nil
	}
	var err error
	a.publisher, err = gcppublisher.Connect(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupFetchLayer() *fetcher.Layer {
	fc := a.cfg.Fetch
	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent:     fc.UserAgent,
		RespectRobots: fc.RespectRobots,
		Timeout:       fc.RequestTimeout,
		MaxBodyBytes:  fc.MaxBodyBytes,
	})
	gate := ratelimit.New(ratelimit.Config{
		PerDomainConcurrency: fc.PerDomainConcurrency,
		MinInterval:          fc.MinInterval,
		Overrides:            fc.Intervals(),
	})
	a.logger.Info("fetch layer",
		zap.String("user_agent", fc.UserAgent),
		zap.Bool("respect_robots", fc.RespectRobots),
		zap.Int("per_domain_concurrency", fc.PerDomainConcurrency),
		zap.Duration("min_interval", fc.MinInterval),
	)
	return fetcher.New(
		transport,
		gate,
		crawler.NewRetryPolicy(fc.MaxAttempts, fc.BackoffInitial, fc.BackoffMax),
		a.logger,
		fetcher.Config{
			RequestTimeout:     fc.RequestTimeout,
			MinBodyBytes:       fc.MinBodyBytes,
			ForbiddenThreshold: fc.ForbiddenThreshold,
		},
		fetcher.WithPolicy(simple.New(fc.BlockedDomains)),
	)
}

func (a *App) setupAdapters(layer *fetcher.Layer, blobs crawler.BlobStore) *adapter.Registry {
	registry := adapter.NewRegistry()
	registry.Register(crawler.SourceKindGreenhouse, greenhouse.New(layer, a.logger))
	registry.Register(crawler.SourceKindLever, lever.New(layer, a.logger))
	registry.Register(crawler.SourceKindRapidAPI, rapidapi.New(layer, a.logger))

	extractor := extract.New(extract.Options{
		MinGroupSize: a.cfg.Extract.MinGroupSize,
		MinCardText:  a.cfg.Extract.MinCardText,
	}, a.logger)
	var opts []htmlboard.Option
	if blobs != nil {
		opts = append(opts, htmlboard.WithSnapshots(blobs, a.hasher, a.clock))
	}
	registry.Register(crawler.SourceKindHTML, htmlboard.New(layer, extractor, a.logger, opts...))
	return registry
}
