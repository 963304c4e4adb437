// Package main wires together the lorekeep service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpstorage "cloud.google.com/go/storage"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dmahlow/lorekeep/internal/api"
	"github.com/dmahlow/lorekeep/internal/clock/system"
	"github.com/dmahlow/lorekeep/internal/config"
	"github.com/dmahlow/lorekeep/internal/embedding"
	"github.com/dmahlow/lorekeep/internal/enrich"
	"github.com/dmahlow/lorekeep/internal/extract"
	"github.com/dmahlow/lorekeep/internal/fetcher/bounded"
	"github.com/dmahlow/lorekeep/internal/fetcher/fallback"
	"github.com/dmahlow/lorekeep/internal/fetcher/headless"
	sha256hash "github.com/dmahlow/lorekeep/internal/hash/sha256"
	uuidgen "github.com/dmahlow/lorekeep/internal/id/uuid"
	"github.com/dmahlow/lorekeep/internal/knowledge"
	"github.com/dmahlow/lorekeep/internal/logging"
	"github.com/dmahlow/lorekeep/internal/progress"
	"github.com/dmahlow/lorekeep/internal/progress/sinks"
	memorypublisher "github.com/dmahlow/lorekeep/internal/publisher/memory"
	pubsubpublisher "github.com/dmahlow/lorekeep/internal/publisher/pubsub"
	"github.com/dmahlow/lorekeep/internal/retry"
	"github.com/dmahlow/lorekeep/internal/runner"
	"github.com/dmahlow/lorekeep/internal/search"
	"github.com/dmahlow/lorekeep/internal/search/webclient"
	"github.com/dmahlow/lorekeep/internal/storage/gcs"
	"github.com/dmahlow/lorekeep/internal/storage/local"
	memorystorage "github.com/dmahlow/lorekeep/internal/storage/memory"
	"github.com/dmahlow/lorekeep/internal/storage/postgres"
	memoryvec "github.com/dmahlow/lorekeep/internal/vectorstore/memory"
	"github.com/dmahlow/lorekeep/internal/vectorstore/surreal"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, stop); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, stop context.CancelFunc) error {
	clock := system.New()
	idGen := uuidgen.New()
	hasher := sha256hash.New()

	jobs, objects, err := buildStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build stores: %w", err)
	}
	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build blob store: %w", err)
	}
	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build publisher: %w", err)
	}
	vectors, err := buildVectorStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build vector store: %w", err)
	}

	embedder, err := embedding.New(embedding.Config{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		ServerURL: cfg.Embedding.ServerURL,
		APIKey:    cfg.Embedding.APIKey,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return fmt.Errorf("build embedder: %w", err)
	}
	summarizer, err := enrich.New(enrich.Config{
		Provider:  cfg.AI.Provider,
		Model:     cfg.AI.Model,
		ServerURL: cfg.AI.ServerURL,
		APIKey:    cfg.AI.APIKey,
	})
	if err != nil {
		return fmt.Errorf("build summarizer: %w", err)
	}

	fetcher := buildFetcher(cfg, logger)
	extractor := extract.NewWorker(
		extract.NewReadability().Extract,
		cfg.ExtractTimeout(),
		logger.Named("extract"),
	)

	classifier := retry.NewClassifier(cfg.RetryBaseDelay(), cfg.RetryMaxDelay())
	scheduler := retry.NewScheduler(classifier, jobs, clock, logger.Named("retry"), cfg.Retry.MaxAttempts, cfg.Retry.IncludeStack)

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("register progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)

	ingestRunner := runner.New(runner.Deps{
		Jobs:       jobs,
		Objects:    objects,
		Blobs:      blobs,
		Publisher:  publisher,
		Fetcher:    fetcher,
		Extractor:  extractor,
		Summarizer: summarizer,
		Scheduler:  scheduler,
		Hasher:     hasher,
		Clock:      clock,
		IDs:        idGen,
		Progress:   hub,
		Logger:     logger.Named("runner"),
	}, runner.Config{
		Concurrency:    cfg.Runner.Concurrency,
		PollInterval:   cfg.PollInterval(),
		BatchSize:      cfg.Runner.BatchSize,
		VectorizeTopic: cfg.Runner.VectorizeTopic,
		BlobPrefix:     cfg.Storage.Prefix,
	})

	ranker := search.NewRanker(search.DecayConfig{
		Rate:        cfg.Search.DecayRate,
		Floor:       cfg.Search.DecayFloor,
		BoostFactor: cfg.Search.BoostFactor,
	}, clock)
	var web knowledge.WebSearcher
	if cfg.Search.WebBaseURL != "" {
		client, err := webclient.New(webclient.Config{
			BaseURL: cfg.Search.WebBaseURL,
			APIKey:  cfg.Search.WebAPIKey,
			Timeout: time.Duration(cfg.Search.WebTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("build web search client: %w", err)
		}
		web = client
	}
	federator := search.NewFederator(embedder, vectors, web, ranker, logger.Named("search"), cfg.Search.OverfetchMultiplier)

	apiServer := api.NewServer(ingestRunner, federator, jobs, promhttp.Handler(), cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := ingestRunner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("runner stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func buildFetcher(cfg config.Config, logger *zap.Logger) knowledge.Fetcher {
	primary := bounded.New(bounded.Config{
		Timeout:   cfg.FetchTimeout(),
		MaxBytes:  cfg.Fetch.MaxBytes,
		UserAgent: cfg.Fetch.UserAgent,
	})
	var fb knowledge.Fetcher
	if cfg.Headless.Enabled {
		headlessFetcher, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			fb = headlessFetcher
		}
	}
	if fb == nil {
		fb = headless.NewNoop()
	}
	return fallback.New(primary, fb, cfg.Headless.Enabled, logger.Named("fetch"))
}

func buildStores(ctx context.Context, cfg config.Config) (knowledge.JobStore, knowledge.ObjectStore, error) {
	if cfg.DB.DSN == "" {
		return memorystorage.NewJobStore(), memorystorage.NewObjectStore(), nil
	}
	pgCfg := postgres.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMinute) * time.Minute,
	}
	jobs, err := postgres.NewJobStore(ctx, pgCfg)
	if err != nil {
		return nil, nil, err
	}
	objects, err := postgres.NewObjectStore(ctx, pgCfg)
	if err != nil {
		return nil, nil, err
	}
	return jobs, objects, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (knowledge.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	case "gcs":
		client, err := gcpstorage.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return memorystorage.NewBlobStore(), nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (knowledge.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		return memorypublisher.New(), nil
	}
	client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, err
	}
	return pubsubpublisher.New(client), nil
}

func buildVectorStore(ctx context.Context, cfg config.Config) (knowledge.VectorStore, error) {
	if cfg.Vector.URL == "" {
		return memoryvec.New(), nil
	}
	return surreal.Connect(ctx, surreal.Config{
		URL:       cfg.Vector.URL,
		Namespace: cfg.Vector.Namespace,
		Database:  cfg.Vector.Database,
		Username:  cfg.Vector.Username,
		Password:  cfg.Vector.Password,
		Table:     cfg.Vector.Table,
	}, slog.New(slog.NewJSONHandler(os.Stdout, nil)))
}
