// Command pipeline starts the enrichment pipeline service.
//
// The pipeline consumes collector documents from Kafka, enriches them through
// the queue's worker pools (text recognition, face detection, captioning,
// entity extraction), rewrites image placeholders into human-readable slugs,
// and submits the results to the remote ingestion boundary in batches.
// Documents that permanently fail submission are dead-lettered to PostgreSQL;
// Redis remembers accepted idempotency keys so re-collections are skipped.
//
// Usage:
//
//	go run ./cmd/pipeline [-config configs/development.yaml] [-skip-enrichment]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lifearchive/enrichment-pipeline/internal/capability"
	"github.com/lifearchive/enrichment-pipeline/internal/deadletter"
	"github.com/lifearchive/enrichment-pipeline/internal/enrich"
	"github.com/lifearchive/enrichment-pipeline/internal/pipeline"
	"github.com/lifearchive/enrichment-pipeline/internal/queue"
	"github.com/lifearchive/enrichment-pipeline/internal/submit"
	"github.com/lifearchive/enrichment-pipeline/pkg/config"
	"github.com/lifearchive/enrichment-pipeline/pkg/health"
	"github.com/lifearchive/enrichment-pipeline/pkg/kafka"
	"github.com/lifearchive/enrichment-pipeline/pkg/logger"
	"github.com/lifearchive/enrichment-pipeline/pkg/metrics"
	"github.com/lifearchive/enrichment-pipeline/pkg/middleware"
	"github.com/lifearchive/enrichment-pipeline/pkg/postgres"
	"github.com/lifearchive/enrichment-pipeline/pkg/redis"
)

// main wires config, logging, metrics, the optional Redis/Postgres clients,
// the capability services, the enrichment queue, and the batch submitter into
// a runner, then consumes from Kafka until SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	skipEnrichment := flag.Bool("skip-enrichment", false, "bypass enrichment and submit documents directly")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting enrichment pipeline",
		"brokers", cfg.Kafka.Brokers,
		"documents_topic", cfg.Kafka.Topics.Documents,
		"ingest_url", cfg.Submitter.IngestURL,
		"skip_enrichment", *skipEnrichment,
	)

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker()
	checker.Register("kafka", kafkaCheck(cfg.Kafka.Brokers))
	checker.Register("ingest", ingestCheck(cfg.Submitter.IngestURL))

	// Redis: idempotency dedupe cache, optional.
	var dedupe *submit.DedupeCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		dedupe = submit.NewDedupeCache(redisClient, cfg.Redis.KeyTTL)
		checker.Register("redis", redisClient.Ping)
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	// PostgreSQL: dead-letter store, optional.
	var deadLetter submit.FailureSink
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store := deadletter.New(db)
		if err := store.EnsureSchema(context.Background()); err != nil {
			slog.Error("failed to prepare dead-letter schema", "error", err)
			os.Exit(1)
		}
		deadLetter = store
		checker.Register("postgres", db.DB.PingContext)
		slog.Info("connected to postgres", "host", cfg.Postgres.Host)
	}

	// Capability services. The constructors return nil for disabled
	// capabilities; only concrete clients are assigned into the options so
	// the orchestrator sees true nil interfaces.
	opts := enrich.Options{
		ImageParallelism: cfg.Enrichment.ImageParallelism,
		Metrics:          m,
	}
	if r := capability.NewHTTPRecognizer(cfg.Enrichment.Recognition); r != nil {
		opts.Recognizer = r
	}
	if d := capability.NewHTTPFaceDetector(cfg.Enrichment.Faces); d != nil {
		opts.Faces = d
	}
	if c := capability.NewHTTPCaptioner(cfg.Enrichment.Caption); c != nil {
		opts.Captioner = c
	}
	if e := capability.NewHTTPEntityExtractor(cfg.Enrichment.Entities); e != nil {
		opts.Entities = e
	}
	orchestrator := enrich.New(opts)

	handle := queue.NewHandle(func() *queue.Queue {
		return queue.New(queue.Config{
			NormalWorkers:       cfg.Queue.NormalWorkers,
			NoAttachmentWorkers: cfg.Queue.NoAttachmentWorkers,
			NoAttachmentEnabled: cfg.Queue.NoAttachmentEnabled,
			MaxRetries:          cfg.Queue.MaxRetries,
		}, orchestrator, m)
	})

	ingestClient := submit.NewClient(cfg.Submitter, m)
	submitter := submit.New(submit.Config{
		BatchSize:  cfg.Submitter.BatchSize,
		MaxRetries: cfg.Submitter.MaxRetries,
	}, ingestClient, dedupe, deadLetter, m)

	events := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.Events)
	defer events.Close()

	runner := pipeline.NewRunner(pipeline.Config{
		SkipEnrichment: *skipEnrichment,
	}, handle, submitter, events)

	// Operational HTTP server: liveness and readiness probes.
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", checker.LiveHandler())
	mux.HandleFunc("/health/ready", checker.ReadyHandler())
	var handler http.Handler = mux
	handler = middleware.Metrics(m)(handler)
	handler = middleware.Timeout(cfg.Server.WriteTimeout)(handler)
	opsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("ops server listening", "addr", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner.Start(ctx)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.Documents, runner.Handler())

	slog.Info("pipeline ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.Documents,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	// Drain: wait for in-flight enrichments and flush the submitter buffer
	// before the process exits.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	stats, err := runner.Stop(shutdownCtx)
	if err != nil {
		slog.Error("drain failed", "error", err)
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("ops server shutdown error", "error", err)
	}

	slog.Info("enrichment pipeline stopped",
		"submitted", stats.SubmittedCount,
		"errors", stats.ErrorCount,
	)
}

// kafkaCheck probes the first reachable broker over TCP.
func kafkaCheck(brokers []string) health.Check {
	return func(ctx context.Context) error {
		var lastErr error
		for _, broker := range brokers {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", broker)
			if err == nil {
				conn.Close()
				return nil
			}
			lastErr = err
		}
		if lastErr == nil {
			return fmt.Errorf("no brokers configured")
		}
		return lastErr
	}
}

// ingestCheck verifies the remote ingestion boundary answers HTTP at all; any
// response counts as reachable, only transport failures are down.
func ingestCheck(baseURL string) health.Check {
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, baseURL, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
}
