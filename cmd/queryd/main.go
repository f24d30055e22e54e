// Queryd is the mfai-query daemon: an HTTP service answering questions
// about MODFLOW, PEST and related groundwater modeling software from
// indexed documentation repositories.
//
// Each query runs through a fixed five-stage pipeline (relevance check,
// query analysis, context validation, repository search, response
// generation) with per-stage retries and graceful degradation. Progress
// events stream over NATS when configured, or into the structured log.
//
// Usage:
//
//	# Start with defaults
//	queryd
//
//	# Configure via file and environment
//	queryd -config /etc/mfai-query/config.yaml
//	SERVER_PORT=9090 SEARCH_PROVIDER=qdrant queryd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/modflowai/mfai-query/internal/config"
	"github.com/modflowai/mfai-query/internal/llm"
	"github.com/modflowai/mfai-query/internal/logging"
	"github.com/modflowai/mfai-query/internal/progress"
	"github.com/modflowai/mfai-query/internal/rerank"
	"github.com/modflowai/mfai-query/internal/search"
	"github.com/modflowai/mfai-query/internal/server"
	"github.com/modflowai/mfai-query/internal/stages"
	"github.com/modflowai/mfai-query/internal/telemetry"
	"github.com/modflowai/mfai-query/internal/workflow"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("queryd %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("queryd: %v", err)
	}
}

// run initializes every dependency and blocks until ctx is cancelled:
//
//  1. Configuration (file + environment)
//  2. Logger and telemetry
//  3. NATS (optional, for progress streaming)
//  4. Embedder and search backend
//  5. Generator, scorer, pipeline stages, orchestrator
//  6. HTTP server
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	logger.Info("starting queryd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("search_provider", cfg.Search.Provider),
		zap.Strings("repositories", cfg.Search.Repositories))

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	// Progress reporting: NATS when configured, structured log otherwise.
	var (
		reporter progress.Reporter
		nc       *nats.Conn
	)
	if cfg.NATS.Enabled {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(time.Second),
		)
		if err != nil {
			return fmt.Errorf("connecting to NATS at %s: %w", cfg.NATS.URL, err)
		}
		defer nc.Close()
		reporter = progress.NewNATSReporter(nc)
		logger.Info("progress events publish to NATS", zap.String("url", cfg.NATS.URL))
	} else {
		reporter = progress.NewZapReporter(logger)
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	searcher, err := search.NewSearcher(search.Config{
		Provider: cfg.Search.Provider,
		Chromem: search.ChromemConfig{
			Path:       cfg.Search.Chromem.Path,
			Compress:   cfg.Search.Chromem.Compress,
			Collection: cfg.Search.Chromem.Collection,
			TopK:       cfg.Search.TopK,
		},
		Qdrant: search.QdrantConfig{
			URL:        cfg.Search.Qdrant.URL,
			Collection: cfg.Search.Qdrant.Collection,
			TopK:       cfg.Search.TopK,
		},
	}, embedder, logger)
	if err != nil {
		return fmt.Errorf("creating search backend: %w", err)
	}
	defer func() {
		if err := searcher.Close(); err != nil {
			logger.Warn("closing search backend", zap.Error(err))
		}
	}()

	generator, err := llm.NewOpenAIGenerator(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		APIKey:  cfg.LLM.APIKey.Value(),
	})
	if err != nil {
		return fmt.Errorf("creating generator: %w", err)
	}

	var scorer rerank.Scorer
	if cfg.Rerank.Provider == "llm" {
		scorer = rerank.NewLLMScorer(generator)
	} else {
		scorer = rerank.NewOverlapScorer()
	}

	orchestrator, err := workflow.New([]workflow.Stage{
		stages.NewRelevanceChecker(generator),
		stages.NewQueryAnalyzer(generator, cfg.Search.Repositories),
		stages.NewContextValidator(generator),
		stages.NewRepositorySearcher(searcher, scorer, cfg.Search.Repositories, logger),
		stages.NewResponseGenerator(generator),
	}, workflow.Options{
		Retry: &workflow.RetryPolicy{
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay.Duration(),
			Multiplier: cfg.Retry.Multiplier,
			MaxDelay:   cfg.Retry.MaxDelay.Duration(),
			JitterMax:  cfg.Retry.JitterMax.Duration(),
		},
		Reporter:     reporter,
		Logger:       logger,
		Repositories: cfg.Search.Repositories,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	srv, err := server.New(orchestrator, nc, logger, &server.Config{
		Host:        "0.0.0.0",
		Port:        cfg.Server.Port,
		ReadTimeout: cfg.Server.ReadTimeout.Duration(),
	})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newEmbedder builds the query embedder against an OpenAI-compatible
// embeddings endpoint.
func newEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	apiKey := cfg.Embedding.APIKey.Value()
	if apiKey == "" {
		// langchaingo requires a token; local servers accept any value.
		apiKey = "placeholder"
	}

	client, err := openai.New(
		openai.WithBaseURL(cfg.Embedding.BaseURL),
		openai.WithModel(cfg.Embedding.Model),
		openai.WithEmbeddingModel(cfg.Embedding.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, err
	}
	return embeddings.NewEmbedder(client)
}
