package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zen-systems/careerflow/pkg/adapter"
	"github.com/zen-systems/careerflow/pkg/agent"
	"github.com/zen-systems/careerflow/pkg/analysis"
	"github.com/zen-systems/careerflow/pkg/config"
	"github.com/zen-systems/careerflow/pkg/events"
	"github.com/zen-systems/careerflow/pkg/pipeline"
	"github.com/zen-systems/careerflow/pkg/store"
	"github.com/zen-systems/careerflow/pkg/tools"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if adapterFlag != "" {
		cfg.Provider = adapterFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createAdapter builds the configured provider. The embedder is the Google
// adapter whenever a Google key is present, so retrieval can use embeddings
// even when generation runs elsewhere.
func createAdapter(ctx context.Context, cfg *config.Config) (adapter.Adapter, adapter.Embedder, error) {
	var google *adapter.GoogleAdapter
	if cfg.HasAdapter("google") && !cfg.Embedding.Disabled {
		g, err := adapter.NewGoogleAdapter(ctx, cfg.APIKeys.Google)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		google = g
	}

	var embedder adapter.Embedder
	if google != nil {
		embedder = google
	}

	switch cfg.Provider {
	case "google":
		if google != nil {
			return google, embedder, nil
		}
		a, err := adapter.NewGoogleAdapter(ctx, cfg.APIKeys.Google)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create google adapter: %w", err)
		}
		return a, embedder, nil
	case "anthropic":
		a, err := adapter.NewAnthropicAdapter(cfg.APIKeys.Anthropic)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create anthropic adapter: %w", err)
		}
		return a, embedder, nil
	case "openai":
		a, err := adapter.NewOpenAIAdapter(cfg.APIKeys.OpenAI)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create openai adapter: %w", err)
		}
		return a, embedder, nil
	case "deepseek":
		a, err := adapter.NewDeepSeekAdapter(cfg.APIKeys.DeepSeek)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create deepseek adapter: %w", err)
		}
		return a, embedder, nil
	case "mock":
		return adapter.NewMockAdapter(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// executorFactory returns a factory producing one agent executor per run.
// The adapter and web search client are shared; document indexes are not.
func executorFactory(cfg *config.Config, a adapter.Adapter, embedder adapter.Embedder) (analysis.ExecutorFactory, error) {
	web, err := tools.NewWebSearch(cfg.Search.Provider,
		tools.WithAPIKey(cfg.Search.APIKey),
		tools.WithMaxResults(cfg.Search.MaxResults))
	if err != nil {
		return nil, err
	}
	if !web.Available() {
		log.Printf("[careerflow] %s API key not set; web_search will report errors", web.Provider())
	}

	docOpts := []tools.DocumentOption{
		tools.WithCollection(cfg.Embedding.Collection),
		tools.WithTopK(cfg.Embedding.TopK),
		tools.WithChunking(cfg.Embedding.ChunkSize, cfg.Embedding.ChunkOverlap),
		tools.WithDocumentLogger(log.Printf),
	}
	if embedder != nil && !cfg.Embedding.Disabled {
		docOpts = append(docOpts, tools.WithEmbedder(embedder, cfg.Embedding.Model))
	}

	retry := agent.RetryPolicy{
		MaxRetries:  cfg.Retry.MaxRetries,
		BaseBackoff: time.Duration(cfg.Retry.BaseBackoffMs) * time.Millisecond,
		MaxBackoff:  time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
	}
	opts := agent.Options{
		Model:        cfg.ResolveModel(cfg.Model),
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
		Retry:        &retry,
		ResolveModel: cfg.ResolveModel,
		Web:          web,
		Documents:    agent.FileIndexer(docOpts...),
		Logger:       log.Printf,
	}
	return func() (pipeline.Executor, error) {
		return agent.New(a, opts)
	}, nil
}

// newService wires the analysis service with whatever sinks are
// configured. The returned cleanup closes them.
func newService(ctx context.Context, cfg *config.Config, evidenceDir string) (*analysis.Service, func(), error) {
	a, embedder, err := createAdapter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	factory, err := executorFactory(cfg, a, embedder)
	if err != nil {
		return nil, nil, err
	}

	svc := &analysis.Service{NewExecutor: factory, EvidenceDir: evidenceDir, Logger: log.Printf}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Storage.PostgresDSN != "" {
		pool, err := store.Connect(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, pool.Close)
		svc.Runs = store.NewRunStore(pool)
	}

	pub, err := events.New(cfg.Broker.KafkaBrokers, cfg.Broker.KafkaTopic)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	svc.Events = pub
	closers = append(closers, func() {
		if err := pub.Close(); err != nil {
			log.Printf("[careerflow] close event publisher: %v", err)
		}
	})

	return svc, cleanup, nil
}
