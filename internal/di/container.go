package di

import (
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"eval-orchestrator/internal/adapter/provider"
	"eval-orchestrator/internal/adapter/repository"
	"eval-orchestrator/internal/domain"
	"eval-orchestrator/internal/infra/config"
	"eval-orchestrator/internal/infra/httpclient"
	"eval-orchestrator/internal/infra/metrics"
	"eval-orchestrator/internal/store"
	"eval-orchestrator/internal/usecase"
	"eval-orchestrator/internal/worker"
)

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Store    *store.PerformanceStore
	Loop     *usecase.EvaluationLoop
	Fallback *provider.FallbackManager

	Worker *worker.SnapshotWorker
}

// NewApplicationComponents wires all dependencies from config. The pool is
// nil unless the Postgres archive is enabled.
func NewApplicationComponents(cfg *config.Config, pool *pgxpool.Pool, log *slog.Logger) *ApplicationComponents {
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	// Performance store, restored from the last snapshot when one exists.
	perfStore := store.New(store.Config{
		VersionsToKeep: cfg.Store.VersionsToKeep,
		AutoSave:       cfg.Store.AutoSave,
		SavePath:       cfg.Store.SavePath,
	})
	if err := perfStore.Load(); err != nil {
		log.Warn("store_load_failed", slog.String("path", cfg.Store.SavePath), slog.Any("error", err))
	} else {
		log.Info("store_loaded",
			slog.String("path", cfg.Store.SavePath),
			slog.Uint64("version", perfStore.CurrentVersion()))
	}

	// Fallback chain, strictly ordered. Each slot is an already-retrying
	// provider so retry and fallback stay independent axes.
	chain := make([]provider.ChainProvider, 0, 4)
	for _, slot := range []struct {
		name string
		pc   config.ProviderConfig
	}{
		{"primary", cfg.Primary},
		{"secondary", cfg.Secondary},
		{"tertiary", cfg.Tertiary},
	} {
		client := httpclient.NewPooledClient(time.Duration(slot.pc.Timeout) * time.Second)
		embedder := provider.NewOllamaEmbedder(
			slot.name, slot.pc.URL, slot.pc.Model, cfg.Embedding.Dimension, client, log,
			provider.WithBatchSize(cfg.Embedding.BatchSize),
			provider.WithProbeTimeout(time.Duration(cfg.ProbeTimeoutMS)*time.Millisecond),
		)
		summarizer := provider.NewOllamaSummarizer(slot.name, slot.pc.URL, slot.pc.ChatModel, client, log)
		chain = append(chain, provider.ChainProvider{
			Name:       slot.name,
			Model:      slot.pc.Model,
			Enabled:    slot.pc.Enabled,
			Embedder:   provider.NewRetryEmbedder(embedder, slot.pc.MaxRetries, log),
			Summarizer: provider.NewRetrySummarizer(summarizer, slot.pc.MaxRetries, log),
		})
	}
	if cfg.OpenAI.Enabled || cfg.OpenAI.APIKey != "" {
		client := httpclient.NewPooledClient(time.Duration(cfg.OpenAI.Timeout) * time.Second)
		embedder := provider.NewOpenAIEmbedder(
			"openai", cfg.OpenAI.URL, cfg.OpenAI.Model, cfg.OpenAI.APIKey,
			cfg.Embedding.Dimension, client, log,
		)
		chain = append(chain, provider.ChainProvider{
			Name:     "openai",
			Model:    cfg.OpenAI.Model,
			Enabled:  cfg.OpenAI.Enabled,
			Embedder: provider.NewRetryEmbedder(embedder, cfg.Primary.MaxRetries, log),
		})
	}

	fallback := provider.NewFallbackManager(chain, log,
		provider.WithFallbackMetrics(m),
		provider.WithHealthProbeTimeout(time.Duration(cfg.ProbeTimeoutMS)*time.Millisecond),
	)

	// Evaluation loop.
	loopCfg := usecase.DefaultConfig()
	if cfg.Evaluation.TimeoutSeconds > 0 {
		loopCfg.Timeout = time.Duration(cfg.Evaluation.TimeoutSeconds) * time.Second
	}
	loopCfg.Weights = usecase.MetricWeights{
		Relevancy:    cfg.Evaluation.WRelevancy,
		Faithfulness: cfg.Evaluation.WFaithfulness,
		Precision:    cfg.Evaluation.WPrecision,
		Recall:       cfg.Evaluation.WRecall,
	}

	opts := []usecase.Option{usecase.WithMetrics(m)}
	if pool != nil {
		opts = append(opts, usecase.WithArchive(repository.NewEvaluationRepository(pool)))
		log.Info("result_archive_enabled", slog.String("db", cfg.DB.Name))
	}

	loop := usecase.NewEvaluationLoop(loopCfg, domain.NewFeatureExtractor(), perfStore, log, opts...)

	// Snapshot worker. Not created when auto-save is off; callers can
	// still Flush explicitly.
	var snapWorker *worker.SnapshotWorker
	if cfg.Store.AutoSave {
		snapWorker = worker.NewSnapshotWorker(
			perfStore, m,
			time.Duration(cfg.Store.SaveIntervalSeconds)*time.Second,
			log,
			worker.WithHealthProbe(fallback, 0),
		)
	}

	return &ApplicationComponents{
		Registry: registry,
		Metrics:  m,
		Store:    perfStore,
		Loop:     loop,
		Fallback: fallback,
		Worker:   snapWorker,
	}
}
