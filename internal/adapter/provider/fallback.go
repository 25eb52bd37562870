package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"eval-orchestrator/internal/domain"
	"eval-orchestrator/internal/infra/metrics"
)

// ChainProvider is one slot in the ordered fallback chain. Disabled slots
// stay configured but are skipped on every request.
type ChainProvider struct {
	Name       string
	Model      string
	Enabled    bool
	Embedder   domain.EmbeddingProvider
	Summarizer domain.Summarizer
}

// EmbedResult reports which provider served an embed request.
type EmbedResult struct {
	Embeddings [][]float32   `json:"embeddings"`
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	Duration   time.Duration `json:"duration"`
}

// SummarizeResult reports which provider served a summarize request.
type SummarizeResult struct {
	domain.SummarizeResult
	Provider string        `json:"provider"`
	Duration time.Duration `json:"duration"`
}

// HealthStatus is one provider's probe outcome.
type HealthStatus struct {
	Provider  string        `json:"provider"`
	Enabled   bool          `json:"enabled"`
	Available bool          `json:"available"`
	Latency   time.Duration `json:"latency"`
}

// ProviderStats counts attempts for one provider.
type ProviderStats struct {
	Attempts  int `json:"attempts"`
	Successes int `json:"successes"`
}

// Stats summarizes the manager's attempt bookkeeping. FallbackRate is the
// fraction of requests that did not succeed on the first provider attempted.
type Stats struct {
	TotalAttempts int                      `json:"total_attempts"`
	SuccessRate   float64                  `json:"success_rate"`
	FallbackRate  float64                  `json:"fallback_rate"`
	ByProvider    map[string]ProviderStats `json:"by_provider"`
}

// FallbackManager composes an ordered chain of already-retrying providers.
// Providers are tried strictly in configured order; the first success wins
// and no further providers are contacted. Every attempt lands in the
// append-only history.
type FallbackManager struct {
	chain        []ChainProvider
	probeTimeout time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu        sync.Mutex
	history   []domain.Attempt
	requests  int
	fallbacks int
}

// FallbackOption customizes the manager.
type FallbackOption func(*FallbackManager)

// WithFallbackMetrics attaches a telemetry registry.
func WithFallbackMetrics(m *metrics.Metrics) FallbackOption {
	return func(f *FallbackManager) { f.metrics = m }
}

// WithHealthProbeTimeout overrides the health probe timeout.
func WithHealthProbeTimeout(d time.Duration) FallbackOption {
	return func(f *FallbackManager) {
		if d > 0 {
			f.probeTimeout = d
		}
	}
}

// NewFallbackManager builds a manager over the configured chain.
func NewFallbackManager(chain []ChainProvider, logger *slog.Logger, opts ...FallbackOption) *FallbackManager {
	f := &FallbackManager{
		chain:        chain,
		probeTimeout: defaultProbeTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Embed tries enabled providers in order until one succeeds. Empty texts
// short-circuit to an empty result without contacting any provider or
// touching the attempt history.
func (f *FallbackManager) Embed(ctx context.Context, texts []string) (*EmbedResult, error) {
	if len(texts) == 0 {
		return &EmbedResult{Embeddings: [][]float32{}}, nil
	}

	var errs []error
	attemptIndex := 0
	for _, p := range f.chain {
		if !p.Enabled || p.Embedder == nil {
			continue
		}
		attemptIndex++

		start := time.Now()
		embeddings, err := p.Embedder.EmbedBatch(ctx, texts)
		duration := time.Since(start)
		f.recordAttempt(p.Name, err == nil, duration)

		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			f.logger.Warn("fallback_provider_failed",
				slog.String("provider", p.Name),
				slog.Int("position", attemptIndex),
				slog.String("error", err.Error()),
			)
			continue
		}

		f.finishRequest(attemptIndex > 1)
		return &EmbedResult{
			Embeddings: embeddings,
			Provider:   p.Name,
			Model:      p.Model,
			Duration:   duration,
		}, nil
	}

	// A chain with no enabled providers made no attempts; counting it as a
	// fallback would skew FallbackRate.
	if attemptIndex > 0 {
		f.finishRequest(true)
	}
	return nil, f.exhausted("embed", attemptIndex, errs)
}

// Summarize applies the same fallback precedence to summarization. Input
// validation failures reject before any provider is attempted.
func (f *FallbackManager) Summarize(ctx context.Context, req domain.SummarizeRequest) (*SummarizeResult, error) {
	if len(req.Nodes) == 0 {
		return nil, domain.NewError(domain.ErrMalformedInput, "summarize requires at least one node")
	}
	if len(req.Nodes) != len(req.Scores) {
		return nil, domain.NewError(domain.ErrMalformedInput,
			"nodes/scores length mismatch: %d nodes, %d scores", len(req.Nodes), len(req.Scores))
	}

	var errs []error
	attemptIndex := 0
	for _, p := range f.chain {
		if !p.Enabled || p.Summarizer == nil {
			continue
		}
		attemptIndex++

		start := time.Now()
		result, err := p.Summarizer.Summarize(ctx, req)
		duration := time.Since(start)
		f.recordAttempt(p.Name, err == nil, duration)

		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
			f.logger.Warn("fallback_provider_failed",
				slog.String("provider", p.Name),
				slog.Int("position", attemptIndex),
				slog.String("error", err.Error()),
			)
			continue
		}

		f.finishRequest(attemptIndex > 1)
		return &SummarizeResult{
			SummarizeResult: *result,
			Provider:        p.Name,
			Duration:        duration,
		}, nil
	}

	if attemptIndex > 0 {
		f.finishRequest(true)
	}
	return nil, f.exhausted("summarize", attemptIndex, errs)
}

// HealthStatus probes every configured provider with a short timeout,
// independent of the main request path.
func (f *FallbackManager) HealthStatus(ctx context.Context) []HealthStatus {
	statuses := make([]HealthStatus, 0, len(f.chain))
	for _, p := range f.chain {
		probeCtx, cancel := context.WithTimeout(ctx, f.probeTimeout)
		start := time.Now()
		available := false
		switch {
		case p.Embedder != nil:
			available = p.Embedder.IsAvailable(probeCtx)
		case p.Summarizer != nil:
			available = p.Summarizer.IsAvailable(probeCtx)
		}
		cancel()

		statuses = append(statuses, HealthStatus{
			Provider:  p.Name,
			Enabled:   p.Enabled,
			Available: available,
			Latency:   time.Since(start),
		})
	}
	return statuses
}

// AttemptHistory returns the chronological attempt log, optionally filtered
// to one provider.
func (f *FallbackManager) AttemptHistory(providerFilter string) []domain.Attempt {
	f.mu.Lock()
	defer f.mu.Unlock()

	if providerFilter == "" {
		out := make([]domain.Attempt, len(f.history))
		copy(out, f.history)
		return out
	}
	out := make([]domain.Attempt, 0)
	for _, a := range f.history {
		if a.Provider == providerFilter {
			out = append(out, a)
		}
	}
	return out
}

// ClearHistory empties the attempt history and resets the request counters
// behind FallbackRate, so post-clear stats describe post-clear traffic only.
func (f *FallbackManager) ClearHistory() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = nil
	f.requests = 0
	f.fallbacks = 0
}

// Stats aggregates attempt bookkeeping. SuccessRate is derived from the
// history entries themselves, so it always describes the same window the
// per-provider counts do.
func (f *FallbackManager) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := Stats{
		TotalAttempts: len(f.history),
		ByProvider:    make(map[string]ProviderStats),
	}
	successes := 0
	for _, a := range f.history {
		ps := stats.ByProvider[a.Provider]
		ps.Attempts++
		if a.Success {
			ps.Successes++
			successes++
		}
		stats.ByProvider[a.Provider] = ps
	}
	if stats.TotalAttempts > 0 {
		stats.SuccessRate = float64(successes) / float64(stats.TotalAttempts)
	}
	if f.requests > 0 {
		stats.FallbackRate = float64(f.fallbacks) / float64(f.requests)
	}
	return stats
}

func (f *FallbackManager) recordAttempt(providerName string, success bool, duration time.Duration) {
	f.mu.Lock()
	f.history = append(f.history, domain.Attempt{
		Provider:  providerName,
		Success:   success,
		Duration:  duration,
		Timestamp: time.Now(),
	})
	f.mu.Unlock()

	if f.metrics != nil {
		outcome := "failure"
		if success {
			outcome = "success"
		}
		f.metrics.ProviderAttempts.WithLabelValues(providerName, outcome).Inc()
	}
}

func (f *FallbackManager) finishRequest(fellBack bool) {
	f.mu.Lock()
	f.requests++
	if fellBack {
		f.fallbacks++
	}
	f.mu.Unlock()

	if fellBack && f.metrics != nil {
		f.metrics.FallbacksTotal.Inc()
	}
}

func (f *FallbackManager) exhausted(operation string, attempted int, errs []error) error {
	if attempted == 0 {
		return domain.NewError(domain.ErrAllProvidersExhausted,
			"%s: no enabled providers in the chain", operation)
	}
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return domain.NewError(domain.ErrAllProvidersExhausted,
		"%s: all %d providers failed: %s", operation, attempted, strings.Join(parts, "; "))
}
