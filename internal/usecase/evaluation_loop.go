package usecase

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"eval-orchestrator/internal/domain"
	"eval-orchestrator/internal/infra/metrics"
	"eval-orchestrator/internal/store"
)

// successThreshold is the fixed overall score at or above which an
// evaluation counts as a provider success.
const successThreshold = 0.7

// MetricWeights weights the four quality metrics in the overall score.
type MetricWeights struct {
	Relevancy    float64 `json:"relevancy"`
	Faithfulness float64 `json:"faithfulness"`
	Precision    float64 `json:"precision"`
	Recall       float64 `json:"recall"`
}

// DefaultWeights returns the standard 0.3/0.3/0.2/0.2 weighting.
func DefaultWeights() MetricWeights {
	return MetricWeights{Relevancy: 0.3, Faithfulness: 0.3, Precision: 0.2, Recall: 0.2}
}

// ForgettingConfig parameterizes the catastrophic forgetting heuristic.
// The detection is an approximation (wide confidence interval plus low
// mean), not elastic weight consolidation.
type ForgettingConfig struct {
	MinSamples       float64 `json:"min_samples"`
	CIWidthThreshold float64 `json:"ci_width_threshold"`
	MeanFloor        float64 `json:"mean_floor"`
}

// EvaluationConfig configures the loop.
type EvaluationConfig struct {
	Timeout    time.Duration    `json:"timeout"`
	Weights    MetricWeights    `json:"weights"`
	Forgetting ForgettingConfig `json:"forgetting"`
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() EvaluationConfig {
	return EvaluationConfig{
		Timeout: 30 * time.Second,
		Weights: DefaultWeights(),
		Forgetting: ForgettingConfig{
			MinSamples:       10,
			CIWidthThreshold: 0.2,
			MeanFloor:        0.6,
		},
	}
}

// ConfigPatch carries a partial configuration update. Only non-nil fields
// overwrite; Weights merges field-by-field.
type ConfigPatch struct {
	Timeout    *time.Duration `json:"timeout,omitempty"`
	Weights    *WeightsPatch  `json:"weights,omitempty"`
	Forgetting *ForgettingConfig
}

// WeightsPatch is the field-level partial update for MetricWeights.
type WeightsPatch struct {
	Relevancy    *float64 `json:"relevancy,omitempty"`
	Faithfulness *float64 `json:"faithfulness,omitempty"`
	Precision    *float64 `json:"precision,omitempty"`
	Recall       *float64 `json:"recall,omitempty"`
}

// EvaluateInput is one evaluation request. Cost and Latency are optional;
// a zero Latency is filled from measured wall-clock time.
type EvaluateInput struct {
	Query    string
	Response string
	Provider string
	Model    string
	Context  []string
	Cost     float64
	Latency  time.Duration
}

// EvaluationOutcome augments a result with the success decision applied to
// the performance store.
type EvaluationOutcome struct {
	domain.EvaluationResult
	Success bool `json:"success"`
}

// LoopStats aggregates the store for operator dashboards.
type LoopStats struct {
	TotalEvaluations float64 `json:"total_evaluations"`
	AverageQuality   float64 `json:"average_quality"`
	SuccessRate      float64 `json:"success_rate"`
}

// ProviderRef names a (provider, model) pair for comparison.
type ProviderRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// ProviderComparison is one row of CompareProviders output.
type ProviderComparison struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	AvgQuality  float64 `json:"avg_quality"`
	AvgCost     float64 `json:"avg_cost"`
	AvgLatency  float64 `json:"avg_latency_ms"`
	SuccessRate float64 `json:"success_rate"`
	Samples     float64 `json:"samples"`
}

// ResultArchive persists evaluation results append-only. Optional; a nil
// archive disables archiving.
type ResultArchive interface {
	InsertResult(ctx context.Context, result *domain.EvaluationResult, success bool) error
}

// EvaluationLoop orchestrates the quality metrics into weighted scores and
// folds outcomes back into the performance store.
type EvaluationLoop struct {
	mu        sync.RWMutex
	cfg       EvaluationConfig
	extractor *domain.FeatureExtractor
	store     *store.PerformanceStore
	archive   ResultArchive
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// Option customizes the loop at construction.
type Option func(*EvaluationLoop)

// WithArchive enables append-only archiving of evaluation results.
func WithArchive(archive ResultArchive) Option {
	return func(l *EvaluationLoop) { l.archive = archive }
}

// WithMetrics attaches a telemetry registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *EvaluationLoop) { l.metrics = m }
}

// NewEvaluationLoop wires the loop with its collaborators.
func NewEvaluationLoop(cfg EvaluationConfig, extractor *domain.FeatureExtractor, perfStore *store.PerformanceStore, logger *slog.Logger, opts ...Option) *EvaluationLoop {
	if cfg.Weights == (MetricWeights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Forgetting == (ForgettingConfig{}) {
		cfg.Forgetting = DefaultConfig().Forgetting
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	l := &EvaluationLoop{
		cfg:       cfg,
		extractor: extractor,
		store:     perfStore,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Evaluate scores a response against the four quality metrics and returns
// the evaluation record. Latency is measured when not supplied.
func (l *EvaluationLoop) Evaluate(ctx context.Context, input EvaluateInput) (*domain.EvaluationResult, error) {
	l.mu.RLock()
	weights := l.cfg.Weights
	timeout := l.cfg.Timeout
	l.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	m := domain.QualityMetrics{
		AnswerRelevancy:     domain.AnswerRelevancy(input.Query, input.Response),
		Faithfulness:        domain.Faithfulness(input.Response, input.Context),
		ContextualPrecision: domain.ContextualPrecision(input.Query, input.Context, input.Response),
		ContextualRecall:    domain.ContextualRecall(input.Query, input.Context, input.Response),
	}
	m.Overall = weights.Relevancy*m.AnswerRelevancy +
		weights.Faithfulness*m.Faithfulness +
		weights.Precision*m.ContextualPrecision +
		weights.Recall*m.ContextualRecall

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	latency := input.Latency
	if latency == 0 {
		latency = time.Since(start)
	}

	result := &domain.EvaluationResult{
		ID:        uuid.New(),
		Query:     input.Query,
		Response:  input.Response,
		Provider:  input.Provider,
		Model:     input.Model,
		Metrics:   m,
		Cost:      input.Cost,
		Latency:   latency,
		Timestamp: time.Now(),
	}

	if l.metrics != nil {
		l.metrics.EvaluationScore.Observe(m.Overall)
	}
	l.logger.Debug("evaluation_completed",
		slog.String("provider", input.Provider),
		slog.String("model", input.Model),
		slog.Float64("overall", m.Overall),
	)
	return result, nil
}

// EvaluateAndUpdate evaluates and folds the outcome into the performance
// store. Success is overall >= 0.7.
func (l *EvaluationLoop) EvaluateAndUpdate(ctx context.Context, input EvaluateInput) (*EvaluationOutcome, error) {
	result, err := l.Evaluate(ctx, input)
	if err != nil {
		return nil, err
	}

	success := result.Metrics.Overall >= successThreshold
	features := l.extractor.Extract(input.Query)

	l.store.UpdateStats(
		input.Provider, input.Model,
		features.Domain, features.ComplexityScore,
		success, input.Cost, result.Metrics.Overall, result.Latency,
	)

	if l.metrics != nil {
		outcome := "failure"
		if success {
			outcome = "success"
		}
		l.metrics.EvaluationsTotal.WithLabelValues(input.Provider, input.Model, outcome).Inc()
	}

	if l.archive != nil {
		if err := l.archive.InsertResult(ctx, result, success); err != nil {
			// Archiving is best-effort; the store update already landed.
			l.logger.Warn("evaluation_archive_failed",
				slog.String("error", err.Error()),
				slog.String("provider", input.Provider),
			)
		}
	}

	l.logger.Info("evaluation_recorded",
		slog.String("provider", input.Provider),
		slog.String("model", input.Model),
		slog.String("domain", string(features.Domain)),
		slog.Float64("overall", result.Metrics.Overall),
		slog.Bool("success", success),
	)

	return &EvaluationOutcome{EvaluationResult: *result, Success: success}, nil
}

// EvaluateBatch evaluates items sequentially, preserving input order.
func (l *EvaluationLoop) EvaluateBatch(ctx context.Context, items []EvaluateInput) ([]*EvaluationOutcome, error) {
	outcomes := make([]*EvaluationOutcome, 0, len(items))
	for _, item := range items {
		outcome, err := l.EvaluateAndUpdate(ctx, item)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// Stats aggregates every bucket of the performance store. All fields are
// zero for an empty store.
func (l *EvaluationLoop) Stats() LoopStats {
	state := l.store.GetState()
	if len(state) == 0 {
		return LoopStats{}
	}

	var total, successes, qualitySum float64
	for _, s := range state {
		total += s.Samples()
		successes += s.Success
		qualitySum += s.AvgQuality
	}

	stats := LoopStats{
		TotalEvaluations: total,
		AverageQuality:   qualitySum / float64(len(state)),
	}
	if total > 0 {
		stats.SuccessRate = successes / total
	}
	return stats
}

// CompareProviders returns one row per requested pair, sorted descending by
// average quality with stable tie order. Pairs without stats yield all-zero
// rows rather than being omitted.
func (l *EvaluationLoop) CompareProviders(refs []ProviderRef) []ProviderComparison {
	rows := make([]ProviderComparison, 0, len(refs))
	for _, ref := range refs {
		row := ProviderComparison{Provider: ref.Provider, Model: ref.Model}
		if stats, ok := l.store.GetProviderModelStats(ref.Provider, ref.Model); ok {
			row.AvgQuality = stats.AvgQuality
			row.AvgCost = stats.AvgCost
			row.AvgLatency = stats.AvgLatency
			row.SuccessRate = stats.Mean
			row.Samples = stats.Samples()
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].AvgQuality > rows[j].AvgQuality
	})
	return rows
}

// DetectCatastrophicForgetting reports whether a provider's learned quality
// on a domain looks degraded: wide 95% interval combined with a low mean.
// Always false below the minimum sample count. A non-positive threshold
// uses the configured default.
func (l *EvaluationLoop) DetectCatastrophicForgetting(provider, model string, dom domain.Domain, threshold float64) bool {
	l.mu.RLock()
	cfg := l.cfg.Forgetting
	l.mu.RUnlock()
	if threshold <= 0 {
		threshold = cfg.CIWidthThreshold
	}

	stats, ok := l.store.GetStats(provider, model, dom)
	if !ok || stats.Samples() < cfg.MinSamples {
		return false
	}

	ciWidth := stats.CIHigh - stats.CILow
	return ciWidth > threshold && stats.Mean < cfg.MeanFloor
}

// UpdateConfig applies a partial configuration update.
func (l *EvaluationLoop) UpdateConfig(patch ConfigPatch) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if patch.Timeout != nil {
		l.cfg.Timeout = *patch.Timeout
	}
	if patch.Weights != nil {
		if patch.Weights.Relevancy != nil {
			l.cfg.Weights.Relevancy = *patch.Weights.Relevancy
		}
		if patch.Weights.Faithfulness != nil {
			l.cfg.Weights.Faithfulness = *patch.Weights.Faithfulness
		}
		if patch.Weights.Precision != nil {
			l.cfg.Weights.Precision = *patch.Weights.Precision
		}
		if patch.Weights.Recall != nil {
			l.cfg.Weights.Recall = *patch.Weights.Recall
		}
	}
	if patch.Forgetting != nil {
		l.cfg.Forgetting = *patch.Forgetting
	}
}

// GetConfig returns a copy of the active configuration.
func (l *EvaluationLoop) GetConfig() EvaluationConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}
