package domain

import (
	"time"

	"github.com/google/uuid"
)

// Domain is the coarse query classification used to bucket provider statistics.
type Domain string

const (
	DomainCode      Domain = "code"
	DomainCreative  Domain = "creative"
	DomainReasoning Domain = "reasoning"
	DomainAnalysis  Domain = "analysis"
	DomainGeneral   Domain = "general"
)

// ComplexityBucket discretizes a complexity score for stats keying.
type ComplexityBucket string

const (
	ComplexityLow    ComplexityBucket = "low"
	ComplexityMedium ComplexityBucket = "medium"
	ComplexityHigh   ComplexityBucket = "high"
)

// BucketComplexity maps a complexity score in [0,1] to its bucket.
// Boundaries: low < 0.33 <= medium < 0.66 <= high.
func BucketComplexity(score float64) ComplexityBucket {
	switch {
	case score < 0.33:
		return ComplexityLow
	case score < 0.66:
		return ComplexityMedium
	default:
		return ComplexityHigh
	}
}

// QueryHints carries optional routing constraints parsed from inline
// directives such as "max cost: $0.001".
type QueryHints struct {
	MaxCost    *float64       `json:"max_cost,omitempty"`
	MinQuality *float64       `json:"min_quality,omitempty"`
	MaxLatency *time.Duration `json:"max_latency,omitempty"`
}

// QueryFeatures is the immutable result of feature extraction.
// It is a pure function of the query text.
type QueryFeatures struct {
	TokenCount      int        `json:"token_count"`
	LineCount       int        `json:"line_count"`
	MaxDepth        int        `json:"max_depth"`
	HasCodeBlock    bool       `json:"has_code_block"`
	HasMath         bool       `json:"has_math"`
	Domain          Domain     `json:"domain"`
	ComplexityScore float64    `json:"complexity_score"`
	Hints           QueryHints `json:"hints"`
}

// QualityMetrics holds the four deterministic sub-scores plus their
// weighted combination. Every field lies in [0,1].
type QualityMetrics struct {
	AnswerRelevancy     float64 `json:"answer_relevancy"`
	Faithfulness        float64 `json:"faithfulness"`
	ContextualPrecision float64 `json:"contextual_precision"`
	ContextualRecall    float64 `json:"contextual_recall"`
	Overall             float64 `json:"overall"`
}

// EvaluationResult is the append-only record produced by one evaluation.
type EvaluationResult struct {
	ID        uuid.UUID      `json:"id"`
	Query     string         `json:"query"`
	Response  string         `json:"response"`
	Provider  string         `json:"provider"`
	Model     string         `json:"model"`
	Metrics   QualityMetrics `json:"metrics"`
	Cost      float64        `json:"cost"`
	Latency   time.Duration  `json:"latency"`
	Timestamp time.Time      `json:"timestamp"`
}

// Attempt is one entry in a fallback manager's attempt history.
type Attempt struct {
	Provider  string        `json:"provider"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}
