package domain

import "context"

// EmbeddingProvider is the capability set every embedding backend exposes.
// Implementations wrap a single HTTP backend; composition (retry, fallback)
// happens over this interface rather than inside adapters.
type EmbeddingProvider interface {
	// Embed generates one vector per input text in a single request.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedBatch chunks large inputs into backend-sized requests while
	// preserving the global input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// IsAvailable probes the backend with a short timeout. It never
	// returns an error; any failure reads as unavailable.
	IsAvailable(ctx context.Context) bool
	// Dimension is the expected embedding vector size.
	Dimension() int
	// Provider identifies the backend for stats and attempt history.
	Provider() string
}

// SummarizeRequest asks for a grounded summary over retrieved nodes.
// Scores must align one-to-one with Nodes.
type SummarizeRequest struct {
	Query  string
	Nodes  []string
	Scores []float64
}

// SummarizeResult carries the generated summary, any [Source: <path>]
// citations extracted from it, and a confidence score in [0,1].
type SummarizeResult struct {
	Summary    string
	Citations  []string
	Confidence float64
}

// Summarizer is the capability set of a summarization backend.
type Summarizer interface {
	Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResult, error)
	IsAvailable(ctx context.Context) bool
	Provider() string
}
