package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"eval-orchestrator/internal/domain"
)

const (
	defaultBatchSize    = 32
	defaultProbeTimeout = 2 * time.Second
	batchConcurrency    = 2
)

// OllamaEmbedder calls an Ollama-compatible embedding endpoint.
type OllamaEmbedder struct {
	BaseURL string
	Model   string
	Name    string

	dimension    int
	batchSize    int
	probeTimeout time.Duration
	limiter      *rate.Limiter
	client       *http.Client
	logger       *slog.Logger
}

// EmbedderOption customizes an OllamaEmbedder.
type EmbedderOption func(*OllamaEmbedder)

// WithBatchSize overrides the per-request chunk size for EmbedBatch.
func WithBatchSize(n int) EmbedderOption {
	return func(e *OllamaEmbedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithRateLimit throttles requests to the backend.
func WithRateLimit(rps float64, burst int) EmbedderOption {
	return func(e *OllamaEmbedder) {
		if rps > 0 {
			e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithProbeTimeout overrides the availability probe timeout.
func WithProbeTimeout(d time.Duration) EmbedderOption {
	return func(e *OllamaEmbedder) {
		if d > 0 {
			e.probeTimeout = d
		}
	}
}

// NewOllamaEmbedder constructs an embedder for one backend. name identifies
// the provider in stats and attempt history; dimension is the expected
// vector size, enforced on every response.
func NewOllamaEmbedder(name, baseURL, model string, dimension int, client *http.Client, logger *slog.Logger, opts ...EmbedderOption) *OllamaEmbedder {
	e := &OllamaEmbedder{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Model:        model,
		Name:         name,
		dimension:    dimension,
		batchSize:    defaultBatchSize,
		probeTimeout: defaultProbeTimeout,
		client:       client,
		logger:       logger,
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: 30 * time.Second}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
}

// Embed generates one vector per text in a single backend request and
// validates every returned dimension.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	jsonData, err := json.Marshal(embedRequest{Model: e.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	url := fmt.Sprintf("%s/api/embed", e.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("embed_request_failed",
			slog.String("provider", e.Name),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil, fmt.Errorf("failed to call embed endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed endpoint returned status %d", resp.StatusCode)
	}

	var respBody embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}

	if len(respBody.Embeddings) != len(texts) {
		return nil, domain.NewError(domain.ErrDimensionMismatch,
			"expected %d embeddings, got %d", len(texts), len(respBody.Embeddings))
	}
	for i, vec := range respBody.Embeddings {
		if len(vec) != e.dimension {
			return nil, domain.NewError(domain.ErrDimensionMismatch,
				"embedding %d has dimension %d, expected %d (provider %s, model %s)",
				i, len(vec), e.dimension, e.Name, e.Model)
		}
	}

	e.logger.Debug("embed_completed",
		slog.String("provider", e.Name),
		slog.Int("text_count", len(texts)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return respBody.Embeddings, nil
}

// EmbedBatch auto-chunks texts into backend-sized requests. Chunks are
// dispatched with bounded concurrency and reassembled into the original
// global order.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) <= e.batchSize {
		return e.Embed(ctx, texts)
	}

	results := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)

	for offset := 0; offset < len(texts); offset += e.batchSize {
		offset := offset
		end := offset + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vectors, err := e.Embed(gctx, texts[offset:end])
			if err != nil {
				return fmt.Errorf("chunk [%d:%d]: %w", offset, end, err)
			}
			copy(results[offset:], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// IsAvailable probes the model-listing endpoint with a short timeout. The
// configured model matches by exact name or by prefix plus tag separator
// ("embeddinggemma" matches "embeddinggemma:latest"). Never returns an
// error; any failure reads as unavailable.
func (e *OllamaEmbedder) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/tags", e.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if modelMatches(e.Model, m.Name) {
			return true
		}
	}
	return false
}

// Dimension returns the expected embedding vector size.
func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

// Provider returns the configured provider name.
func (e *OllamaEmbedder) Provider() string {
	return e.Name
}

// modelMatches accepts an exact name or a tagged variant of it.
func modelMatches(configured, listed string) bool {
	return listed == configured || strings.HasPrefix(listed, configured+":")
}

var _ domain.EmbeddingProvider = (*OllamaEmbedder)(nil)
