package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"eval-orchestrator/internal/domain"
)

// OpenAIEmbedder calls an OpenAI-compatible /v1/embeddings endpoint. It is
// the alternative provider, disabled by default in configuration.
type OpenAIEmbedder struct {
	BaseURL string
	Model   string
	Name    string
	APIKey  string

	dimension    int
	batchSize    int
	probeTimeout time.Duration
	client       *http.Client
	logger       *slog.Logger
}

// NewOpenAIEmbedder constructs the OpenAI-compatible embedder.
func NewOpenAIEmbedder(name, baseURL, model, apiKey string, dimension int, client *http.Client, logger *slog.Logger) *OpenAIEmbedder {
	e := &OpenAIEmbedder{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Model:        model,
		Name:         name,
		APIKey:       apiKey,
		dimension:    dimension,
		batchSize:    defaultBatchSize,
		probeTimeout: defaultProbeTimeout,
		client:       client,
		logger:       logger,
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: 30 * time.Second}
	}
	return e
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates one vector per text in a single request. The response's
// index field restores input order before dimension validation.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	start := time.Now()
	jsonData, err := json.Marshal(openAIEmbedRequest{Model: e.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embeddings request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/embeddings", e.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Warn("embed_request_failed",
			slog.String("provider", e.Name),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil, fmt.Errorf("failed to call embeddings endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings endpoint returned status %d", resp.StatusCode)
	}

	var respBody openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return nil, fmt.Errorf("failed to decode embeddings response: %w", err)
	}
	if len(respBody.Data) != len(texts) {
		return nil, domain.NewError(domain.ErrDimensionMismatch,
			"expected %d embeddings, got %d", len(texts), len(respBody.Data))
	}

	sort.Slice(respBody.Data, func(i, j int) bool {
		return respBody.Data[i].Index < respBody.Data[j].Index
	})

	vectors := make([][]float32, len(texts))
	for i, item := range respBody.Data {
		if len(item.Embedding) != e.dimension {
			return nil, domain.NewError(domain.ErrDimensionMismatch,
				"embedding %d has dimension %d, expected %d (provider %s, model %s)",
				i, len(item.Embedding), e.dimension, e.Name, e.Model)
		}
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

// EmbedBatch chunks the input sequentially; OpenAI-compatible backends are
// typically remote and rate limited, so chunks are not parallelized.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	results := make([][]float32, 0, len(texts))
	for offset := 0; offset < len(texts); offset += e.batchSize {
		end := offset + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.Embed(ctx, texts[offset:end])
		if err != nil {
			return nil, fmt.Errorf("chunk [%d:%d]: %w", offset, end, err)
		}
		results = append(results, vectors...)
	}
	return results, nil
}

type openAIModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// IsAvailable probes /v1/models with a short timeout; never errors.
func (e *OpenAIEmbedder) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.BaseURL+"/v1/models", nil)
	if err != nil {
		return false
	}
	if e.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var models openAIModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return false
	}
	for _, m := range models.Data {
		if modelMatches(e.Model, m.ID) {
			return true
		}
	}
	return false
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) Provider() string {
	return e.Name
}

var _ domain.EmbeddingProvider = (*OpenAIEmbedder)(nil)
