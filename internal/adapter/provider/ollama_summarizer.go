package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"eval-orchestrator/internal/domain"
)

const summarizeTemperature = 0.2

// citationRe matches citation markers of the form [Source: <path>] in
// generated text.
var citationRe = regexp.MustCompile(`\[Source:\s*([^\]]+)\]`)

// OllamaSummarizer sends retrieval-grounded summarization prompts to an
// Ollama-compatible chat endpoint.
type OllamaSummarizer struct {
	BaseURL string
	Model   string
	Name    string

	probeTimeout time.Duration
	client       *http.Client
	logger       *slog.Logger
}

// NewOllamaSummarizer constructs a summarizer for one backend.
func NewOllamaSummarizer(name, baseURL, model string, client *http.Client, logger *slog.Logger) *OllamaSummarizer {
	s := &OllamaSummarizer{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		Model:        model,
		Name:         name,
		probeTimeout: defaultProbeTimeout,
		client:       client,
		logger:       logger,
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 120 * time.Second}
	}
	return s
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Summarize generates a summary over the retrieved nodes. It rejects empty
// nodes or a nodes/scores length mismatch before any network call.
func (s *OllamaSummarizer) Summarize(ctx context.Context, req domain.SummarizeRequest) (*domain.SummarizeResult, error) {
	if len(req.Nodes) == 0 {
		return nil, domain.NewError(domain.ErrMalformedInput, "summarize requires at least one node")
	}
	if len(req.Nodes) != len(req.Scores) {
		return nil, domain.NewError(domain.ErrMalformedInput,
			"nodes/scores length mismatch: %d nodes, %d scores", len(req.Nodes), len(req.Scores))
	}

	start := time.Now()
	prompt := buildSummarizePrompt(req.Query, req.Nodes)

	jsonData, err := json.Marshal(chatRequest{
		Model:    s.Model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Options:  map[string]any{"temperature": summarizeTemperature},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", s.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.logger.Warn("summarize_request_failed",
			slog.String("provider", s.Name),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil, fmt.Errorf("failed to call chat endpoint: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chat endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}

	summary := strings.TrimSpace(chatResp.Message.Content)
	citations := extractCitations(summary)

	result := &domain.SummarizeResult{
		Summary:    summary,
		Citations:  citations,
		Confidence: summaryConfidence(req.Scores, len(citations), len(req.Nodes)),
	}

	s.logger.Info("summarize_completed",
		slog.String("provider", s.Name),
		slog.Int("node_count", len(req.Nodes)),
		slog.Int("citation_count", len(citations)),
		slog.Float64("confidence", result.Confidence),
		slog.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

// IsAvailable probes the model-listing endpoint; never errors.
func (s *OllamaSummarizer) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
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
		if modelMatches(s.Model, m.Name) {
			return true
		}
	}
	return false
}

func (s *OllamaSummarizer) Provider() string {
	return s.Name
}

func buildSummarizePrompt(query string, nodes []string) string {
	var b strings.Builder
	b.WriteString("Summarize the following sources to answer the question. ")
	b.WriteString("Cite each source you use as [Source: <path>].\n\n")
	b.WriteString("Question: ")
	b.WriteString(query)
	b.WriteString("\n\nSources:\n")
	for i, node := range nodes {
		fmt.Fprintf(&b, "--- Source %d ---\n%s\n", i+1, node)
	}
	return b.String()
}

func extractCitations(text string) []string {
	matches := citationRe.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	citations := make([]string, 0, len(matches))
	for _, m := range matches {
		path := strings.TrimSpace(m[1])
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		citations = append(citations, path)
	}
	return citations
}

// summaryConfidence blends mean retrieval score with citation coverage:
// 0.7 x mean(scores) + 0.3 x citations/nodes, clamped to [0,1].
func summaryConfidence(scores []float64, citationCount, nodeCount int) float64 {
	var sum float64
	for _, s := range scores {
		sum += s
	}
	meanScore := sum / float64(len(scores))

	coverage := float64(citationCount) / float64(nodeCount)
	if coverage > 1 {
		coverage = 1
	}

	confidence := 0.7*meanScore + 0.3*coverage
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

var _ domain.Summarizer = (*OllamaSummarizer)(nil)
