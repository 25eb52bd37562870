package eval_http

import (
	"time"

	"eval-orchestrator/internal/adapter/provider"
	"eval-orchestrator/internal/store"
	"eval-orchestrator/internal/usecase"
)

// EvaluateRequest is the wire form of one evaluation. LatencyMS carries
// latency in milliseconds; zero means "measure here".
type EvaluateRequest struct {
	Query     string   `json:"query"`
	Response  string   `json:"response"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	Context   []string `json:"context,omitempty"`
	Cost      float64  `json:"cost,omitempty"`
	LatencyMS float64  `json:"latency_ms,omitempty"`
}

func (r EvaluateRequest) toInput() usecase.EvaluateInput {
	return usecase.EvaluateInput{
		Query:    r.Query,
		Response: r.Response,
		Provider: r.Provider,
		Model:    r.Model,
		Context:  r.Context,
		Cost:     r.Cost,
		Latency:  time.Duration(r.LatencyMS * float64(time.Millisecond)),
	}
}

type BatchEvaluateRequest struct {
	Items []EvaluateRequest `json:"items"`
}

type BatchEvaluateResponse struct {
	Outcomes []*usecase.EvaluationOutcome `json:"outcomes"`
}

type EmbedRequest struct {
	Texts []string `json:"texts"`
}

type SummarizeRequest struct {
	Query  string    `json:"query"`
	Nodes  []string  `json:"nodes"`
	Scores []float64 `json:"scores"`
}

type StatsResponse struct {
	Evaluation usecase.LoopStats     `json:"evaluation"`
	Fallback   provider.Stats        `json:"fallback"`
	Buckets    []store.ProviderStats `json:"buckets"`
}

type CompareRequest struct {
	Pairs []usecase.ProviderRef `json:"pairs"`
}

type ForgettingResponse struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Domain   string `json:"domain"`
	Detected bool   `json:"detected"`
}

type VersionInfo struct {
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Checksum  string    `json:"checksum"`
	Buckets   int       `json:"buckets"`
}
