package eval_http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eval-orchestrator/internal/adapter/provider"
	"eval-orchestrator/internal/domain"
	"eval-orchestrator/internal/infra/logger"
	"eval-orchestrator/internal/store"
	"eval-orchestrator/internal/usecase"
)

// EmbeddingArchiver persists embeddings served through /v1/embed so the
// ingestion pipeline can reuse them.
type EmbeddingArchiver interface {
	InsertEmbeddings(ctx context.Context, provider, model string, texts []string, vectors [][]float32) error
}

type Handler struct {
	loop     *usecase.EvaluationLoop
	fallback *provider.FallbackManager
	store    *store.PerformanceStore
	archive  EmbeddingArchiver
	log      *logger.ContextLogger
}

// HandlerOption customizes optional handler collaborators.
type HandlerOption func(*Handler)

// WithEmbeddingArchive enables write-through archiving of embed responses.
func WithEmbeddingArchive(a EmbeddingArchiver) HandlerOption {
	return func(h *Handler) { h.archive = a }
}

func NewHandler(
	loop *usecase.EvaluationLoop,
	fallback *provider.FallbackManager,
	perfStore *store.PerformanceStore,
	opts ...HandlerOption,
) *Handler {
	h := &Handler{
		loop:     loop,
		fallback: fallback,
		store:    perfStore,
		log:      logger.NewContextLogger("eval_http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires every route onto the echo instance. The metrics
// endpoint serves the injected registry only, not the process default.
func (h *Handler) RegisterRoutes(e *echo.Echo, registry *prometheus.Registry) {
	e.POST("/v1/evaluate", h.Evaluate)
	e.POST("/v1/evaluate/feedback", h.EvaluateFeedback)
	e.POST("/v1/evaluate/batch", h.EvaluateBatch)

	e.POST("/v1/embed", h.Embed)
	e.POST("/v1/summarize", h.Summarize)

	e.GET("/v1/stats", h.Stats)
	e.GET("/v1/store/versions", h.StoreVersions)
	e.POST("/v1/providers/compare", h.CompareProviders)
	e.GET("/v1/providers/forgetting", h.Forgetting)
	e.GET("/v1/providers/health", h.ProviderHealth)

	e.GET("/v1/history", h.History)
	e.DELETE("/v1/history", h.ClearHistory)

	e.GET("/v1/config", h.GetConfig)
	e.PATCH("/v1/config", h.UpdateConfig)

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
}

// Score a single query/response pair without touching provider stats
// (POST /v1/evaluate)
func (h *Handler) Evaluate(ctx echo.Context) error {
	var req EvaluateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody("invalid request"))
	}

	result, err := h.loop.Evaluate(ctx.Request().Context(), req.toInput())
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, result)
}

// Score a pair and fold the outcome into the performance store
// (POST /v1/evaluate/feedback)
func (h *Handler) EvaluateFeedback(ctx echo.Context) error {
	var req EvaluateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody("invalid request"))
	}

	outcome, err := h.loop.EvaluateAndUpdate(ctx.Request().Context(), req.toInput())
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, outcome)
}

// Score a batch in order, updating stats per item
// (POST /v1/evaluate/batch)
func (h *Handler) EvaluateBatch(ctx echo.Context) error {
	var req BatchEvaluateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody("invalid request"))
	}
	if len(req.Items) == 0 {
		return ctx.JSON(http.StatusBadRequest, errorBody("items must not be empty"))
	}

	inputs := make([]usecase.EvaluateInput, 0, len(req.Items))
	for _, item := range req.Items {
		inputs = append(inputs, item.toInput())
	}

	outcomes, err := h.loop.EvaluateBatch(ctx.Request().Context(), inputs)
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, BatchEvaluateResponse{Outcomes: outcomes})
}

// Embed texts through the fallback chain
// (POST /v1/embed)
func (h *Handler) Embed(ctx echo.Context) error {
	var req EmbedRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody("invalid request"))
	}

	result, err := h.fallback.Embed(ctx.Request().Context(), req.Texts)
	if err != nil {
		return h.writeError(ctx, err)
	}
	h.archiveEmbeddings(ctx.Request().Context(), result, req.Texts)
	return ctx.JSON(http.StatusOK, result)
}

// archiveEmbeddings writes served vectors to the archive off the request
// path. Archive failures are logged and never surface to the caller.
func (h *Handler) archiveEmbeddings(ctx context.Context, result *provider.EmbedResult, texts []string) {
	if h.archive == nil || len(result.Embeddings) == 0 {
		return
	}
	log := h.log.WithContext(ctx)
	go func() {
		actx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.archive.InsertEmbeddings(actx, result.Provider, result.Model, texts, result.Embeddings); err != nil {
			log.Warn("embedding_archive_failed",
				"provider", result.Provider,
				"error", err.Error(),
			)
		}
	}()
}

// Summarize scored source nodes through the fallback chain
// (POST /v1/summarize)
func (h *Handler) Summarize(ctx echo.Context) error {
	var req SummarizeRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody("invalid request"))
	}

	result, err := h.fallback.Summarize(ctx.Request().Context(), domain.SummarizeRequest{
		Query:  req.Query,
		Nodes:  req.Nodes,
		Scores: req.Scores,
	})
	if err != nil {
		return h.writeError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, result)
}

// Aggregate evaluation and fallback statistics
// (GET /v1/stats)
func (h *Handler) Stats(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, StatsResponse{
		Evaluation: h.loop.Stats(),
		Fallback:   h.fallback.Stats(),
		Buckets:    h.store.GetState(),
	})
}

// Snapshot version metadata, oldest first
// (GET /v1/store/versions)
func (h *Handler) StoreVersions(ctx echo.Context) error {
	versions := h.store.Versions()
	out := make([]VersionInfo, 0, len(versions))
	for _, v := range versions {
		out = append(out, VersionInfo{
			Version:   v.Version,
			Timestamp: v.Timestamp,
			Checksum:  v.Checksum,
			Buckets:   len(v.Stats),
		})
	}
	return ctx.JSON(http.StatusOK, out)
}

// Rank (provider, model) pairs by average quality
// (POST /v1/providers/compare)
func (h *Handler) CompareProviders(ctx echo.Context) error {
	var req CompareRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody("invalid request"))
	}
	if len(req.Pairs) == 0 {
		return ctx.JSON(http.StatusBadRequest, errorBody("pairs must not be empty"))
	}
	return ctx.JSON(http.StatusOK, h.loop.CompareProviders(req.Pairs))
}

// Check one provider/model/domain bucket for quality regression
// (GET /v1/providers/forgetting)
func (h *Handler) Forgetting(ctx echo.Context) error {
	prov := ctx.QueryParam("provider")
	model := ctx.QueryParam("model")
	dom := ctx.QueryParam("domain")
	if prov == "" || model == "" || dom == "" {
		return ctx.JSON(http.StatusBadRequest, errorBody("provider, model and domain are required"))
	}

	threshold := 0.0
	if raw := ctx.QueryParam("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ctx.JSON(http.StatusBadRequest, errorBody("threshold must be a number"))
		}
		threshold = parsed
	}

	detected := h.loop.DetectCatastrophicForgetting(prov, model, domain.Domain(dom), threshold)
	return ctx.JSON(http.StatusOK, ForgettingResponse{
		Provider: prov,
		Model:    model,
		Domain:   dom,
		Detected: detected,
	})
}

// Probe every configured provider, including disabled slots
// (GET /v1/providers/health)
func (h *Handler) ProviderHealth(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, h.fallback.HealthStatus(ctx.Request().Context()))
}

// Fallback attempt history, optionally filtered by provider
// (GET /v1/history)
func (h *Handler) History(ctx echo.Context) error {
	attempts := h.fallback.AttemptHistory(ctx.QueryParam("provider"))
	return ctx.JSON(http.StatusOK, attempts)
}

// (DELETE /v1/history)
func (h *Handler) ClearHistory(ctx echo.Context) error {
	h.fallback.ClearHistory()
	return ctx.NoContent(http.StatusNoContent)
}

// (GET /v1/config)
func (h *Handler) GetConfig(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, h.loop.GetConfig())
}

// Merge a partial config update; absent fields keep their values
// (PATCH /v1/config)
func (h *Handler) UpdateConfig(ctx echo.Context) error {
	var patch usecase.ConfigPatch
	if err := ctx.Bind(&patch); err != nil {
		return ctx.JSON(http.StatusBadRequest, errorBody("invalid request"))
	}
	h.loop.UpdateConfig(patch)
	return ctx.JSON(http.StatusOK, h.loop.GetConfig())
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// writeError maps the error taxonomy onto HTTP statuses.
func (h *Handler) writeError(ctx echo.Context, err error) error {
	status := http.StatusInternalServerError
	kind := domain.KindOf(err)
	h.log.WithContext(ctx.Request().Context()).Warn("request_failed",
		"path", ctx.Path(),
		"kind", string(kind),
		"error", err.Error(),
	)
	switch kind {
	case domain.ErrMalformedInput, domain.ErrDimensionMismatch:
		status = http.StatusBadRequest
	case domain.ErrValidationFailure:
		status = http.StatusUnprocessableEntity
	case domain.ErrProviderUnavailable:
		status = http.StatusServiceUnavailable
	case domain.ErrAllProvidersExhausted:
		status = http.StatusBadGateway
	}

	body := map[string]string{"error": err.Error()}
	if kind != "" {
		body["kind"] = string(kind)
	}
	return ctx.JSON(status, body)
}
