package provider_test

import (
	"context"
	"testing"

	"eval-orchestrator/internal/adapter/provider"
	"eval-orchestrator/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unavailable(msg string) error {
	return domain.NewError(domain.ErrProviderUnavailable, "%s", msg)
}

func TestFallbackManager_Embed(t *testing.T) {
	t.Run("First provider success wins", func(t *testing.T) {
		a := &fakeEmbedder{name: "a", embeddings: [][]float32{{1}}}
		b := &fakeEmbedder{name: "b"}
		fm := provider.NewFallbackManager([]provider.ChainProvider{
			{Name: "a", Enabled: true, Embedder: a},
			{Name: "b", Enabled: true, Embedder: b},
		}, discardLogger())

		result, err := fm.Embed(context.Background(), []string{"x"})
		require.NoError(t, err)
		assert.Equal(t, "a", result.Provider)
		assert.Equal(t, 1, a.calls)
		assert.Equal(t, 0, b.calls, "later providers must not be contacted")
	})

	t.Run("Falls back in strict order", func(t *testing.T) {
		a := &fakeEmbedder{name: "a", errs: []error{unavailable("a down")}}
		b := &fakeEmbedder{name: "b", embeddings: [][]float32{{2}}}
		c := &fakeEmbedder{name: "c"}
		fm := provider.NewFallbackManager([]provider.ChainProvider{
			{Name: "a", Enabled: true, Embedder: a},
			{Name: "b", Enabled: true, Embedder: b},
			{Name: "c", Enabled: true, Embedder: c},
		}, discardLogger())

		result, err := fm.Embed(context.Background(), []string{"x"})
		require.NoError(t, err)
		assert.Equal(t, "b", result.Provider)
		assert.Equal(t, [][]float32{{2}}, result.Embeddings)
		assert.Equal(t, 0, c.calls)
	})

	t.Run("Disabled providers are skipped", func(t *testing.T) {
		a := &fakeEmbedder{name: "a"}
		b := &fakeEmbedder{name: "b", embeddings: [][]float32{{3}}}
		fm := provider.NewFallbackManager([]provider.ChainProvider{
			{Name: "a", Enabled: false, Embedder: a},
			{Name: "b", Enabled: true, Embedder: b},
		}, discardLogger())

		result, err := fm.Embed(context.Background(), []string{"x"})
		require.NoError(t, err)
		assert.Equal(t, "b", result.Provider)
		assert.Equal(t, 0, a.calls)
	})

	t.Run("All providers failing is exhaustion", func(t *testing.T) {
		a := &fakeEmbedder{name: "a", errs: []error{unavailable("a down")}}
		b := &fakeEmbedder{name: "b", errs: []error{unavailable("b down")}}
		fm := provider.NewFallbackManager([]provider.ChainProvider{
			{Name: "a", Enabled: true, Embedder: a},
			{Name: "b", Enabled: true, Embedder: b},
		}, discardLogger())

		_, err := fm.Embed(context.Background(), []string{"x"})
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.ErrAllProvidersExhausted))
		assert.Contains(t, err.Error(), "a down")
		assert.Contains(t, err.Error(), "b down")
	})

	t.Run("No enabled providers is exhaustion", func(t *testing.T) {
		fm := provider.NewFallbackManager([]provider.ChainProvider{
			{Name: "a", Enabled: false, Embedder: &fakeEmbedder{name: "a"}},
		}, discardLogger())

		_, err := fm.Embed(context.Background(), []string{"x"})
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.ErrAllProvidersExhausted))

		// A request that made no attempts must not count toward the rates.
		stats := fm.Stats()
		assert.Zero(t, stats.TotalAttempts)
		assert.Zero(t, stats.FallbackRate)
	})

	t.Run("Empty texts short-circuit without attempts", func(t *testing.T) {
		a := &fakeEmbedder{name: "a"}
		fm := provider.NewFallbackManager([]provider.ChainProvider{
			{Name: "a", Enabled: true, Embedder: a},
		}, discardLogger())

		result, err := fm.Embed(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, result.Embeddings)
		assert.Equal(t, 0, a.calls)
		assert.Empty(t, fm.AttemptHistory(""))
	})
}

func TestFallbackManager_Summarize(t *testing.T) {
	t.Run("Falls back to next summarizer", func(t *testing.T) {
		a := &fakeSummarizer{name: "a", errs: []error{unavailable("a down")}}
		b := &fakeSummarizer{name: "b", result: domain.SummarizeResult{Summary: "ok"}}
		fm := provider.NewFallbackManager([]provider.ChainProvider{
			{Name: "a", Enabled: true, Summarizer: a},
			{Name: "b", Enabled: true, Summarizer: b},
		}, discardLogger())

		result, err := fm.Summarize(context.Background(), domain.SummarizeRequest{
			Query: "q", Nodes: []string{"n"}, Scores: []float64{0.9},
		})
		require.NoError(t, err)
		assert.Equal(t, "b", result.Provider)
		assert.Equal(t, "ok", result.Summary)
	})

	t.Run("Rejects malformed input before any attempt", func(t *testing.T) {
		a := &fakeSummarizer{name: "a"}
		fm := provider.NewFallbackManager([]provider.ChainProvider{
			{Name: "a", Enabled: true, Summarizer: a},
		}, discardLogger())

		_, err := fm.Summarize(context.Background(), domain.SummarizeRequest{Query: "q"})
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.ErrMalformedInput))
		assert.Equal(t, 0, a.calls)

		_, err = fm.Summarize(context.Background(), domain.SummarizeRequest{
			Query: "q", Nodes: []string{"n1", "n2"}, Scores: []float64{0.5},
		})
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.ErrMalformedInput))
		assert.Equal(t, 0, a.calls)
	})

	t.Run("Embed-only slots are skipped for summarize", func(t *testing.T) {
		b := &fakeSummarizer{name: "b", result: domain.SummarizeResult{Summary: "ok"}}
		fm := provider.NewFallbackManager([]provider.ChainProvider{
			{Name: "a", Enabled: true, Embedder: &fakeEmbedder{name: "a"}},
			{Name: "b", Enabled: true, Summarizer: b},
		}, discardLogger())

		result, err := fm.Summarize(context.Background(), domain.SummarizeRequest{
			Query: "q", Nodes: []string{"n"}, Scores: []float64{1},
		})
		require.NoError(t, err)
		assert.Equal(t, "b", result.Provider)
	})
}

func TestFallbackManager_History(t *testing.T) {
	newManager := func() (*provider.FallbackManager, *fakeEmbedder, *fakeEmbedder) {
		a := &fakeEmbedder{name: "a", errs: []error{unavailable("a down")}}
		b := &fakeEmbedder{name: "b"}
		fm := provider.NewFallbackManager([]provider.ChainProvider{
			{Name: "a", Enabled: true, Embedder: a},
			{Name: "b", Enabled: true, Embedder: b},
		}, discardLogger())
		return fm, a, b
	}

	t.Run("Records every attempt chronologically", func(t *testing.T) {
		fm, _, _ := newManager()
		_, err := fm.Embed(context.Background(), []string{"x"})
		require.NoError(t, err)

		history := fm.AttemptHistory("")
		require.Len(t, history, 2)
		assert.Equal(t, "a", history[0].Provider)
		assert.False(t, history[0].Success)
		assert.Equal(t, "b", history[1].Provider)
		assert.True(t, history[1].Success)
		assert.False(t, history[1].Timestamp.IsZero())
	})

	t.Run("Filters by provider", func(t *testing.T) {
		fm, _, _ := newManager()
		_, err := fm.Embed(context.Background(), []string{"x"})
		require.NoError(t, err)

		onlyA := fm.AttemptHistory("a")
		require.Len(t, onlyA, 1)
		assert.Equal(t, "a", onlyA[0].Provider)
		assert.Empty(t, fm.AttemptHistory("nobody"))
	})

	t.Run("ClearHistory empties the log", func(t *testing.T) {
		fm, _, _ := newManager()
		_, err := fm.Embed(context.Background(), []string{"x"})
		require.NoError(t, err)

		fm.ClearHistory()
		assert.Empty(t, fm.AttemptHistory(""))
	})
}

func TestFallbackManager_Stats(t *testing.T) {
	a := &fakeEmbedder{name: "a", errs: []error{unavailable("down"), nil}}
	b := &fakeEmbedder{name: "b"}
	fm := provider.NewFallbackManager([]provider.ChainProvider{
		{Name: "a", Enabled: true, Embedder: a},
		{Name: "b", Enabled: true, Embedder: b},
	}, discardLogger())

	// Request 1: a fails, b succeeds (a fallback).
	_, err := fm.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	// Request 2: a succeeds on the first attempt.
	_, err = fm.Embed(context.Background(), []string{"y"})
	require.NoError(t, err)

	stats := fm.Stats()
	assert.Equal(t, 3, stats.TotalAttempts)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-12)
	assert.InDelta(t, 0.5, stats.FallbackRate, 1e-12)
	assert.Equal(t, 2, stats.ByProvider["a"].Attempts)
	assert.Equal(t, 1, stats.ByProvider["a"].Successes)
	assert.Equal(t, 1, stats.ByProvider["b"].Attempts)
	assert.Equal(t, 1, stats.ByProvider["b"].Successes)
}

func TestFallbackManager_StatsAfterClearHistory(t *testing.T) {
	a := &fakeEmbedder{name: "a", errs: []error{unavailable("down")}}
	b := &fakeEmbedder{name: "b"}
	fm := provider.NewFallbackManager([]provider.ChainProvider{
		{Name: "a", Enabled: true, Embedder: a},
		{Name: "b", Enabled: true, Embedder: b},
	}, discardLogger())

	// Request 1: a fails, b succeeds. Request 2: a succeeds directly.
	_, err := fm.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	_, err = fm.Embed(context.Background(), []string{"y"})
	require.NoError(t, err)

	fm.ClearHistory()

	// Request 3: a succeeds on the first attempt.
	_, err = fm.Embed(context.Background(), []string{"z"})
	require.NoError(t, err)

	// Post-clear stats describe only the post-clear request and in
	// particular keep SuccessRate within [0,1].
	stats := fm.Stats()
	assert.Equal(t, 1, stats.TotalAttempts)
	assert.InDelta(t, 1.0, stats.SuccessRate, 1e-12)
	assert.LessOrEqual(t, stats.SuccessRate, 1.0)
	assert.Zero(t, stats.FallbackRate)
	assert.Equal(t, 1, stats.ByProvider["a"].Attempts)
	assert.Equal(t, 1, stats.ByProvider["a"].Successes)
	assert.NotContains(t, stats.ByProvider, "b")
}

func TestFallbackManager_HealthStatus(t *testing.T) {
	fm := provider.NewFallbackManager([]provider.ChainProvider{
		{Name: "up", Enabled: true, Embedder: &fakeEmbedder{name: "up", available: true}},
		{Name: "down", Enabled: true, Embedder: &fakeEmbedder{name: "down", available: false}},
		{Name: "off", Enabled: false, Embedder: &fakeEmbedder{name: "off", available: true}},
	}, discardLogger())

	statuses := fm.HealthStatus(context.Background())
	require.Len(t, statuses, 3, "disabled slots are still probed")

	byName := map[string]provider.HealthStatus{}
	for _, s := range statuses {
		byName[s.Provider] = s
	}
	assert.True(t, byName["up"].Available)
	assert.False(t, byName["down"].Available)
	assert.True(t, byName["off"].Available)
	assert.False(t, byName["off"].Enabled)
}
