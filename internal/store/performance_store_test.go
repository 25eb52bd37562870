package store_test

import (
	"testing"
	"time"

	"eval-orchestrator/internal/domain"
	"eval-orchestrator/internal/store"

	"github.com/stretchr/testify/assert"
)

func newStore(t *testing.T) *store.PerformanceStore {
	t.Helper()
	return store.New(store.Config{
		VersionsToKeep: 5,
		SavePath:       t.TempDir() + "/perf.json",
	})
}

func TestPerformanceStore_UpdateStats(t *testing.T) {
	t.Run("Creates bucket on first update", func(t *testing.T) {
		s := newStore(t)
		s.UpdateStats("ollama", "llama3", domain.DomainCode, 0.2, true, 0.001, 0.8, 120*time.Millisecond)

		stats, ok := s.GetBucket(store.BucketKey{
			Provider:   "ollama",
			Model:      "llama3",
			Domain:     domain.DomainCode,
			Complexity: domain.ComplexityLow,
		})
		assert.True(t, ok)
		assert.Equal(t, 1.0, stats.Success)
		assert.Equal(t, 0.0, stats.Failure)
		assert.Equal(t, 1.0, stats.Mean)
		assert.InDelta(t, 0.001, stats.AvgCost, 1e-12)
		assert.InDelta(t, 120, stats.AvgLatency, 1e-9)
		assert.InDelta(t, 0.8, stats.AvgQuality, 1e-12)
		assert.False(t, stats.LastUpdated.IsZero())
	})

	t.Run("Counts successes and failures separately", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 3; i++ {
			s.UpdateStats("p", "m", domain.DomainGeneral, 0.1, true, 0, 0.9, 0)
		}
		s.UpdateStats("p", "m", domain.DomainGeneral, 0.1, false, 0, 0.2, 0)

		stats, ok := s.GetStats("p", "m", domain.DomainGeneral)
		assert.True(t, ok)
		assert.Equal(t, 3.0, stats.Success)
		assert.Equal(t, 1.0, stats.Failure)
		assert.Equal(t, 0.75, stats.Mean)
	})

	t.Run("Mean converges toward observed rate", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 100; i++ {
			s.UpdateStats("p", "m", domain.DomainCode, 0.5, i%2 == 0, 0, 0.5, 0)
		}
		stats, _ := s.GetStats("p", "m", domain.DomainCode)
		assert.InDelta(t, 0.5, stats.Mean, 1e-9)
	})

	t.Run("Variance shrinks as samples grow", func(t *testing.T) {
		s := newStore(t)
		s.UpdateStats("p", "m", domain.DomainCode, 0.5, true, 0, 1, 0)
		s.UpdateStats("p", "m", domain.DomainCode, 0.5, false, 0, 0, 0)
		early, _ := s.GetStats("p", "m", domain.DomainCode)

		for i := 0; i < 100; i++ {
			s.UpdateStats("p", "m", domain.DomainCode, 0.5, i%2 == 0, 0, 0.5, 0)
		}
		late, _ := s.GetStats("p", "m", domain.DomainCode)
		assert.Less(t, late.Variance, early.Variance)
		assert.Less(t, late.CIHigh-late.CILow, early.CIHigh-early.CILow)
	})

	t.Run("Confidence interval stays clamped", func(t *testing.T) {
		s := newStore(t)
		s.UpdateStats("p", "m", domain.DomainCode, 0.5, true, 0, 1, 0)
		stats, _ := s.GetStats("p", "m", domain.DomainCode)
		assert.GreaterOrEqual(t, stats.CILow, 0.0)
		assert.LessOrEqual(t, stats.CIHigh, 1.0)
	})

	t.Run("Cumulative averages follow the running mean rule", func(t *testing.T) {
		s := newStore(t)
		s.UpdateStats("p", "m", domain.DomainCode, 0.5, true, 0.10, 0.4, 100*time.Millisecond)
		s.UpdateStats("p", "m", domain.DomainCode, 0.5, true, 0.30, 0.8, 300*time.Millisecond)

		stats, _ := s.GetStats("p", "m", domain.DomainCode)
		assert.InDelta(t, 0.20, stats.AvgCost, 1e-12)
		assert.InDelta(t, 0.6, stats.AvgQuality, 1e-12)
		assert.InDelta(t, 200, stats.AvgLatency, 1e-9)
	})

	t.Run("Complexity buckets are keyed separately", func(t *testing.T) {
		s := newStore(t)
		s.UpdateStats("p", "m", domain.DomainCode, 0.1, true, 0, 1, 0)
		s.UpdateStats("p", "m", domain.DomainCode, 0.5, false, 0, 0, 0)
		s.UpdateStats("p", "m", domain.DomainCode, 0.9, false, 0, 0, 0)

		low, ok := s.GetBucket(store.BucketKey{Provider: "p", Model: "m", Domain: domain.DomainCode, Complexity: domain.ComplexityLow})
		assert.True(t, ok)
		assert.Equal(t, 1.0, low.Samples())

		high, ok := s.GetBucket(store.BucketKey{Provider: "p", Model: "m", Domain: domain.DomainCode, Complexity: domain.ComplexityHigh})
		assert.True(t, ok)
		assert.Equal(t, 0.0, high.Success)
	})
}

func TestPerformanceStore_GetStats(t *testing.T) {
	t.Run("Missing triple reports not found", func(t *testing.T) {
		s := newStore(t)
		_, ok := s.GetStats("nobody", "nothing", domain.DomainCode)
		assert.False(t, ok)
	})

	t.Run("Merges complexity buckets of one triple", func(t *testing.T) {
		s := newStore(t)
		s.UpdateStats("p", "m", domain.DomainCode, 0.1, true, 0.1, 1, 0)
		s.UpdateStats("p", "m", domain.DomainCode, 0.9, false, 0.3, 0, 0)
		// A different domain must not leak in.
		s.UpdateStats("p", "m", domain.DomainCreative, 0.1, false, 9, 0, 0)

		merged, ok := s.GetStats("p", "m", domain.DomainCode)
		assert.True(t, ok)
		assert.Equal(t, 2.0, merged.Samples())
		assert.Equal(t, 0.5, merged.Mean)
		assert.InDelta(t, 0.2, merged.AvgCost, 1e-12)
	})
}

func TestPerformanceStore_GetProviderModelStats(t *testing.T) {
	s := newStore(t)
	s.UpdateStats("p", "m", domain.DomainCode, 0.1, true, 0, 1, 0)
	s.UpdateStats("p", "m", domain.DomainCreative, 0.9, true, 0, 1, 0)
	s.UpdateStats("other", "m", domain.DomainCode, 0.1, false, 0, 0, 0)

	merged, ok := s.GetProviderModelStats("p", "m")
	assert.True(t, ok)
	assert.Equal(t, 2.0, merged.Samples())
	assert.Equal(t, 2.0, merged.Success)

	_, ok = s.GetProviderModelStats("p", "unknown")
	assert.False(t, ok)
}

func TestPerformanceStore_GetState(t *testing.T) {
	s := newStore(t)
	s.UpdateStats("zeta", "m", domain.DomainCode, 0.1, true, 0, 1, 0)
	s.UpdateStats("alpha", "m", domain.DomainCode, 0.1, true, 0, 1, 0)
	s.UpdateStats("alpha", "a", domain.DomainCode, 0.1, true, 0, 1, 0)

	state := s.GetState()
	assert.Len(t, state, 3)
	assert.Equal(t, "alpha", state[0].Key.Provider)
	assert.Equal(t, "a", state[0].Key.Model)
	assert.Equal(t, "alpha", state[1].Key.Provider)
	assert.Equal(t, "zeta", state[2].Key.Provider)
}

func TestPerformanceStore_Dirty(t *testing.T) {
	s := newStore(t)
	assert.False(t, s.Dirty())

	s.UpdateStats("p", "m", domain.DomainCode, 0.1, true, 0, 1, 0)
	assert.True(t, s.Dirty())
}
