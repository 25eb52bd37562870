package store

import (
	"math"
	"sort"
	"sync"
	"time"

	"eval-orchestrator/internal/domain"
)

// z95 is the critical value of the normal approximation for a 95% interval.
const z95 = 1.96

// BucketKey identifies one statistics bucket. Buckets are created on first
// update and never deleted.
type BucketKey struct {
	Provider   string                  `json:"provider"`
	Model      string                  `json:"model"`
	Domain     domain.Domain           `json:"domain"`
	Complexity domain.ComplexityBucket `json:"complexity"`
}

// ProviderStats tracks Bayesian success statistics for one bucket.
// Success and Failure are the Beta distribution's alpha and beta counts;
// Mean, Variance and the confidence interval are derived on every update.
// Running averages use the cumulative-mean rule: avg += (x - avg) / n.
type ProviderStats struct {
	Key        BucketKey `json:"key"`
	Success    float64   `json:"success"`
	Failure    float64   `json:"failure"`
	Mean       float64   `json:"mean"`
	Variance   float64   `json:"variance"`
	CILow      float64   `json:"ci_low"`
	CIHigh     float64   `json:"ci_high"`
	AvgCost    float64   `json:"avg_cost"`
	AvgLatency float64   `json:"avg_latency_ms"`
	AvgQuality float64   `json:"avg_quality"`
	// ImportanceWeights is a reserved extension point for elastic weight
	// consolidation. No update algorithm populates it yet.
	ImportanceWeights map[string]float64 `json:"importance_weights,omitempty"`
	LastUpdated       time.Time          `json:"last_updated"`
}

// Samples is the total observation count for the bucket.
func (s *ProviderStats) Samples() float64 {
	return s.Success + s.Failure
}

func (s *ProviderStats) recompute() {
	total := s.Success + s.Failure
	if total <= 0 {
		return
	}
	s.Mean = s.Success / total
	s.Variance = (s.Success * s.Failure) / (total * total * (total + 1))

	sd := math.Sqrt(s.Variance)
	s.CILow = clamp01(s.Mean - z95*sd)
	s.CIHigh = clamp01(s.Mean + z95*sd)
}

// Config controls snapshot retention and persistence.
type Config struct {
	// VersionsToKeep bounds snapshot retention; oldest evicted first.
	VersionsToKeep int
	// AutoSave enables the periodic flush performed by the snapshot
	// worker. Saves are periodic plus explicit Flush, never per-update.
	AutoSave bool
	// SavePath is the JSON snapshot file written on flush.
	SavePath string
}

// PerformanceStore is the system of record for learned provider statistics.
// It is safe for concurrent use; updates to a bucket are serialized under a
// single store-wide mutex so Beta increments never race.
type PerformanceStore struct {
	mu      sync.RWMutex
	buckets map[BucketKey]*ProviderStats

	versions *versionRing
	version  uint64
	dirty    bool
	// seq counts updates; Flush compares it across the file write so an
	// update landing mid-flush is not marked clean.
	seq uint64

	cfg Config
}

// New creates an empty store.
func New(cfg Config) *PerformanceStore {
	if cfg.VersionsToKeep <= 0 {
		cfg.VersionsToKeep = 10
	}
	return &PerformanceStore{
		buckets:  make(map[BucketKey]*ProviderStats),
		versions: newVersionRing(cfg.VersionsToKeep),
		cfg:      cfg,
	}
}

// UpdateStats records one observation for the bucket derived from the given
// key fields, creating the bucket on first use.
func (s *PerformanceStore) UpdateStats(provider, model string, dom domain.Domain, complexityScore float64, success bool, cost, quality float64, latency time.Duration) {
	key := BucketKey{
		Provider:   provider,
		Model:      model,
		Domain:     dom,
		Complexity: domain.BucketComplexity(complexityScore),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.buckets[key]
	if !ok {
		stats = &ProviderStats{Key: key}
		s.buckets[key] = stats
	}

	if success {
		stats.Success++
	} else {
		stats.Failure++
	}
	stats.recompute()

	n := stats.Samples()
	stats.AvgCost += (cost - stats.AvgCost) / n
	stats.AvgLatency += (float64(latency.Milliseconds()) - stats.AvgLatency) / n
	stats.AvgQuality += (quality - stats.AvgQuality) / n
	stats.LastUpdated = time.Now()
	s.dirty = true
	s.seq++
}

// GetBucket returns the stats for one exact bucket key.
func (s *PerformanceStore) GetBucket(key BucketKey) (ProviderStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.buckets[key]
	if !ok {
		return ProviderStats{}, false
	}
	return *stats, true
}

// GetStats returns the combined stats of the (provider, model, domain)
// triple across its complexity buckets. The lookup is exact on those three
// key fields; combining a triple's own buckets is aggregation, not fuzzy
// matching. Absent when no bucket exists for the triple.
func (s *PerformanceStore) GetStats(provider, model string, dom domain.Domain) (ProviderStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	combined := ProviderStats{Key: BucketKey{Provider: provider, Model: model, Domain: dom}}
	found := false
	for key, stats := range s.buckets {
		if key.Provider != provider || key.Model != model || key.Domain != dom {
			continue
		}
		mergeStats(&combined, stats)
		found = true
	}
	if !found {
		return ProviderStats{}, false
	}
	combined.recompute()
	return combined, true
}

// GetProviderModelStats combines every domain bucket of a (provider, model)
// pair. Absent when the pair has never been observed.
func (s *PerformanceStore) GetProviderModelStats(provider, model string) (ProviderStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	combined := ProviderStats{Key: BucketKey{Provider: provider, Model: model}}
	found := false
	for key, stats := range s.buckets {
		if key.Provider != provider || key.Model != model {
			continue
		}
		mergeStats(&combined, stats)
		found = true
	}
	if !found {
		return ProviderStats{}, false
	}
	combined.recompute()
	return combined, true
}

// GetState returns a full snapshot of every bucket's stats, sorted by key
// for deterministic iteration.
func (s *PerformanceStore) GetState() []ProviderStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedStatsLocked()
}

// Dirty reports whether updates have occurred since the last flush.
func (s *PerformanceStore) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// CurrentVersion returns the version number of the most recent snapshot.
func (s *PerformanceStore) CurrentVersion() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// mergeStats folds src counts and sample-weighted averages into dst.
// Derived fields are left for a subsequent recompute.
func mergeStats(dst *ProviderStats, src *ProviderStats) {
	prev := dst.Samples()
	add := src.Samples()
	if add == 0 {
		return
	}
	total := prev + add
	dst.AvgCost = (dst.AvgCost*prev + src.AvgCost*add) / total
	dst.AvgLatency = (dst.AvgLatency*prev + src.AvgLatency*add) / total
	dst.AvgQuality = (dst.AvgQuality*prev + src.AvgQuality*add) / total
	dst.Success += src.Success
	dst.Failure += src.Failure
	if src.LastUpdated.After(dst.LastUpdated) {
		dst.LastUpdated = src.LastUpdated
	}
}

func (s *PerformanceStore) sortedStatsLocked() []ProviderStats {
	stats := make([]ProviderStats, 0, len(s.buckets))
	for _, b := range s.buckets {
		stats = append(stats, *b)
	}
	sort.Slice(stats, func(i, j int) bool {
		a, b := stats[i].Key, stats[j].Key
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		if a.Domain != b.Domain {
			return a.Domain < b.Domain
		}
		return a.Complexity < b.Complexity
	})
	return stats
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
