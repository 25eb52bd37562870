package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"eval-orchestrator/internal/domain"
)

// Version is an immutable snapshot of every bucket at a point in time.
// Checksum is computed over the deterministic JSON serialization of Stats
// so each persisted entry can be verified independently.
type Version struct {
	Version   uint64          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Stats     []ProviderStats `json:"stats"`
	Checksum  string          `json:"checksum"`
}

// versionRing keeps the most recent snapshots with O(1) eviction of the
// oldest entry, instead of slicing an append-only array.
type versionRing struct {
	entries []Version
	head    int
	count   int
}

func newVersionRing(capacity int) *versionRing {
	return &versionRing{entries: make([]Version, capacity)}
}

func (r *versionRing) push(v Version) {
	tail := (r.head + r.count) % len(r.entries)
	r.entries[tail] = v
	if r.count < len(r.entries) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.entries)
	}
}

// chronological returns oldest-first copies of the retained versions.
func (r *versionRing) chronological() []Version {
	out := make([]Version, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.entries[(r.head+i)%len(r.entries)])
	}
	return out
}

func (r *versionRing) latest() (Version, bool) {
	if r.count == 0 {
		return Version{}, false
	}
	return r.entries[(r.head+r.count-1)%len(r.entries)], true
}

// Snapshot captures the current stats as a new retained version.
func (s *PerformanceStore) Snapshot() Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *PerformanceStore) snapshotLocked() Version {
	s.version++
	v := Version{
		Version:   s.version,
		Timestamp: time.Now(),
		Stats:     s.sortedStatsLocked(),
	}
	v.Checksum = statsChecksum(v.Stats)
	s.versions.push(v)
	return v
}

// Versions returns the retained snapshots, oldest first.
func (s *PerformanceStore) Versions() []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions.chronological()
}

// statsChecksum hashes the canonical JSON of the sorted stats slice.
func statsChecksum(stats []ProviderStats) string {
	data, err := json.Marshal(stats)
	if err != nil {
		// Stats are plain values; marshaling them cannot fail at runtime.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// persistedState is the on-disk layout: a single JSON file holding the
// retained versions oldest first.
type persistedState struct {
	Versions []Version `json:"versions"`
}

// Flush snapshots the current state and writes every retained version to
// SavePath atomically (write-to-temp-then-rename).
func (s *PerformanceStore) Flush() error {
	if s.cfg.SavePath == "" {
		return domain.NewError(domain.ErrValidationFailure, "store has no save path configured")
	}

	// Snapshot and collect the persisted state under one critical section,
	// remembering the update sequence the file will represent.
	s.mu.Lock()
	s.snapshotLocked()
	state := persistedState{Versions: s.versions.chronological()}
	seq := s.seq
	s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store state: %w", err)
	}

	tmpPath := s.cfg.SavePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := os.Rename(tmpPath, s.cfg.SavePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename store file: %w", err)
	}

	// Cleared only once the rename lands; a failed save never reaches this
	// point and stays dirty for the next cycle.
	s.markCleanIfUnchanged(seq)
	return nil
}

// markCleanIfUnchanged clears the dirty flag only when no update landed
// after the given sequence, so an observation arriving while the snapshot
// file was being written still triggers the next flush.
func (s *PerformanceStore) markCleanIfUnchanged(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == seq {
		s.dirty = false
	}
}

// Load restores the store from SavePath. Each persisted version's checksum
// is verified; a mismatch is a validation failure. A missing file leaves
// the store empty without error.
func (s *PerformanceStore) Load() error {
	if s.cfg.SavePath == "" {
		return domain.NewError(domain.ErrValidationFailure, "store has no save path configured")
	}

	data, err := os.ReadFile(s.cfg.SavePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read store file: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return domain.WrapError(domain.ErrValidationFailure, err, "parse store file %s", s.cfg.SavePath)
	}

	for _, v := range state.Versions {
		if statsChecksum(v.Stats) != v.Checksum {
			return domain.NewError(domain.ErrValidationFailure, "checksum mismatch in persisted version %d", v.Version)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.versions = newVersionRing(s.cfg.VersionsToKeep)
	for _, v := range state.Versions {
		s.versions.push(v)
		if v.Version > s.version {
			s.version = v.Version
		}
	}

	s.buckets = make(map[BucketKey]*ProviderStats)
	if latest, ok := s.versions.latest(); ok {
		for _, stats := range latest.Stats {
			copied := stats
			s.buckets[stats.Key] = &copied
		}
	}
	s.dirty = false
	return nil
}
