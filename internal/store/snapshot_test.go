package store_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"eval-orchestrator/internal/domain"
	"eval-orchestrator/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerformanceStore_Snapshot(t *testing.T) {
	t.Run("Versions are monotonically numbered", func(t *testing.T) {
		s := newStore(t)
		first := s.Snapshot()
		second := s.Snapshot()
		assert.Equal(t, uint64(1), first.Version)
		assert.Equal(t, uint64(2), second.Version)
		assert.Equal(t, uint64(2), s.CurrentVersion())
	})

	t.Run("Checksum is stable for identical stats", func(t *testing.T) {
		s := newStore(t)
		s.UpdateStats("p", "m", domain.DomainCode, 0.1, true, 0, 1, 0)
		first := s.Snapshot()
		second := s.Snapshot()
		assert.NotEmpty(t, first.Checksum)
		assert.Equal(t, first.Checksum, second.Checksum)
	})

	t.Run("Checksum changes with the stats", func(t *testing.T) {
		s := newStore(t)
		s.UpdateStats("p", "m", domain.DomainCode, 0.1, true, 0, 1, 0)
		first := s.Snapshot()
		s.UpdateStats("p", "m", domain.DomainCode, 0.1, false, 0, 0, 0)
		second := s.Snapshot()
		assert.NotEqual(t, first.Checksum, second.Checksum)
	})

	t.Run("Ring evicts oldest beyond retention", func(t *testing.T) {
		s := store.New(store.Config{VersionsToKeep: 3, SavePath: filepath.Join(t.TempDir(), "perf.json")})
		for i := 0; i < 5; i++ {
			s.Snapshot()
		}
		versions := s.Versions()
		require.Len(t, versions, 3)
		assert.Equal(t, uint64(3), versions[0].Version)
		assert.Equal(t, uint64(5), versions[2].Version)
	})
}

func TestPerformanceStore_FlushAndLoad(t *testing.T) {
	t.Run("Roundtrip restores buckets and version counter", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "perf.json")
		cfg := store.Config{VersionsToKeep: 5, SavePath: path}

		s := store.New(cfg)
		s.UpdateStats("ollama", "llama3", domain.DomainCode, 0.2, true, 0.01, 0.9, 0)
		s.UpdateStats("ollama", "llama3", domain.DomainCode, 0.2, false, 0.01, 0.3, 0)
		require.NoError(t, s.Flush())
		assert.False(t, s.Dirty())

		restored := store.New(cfg)
		require.NoError(t, restored.Load())

		stats, ok := restored.GetStats("ollama", "llama3", domain.DomainCode)
		require.True(t, ok)
		assert.Equal(t, 1.0, stats.Success)
		assert.Equal(t, 1.0, stats.Failure)
		assert.Equal(t, s.CurrentVersion(), restored.CurrentVersion())
	})

	t.Run("Missing file leaves the store empty", func(t *testing.T) {
		s := store.New(store.Config{SavePath: filepath.Join(t.TempDir(), "absent.json")})
		require.NoError(t, s.Load())
		assert.Empty(t, s.GetState())
	})

	t.Run("Corrupted stats fail checksum verification", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "perf.json")
		cfg := store.Config{SavePath: path}

		s := store.New(cfg)
		s.UpdateStats("p", "llama3", domain.DomainCode, 0.2, true, 0, 1, 0)
		require.NoError(t, s.Flush())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		tampered := strings.ReplaceAll(string(data), "llama3", "llama9")
		require.NotEqual(t, string(data), tampered)
		require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

		restored := store.New(cfg)
		err = restored.Load()
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.ErrValidationFailure))
	})

	t.Run("Unparseable file is a validation failure", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "perf.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

		s := store.New(store.Config{SavePath: path})
		err := s.Load()
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.ErrValidationFailure))
	})

	t.Run("Flush keeps only retained versions on disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "perf.json")
		cfg := store.Config{VersionsToKeep: 2, SavePath: path}

		s := store.New(cfg)
		for i := 0; i < 4; i++ {
			s.UpdateStats("p", "m", domain.DomainCode, 0.2, true, 0, 1, 0)
			require.NoError(t, s.Flush())
		}

		restored := store.New(cfg)
		require.NoError(t, restored.Load())
		versions := restored.Versions()
		require.Len(t, versions, 2)
		assert.Equal(t, uint64(3), versions[0].Version)
		assert.Equal(t, uint64(4), versions[1].Version)
	})
}
