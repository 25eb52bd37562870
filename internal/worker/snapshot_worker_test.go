package worker_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"eval-orchestrator/internal/adapter/provider"
	"eval-orchestrator/internal/domain"
	"eval-orchestrator/internal/infra/metrics"
	"eval-orchestrator/internal/store"
	"eval-orchestrator/internal/worker"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSnapshotWorker_FlushOnStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.json")
	s := store.New(store.Config{VersionsToKeep: 3, AutoSave: true, SavePath: path})
	s.UpdateStats("p", "m", domain.DomainCode, 0.2, true, 0, 1, 0)

	w := worker.NewSnapshotWorker(s, nil, time.Hour, discardLogger())
	w.Start()
	w.Stop()

	_, err := os.Stat(path)
	require.NoError(t, err, "final flush should write the snapshot file")
	assert.False(t, s.Dirty())
	assert.Equal(t, uint64(1), s.CurrentVersion())
}

func TestSnapshotWorker_SkipsCleanStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.json")
	s := store.New(store.Config{VersionsToKeep: 3, AutoSave: true, SavePath: path})

	w := worker.NewSnapshotWorker(s, nil, time.Hour, discardLogger())
	w.Start()
	w.Stop()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no updates means no snapshot")
	assert.Equal(t, uint64(0), s.CurrentVersion())
}

func TestSnapshotWorker_PeriodicFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.json")
	s := store.New(store.Config{VersionsToKeep: 3, AutoSave: true, SavePath: path})
	s.UpdateStats("p", "m", domain.DomainCode, 0.2, true, 0, 1, 0)

	w := worker.NewSnapshotWorker(s, nil, 10*time.Millisecond, discardLogger())
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSnapshotWorker_SurvivesSaveFailure(t *testing.T) {
	// A save path inside a missing directory makes every flush fail.
	path := filepath.Join(t.TempDir(), "missing", "perf.json")
	s := store.New(store.Config{VersionsToKeep: 3, AutoSave: true, SavePath: path})
	s.UpdateStats("p", "m", domain.DomainCode, 0.2, true, 0, 1, 0)

	w := worker.NewSnapshotWorker(s, nil, 5*time.Millisecond, discardLogger())
	w.Start()
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	// The store stays dirty and the data is still queryable.
	assert.True(t, s.Dirty())
	_, ok := s.GetStats("p", "m", domain.DomainCode)
	assert.True(t, ok)
}

type stubProber struct {
	statuses []provider.HealthStatus
}

func (p *stubProber) HealthStatus(context.Context) []provider.HealthStatus {
	return p.statuses
}

func TestSnapshotWorker_ProbesProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.json")
	s := store.New(store.Config{VersionsToKeep: 3, AutoSave: true, SavePath: path})
	m := metrics.New(nil)

	prober := &stubProber{statuses: []provider.HealthStatus{
		{Provider: "primary", Enabled: true, Available: true},
		{Provider: "secondary", Enabled: true, Available: false},
		{Provider: "tertiary", Enabled: false, Available: false},
	}}

	w := worker.NewSnapshotWorker(s, m, time.Hour, discardLogger(),
		worker.WithHealthProbe(prober, 5*time.Millisecond))
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.ProviderUp.WithLabelValues("primary")) == 1 &&
			testutil.ToFloat64(m.ProviderUp.WithLabelValues("secondary")) == 0
	}, 2*time.Second, 5*time.Millisecond)

	// Disabled slots are never probed, so no gauge child exists for them
	// beyond the two touched above.
	assert.Equal(t, 2, testutil.CollectAndCount(m.ProviderUp))
}

// blockingProber parks HealthStatus until released, to observe where the
// run loop is when Stop is called.
type blockingProber struct {
	entered chan struct{}
	release chan struct{}
	once    bool
}

func (p *blockingProber) HealthStatus(context.Context) []provider.HealthStatus {
	if !p.once {
		p.once = true
		close(p.entered)
		<-p.release
	}
	return nil
}

func TestSnapshotWorker_StopWaitsForRunLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "perf.json")
	s := store.New(store.Config{VersionsToKeep: 3, AutoSave: true, SavePath: path})

	prober := &blockingProber{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	w := worker.NewSnapshotWorker(s, nil, time.Hour, discardLogger(),
		worker.WithHealthProbe(prober, time.Millisecond))
	w.Start()
	<-prober.entered

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	// The run loop is parked inside the probe, so Stop must not complete.
	select {
	case <-stopped:
		t.Fatal("Stop returned while the run loop was still busy")
	case <-time.After(50 * time.Millisecond):
	}

	close(prober.release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the run loop exited")
	}
}
