package worker

import (
	"context"
	"log/slog"
	"time"

	"eval-orchestrator/internal/adapter/provider"
	"eval-orchestrator/internal/infra/metrics"
	"eval-orchestrator/internal/store"
)

const (
	defaultSaveInterval  = 60 * time.Second
	defaultProbeInterval = 30 * time.Second
	saveTimeout          = 10 * time.Second
	probeTimeout         = 10 * time.Second
	initialBackoff       = 1 * time.Second
	maxBackoff           = 5 * time.Minute
)

// HealthProber reports per-provider availability.
type HealthProber interface {
	HealthStatus(ctx context.Context) []provider.HealthStatus
}

// SnapshotWorker periodically persists the performance store to disk and,
// when a prober is attached, keeps the per-provider availability gauge warm.
// Snapshots are only written when the store has pending updates, so an
// idle server does not churn the snapshot file.
type SnapshotWorker struct {
	store    *store.PerformanceStore
	metrics  *metrics.Metrics
	logger   *slog.Logger
	interval time.Duration
	stopChan chan struct{}
	done     chan struct{}
	backoff  time.Duration

	prober        HealthProber
	probeInterval time.Duration
}

// Option customizes the worker.
type Option func(*SnapshotWorker)

// WithHealthProbe enables periodic availability probing of the provider
// chain. A non-positive interval falls back to the default.
func WithHealthProbe(p HealthProber, interval time.Duration) Option {
	return func(w *SnapshotWorker) {
		w.prober = p
		if interval > 0 {
			w.probeInterval = interval
		}
	}
}

func NewSnapshotWorker(
	perfStore *store.PerformanceStore,
	m *metrics.Metrics,
	interval time.Duration,
	logger *slog.Logger,
	opts ...Option,
) *SnapshotWorker {
	if interval <= 0 {
		interval = defaultSaveInterval
	}
	w := &SnapshotWorker{
		store:         perfStore,
		metrics:       m,
		logger:        logger,
		interval:      interval,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
		probeInterval: defaultProbeInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *SnapshotWorker) Start() {
	w.logger.Info("Starting SnapshotWorker", "interval", w.interval)
	go w.run()
}

// Stop halts the worker and writes a final snapshot if updates are pending.
// It waits for the run loop to exit first so the final flush never races a
// periodic one. Stop must only be called after Start.
func (w *SnapshotWorker) Stop() {
	w.logger.Info("Stopping SnapshotWorker")
	close(w.stopChan)
	<-w.done
	w.flush()
}

func (w *SnapshotWorker) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// probeC stays nil without a prober, so the select arm never fires.
	var probeC <-chan time.Time
	if w.prober != nil {
		probeTicker := time.NewTicker(w.probeInterval)
		defer probeTicker.Stop()
		probeC = probeTicker.C
	}

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.flush()
			if w.backoff > 0 {
				ticker.Reset(w.backoff)
			} else {
				ticker.Reset(w.interval)
			}
		case <-probeC:
			w.probe()
		}
	}
}

func (w *SnapshotWorker) flush() {
	if !w.store.Dirty() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	_ = ctx // Flush is a local file write; the timeout guards future remote backends.

	if err := w.store.Flush(); err != nil {
		w.backoff = w.nextBackoff(w.backoff)
		if w.metrics != nil {
			w.metrics.SnapshotFailures.Inc()
		}
		w.logger.Warn("Snapshot save failed, backing off", "backoff", w.backoff, "error", err)
		return
	}

	w.backoff = 0
	if w.metrics != nil {
		w.metrics.SnapshotSaves.Inc()
	}
	w.logger.Info("Snapshot saved", "version", w.store.CurrentVersion())
}

func (w *SnapshotWorker) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	for _, st := range w.prober.HealthStatus(ctx) {
		if !st.Enabled {
			continue
		}
		up := 0.0
		if st.Available {
			up = 1.0
		}
		if w.metrics != nil {
			w.metrics.ProviderUp.WithLabelValues(st.Provider).Set(up)
		}
		if !st.Available {
			w.logger.Warn("Provider probe failed", "provider", st.Provider)
		}
	}
}

func (w *SnapshotWorker) nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return initialBackoff
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
