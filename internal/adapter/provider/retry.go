package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"eval-orchestrator/internal/domain"
)

// Retry decorators wrap a single provider with bounded exponential backoff:
// 2^(attempt-1) seconds between attempts, up to maxRetries tries. Retry
// (same provider) and fallback (different providers) stay separate axes;
// the fallback manager composes already-retrying providers.

const defaultRetryInterval = time.Second

// retryCall runs op up to maxRetries times. Input errors (malformed input,
// dimension mismatch) are never retried. On exhaustion the returned error
// names the attempt count and wraps the last underlying failure.
func retryCall[T any](ctx context.Context, providerName string, maxRetries int, initial time.Duration, logger *slog.Logger, op func(context.Context) (T, error)) (T, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if initial <= 0 {
		initial = defaultRetryInterval
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0
	b.Multiplier = 2

	attempts := 0
	var lastErr error

	result, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, opErr := op(ctx)
		if opErr != nil {
			lastErr = opErr
			kind := domain.KindOf(opErr)
			if kind == domain.ErrMalformedInput || kind == domain.ErrDimensionMismatch {
				return v, backoff.Permanent(opErr)
			}
			logger.Warn("provider_attempt_failed",
				slog.String("provider", providerName),
				slog.Int("attempt", attempts),
				slog.String("error", opErr.Error()),
			)
			return v, opErr
		}
		return v, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(maxRetries)))

	if err != nil {
		var zero T
		kind := domain.KindOf(lastErr)
		if kind == domain.ErrMalformedInput || kind == domain.ErrDimensionMismatch {
			return zero, lastErr
		}
		return zero, domain.WrapError(domain.ErrProviderUnavailable, lastErr,
			"provider %s failed after %d attempts", providerName, attempts)
	}
	return result, nil
}

// RetryEmbedder wraps one EmbeddingProvider with the retry policy.
type RetryEmbedder struct {
	inner      domain.EmbeddingProvider
	maxRetries int
	interval   time.Duration
	logger     *slog.Logger
}

// RetryOption tunes a retry decorator.
type RetryOption func(*retrySettings)

type retrySettings struct {
	interval time.Duration
}

// WithRetryInterval overrides the initial backoff interval. Production uses
// the one-second default; tests shrink it.
func WithRetryInterval(d time.Duration) RetryOption {
	return func(s *retrySettings) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewRetryEmbedder decorates inner with up to maxRetries attempts.
func NewRetryEmbedder(inner domain.EmbeddingProvider, maxRetries int, logger *slog.Logger, opts ...RetryOption) *RetryEmbedder {
	settings := retrySettings{interval: defaultRetryInterval}
	for _, opt := range opts {
		opt(&settings)
	}
	return &RetryEmbedder{
		inner:      inner,
		maxRetries: maxRetries,
		interval:   settings.interval,
		logger:     logger,
	}
}

func (r *RetryEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return retryCall(ctx, r.inner.Provider(), r.maxRetries, r.interval, r.logger,
		func(ctx context.Context) ([][]float32, error) {
			return r.inner.Embed(ctx, texts)
		})
}

func (r *RetryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return retryCall(ctx, r.inner.Provider(), r.maxRetries, r.interval, r.logger,
		func(ctx context.Context) ([][]float32, error) {
			return r.inner.EmbedBatch(ctx, texts)
		})
}

func (r *RetryEmbedder) IsAvailable(ctx context.Context) bool {
	// Probes are already short-timeout; retrying them would defeat the point.
	return r.inner.IsAvailable(ctx)
}

func (r *RetryEmbedder) Dimension() int {
	return r.inner.Dimension()
}

func (r *RetryEmbedder) Provider() string {
	return r.inner.Provider()
}

// RetrySummarizer wraps one Summarizer with the retry policy.
type RetrySummarizer struct {
	inner      domain.Summarizer
	maxRetries int
	interval   time.Duration
	logger     *slog.Logger
}

// NewRetrySummarizer decorates inner with up to maxRetries attempts.
func NewRetrySummarizer(inner domain.Summarizer, maxRetries int, logger *slog.Logger, opts ...RetryOption) *RetrySummarizer {
	settings := retrySettings{interval: defaultRetryInterval}
	for _, opt := range opts {
		opt(&settings)
	}
	return &RetrySummarizer{
		inner:      inner,
		maxRetries: maxRetries,
		interval:   settings.interval,
		logger:     logger,
	}
}

func (r *RetrySummarizer) Summarize(ctx context.Context, req domain.SummarizeRequest) (*domain.SummarizeResult, error) {
	return retryCall(ctx, r.inner.Provider(), r.maxRetries, r.interval, r.logger,
		func(ctx context.Context) (*domain.SummarizeResult, error) {
			return r.inner.Summarize(ctx, req)
		})
}

func (r *RetrySummarizer) IsAvailable(ctx context.Context) bool {
	return r.inner.IsAvailable(ctx)
}

func (r *RetrySummarizer) Provider() string {
	return r.inner.Provider()
}

var (
	_ domain.EmbeddingProvider = (*RetryEmbedder)(nil)
	_ domain.Summarizer        = (*RetrySummarizer)(nil)
)
