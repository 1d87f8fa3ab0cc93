package apiclient

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/observastack/observastack/pkg/apierrors"
)

// RetryConfig defines the configuration for WithRetry.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retries)
	MaxRetries int
	// InitialBackoff is the initial backoff duration before the first retry
	InitialBackoff time.Duration
	// MaxBackoff is the maximum backoff duration between retries
	MaxBackoff time.Duration
	// BackoffMultiplier is the factor by which backoff is multiplied after each retry
	BackoffMultiplier float64
	// Logger receives a debug line per retry. Nil disables retry logging.
	Logger *zap.SugaredLogger
}

// DefaultRetryConfig returns the retry configuration used by the CLI.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// WithRetry calls fn until it succeeds, returns a non-retryable error or the
// retry budget is spent. Authentication, authorization and validation
// failures are returned immediately; see apierrors.IsRetryable. A RateLimit
// error's RetryAfter hint raises the wait before the next attempt.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	backoff := cfg.InitialBackoff
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !apierrors.IsRetryable(err) || attempt >= cfg.MaxRetries || ctx.Err() != nil {
			return zero, err
		}

		wait := backoff
		var apiErr *apierrors.Error
		if errors.As(err, &apiErr) && apiErr.RetryAfter > wait {
			wait = apiErr.RetryAfter
		}

		log.Debugw("Retrying API call",
			"attempt", attempt+1,
			"maxRetries", cfg.MaxRetries,
			"backoff", wait.String(),
			"errorKind", apierrors.KindOf(err),
		)

		select {
		case <-ctx.Done():
			return zero, err
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
}
