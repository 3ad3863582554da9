package eventbus

import (
	"context"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-eventbus/backoff"
	libLog "github.com/LerianStudio/lib-eventbus/log"
)

// DefaultRetryCount is the default number of publish attempts.
const DefaultRetryCount = 10

// RetryPipeline wraps a unit of work with bounded, jitter-free exponential
// backoff. Only errors matched by the classifier are retried; anything else
// propagates immediately. The delay after failed attempt n (1-based) is 2^n
// seconds: 2s, 4s, 8s, ...
//
// This is deliberately distinct from the dispatcher's jittered publish
// retry: the per-publish schedule here is part of the bus contract.
type RetryPipeline struct {
	maxAttempts int
	shouldRetry func(error) bool
	wait        func(ctx context.Context, delay time.Duration) error
	logger      libLog.Logger
}

// RetryOption configures a RetryPipeline.
type RetryOption func(*RetryPipeline)

// WithRetryLogger sets a logger for per-attempt warnings.
func WithRetryLogger(logger libLog.Logger) RetryOption {
	return func(pipeline *RetryPipeline) {
		if logger != nil {
			pipeline.logger = logger
		}
	}
}

// WithRetryClassifier replaces the transient-error filter.
func WithRetryClassifier(shouldRetry func(error) bool) RetryOption {
	return func(pipeline *RetryPipeline) {
		if shouldRetry != nil {
			pipeline.shouldRetry = shouldRetry
		}
	}
}

// withRetryWait replaces the sleep function; tests use it to observe the
// schedule without waiting wall-clock time.
func withRetryWait(wait func(ctx context.Context, delay time.Duration) error) RetryOption {
	return func(pipeline *RetryPipeline) {
		if wait != nil {
			pipeline.wait = wait
		}
	}
}

// NewRetryPipeline creates a pipeline with at most maxAttempts attempts.
// Non-positive maxAttempts falls back to DefaultRetryCount.
func NewRetryPipeline(maxAttempts int, opts ...RetryOption) *RetryPipeline {
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryCount
	}

	pipeline := &RetryPipeline{
		maxAttempts: maxAttempts,
		shouldRetry: IsTransientBrokerError,
		wait:        backoff.WaitContext,
		logger:      libLog.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(pipeline)
		}
	}

	return pipeline
}

// MaxAttempts returns the configured attempt bound.
func (pipeline *RetryPipeline) MaxAttempts() int { return pipeline.maxAttempts }

// Execute runs operation until it succeeds, fails terminally, or exhausts
// the attempt budget. On exhaustion the last error is returned.
func (pipeline *RetryPipeline) Execute(ctx context.Context, operation func() error) error {
	if operation == nil {
		return fmt.Errorf("%w: retry operation is nil", ErrConfigInvalid)
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var lastErr error

	for attempt := 1; attempt <= pipeline.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry interrupted after attempt %d: %w", attempt-1, lastErr)
			}

			return fmt.Errorf("retry interrupted: %w", err)
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		if !pipeline.shouldRetry(lastErr) || attempt == pipeline.maxAttempts {
			return lastErr
		}

		delay := backoff.Exponential(time.Second, attempt)

		pipeline.logger.Log(ctx, libLog.LevelWarn, "transient publish failure, retrying",
			libLog.Int("attempt", attempt),
			libLog.String("delay", delay.String()),
			libLog.Err(lastErr))

		if waitErr := pipeline.wait(ctx, delay); waitErr != nil {
			return fmt.Errorf("retry wait interrupted: %w", lastErr)
		}
	}

	return lastErr
}
