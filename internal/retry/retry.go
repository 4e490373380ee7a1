// Package retry implements the exponential backoff policy wrapped around the
// external scraper process. The policy covers process execution only, never
// the whole job.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	pipeerrors "github.com/tender-ingest/internal/errors"
	"github.com/tender-ingest/internal/logging"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (not retries)
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Cap for the backoff delay
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultConfig returns the ingestion pipeline's process retry policy.
// Pattern: 5s, 10s, 20s, capped at 30s.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// Result contains information about the retry operation
type Result struct {
	Attempts      int           `json:"attempts"`
	Success       bool          `json:"success"`
	TotalDuration time.Duration `json:"totalDuration"`
	LastError     error         `json:"lastError,omitempty"`
}

// Func is a function that can be retried
type Func func(ctx context.Context, attempt int) error

// WaitFunc is invoked before each backoff wait; attempt is the attempt that
// just failed and delay is the upcoming wait. Used by the orchestrator to
// bump retry counters and emit progress events.
type WaitFunc func(attempt int, delay time.Duration, err error)

// WithExponentialBackoff executes fn with exponential backoff. Fatal errors
// short-circuit immediately without consuming further attempts; a successful
// attempt short-circuits remaining retries.
func WithExponentialBackoff(ctx context.Context, config *Config, fn Func, onWait WaitFunc) *Result {
	logger := logging.FromContext(ctx)
	startTime := time.Now()

	result := &Result{}

	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)

			if attempt > 1 {
				logger.WithFields(map[string]interface{}{
					"attempts":      attempt,
					"totalDuration": result.TotalDuration.String(),
				}).Info("Operation succeeded after retry")
			}

			return result
		}

		lastErr = err
		result.LastError = err

		if pipeerrors.IsFatal(err) {
			logger.WithError(err).Error("Operation failed with a non-retryable error")
			break
		}

		if attempt >= config.MaxAttempts {
			logger.WithFields(map[string]interface{}{
				"attempts":      attempt,
				"totalDuration": time.Since(startTime).String(),
				"error":         err.Error(),
			}).Error("Operation failed after max retry attempts")
			break
		}

		if ctx.Err() != nil {
			logger.WithError(ctx.Err()).Warn("Retry cancelled due to context cancellation")
			result.LastError = ctx.Err()
			break
		}

		delay := Delay(config, attempt)

		if onWait != nil {
			onWait(attempt, delay, err)
		}

		logger.WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": config.MaxAttempts,
			"delay":       delay.String(),
			"error":       err.Error(),
		}).Warn("Operation failed, retrying with exponential backoff")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			logger.WithError(ctx.Err()).Warn("Retry cancelled during backoff")
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}
	}

	result.TotalDuration = time.Since(startTime)
	result.LastError = lastErr
	return result
}

// Delay returns the backoff delay after the given failed attempt:
// initialDelay * multiplier^(attempt-1), capped at MaxDelay.
func Delay(config *Config, attempt int) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	return time.Duration(delay)
}

// Execute runs fn under config and converts an exhausted policy into an
// aggregated error naming the last underlying failure.
func Execute(ctx context.Context, config *Config, fn Func, onWait WaitFunc) error {
	result := WithExponentialBackoff(ctx, config, fn, onWait)
	if !result.Success {
		return fmt.Errorf("operation failed after %d attempts: %w", result.Attempts, result.LastError)
	}
	return nil
}
