package arbiter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	Timeout           time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		Timeout:           20 * time.Second,
	}
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retriable error or the
// attempts run out. Every attempt gets its own timeout and passes the breaker first.
func (j *AnthropicJudge) retryWithBackoff(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	backoff := j.retry.InitialBackoff

	for attempt := 0; attempt <= j.retry.MaxRetries; attempt++ {
		if err := j.breaker.Allow(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, j.retry.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			j.breaker.RecordSuccess()
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("arbiter call cancelled: %w", ctx.Err())
		}
		if !isRetriableError(err) {
			return err
		}
		j.breaker.RecordFailure()

		if attempt == j.retry.MaxRetries {
			break
		}
		j.logger.Debug().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("arbiter call failed, retrying")

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * j.retry.BackoffMultiplier)
			if backoff > j.retry.MaxBackoff {
				backoff = j.retry.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("arbiter call cancelled during backoff: %w", ctx.Err())
		}
	}
	return fmt.Errorf("arbiter call failed after %d attempts: %w", j.retry.MaxRetries+1, lastErr)
}

// isRetriableError treats timeouts, rate limits, server errors and connection
// failures as transient. Other client errors are not retried.
func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}

	message := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "rate limit", "500", "502", "503", "504", "overloaded", "connection refused", "connection reset", "timeout", "temporary failure"} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
