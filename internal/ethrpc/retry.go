package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/chainwatch/chainsub/pkg/chain"
	"github.com/chainwatch/chainsub/pkg/config"
)

// retryableError checks if an error should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline exceeded") {
		return true
	}

	if strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "rate limit") {
		return true
	}

	if strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") {
		return true
	}

	if strings.Contains(errStr, "connection pool") ||
		strings.Contains(errStr, "no available connection") {
		return true
	}

	return false
}

// retryWithBackoff executes fn under the given retry policy, using a fixed
// inter-attempt delay rather than exponential backoff: the engine's two
// retry budgets (block fetch, log fetch) are both specified in spec as a
// flat attempt count plus a flat delay in milliseconds, not a backoff
// curve. Non-retryable errors fail immediately without consuming the
// budget's remaining attempts.
func retryWithBackoff(ctx context.Context, policy config.RetryPolicy, operation string, fn func() error) error {
	delay := time.Duration(policy.DelayMs) * time.Millisecond

	var lastErr error
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				RPCRetryInc(operation)
			}
			return nil
		}

		lastErr = err

		if !retryableError(err) {
			return fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, attempts, err)
		}

		if attempt >= attempts {
			break
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during retry delay (attempt %d/%d): %w",
					attempt, attempts, ctx.Err())
			}
		}

		RPCRetryInc(operation)
	}

	return &chain.ErrMaxRetryReached{Operation: operation, Attempts: attempts, Cause: lastErr}
}
