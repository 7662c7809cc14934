package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/chainwatch/chainsub/pkg/chain"
	"github.com/chainwatch/chainsub/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockNetError implements net.Error for testing.
type mockNetError struct {
	msg       string
	timeout   bool
	temporary bool
}

func (e *mockNetError) Error() string   { return e.msg }
func (e *mockNetError) Timeout() bool   { return e.timeout }
func (e *mockNetError) Temporary() bool { return e.temporary }

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{name: "nil error", err: nil, retryable: false},
		{name: "network timeout error", err: &mockNetError{msg: "network timeout", timeout: true}, retryable: true},
		{name: "connection refused", err: syscall.ECONNREFUSED, retryable: true},
		{name: "connection reset", err: syscall.ECONNRESET, retryable: true},
		{name: "broken pipe", err: syscall.EPIPE, retryable: true},
		{name: "timeout string", err: errors.New("operation timeout"), retryable: true},
		{name: "deadline exceeded", err: errors.New("deadline exceeded"), retryable: true},
		{name: "context deadline exceeded", err: context.DeadlineExceeded, retryable: true},
		{name: "rate limit 429", err: errors.New("HTTP 429"), retryable: true},
		{name: "too many requests", err: errors.New("too many requests"), retryable: true},
		{name: "rate limit", err: errors.New("rate limit exceeded"), retryable: true},
		{name: "502 bad gateway", err: errors.New("502 bad gateway"), retryable: true},
		{name: "503 service unavailable", err: errors.New("503 Service Unavailable"), retryable: true},
		{name: "504 gateway timeout", err: errors.New("504 Gateway Timeout"), retryable: true},
		{name: "connection pool exhausted", err: errors.New("connection pool exhausted"), retryable: true},
		{name: "no available connection", err: errors.New("no available connection"), retryable: true},
		{name: "invalid parameter", err: errors.New("invalid parameter"), retryable: false},
		{name: "authentication failed", err: errors.New("401 Unauthorized"), retryable: false},
		{name: "not found", err: errors.New("404 Not Found"), retryable: false},
		{name: "bad request", err: errors.New("400 Bad Request"), retryable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := retryableError(tt.err)
			assert.Equal(t, tt.retryable, result, "retryableError(%v) = %v, want %v", tt.err, result, tt.retryable)
		})
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	ctx := context.Background()
	policy := config.RetryPolicy{MaxAttempts: 3, DelayMs: 10}

	callCount := 0
	fn := func() error {
		callCount++
		return nil
	}

	err := retryWithBackoff(ctx, policy, "test_operation", fn)
	require.NoError(t, err)
	assert.Equal(t, 1, callCount, "should succeed on first attempt")
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	ctx := context.Background()
	policy := config.RetryPolicy{MaxAttempts: 5, DelayMs: 5}

	callCount := 0
	fn := func() error {
		callCount++
		if callCount < 3 {
			return &mockNetError{msg: "temporary error", timeout: true}
		}
		return nil
	}

	err := retryWithBackoff(ctx, policy, "test_operation", fn)
	require.NoError(t, err)
	assert.Equal(t, 3, callCount, "should succeed on third attempt")
}

func TestRetryWithBackoff_NonRetryableError(t *testing.T) {
	ctx := context.Background()
	policy := config.RetryPolicy{MaxAttempts: 5, DelayMs: 5}

	callCount := 0
	expectedErr := errors.New("invalid parameter")
	fn := func() error {
		callCount++
		return expectedErr
	}

	err := retryWithBackoff(ctx, policy, "test_operation", fn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-retryable error")
	assert.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 1, callCount, "should not retry non-retryable error")
}

func TestRetryWithBackoff_ExhaustedRetries(t *testing.T) {
	ctx := context.Background()
	policy := config.RetryPolicy{MaxAttempts: 3, DelayMs: 5}

	callCount := 0
	expectedErr := &mockNetError{msg: "persistent error", timeout: true}
	fn := func() error {
		callCount++
		return expectedErr
	}

	err := retryWithBackoff(ctx, policy, "test_operation", fn)
	require.Error(t, err)
	var maxRetry *chain.ErrMaxRetryReached
	require.ErrorAs(t, err, &maxRetry)
	assert.Equal(t, 3, maxRetry.Attempts)
	assert.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 3, callCount, "should retry max attempts")
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := config.RetryPolicy{MaxAttempts: 5, DelayMs: 10}

	callCount := 0
	fn := func() error {
		callCount++
		if callCount == 2 {
			cancel()
		}
		return &mockNetError{msg: "temporary error", timeout: true}
	}

	err := retryWithBackoff(ctx, policy, "test_operation", fn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
	assert.Equal(t, 2, callCount, "should stop retrying after context cancelled")
}

func TestRetryWithBackoff_ContextDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	policy := config.RetryPolicy{MaxAttempts: 10, DelayMs: 100}

	callCount := 0
	fn := func() error {
		callCount++
		return &mockNetError{msg: "temporary error", timeout: true}
	}

	err := retryWithBackoff(ctx, policy, "test_operation", fn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context")
	assert.Less(t, callCount, 10, "should stop before max attempts due to deadline")
}

func TestRetryWithBackoff_ZeroDelay(t *testing.T) {
	ctx := context.Background()
	policy := config.RetryPolicy{MaxAttempts: 1, DelayMs: 0}

	callCount := 0
	expectedErr := errors.New("some error")
	fn := func() error {
		callCount++
		return expectedErr
	}

	err := retryWithBackoff(ctx, policy, "test_operation", fn)
	require.Error(t, err)
	assert.ErrorIs(t, err, expectedErr)
	assert.Equal(t, 1, callCount, "should execute once with a single-attempt policy")
}

func TestRetryWithBackoff_DelayTiming(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping timing test in short mode")
	}

	ctx := context.Background()
	policy := config.RetryPolicy{MaxAttempts: 3, DelayMs: 50}

	callCount := 0
	fn := func() error {
		callCount++
		return &mockNetError{msg: "temporary error", timeout: true}
	}

	start := time.Now()
	err := retryWithBackoff(ctx, policy, "test_operation", fn)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, 3, callCount, "should make 3 attempts")
	assert.Greater(t, elapsed, 90*time.Millisecond, "should wait the fixed delay between attempts")
}

func TestRetryableError_WrappedErrors(t *testing.T) {
	baseErr := syscall.ECONNREFUSED
	wrappedErr := fmt.Errorf("connection failed: %w", baseErr)

	result := retryableError(wrappedErr)
	assert.True(t, result, "should detect wrapped connection refused error")
}

func TestRetryableError_NetworkError(t *testing.T) {
	netErr := &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: syscall.ECONNREFUSED,
	}

	result := retryableError(netErr)
	assert.True(t, result, "should detect net.OpError as retryable")
}
