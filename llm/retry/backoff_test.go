package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestBackoffRetryer_Success(t *testing.T) {
	logger := zap.NewNop()
	policy := &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}

	retryer := NewBackoffRetryer(policy, logger)
	ctx := context.Background()

	callCount := 0
	err := retryer.Do(ctx, func() error {
		callCount++
		return nil // 第一次就成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, callCount, "应该只调用一次")
}

func TestBackoffRetryer_RetryAndSuccess(t *testing.T) {
	logger := zap.NewNop()
	policy := &RetryPolicy{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}

	retryer := NewBackoffRetryer(policy, logger)
	ctx := context.Background()

	callCount := 0
	testErr := errors.New("temporary error")

	err := retryer.Do(ctx, func() error {
		callCount++
		if callCount < 3 {
			return testErr // 前两次失败
		}
		return nil // 第三次成功
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, callCount, "应该调用三次")
}

func TestBackoffRetryer_AttemptsExhausted(t *testing.T) {
	logger := zap.NewNop()
	policy := &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}

	retryer := NewBackoffRetryer(policy, logger)
	ctx := context.Background()

	callCount := 0
	testErr := errors.New("persistent error")

	err := retryer.Do(ctx, func() error {
		callCount++
		return testErr // 始终失败
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "3 次尝试后仍失败")
	assert.ErrorIs(t, err, testErr)
	assert.Equal(t, 3, callCount, "应该调用三次")
}

func TestBackoffRetryer_ContextCanceled(t *testing.T) {
	logger := zap.NewNop()
	policy := &RetryPolicy{
		MaxAttempts:  6,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}

	retryer := NewBackoffRetryer(policy, logger)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	callCount := 0
	testErr := errors.New("error")

	err := retryer.Do(ctx, func() error {
		callCount++
		return testErr
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "重试被取消")
	assert.GreaterOrEqual(t, callCount, 1, "至少调用一次")
}

func TestBackoffRetryer_RetryablePredicate(t *testing.T) {
	logger := zap.NewNop()

	retryableErr := errors.New("retryable error")
	nonRetryableErr := errors.New("non-retryable error")

	policy := &RetryPolicy{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
		Retryable:    func(err error) bool { return errors.Is(err, retryableErr) },
	}

	retryer := NewBackoffRetryer(policy, logger)
	ctx := context.Background()

	// 测试可重试错误
	t.Run("retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(ctx, func() error {
			callCount++
			if callCount < 3 {
				return retryableErr
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, callCount)
	})

	// 测试不可重试错误
	t.Run("non-retryable error", func(t *testing.T) {
		callCount := 0
		err := retryer.Do(ctx, func() error {
			callCount++
			return nonRetryableErr
		})

		assert.Error(t, err)
		assert.Equal(t, 1, callCount, "不应该重试")
	})
}

func TestBackoffRetryer_DelayCalculation(t *testing.T) {
	logger := zap.NewNop()
	policy := &RetryPolicy{
		MaxAttempts:  6,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		Jitter:       false,
	}

	retryer := NewBackoffRetryer(policy, logger).(*backoffRetryer)

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{2, 100 * time.Millisecond}, // 初始延迟
		{3, 200 * time.Millisecond}, // 100 * 2^1
		{4, 400 * time.Millisecond}, // 100 * 2^2
		{5, 800 * time.Millisecond}, // 100 * 2^3
		{6, 1 * time.Second},        // 达到最大延迟
	}

	for _, tt := range tests {
		delay := retryer.calculateDelay(tt.attempt)
		assert.Equal(t, tt.expected, delay, "attempt %d", tt.attempt)
	}
}

func TestBackoffRetryer_OnRetryCallback(t *testing.T) {
	logger := zap.NewNop()

	callbackCount := 0
	var lastAttempt int
	var lastErr error
	var lastDelay time.Duration

	policy := &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			callbackCount++
			lastAttempt = attempt
			lastErr = err
			lastDelay = delay
		},
	}

	retryer := NewBackoffRetryer(policy, logger)
	ctx := context.Background()

	testErr := errors.New("test error")
	callCount := 0

	_ = retryer.Do(ctx, func() error {
		callCount++
		if callCount < 3 {
			return testErr
		}
		return nil
	})

	assert.Equal(t, 2, callbackCount, "回调应该被调用两次")
	assert.Equal(t, 3, lastAttempt)
	assert.Equal(t, testErr, lastErr)
	assert.Greater(t, lastDelay, time.Duration(0))
}

// ---------------------------------------------------------------------------
// DoWithResultTyped (generic wrapper)
// ---------------------------------------------------------------------------

func TestDoWithResultTyped_Success(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}, zap.NewNop())

	val, err := DoWithResultTyped[int](r, context.Background(), func() (int, error) {
		return 42, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestDoWithResultTyped_Error(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{
		MaxAttempts:  1,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}, zap.NewNop())

	val, err := DoWithResultTyped[int](r, context.Background(), func() (int, error) {
		return 0, errors.New("fail")
	})
	assert.Error(t, err)
	assert.Equal(t, 0, val)
}

func TestDoWithResultTyped_RetryThenSuccess(t *testing.T) {
	r := NewBackoffRetryer(&RetryPolicy{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
	}, zap.NewNop())

	callCount := 0
	val, err := DoWithResultTyped[string](r, context.Background(), func() (string, error) {
		callCount++
		if callCount < 3 {
			return "", errors.New("not yet")
		}
		return "done", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "done", val)
	assert.Equal(t, 3, callCount)
}
