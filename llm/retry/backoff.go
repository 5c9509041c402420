package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy 定义重试策略配置。
// 同一个策略对象同时作用于视觉批次调用与文案生成调用。
type RetryPolicy struct {
	MaxAttempts  int                                               // 总尝试次数（含首次，最小 1）
	InitialDelay time.Duration                                     // 初始延迟时间
	MaxDelay     time.Duration                                     // 最大延迟时间
	Multiplier   float64                                           // 延迟时间倍增因子（指数退避）
	Jitter       bool                                              // 是否添加随机抖动（防止雪崩）
	Retryable    func(error) bool                                  // 可重试判定（nil 则重试所有错误）
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultRetryPolicy 返回默认的重试策略，
// 适用于大部分 LLM API 调用场景。
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer 重试器接口。
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

// backoffRetryer 基于指数退避的重试器实现
type backoffRetryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建指数退避重试器
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	// 参数校验
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}

	return &backoffRetryer{
		policy: policy,
		logger: logger,
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 核心重试逻辑：指数退避 + 随机抖动 + 可重试判定
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error
	var result any

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		// 第一次执行不延迟
		if attempt > 1 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			// 等待延迟，同时监听 context 取消
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("重试被取消: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, lastErr = fn()

		if lastErr == nil {
			if attempt > 1 {
				r.logger.Info("重试成功",
					zap.Int("attempt", attempt),
				)
			}
			return result, nil
		}

		if !r.isRetryable(lastErr) {
			r.logger.Debug("错误不可重试",
				zap.Error(lastErr),
			)
			return nil, lastErr
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)

	return nil, fmt.Errorf("%d 次尝试后仍失败: %w", r.policy.MaxAttempts, lastErr)
}

// calculateDelay 计算第 attempt 次尝试前的延迟时间
// 使用指数退避算法 + 可选的随机抖动
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	// 指数退避：delay = initial * multiplier^(attempt-2)
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-2))

	// 限制最大延迟
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	// 添加随机抖动（±25%），防止多个客户端同时重试导致的雪崩效应
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	// 确保延迟不小于初始延迟
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}

// isRetryable 检查错误是否可重试
func (r *backoffRetryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if r.policy.Retryable == nil {
		return true
	}
	return r.policy.Retryable(err)
}
