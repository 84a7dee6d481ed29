// Package retry 提供带退避与单次超时的重试器。
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy 重试策略
type Policy struct {
	MaxRetries   int           // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration // 首次重试前等待
	MaxDelay     time.Duration // 等待上限
	Multiplier   float64       // 指数退避倍数
	Jitter       bool          // ±25% 随机抖动

	// AttemptTimeout 返回第 attempt 次调用（从 0 开始）的超时，<=0 表示不额外限时
	AttemptTimeout func(attempt int) time.Duration
	// Retryable 判定错误是否值得重试，为空时所有错误都重试
	Retryable func(error) bool
	// OnRetry 每次重试前回调
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 默认策略
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer 重试器
type Retryer struct {
	policy Policy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option 重试器选项
type Option func(*Retryer)

// WithSleep 替换等待函数
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Retryer) { r.sleep = sleep }
}

// New 创建重试器
func New(policy Policy, logger *zap.Logger, opts ...Option) *Retryer {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay < 0 {
		policy.InitialDelay = 0
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Retryer{policy: policy, logger: logger, sleep: sleepContext}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Do 执行 fn，失败时按策略重试。fn 收到的 ctx 已按 AttemptTimeout 限时。
// 不可重试的错误原样返回；重试耗尽时返回包装后的最后一个错误。
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)
			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}
			if err := r.sleep(ctx, delay); err != nil {
				return fmt.Errorf("retry cancelled: %w", lastErr)
			}
		}

		lastErr = r.call(ctx, attempt, fn)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !r.retryable(lastErr) {
			return lastErr
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return fmt.Errorf("failed after %d attempts: %w", r.policy.MaxRetries+1, lastErr)
}

func (r *Retryer) call(ctx context.Context, attempt int, fn func(ctx context.Context, attempt int) error) error {
	if r.policy.AttemptTimeout != nil {
		if d := r.policy.AttemptTimeout(attempt); d > 0 {
			actx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return fn(actx, attempt)
		}
	}
	return fn(ctx, attempt)
}

func (r *Retryer) retryable(err error) bool {
	if r.policy.Retryable == nil {
		return true
	}
	return r.policy.Retryable(err)
}

// delay initial * multiplier^(attempt-1)，封顶 MaxDelay
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter && d > 0 {
		d += (rand.Float64()*2 - 1) * d * 0.25
	}
	return time.Duration(d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
