package service

import (
	"context"
	"time"
)

// RetryPolicy 有界重试策略，每次尝试使用独立超时
type RetryPolicy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	// Backoff 两次尝试之间的等待
	Backoff time.Duration
}

// DefaultRetryPolicy 三次尝试，每次 60 秒
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		AttemptTimeout: 60 * time.Second,
		Backoff:        2 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = def.AttemptTimeout
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// Run 依次执行尝试直到成功或次数用尽，返回最后一次失败的错误
//
// attempt 从 1 开始。父 ctx 结束时立即返回 ctx 错误。
func (p RetryPolicy) Run(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	p = p.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		lastErr = fn(attemptCtx, attempt)
		cancel()
		if lastErr == nil {
			return nil
		}

		if attempt < p.MaxAttempts && p.Backoff > 0 {
			timer := time.NewTimer(p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return lastErr
}
