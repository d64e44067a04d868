package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/metrics"
	"github.com/MorseWayne/caseshop/internal/repo"
)

// RetryPolicy 锁冲突的有界重试策略，只包裹会对商品或订单加行锁的操作
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy 3 次尝试，固定间隔 100ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 100 * time.Millisecond}
}

// retrier 执行重试并记录日志与指标
type retrier struct {
	policy  RetryPolicy
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// do 执行 fn；只有锁冲突会重试，耗尽后返回 TransientConflictError。
// 业务错误与基础设施错误原样返回。
func (r *retrier) do(ctx context.Context, op string, fn func() error) error {
	attempts := max(r.policy.MaxAttempts, 1)
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !repo.IsLockConflict(err) {
			return err
		}
		if attempt >= attempts {
			r.logger.Warn("锁冲突重试耗尽",
				zap.String("op", op),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return &domain.TransientConflictError{Op: op, Attempts: attempt, Err: err}
		}

		r.metrics.LedgerRetry(op)
		r.logger.Debug("锁冲突，准备重试",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		timer := time.NewTimer(r.policy.Backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
