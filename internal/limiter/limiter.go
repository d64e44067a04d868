// Package limiter 提供令牌桶限流，Redis 实现用于多实例共享，内存实现用于单机或降级
package limiter

import (
	"context"
	"errors"
	"time"
)

// LimitResult 限流结果
type LimitResult struct {
	Allowed    bool          `json:"allowed"`     // 是否允许通过
	Limit      int64         `json:"limit"`       // 桶容量
	Remaining  int64         `json:"remaining"`   // 剩余令牌
	RetryAfter time.Duration `json:"retry_after"` // 建议重试时间
}

// Limiter 限流器接口
type Limiter interface {
	// Allow 检查是否允许请求通过
	Allow(ctx context.Context, key string) (*LimitResult, error)

	// AllowN 一次消耗 n 个令牌
	AllowN(ctx context.Context, key string, n int64) (*LimitResult, error)

	// Reset 重置限流状态
	Reset(ctx context.Context, key string) error
}

// Config 限流配置：每个 Window 补充 Rate 个令牌，桶容量 Burst
type Config struct {
	Rate      int64         `json:"rate"`
	Window    time.Duration `json:"window"`
	Burst     int64         `json:"burst"`
	KeyPrefix string        `json:"key_prefix"`
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Rate <= 0 {
		return errors.New("rate must be greater than 0")
	}
	if c.Window <= 0 {
		return errors.New("window must be greater than 0")
	}
	if c.Burst <= 0 {
		return errors.New("burst must be greater than 0")
	}
	return nil
}

// refillPerMilli 每毫秒补充的令牌数
func (c *Config) refillPerMilli() float64 {
	return float64(c.Rate) / float64(c.Window.Milliseconds())
}

// retryAfter 补足 missing 个令牌所需时间
func (c *Config) retryAfter(missing float64) time.Duration {
	if missing <= 0 {
		return 0
	}
	ms := missing / c.refillPerMilli()
	return time.Duration(ms * float64(time.Millisecond)).Round(time.Millisecond)
}
