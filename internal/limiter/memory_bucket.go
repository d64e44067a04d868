package limiter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// MemoryTokenBucket 进程内令牌桶，未配置 Redis 时使用
type MemoryTokenBucket struct {
	config *Config

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewMemoryTokenBucket 创建内存令牌桶
func NewMemoryTokenBucket(config *Config) (*MemoryTokenBucket, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limiter config: %w", err)
	}
	return &MemoryTokenBucket{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}, nil
}

// Allow 检查是否允许请求通过
func (m *MemoryTokenBucket) Allow(ctx context.Context, key string) (*LimitResult, error) {
	return m.AllowN(ctx, key, 1)
}

// AllowN 检查是否允许 n 个请求通过
func (m *MemoryTokenBucket) AllowN(_ context.Context, key string, n int64) (*LimitResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("token count must be positive, got %d", n)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(m.config.Burst), lastRefill: now}
		m.buckets[key] = b
	}

	if elapsed := now.Sub(b.lastRefill); elapsed > 0 {
		refill := float64(elapsed.Milliseconds()) * m.config.refillPerMilli()
		b.tokens = math.Min(float64(m.config.Burst), b.tokens+refill)
		b.lastRefill = now
	}

	result := &LimitResult{Limit: m.config.Burst}
	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		result.Allowed = true
	} else {
		result.RetryAfter = m.config.retryAfter(float64(n) - b.tokens)
	}
	result.Remaining = int64(b.tokens)
	return result, nil
}

// Reset 重置令牌桶
func (m *MemoryTokenBucket) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.buckets, key)
	m.mu.Unlock()
	return nil
}
