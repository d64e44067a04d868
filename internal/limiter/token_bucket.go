package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenBucketLimiter 基于 Redis 的令牌桶，检查与扣减在 Lua 脚本中原子完成
type TokenBucketLimiter struct {
	client    redis.Cmdable
	config    *Config
	keyPrefix string
}

// NewTokenBucketLimiter 创建令牌桶限流器
func NewTokenBucketLimiter(client redis.Cmdable, config *Config) (*TokenBucketLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limiter config: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "limiter:tb"
	}
	return &TokenBucketLimiter{
		client:    client,
		config:    config,
		keyPrefix: prefix,
	}, nil
}

// 时间以毫秒计，令牌按经过时间连续补充
var tokenBucketScript = redis.NewScript(`
-- KEYS[1]: 令牌桶key
-- ARGV[1]: 容量(burst)
-- ARGV[2]: 每毫秒补充令牌数
-- ARGV[3]: 请求令牌数
-- ARGV[4]: 当前时间(毫秒)
-- ARGV[5]: 过期时间(毫秒)

local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local bucket = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or now

local elapsed = math.max(0, now - last_refill)
tokens = math.min(capacity, tokens + elapsed * refill)

local allowed = 0
if tokens >= requested then
    tokens = tokens - requested
    allowed = 1
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('PEXPIRE', key, ttl)

-- 浮点数转为字符串返回，避免被截断
return {allowed, tostring(tokens)}
`)

func (tb *TokenBucketLimiter) getKey(key string) string {
	return fmt.Sprintf("%s:%s", tb.keyPrefix, key)
}

// Allow 检查是否允许请求通过
func (tb *TokenBucketLimiter) Allow(ctx context.Context, key string) (*LimitResult, error) {
	return tb.AllowN(ctx, key, 1)
}

// AllowN 检查是否允许 n 个请求通过
func (tb *TokenBucketLimiter) AllowN(ctx context.Context, key string, n int64) (*LimitResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("token count must be positive, got %d", n)
	}
	cfg := tb.config
	// 空桶补满所需时间的两倍
	ttl := 2 * time.Duration(float64(cfg.Burst)/cfg.refillPerMilli()*float64(time.Millisecond))
	if ttl < cfg.Window {
		ttl = cfg.Window
	}

	values, err := tokenBucketScript.Run(ctx, tb.client,
		[]string{tb.getKey(key)},
		cfg.Burst,
		cfg.refillPerMilli(),
		n,
		time.Now().UnixMilli(),
		ttl.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to execute token bucket script: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unexpected script result: %v", values)
	}

	allowed, ok := values[0].(int64)
	if !ok {
		return nil, fmt.Errorf("unexpected allowed flag: %v", values[0])
	}
	tokensStr, ok := values[1].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected token count: %v", values[1])
	}
	tokens, err := strconv.ParseFloat(tokensStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse token count %q: %w", tokensStr, err)
	}

	result := &LimitResult{
		Allowed:   allowed == 1,
		Limit:     cfg.Burst,
		Remaining: int64(tokens),
	}
	if !result.Allowed {
		result.RetryAfter = cfg.retryAfter(float64(n) - tokens)
	}
	return result, nil
}

// Reset 重置令牌桶
func (tb *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	if err := tb.client.Del(ctx, tb.getKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to reset token bucket: %w", err)
	}
	return nil
}
