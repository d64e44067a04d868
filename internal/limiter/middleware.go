package limiter

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/middleware"
	"github.com/MorseWayne/caseshop/internal/resp"
)

// KeyFunc 从请求生成限流 key
type KeyFunc func(*gin.Context) string

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Limiter      Limiter
	KeyGenerator KeyFunc
	Logger       *zap.Logger

	// 限流器自身出错时的处理，默认放行并记录日志
	ErrorHandler func(*gin.Context, error)

	// 被限流时的响应，默认 429
	OnLimitReached func(*gin.Context, *LimitResult)

	// 检查超时，默认 500ms
	Timeout time.Duration
}

// IPKeyGenerator 按客户端 IP 限流
func IPKeyGenerator(c *gin.Context) string {
	return fmt.Sprintf("ip:%s", c.ClientIP())
}

// RateLimitMiddleware 创建限流中间件
func RateLimitMiddleware(config *MiddlewareConfig) gin.HandlerFunc {
	if config.KeyGenerator == nil {
		config.KeyGenerator = IPKeyGenerator
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.ErrorHandler == nil {
		logger := config.Logger
		config.ErrorHandler = func(c *gin.Context, err error) {
			logger.Warn("限流检查失败，放行请求", zap.String("path", c.FullPath()), zap.Error(err))
			c.Next()
		}
	}
	if config.OnLimitReached == nil {
		config.OnLimitReached = defaultOnLimitReached
	}
	if config.Timeout <= 0 {
		config.Timeout = 500 * time.Millisecond
	}

	return func(c *gin.Context) {
		key := config.KeyGenerator(c)

		ctx, cancel := context.WithTimeout(c.Request.Context(), config.Timeout)
		result, err := config.Limiter.Allow(ctx, key)
		cancel()
		if err != nil {
			config.ErrorHandler(c, err)
			return
		}

		setRateLimitHeaders(c, result)
		if !result.Allowed {
			config.OnLimitReached(c, result)
			return
		}
		c.Next()
	}
}

// setRateLimitHeaders 设置限流相关的响应头
func setRateLimitHeaders(c *gin.Context, result *LimitResult) {
	c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	if result.RetryAfter > 0 {
		// 向上取整到秒
		secs := int64((result.RetryAfter + time.Second - 1) / time.Second)
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
	}
}

func defaultOnLimitReached(c *gin.Context, _ *LimitResult) {
	resp.Error(c.Writer, http.StatusTooManyRequests, resp.CodeTooManyRequests,
		"请求过于频繁，请稍后重试", middleware.RequestIDFromContext(c.Request.Context()), "")
	c.Abort()
}
