package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/cache"
	"github.com/MorseWayne/caseshop/internal/resp"
)

// HeaderIdempotencyKey 客户端提交的幂等键
const HeaderIdempotencyKey = "Idempotency-Key"

// IdempotencyConfig 幂等中间件配置
type IdempotencyConfig struct {
	Cache  cache.Cache
	TTL    time.Duration
	Logger *zap.Logger
}

// Idempotency 同一调用者携带相同幂等键的重复提交返回 409。
// 请求失败（状态码 >= 400）时释放幂等键，允许客户端重试。
func Idempotency(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > 128 {
			abort(c, http.StatusBadRequest, resp.CodeInvalidParam, "idempotency key too long")
			return
		}

		var owner int64
		if p := PrincipalFromContext(c.Request.Context()); p != nil {
			owner = p.UserID
		}
		cacheKey := fmt.Sprintf("idem:%d:%s", owner, key)
		ctx := c.Request.Context()

		acquired, err := cfg.Cache.SetNX(ctx, cacheKey, time.Now().Unix(), cfg.TTL)
		if err != nil {
			cfg.Logger.Warn("幂等键写入失败，跳过检查", zap.String("key", cacheKey), zap.Error(err))
			c.Next()
			return
		}
		if !acquired {
			abort(c, http.StatusConflict, resp.CodeConflict, "duplicate request")
			return
		}

		c.Next()

		if c.Writer.Status() >= http.StatusBadRequest {
			if err := cfg.Cache.Del(ctx, cacheKey); err != nil {
				cfg.Logger.Warn("释放幂等键失败", zap.String("key", cacheKey), zap.Error(err))
			}
		}
	}
}
