package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/resp"
	"github.com/MorseWayne/caseshop/internal/service"
)

const bearerPrefix = "Bearer "

// Auth JWT 认证中间件
// 校验 Authorization 头中的访问令牌，并将调用者写入请求上下文
func Auth(tokens service.TokenService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := RequestIDFromContext(c.Request.Context())

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Warn("missing authorization header", zap.String("request_id", reqID))
			abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "authorization header required")
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, bearerPrefix)
		if !ok || strings.TrimSpace(tokenString) == "" {
			logger.Warn("invalid authorization header format", zap.String("request_id", reqID))
			abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := tokens.ValidateAccessToken(strings.TrimSpace(tokenString))
		if err != nil {
			logger.Warn("token validation failed", zap.String("request_id", reqID), zap.Error(err))
			switch {
			case errors.Is(err, service.ErrTokenExpired):
				abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "token expired")
			case errors.Is(err, service.ErrTokenNotReady):
				abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "token not ready")
			default:
				abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "invalid token")
			}
			return
		}

		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), claims.Principal()))
		c.Next()
	}
}

// RequireAdmin 管理员权限中间件，需挂在 Auth 之后
func RequireAdmin(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := PrincipalFromContext(c.Request.Context())
		if principal == nil {
			abort(c, http.StatusUnauthorized, resp.CodeUnauthorized, "authentication required")
			return
		}
		if !principal.IsAdmin() {
			logger.Warn("insufficient permissions",
				zap.String("request_id", RequestIDFromContext(c.Request.Context())),
				zap.Int64("user_id", principal.UserID),
				zap.String("user_role", string(principal.Role)))
			abort(c, http.StatusForbidden, resp.CodeForbidden, "insufficient permissions")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status, code int, message string) {
	resp.Error(c.Writer, status, code, message, RequestIDFromContext(c.Request.Context()), "")
	c.Abort()
}
