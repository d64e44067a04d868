// Package middleware 提供 HTTP 中间件：请求 ID、恢复、超时、访问日志、认证与幂等。
package middleware

import (
	"context"

	"github.com/MorseWayne/caseshop/internal/domain"
)

// contextKey 用于在上下文中存取特定键，避免与外部键冲突。
type contextKey string

// 约定的上下文键集合。
const (
	contextKeyRequestID contextKey = "request_id"
	contextKeyPrincipal contextKey = "principal"
)

// withRequestID 将请求 ID 写入上下文。
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext 从上下文中读取请求 ID（可能为空）。
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(contextKeyRequestID); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// WithPrincipal 将调用者写入上下文。
func WithPrincipal(ctx context.Context, p *domain.Principal) context.Context {
	return context.WithValue(ctx, contextKeyPrincipal, p)
}

// PrincipalFromContext 读取调用者，未认证时返回 nil。
func PrincipalFromContext(ctx context.Context) *domain.Principal {
	if p, ok := ctx.Value(contextKeyPrincipal).(*domain.Principal); ok {
		return p
	}
	return nil
}
