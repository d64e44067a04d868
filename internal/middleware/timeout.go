package middleware

import (
	"context"
	"net/http"
	"time"
)

// Timeout 为请求上下文设置截止时间，阻塞的存储与锁等待在超时后返回 context.DeadlineExceeded
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
