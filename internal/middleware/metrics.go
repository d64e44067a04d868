package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MorseWayne/caseshop/internal/metrics"
)

// Metrics 按路由模板记录请求数与耗时
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(route, c.Request.Method, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
