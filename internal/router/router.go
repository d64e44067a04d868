// Package router 组装 gin 路由、认证与限流中间件
package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/api"
	"github.com/MorseWayne/caseshop/internal/cache"
	"github.com/MorseWayne/caseshop/internal/config"
	"github.com/MorseWayne/caseshop/internal/limiter"
	"github.com/MorseWayne/caseshop/internal/metrics"
	"github.com/MorseWayne/caseshop/internal/middleware"
	"github.com/MorseWayne/caseshop/internal/resp"
	"github.com/MorseWayne/caseshop/internal/service"
)

// Dependencies 包含路由设置所需的所有依赖
type Dependencies struct {
	StockHandler      *api.StockHandler
	OrderAdminHandler *api.OrderAdminHandler
	CheckoutHandler   *api.CheckoutHandler
	OrderHandler      *api.OrderHandler
	TokenService      service.TokenService

	// 以下可以为空
	Limiter          limiter.Limiter
	IdempotencyCache cache.Cache
	Metrics          *metrics.Metrics
}

// GinRouter Gin路由器实现
type GinRouter struct {
	engine *gin.Engine
	cfg    *config.Config
	deps   *Dependencies
	logger *zap.Logger
}

// New 创建路由器实例
func New(cfg *config.Config, deps *Dependencies, lg *zap.Logger) *GinRouter {
	return &GinRouter{cfg: cfg, deps: deps, logger: lg}
}

// Setup 设置路由和中间件
func (r *GinRouter) Setup() http.Handler {
	if r.cfg.App.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	r.engine = gin.New()
	r.engine.HandleMethodNotAllowed = true
	r.engine.NoRoute(r.notFound)
	r.engine.NoMethod(r.methodNotAllowed)

	r.setupMiddleware()
	r.setupRoutes()
	return r.engine
}

// setupMiddleware 设置全局中间件；请求 ID、恢复、超时与访问日志在 engine 外层按 net/http 方式挂载
func (r *GinRouter) setupMiddleware() {
	if r.deps.Metrics != nil {
		r.engine.Use(middleware.Metrics(r.deps.Metrics))
	}
	r.engine.Use(r.corsMiddleware())
}

// setupRoutes 设置所有路由
func (r *GinRouter) setupRoutes() {
	r.engine.GET("/healthz", r.healthCheck)
	if r.cfg.Metrics.Enabled && r.deps.Metrics != nil {
		r.engine.GET(r.cfg.Metrics.Path, gin.WrapH(r.deps.Metrics.Handler()))
	}

	auth := middleware.Auth(r.deps.TokenService, r.logger)

	v1 := r.engine.Group("/api/v1")

	// 结算（需要认证，可选限流与幂等）
	checkout := v1.Group("/checkout", auth)
	checkout.Use(r.checkoutGuards()...)
	{
		checkout.POST("", r.deps.CheckoutHandler.Checkout)
		checkout.POST("/cart", r.deps.CheckoutHandler.CheckoutFromCart)
	}

	// 顾客订单（需要认证）
	orders := v1.Group("/orders", auth)
	{
		orders.GET("", r.deps.OrderHandler.ListMyOrders)
		orders.GET("/:orderID", r.deps.OrderHandler.GetMyOrder)
		orders.POST("/:orderID/cancel", r.deps.OrderHandler.CancelMyOrder)
		orders.POST("/:orderID/return", r.deps.OrderHandler.ReturnMyOrder)
	}

	// 管理员路由（需要认证+管理员权限）
	admin := v1.Group("/admin", auth, middleware.RequireAdmin(r.logger))
	{
		stock := admin.Group("/stock")
		{
			stock.GET("", r.deps.StockHandler.ListStock)
			stock.GET("/low", r.deps.StockHandler.ListLowStock)
			stock.GET("/:productID", r.deps.StockHandler.GetStock)
			stock.GET("/:productID/check", r.deps.StockHandler.CheckAvailability)
			stock.PUT("/:productID", r.deps.StockHandler.SetStock)
			stock.DELETE("/:productID", r.deps.StockHandler.RemoveStock)
		}

		adminOrders := admin.Group("/orders")
		{
			adminOrders.GET("", r.deps.OrderAdminHandler.ListOrders)
			adminOrders.GET("/:orderID", r.deps.OrderAdminHandler.GetOrder)
			adminOrders.POST("/:orderID/status", r.deps.OrderAdminHandler.UpdateStatus)
		}
	}
}

// checkoutGuards 结算接口的限流与幂等中间件
func (r *GinRouter) checkoutGuards() []gin.HandlerFunc {
	var guards []gin.HandlerFunc
	if r.deps.Limiter != nil {
		guards = append(guards, limiter.RateLimitMiddleware(&limiter.MiddlewareConfig{
			Limiter:      r.deps.Limiter,
			KeyGenerator: checkoutKey,
			Logger:       r.logger,
		}))
	}
	if r.deps.IdempotencyCache != nil {
		guards = append(guards, middleware.Idempotency(middleware.IdempotencyConfig{
			Cache:  r.deps.IdempotencyCache,
			TTL:    24 * time.Hour,
			Logger: r.logger,
		}))
	}
	return guards
}

// checkoutKey 按用户限流，未认证时按 IP
func checkoutKey(c *gin.Context) string {
	if p := middleware.PrincipalFromContext(c.Request.Context()); p != nil {
		return fmt.Sprintf("checkout:user:%d", p.UserID)
	}
	return "checkout:" + limiter.IPKeyGenerator(c)
}

// healthCheck 健康检查处理器
func (r *GinRouter) healthCheck(c *gin.Context) {
	data := map[string]any{
		"status":  "ok",
		"version": r.cfg.App.Version,
	}
	resp.OK(c.Writer, data, middleware.RequestIDFromContext(c.Request.Context()), "")
}

func (r *GinRouter) notFound(c *gin.Context) {
	resp.Error(c.Writer, http.StatusNotFound, resp.CodeNotFound, "route not found",
		middleware.RequestIDFromContext(c.Request.Context()), "")
}

func (r *GinRouter) methodNotAllowed(c *gin.Context) {
	resp.Error(c.Writer, http.StatusMethodNotAllowed, resp.CodeInvalidParam, "method not allowed",
		middleware.RequestIDFromContext(c.Request.Context()), "")
}

// corsMiddleware CORS 中间件
func (r *GinRouter) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Idempotency-Key")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
