package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/api"
	"github.com/MorseWayne/caseshop/internal/cache"
	"github.com/MorseWayne/caseshop/internal/cart"
	"github.com/MorseWayne/caseshop/internal/config"
	"github.com/MorseWayne/caseshop/internal/database"
	"github.com/MorseWayne/caseshop/internal/limiter"
	"github.com/MorseWayne/caseshop/internal/logger"
	"github.com/MorseWayne/caseshop/internal/metrics"
	mw "github.com/MorseWayne/caseshop/internal/middleware"
	"github.com/MorseWayne/caseshop/internal/mq"
	"github.com/MorseWayne/caseshop/internal/repo"
	"github.com/MorseWayne/caseshop/internal/router"
	"github.com/MorseWayne/caseshop/internal/service"
)

// app 持有需要在退出时释放的资源
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	closers []func() error
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// close 按注册的逆序释放资源
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("failed to release resource", zap.Error(err))
		}
	}
}

// initConfigAndLogger 初始化配置和日志器
func initConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, cfg.App.Name, cfg.App.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, lg, nil
}

// initStore 初始化存储：mysql 在启动时执行迁移，memory 用于本地开发与演示
func (a *app) initStore() (repo.Store, error) {
	switch a.cfg.Storage.Driver {
	case "memory":
		a.logger.Warn("using in-memory storage, data will be lost on restart")
		return repo.NewMemoryStore(a.cfg.Ledger.LockWaitTimeout), nil
	default:
		db, err := database.New(a.cfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		a.onClose(db.Close)

		a.logger.Info("using migrations directory", zap.String("path", a.cfg.Migrations.Dir))
		if err := db.RunMigrations(a.cfg.Migrations.Dir); err != nil {
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		return repo.NewMySQLStore(db.DB), nil
	}
}

// initRedis 连接 Redis，不可用时返回 nil，各组件降级到内存实现
func (a *app) initRedis() redis.UniversalClient {
	if a.cfg.Cache.Type != "redis" {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", a.cfg.Redis.Host, a.cfg.Redis.Port)
	client, err := cache.NewRedisClient(addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		a.logger.Warn("failed to connect to Redis, falling back to memory", zap.String("addr", addr), zap.Error(err))
		return nil
	}
	a.onClose(client.Close)
	a.logger.Info("redis connected", zap.String("addr", addr))
	return client
}

// initSharedCache 购物车快照与幂等键使用的共享缓存
func (a *app) initSharedCache(client redis.UniversalClient) cache.Cache {
	if client != nil {
		return cache.NewRedisCacheWithClient(client)
	}
	return cache.NewMemoryCache()
}

// initStockReader 可选的库存读缓存
func (a *app) initStockReader(store repo.Store, shared cache.Cache) repo.StockRepository {
	if !a.cfg.Cache.Enabled {
		a.logger.Info("stock cache disabled")
		return nil
	}
	a.logger.Info("stock cache enabled", zap.Duration("ttl", a.cfg.Cache.TTL))
	return repo.NewCachedStockRepository(store.Stocks(), shared, a.cfg.Cache.TTL)
}

// initEvents 连接 RabbitMQ 发布订单事件，失败时退化为不发布
func (a *app) initEvents() service.OrderEventPublisher {
	if !a.cfg.RabbitMQ.Enabled {
		a.logger.Info("order events disabled")
		return service.NopEventPublisher{}
	}

	mqCfg := mq.DefaultConfig(a.cfg.RabbitMQ.URL, a.cfg.RabbitMQ.Exchange)
	if err := mqCfg.Validate(); err != nil {
		a.logger.Error("invalid rabbitmq config, order events disabled", zap.Error(err))
		return service.NopEventPublisher{}
	}

	cm := mq.NewConnectionManager(mqCfg, a.logger)
	producer := mq.NewProducer(cm, mqCfg.Exchange, mqCfg.Producer, a.logger)
	cm.SetReconnectHook(func() {
		if err := producer.DeclareExchange(); err != nil {
			a.logger.Error("failed to redeclare exchange after reconnect", zap.Error(err))
		}
	})

	if err := cm.Connect(); err != nil {
		a.logger.Error("failed to connect to rabbitmq, order events disabled", zap.Error(err))
		return service.NopEventPublisher{}
	}
	if err := producer.DeclareExchange(); err != nil {
		a.logger.Error("failed to declare exchange, order events disabled", zap.Error(err))
		_ = cm.Close()
		return service.NopEventPublisher{}
	}

	a.onClose(cm.Close)
	a.onClose(func() error {
		stats := producer.GetStats()
		a.logger.Info("order event producer closed",
			zap.Int64("published", stats.PublishedCount),
			zap.Int64("failed", stats.FailedCount))
		return producer.Close()
	})
	return mq.NewOrderEventPublisher(producer)
}

// initLimiter 结算限流器，优先使用 Redis 以便多实例共享配额
func (a *app) initLimiter(client redis.UniversalClient) limiter.Limiter {
	if !a.cfg.Limiter.Enabled {
		return nil
	}
	lcfg := &limiter.Config{
		Rate:      a.cfg.Limiter.Rate,
		Burst:     a.cfg.Limiter.Burst,
		Window:    a.cfg.Limiter.Window,
		KeyPrefix: "caseshop:limiter",
	}
	if client != nil {
		l, err := limiter.NewTokenBucketLimiter(client, lcfg)
		if err == nil {
			a.logger.Info("checkout limiter enabled", zap.String("backend", "redis"))
			return l
		}
		a.logger.Warn("failed to create redis limiter, using memory", zap.Error(err))
	}
	l, err := limiter.NewMemoryTokenBucket(lcfg)
	if err != nil {
		a.logger.Error("invalid limiter config, limiter disabled", zap.Error(err))
		return nil
	}
	a.logger.Info("checkout limiter enabled", zap.String("backend", "memory"))
	return l
}

// buildHandler 初始化依赖注入链：存储 -> 服务 -> 处理器 -> 路由
func (a *app) buildHandler() (http.Handler, error) {
	cfg, lg := a.cfg, a.logger

	store, err := a.initStore()
	if err != nil {
		return nil, err
	}
	redisClient := a.initRedis()
	shared := a.initSharedCache(redisClient)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	policy := service.RetryPolicy{MaxAttempts: cfg.Ledger.MaxAttempts, Backoff: cfg.Ledger.RetryBackoff}
	ledger := service.NewStockLedger(store, a.initStockReader(store, shared), &service.LedgerConfig{
		Retry:               policy,
		DefaultReorderLevel: cfg.Ledger.DefaultReorderLevel,
	}, m, lg)
	events := a.initEvents()
	lifecycle := service.NewOrderLifecycle(store, ledger, events, policy, m, lg)
	checkout := service.NewCheckoutService(store, ledger, cart.NewClient(shared, lg), events, policy, m, lg)
	orders := service.NewOrderQuery(store.Orders())
	tokens := service.NewTokenService(cfg.JWT, lg)

	engine := router.New(cfg, &router.Dependencies{
		StockHandler:      api.NewStockHandler(ledger, lg),
		OrderAdminHandler: api.NewOrderAdminHandler(lifecycle, orders, lg),
		CheckoutHandler:   api.NewCheckoutHandler(checkout, lg),
		OrderHandler:      api.NewOrderHandler(orders, lifecycle, lg),
		TokenService:      tokens,
		Limiter:           a.initLimiter(redisClient),
		IdempotencyCache:  shared,
		Metrics:           m,
	}, lg).Setup()

	handler := mw.RequestID(engine)
	handler = mw.Recovery(lg)(handler)
	handler = mw.Timeout(cfg.App.RequestTimeout)(handler)
	handler = mw.AccessLog(lg)(handler)
	return handler, nil
}

// startServer 启动服务器并处理优雅关闭
func startServer(cfg *config.Config, handler http.Handler, lg *zap.Logger) error {
	addr := fmt.Sprintf(":%d", cfg.App.Port)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	serverErrCh := make(chan error, 1)
	go func() {
		lg.Info("server starting", zap.String("addr", addr))
		serverErrCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		lg.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	lg.Info("server exited")
	return nil
}

func main() {
	cfg, lg, err := initConfigAndLogger()
	if err != nil {
		log.Fatalf("failed to initialize config and logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	a := &app{cfg: cfg, logger: lg}
	handler, err := a.buildHandler()
	if err != nil {
		a.close()
		lg.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := startServer(cfg, handler, lg); err != nil {
		lg.Error("server stopped with error", zap.Error(err))
	}
	a.close()
}
