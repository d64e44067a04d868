package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/MorseWayne/caseshop/internal/cache"
	"github.com/MorseWayne/caseshop/internal/domain"
)

// CachedStockRepository 带读缓存的库存查询。
// 只缓存单条快照读；加锁读写始终直达存储，写事务提交后由调用方 Invalidate。
type CachedStockRepository struct {
	repo  StockRepository
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedStockRepository 创建带缓存的库存查询
func NewCachedStockRepository(repo StockRepository, c cache.Cache, ttl time.Duration) *CachedStockRepository {
	return &CachedStockRepository{
		repo:  repo,
		cache: c,
		ttl:   ttl,
	}
}

// GetByProductID 根据商品ID获取库存（带缓存）
func (r *CachedStockRepository) GetByProductID(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	cacheKey := stockCacheKey(productID)

	var rec domain.StockRecord
	if err := r.cache.Get(ctx, cacheKey, &rec); err == nil {
		return &rec, nil
	}

	result, err := r.repo.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	// 库存变化频繁，TTL 取配置的一半
	if err := r.cache.Set(ctx, cacheKey, result, r.ttl/2); err != nil {
		return result, nil
	}

	// 读库与写缓存之间可能有写事务提交并已清除缓存，回读确认快照未过期
	current, err := r.repo.GetByProductID(ctx, productID)
	if err != nil || current == nil || !sameStock(result, current) {
		_ = r.cache.Del(ctx, cacheKey)
	}
	if err == nil && current != nil {
		return current, nil
	}
	return result, nil
}

func sameStock(a, b *domain.StockRecord) bool {
	return a.Total == b.Total && a.Reserved == b.Reserved && a.ReorderLevel == b.ReorderLevel
}

// List 不缓存
func (r *CachedStockRepository) List(ctx context.Context) ([]*domain.StockRecord, error) {
	return r.repo.List(ctx)
}

// ListLowStock 不缓存
func (r *CachedStockRepository) ListLowStock(ctx context.Context) ([]*domain.StockRecord, error) {
	return r.repo.ListLowStock(ctx)
}

// Invalidate 清除商品的缓存快照
func (r *CachedStockRepository) Invalidate(ctx context.Context, productIDs ...int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = stockCacheKey(id)
	}
	return r.cache.Del(ctx, keys...)
}

func stockCacheKey(productID int64) string {
	return fmt.Sprintf("stock:product:%d", productID)
}
