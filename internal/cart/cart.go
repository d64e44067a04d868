// Package cart 读取购物车服务写入共享缓存的购物车快照
package cart

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/cache"
	"github.com/MorseWayne/caseshop/internal/domain"
)

// KeyPrefix 购物车快照键前缀，完整键为 cart:{userID}
const KeyPrefix = "cart:"

// Client 购物车协作方适配器
type Client struct {
	cache  cache.Cache
	logger *zap.Logger
}

// NewClient 创建购物车客户端
func NewClient(c cache.Cache, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cache: c, logger: logger.Named("cart")}
}

func cartKey(userID int64) string {
	return fmt.Sprintf("%s%d", KeyPrefix, userID)
}

// GetCartItems 读取购物车内容，购物车不存在时返回空切片
func (c *Client) GetCartItems(ctx context.Context, userID int64) ([]domain.CheckoutItem, error) {
	var items []domain.CheckoutItem
	err := c.cache.Get(ctx, cartKey(userID), &items)
	if errors.Is(err, cache.ErrCacheMiss) {
		return []domain.CheckoutItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cart of user %d: %w", userID, err)
	}
	c.logger.Debug("读取购物车", zap.Int64("user_id", userID), zap.Int("items", len(items)))
	return items, nil
}

// ClearCart 清空购物车
func (c *Client) ClearCart(ctx context.Context, userID int64) error {
	if err := c.cache.Del(ctx, cartKey(userID)); err != nil {
		return fmt.Errorf("clear cart of user %d: %w", userID, err)
	}
	return nil
}
