package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MorseWayne/caseshop/internal/cache"
	"github.com/MorseWayne/caseshop/internal/domain"
)

// brokenCache 所有读取都返回连接错误
type brokenCache struct {
	*cache.NullCache
}

func (brokenCache) Get(context.Context, string, any) error {
	return errors.New("connection refused")
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	shared := cache.NewMemoryCache()
	c := NewClient(shared, nil)

	items, err := c.GetCartItems(ctx, 7)
	if err != nil {
		t.Fatalf("GetCartItems() on empty cart error = %v", err)
	}
	if items == nil || len(items) != 0 {
		t.Errorf("empty cart = %v, want empty slice", items)
	}

	productID, designID := int64(3), int64(9)
	want := []domain.CheckoutItem{
		{ProductID: &productID, Quantity: 2, Price: decimal.RequireFromString("12.50")},
		{DesignID: &designID, Quantity: 1, Price: decimal.RequireFromString("30.00")},
	}
	// 购物车服务写入的快照
	if err := shared.Set(ctx, "cart:7", want, time.Hour); err != nil {
		t.Fatalf("seed cart: %v", err)
	}

	got, err := c.GetCartItems(ctx, 7)
	if err != nil {
		t.Fatalf("GetCartItems() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("items = %d, want 2", len(got))
	}
	if got[0].ProductID == nil || *got[0].ProductID != 3 || !got[0].Price.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("first item = %+v", got[0])
	}
	if got[1].DesignID == nil || *got[1].DesignID != 9 || got[1].ProductID != nil {
		t.Errorf("second item = %+v", got[1])
	}

	// 其他用户的购物车互不影响
	if other, _ := c.GetCartItems(ctx, 8); len(other) != 0 {
		t.Errorf("user 8 cart = %v", other)
	}

	if err := c.ClearCart(ctx, 7); err != nil {
		t.Fatalf("ClearCart() error = %v", err)
	}
	if after, _ := c.GetCartItems(ctx, 7); len(after) != 0 {
		t.Errorf("cart after clear = %v", after)
	}
}

func TestClient_ReadError(t *testing.T) {
	c := NewClient(brokenCache{cache.NewNullCache()}, nil)
	if _, err := c.GetCartItems(context.Background(), 1); err == nil {
		t.Error("GetCartItems() should surface cache errors")
	}
}
