package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MorseWayne/caseshop/internal/cache"
	"github.com/MorseWayne/caseshop/internal/domain"
)

// racingStockRepo 第一次读取返回旧快照，同时在返回前提交一次写入并清除缓存
type racingStockRepo struct {
	mu       sync.Mutex
	current  domain.StockRecord
	reads    int
	onCommit func()
}

func (r *racingStockRepo) GetByProductID(_ context.Context, _ int64) (*domain.StockRecord, error) {
	r.mu.Lock()
	r.reads++
	snapshot := r.current
	first := r.reads == 1
	if first {
		r.current.Reserved += 4
	}
	r.mu.Unlock()

	if first && r.onCommit != nil {
		r.onCommit()
	}
	return &snapshot, nil
}

func (r *racingStockRepo) List(context.Context) ([]*domain.StockRecord, error) { return nil, nil }

func (r *racingStockRepo) ListLowStock(context.Context) ([]*domain.StockRecord, error) {
	return nil, nil
}

func TestCachedStockRepository_StaleFillIsDiscarded(t *testing.T) {
	ctx := context.Background()
	inner := &racingStockRepo{current: *domain.NewStockRecord(1, 10)}
	cached := NewCachedStockRepository(inner, cache.NewMemoryCache(), time.Minute)
	inner.onCommit = func() { _ = cached.Invalidate(ctx, 1) }

	got, err := cached.GetByProductID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByProductID() error = %v", err)
	}
	if got.Reserved != 4 {
		t.Errorf("reserved = %d, want 4 from the committed write", got.Reserved)
	}

	got, err = cached.GetByProductID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByProductID() error = %v", err)
	}
	if got.Reserved != 4 {
		t.Errorf("second read reserved = %d, stale snapshot was cached", got.Reserved)
	}
}

func TestCachedStockRepository_ServesFromCache(t *testing.T) {
	ctx := context.Background()
	// 跳过首次读取时的并发写入
	inner := &racingStockRepo{current: *domain.NewStockRecord(1, 10), reads: 1}
	cached := NewCachedStockRepository(inner, cache.NewMemoryCache(), time.Minute)

	if _, err := cached.GetByProductID(ctx, 1); err != nil {
		t.Fatalf("GetByProductID() error = %v", err)
	}
	reads := inner.reads
	got, err := cached.GetByProductID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByProductID() error = %v", err)
	}
	if inner.reads != reads {
		t.Errorf("cache hit still read the store")
	}
	if got.Total != 10 || got.Reserved != 0 {
		t.Errorf("cached record = %+v", got)
	}
}
