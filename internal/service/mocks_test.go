package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/repo"
)

// fastRetry 测试用重试策略，避免真实等待 100ms
var fastRetry = RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

func newTestStore() *repo.MemoryStore {
	return repo.NewMemoryStore(2 * time.Second)
}

func newTestLedger(store repo.Store) StockLedger {
	return NewStockLedger(store, nil, &LedgerConfig{Retry: fastRetry, DefaultReorderLevel: 10}, nil, zap.NewNop())
}

func int64Ptr(v int64) *int64 { return &v }

// seedStock 直接设置 total 与 reserved
func seedStock(t *testing.T, store repo.Store, productID int64, total, reserved int) {
	t.Helper()
	err := store.InTx(context.Background(), func(tx repo.Tx) error {
		rec := domain.NewStockRecord(productID, total)
		rec.Reserved = reserved
		return tx.Stocks().Insert(context.Background(), rec)
	})
	if err != nil {
		t.Fatalf("seed stock %d: %v", productID, err)
	}
}

func mustStock(t *testing.T, store repo.Store, productID int64) *domain.StockRecord {
	t.Helper()
	rec, err := store.Stocks().GetByProductID(context.Background(), productID)
	if err != nil || rec == nil {
		t.Fatalf("get stock %d: rec=%v err=%v", productID, rec, err)
	}
	return rec
}

// mockPublisher 记录发布的事件
type mockPublisher struct {
	mu      sync.Mutex
	created []*domain.Order
	changed []domain.OrderStatus
	fail    bool
}

func (p *mockPublisher) PublishOrderCreated(_ context.Context, order *domain.Order) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.created = append(p.created, order)
	return nil
}

func (p *mockPublisher) PublishOrderStatusChanged(_ context.Context, order *domain.Order, _ domain.OrderStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.changed = append(p.changed, order.Status)
	return nil
}

// mockCart 内存购物车
type mockCart struct {
	items    map[int64][]domain.CheckoutItem
	cleared  []int64
	clearErr error
}

func newMockCart() *mockCart {
	return &mockCart{items: make(map[int64][]domain.CheckoutItem)}
}

func (c *mockCart) GetCartItems(_ context.Context, userID int64) ([]domain.CheckoutItem, error) {
	return c.items[userID], nil
}

func (c *mockCart) ClearCart(_ context.Context, userID int64) error {
	if c.clearErr != nil {
		return c.clearErr
	}
	delete(c.items, userID)
	c.cleared = append(c.cleared, userID)
	return nil
}

// conflictStore 前 failures 次事务直接返回锁冲突，其后委托给真实存储
type conflictStore struct {
	repo.Store
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *conflictStore) InTx(ctx context.Context, fn func(tx repo.Tx) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()
	if fail {
		return repo.ErrLockConflict
	}
	return s.Store.InTx(ctx, fn)
}

// failingOrderStore 创建订单时返回固定错误
type failingOrderStore struct {
	repo.Store
	err error
}

func (s *failingOrderStore) InTx(ctx context.Context, fn func(tx repo.Tx) error) error {
	return s.Store.InTx(ctx, func(tx repo.Tx) error {
		return fn(&failingOrderTx{Tx: tx, err: s.err})
	})
}

type failingOrderTx struct {
	repo.Tx
	err error
}

func (t *failingOrderTx) Orders() repo.OrderTx {
	return &failingOrders{OrderTx: t.Tx.Orders(), err: t.err}
}

type failingOrders struct {
	repo.OrderTx
	err error
}

func (o *failingOrders) Create(context.Context, *domain.Order) error {
	return o.err
}
