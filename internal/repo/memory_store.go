package repo

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MorseWayne/caseshop/internal/domain"
)

// MemoryStore 进程内存储，用于单实例部署与测试。
// 事务的写入先暂存，提交时一次性应用；行锁由 lockManager 提供。
type MemoryStore struct {
	mu      sync.RWMutex
	stocks  map[int64]*domain.StockRecord
	orders  map[int64]*domain.Order
	numbers map[string]int64

	orderSeq atomic.Int64
	itemSeq  atomic.Int64
	locks    *lockManager
	now      func() time.Time
}

// NewMemoryStore 创建内存存储，lockWait 为行锁最长等待时间
func NewMemoryStore(lockWait time.Duration) *MemoryStore {
	return &MemoryStore{
		stocks:  make(map[int64]*domain.StockRecord),
		orders:  make(map[int64]*domain.Order),
		numbers: make(map[string]int64),
		locks:   newLockManager(lockWait),
		now:     time.Now,
	}
}

func (s *MemoryStore) Stocks() StockRepository {
	return &memStockReader{s: s}
}

func (s *MemoryStore) Orders() OrderRepository {
	return &memOrderReader{s: s}
}

// InTx 执行 fn，成功则提交暂存的写入；无论结果如何都释放持有的锁
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:       s,
		held:    make(map[string]struct{}),
		stocks:  make(map[int64]*domain.StockRecord),
		orders:  make(map[int64]*domain.Order),
		numbers: make(map[string]int64),
	}
	defer tx.releaseAll()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func stockKey(productID int64) string { return fmt.Sprintf("stock:%d", productID) }
func orderKey(id int64) string { return fmt.Sprintf("order:%d", id) }
func orderNumberKey(n string) string { return "order_number:" + n }

func cloneStock(r *domain.StockRecord) *domain.StockRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

type memTx struct {
	s    *MemoryStore
	held map[string]struct{}

	// 暂存写入，stocks 中值为 nil 表示删除
	stocks  map[int64]*domain.StockRecord
	orders  map[int64]*domain.Order
	numbers map[string]int64
}

func (t *memTx) Stocks() StockTx { return (*memStockTx)(t) }
func (t *memTx) Orders() OrderTx { return (*memOrderTx)(t) }

// lock 可重入：同一事务重复加锁直接返回
func (t *memTx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.s.locks.acquire(ctx, key); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	return nil
}

func (t *memTx) releaseAll() {
	for key := range t.held {
		t.s.locks.release(key)
	}
	clear(t.held)
}

func (t *memTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, rec := range t.stocks {
		if rec == nil {
			delete(t.s.stocks, id)
			continue
		}
		t.s.stocks[id] = rec
	}
	for id, o := range t.orders {
		t.s.orders[id] = o
	}
	for n, id := range t.numbers {
		t.s.numbers[n] = id
	}
}

// currentStock 事务视角下的记录：优先读暂存
func (t *memTx) currentStock(productID int64) *domain.StockRecord {
	if rec, staged := t.stocks[productID]; staged {
		return cloneStock(rec)
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return cloneStock(t.s.stocks[productID])
}

func (t *memTx) currentOrder(id int64) *domain.Order {
	if o, staged := t.orders[id]; staged {
		return o.Clone()
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return t.s.orders[id].Clone()
}

type memStockTx memTx

func (t *memStockTx) GetForUpdate(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	tx := (*memTx)(t)
	if err := tx.lock(ctx, stockKey(productID)); err != nil {
		return nil, err
	}
	return tx.currentStock(productID), nil
}

func (t *memStockTx) Insert(ctx context.Context, record *domain.StockRecord) error {
	tx := (*memTx)(t)
	if err := tx.lock(ctx, stockKey(record.ProductID)); err != nil {
		return err
	}
	if tx.currentStock(record.ProductID) != nil {
		return fmt.Errorf("stock record for product %d already exists", record.ProductID)
	}
	now := tx.s.now()
	record.CreatedAt = now
	record.UpdatedAt = now
	tx.stocks[record.ProductID] = cloneStock(record)
	return nil
}

func (t *memStockTx) Update(ctx context.Context, record *domain.StockRecord) error {
	tx := (*memTx)(t)
	if err := tx.lock(ctx, stockKey(record.ProductID)); err != nil {
		return err
	}
	if tx.currentStock(record.ProductID) == nil {
		return fmt.Errorf("stock record for product %d not found", record.ProductID)
	}
	record.UpdatedAt = tx.s.now()
	tx.stocks[record.ProductID] = cloneStock(record)
	return nil
}

func (t *memStockTx) Delete(ctx context.Context, productID int64) error {
	tx := (*memTx)(t)
	if err := tx.lock(ctx, stockKey(productID)); err != nil {
		return err
	}
	tx.stocks[productID] = nil
	return nil
}

type memOrderTx memTx

func (t *memOrderTx) GetForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	tx := (*memTx)(t)
	if err := tx.lock(ctx, orderKey(id)); err != nil {
		return nil, err
	}
	return tx.currentOrder(id), nil
}

func (t *memOrderTx) Create(ctx context.Context, order *domain.Order) error {
	tx := (*memTx)(t)
	// 锁住订单号，等价于唯一索引上的插入锁
	if err := tx.lock(ctx, orderNumberKey(order.OrderNumber)); err != nil {
		return err
	}
	if _, staged := tx.numbers[order.OrderNumber]; staged {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.OrderNumber)
	}
	tx.s.mu.RLock()
	_, exists := tx.s.numbers[order.OrderNumber]
	tx.s.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOrderNumber, order.OrderNumber)
	}

	order.ID = tx.s.orderSeq.Add(1)
	if err := tx.lock(ctx, orderKey(order.ID)); err != nil {
		return err
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = tx.s.now()
	}
	order.UpdatedAt = order.CreatedAt
	for _, item := range order.Items {
		item.ID = tx.s.itemSeq.Add(1)
		item.OrderID = order.ID
	}
	tx.orders[order.ID] = order.Clone()
	tx.numbers[order.OrderNumber] = order.ID
	return nil
}

func (t *memOrderTx) UpdateStatus(ctx context.Context, order *domain.Order) error {
	tx := (*memTx)(t)
	if err := tx.lock(ctx, orderKey(order.ID)); err != nil {
		return err
	}
	if tx.currentOrder(order.ID) == nil {
		return fmt.Errorf("order %d not found", order.ID)
	}
	tx.orders[order.ID] = order.Clone()
	return nil
}

type memStockReader struct {
	s *MemoryStore
}

func (r *memStockReader) GetByProductID(_ context.Context, productID int64) (*domain.StockRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return cloneStock(r.s.stocks[productID]), nil
}

func (r *memStockReader) snapshot(keep func(*domain.StockRecord) bool) []*domain.StockRecord {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	records := []*domain.StockRecord{}
	for _, rec := range r.s.stocks {
		if keep(rec) {
			records = append(records, cloneStock(rec))
		}
	}
	return records
}

func (r *memStockReader) List(_ context.Context) ([]*domain.StockRecord, error) {
	records := r.snapshot(func(*domain.StockRecord) bool { return true })
	slices.SortFunc(records, func(a, b *domain.StockRecord) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return records, nil
}

func (r *memStockReader) ListLowStock(_ context.Context) ([]*domain.StockRecord, error) {
	records := r.snapshot((*domain.StockRecord).IsLowStock)
	slices.SortFunc(records, func(a, b *domain.StockRecord) int {
		return cmp.Or(
			cmp.Compare(a.Available(), b.Available()),
			cmp.Compare(a.ProductID, b.ProductID),
		)
	})
	return records, nil
}

type memOrderReader struct {
	s *MemoryStore
}

func (r *memOrderReader) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.orders[id].Clone(), nil
}

func (r *memOrderReader) GetByNumber(_ context.Context, orderNumber string) (*domain.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	id, ok := r.s.numbers[orderNumber]
	if !ok {
		return nil, nil
	}
	return r.s.orders[id].Clone(), nil
}

func (r *memOrderReader) ExistsByNumber(_ context.Context, orderNumber string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.numbers[orderNumber]
	return ok, nil
}

func (r *memOrderReader) filter(keep func(*domain.Order) bool) []*domain.Order {
	r.s.mu.RLock()
	orders := []*domain.Order{}
	for _, o := range r.s.orders {
		if keep(o) {
			orders = append(orders, o.Clone())
		}
	}
	r.s.mu.RUnlock()

	slices.SortFunc(orders, func(a, b *domain.Order) int {
		return cmp.Or(
			b.CreatedAt.Compare(a.CreatedAt),
			cmp.Compare(b.ID, a.ID),
		)
	})
	return orders
}

func (r *memOrderReader) ListByUser(_ context.Context, userID int64) ([]*domain.Order, error) {
	return r.filter(func(o *domain.Order) bool { return o.UserID == userID }), nil
}

func (r *memOrderReader) ListByStatus(_ context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	return r.filter(func(o *domain.Order) bool { return o.Status == status }), nil
}

func (r *memOrderReader) List(_ context.Context) ([]*domain.Order, error) {
	return r.filter(func(*domain.Order) bool { return true }), nil
}
