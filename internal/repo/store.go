// Package repo 实现库存账本与订单的数据访问层。
//
// 读接口返回快照，不加锁；写操作只能在 Store.InTx 打开的事务内进行，
// 事务内 GetForUpdate 会对记录加排他锁直到事务结束。
package repo

import (
	"context"
	"errors"

	"github.com/MorseWayne/caseshop/internal/database"
	"github.com/MorseWayne/caseshop/internal/domain"
)

var (
	// ErrLockConflict 锁等待超时或死锁，整个事务可以重试
	ErrLockConflict = errors.New("lock conflict")
	// ErrDuplicateOrderNumber 订单号违反唯一约束
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
)

// IsLockConflict 判断错误是否为可重试的锁冲突
func IsLockConflict(err error) bool {
	return errors.Is(err, ErrLockConflict) || database.IsLockConflict(err)
}

// StockRepository 库存记录快照查询
type StockRepository interface {
	GetByProductID(ctx context.Context, productID int64) (*domain.StockRecord, error)
	List(ctx context.Context) ([]*domain.StockRecord, error)
	ListLowStock(ctx context.Context) ([]*domain.StockRecord, error)
}

// StockTx 事务内的库存读写
type StockTx interface {
	// GetForUpdate 锁定并读取记录，不存在时返回 nil, nil（锁仍然持有）
	GetForUpdate(ctx context.Context, productID int64) (*domain.StockRecord, error)
	Insert(ctx context.Context, record *domain.StockRecord) error
	Update(ctx context.Context, record *domain.StockRecord) error
	Delete(ctx context.Context, productID int64) error
}

// OrderRepository 订单快照查询，列表按创建时间倒序
type OrderRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	ExistsByNumber(ctx context.Context, orderNumber string) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]*domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	List(ctx context.Context) ([]*domain.Order, error)
}

// OrderTx 事务内的订单读写
type OrderTx interface {
	GetForUpdate(ctx context.Context, id int64) (*domain.Order, error)
	// Create 写入订单及订单项并回填ID，订单号重复时返回 ErrDuplicateOrderNumber
	Create(ctx context.Context, order *domain.Order) error
	// UpdateStatus 持久化状态迁移相关字段
	UpdateStatus(ctx context.Context, order *domain.Order) error
}

// Tx 一个工作单元
type Tx interface {
	Stocks() StockTx
	Orders() OrderTx
}

// Store 存储后端
type Store interface {
	Stocks() StockRepository
	Orders() OrderRepository
	// InTx 在事务中执行 fn，fn 返回错误时回滚
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
