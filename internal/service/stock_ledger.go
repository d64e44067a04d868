// Package service 实现库存账本、订单生命周期与结算编排。
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/metrics"
	"github.com/MorseWayne/caseshop/internal/repo"
)

// 账本操作名，用于日志、指标与重试
const (
	opSetTotal = "set_total"
	opReserve  = "reserve"
	opRelease  = "release"
	opDeduct   = "deduct"
	opRemove   = "remove"
)

// StockLedger 定义库存账本接口。
// 写操作各自在独立事务中执行，并对单个商品记录加排他锁；锁冲突按重试策略自动重试。
type StockLedger interface {
	SetTotal(ctx context.Context, productID int64, quantity int) (*domain.StockRecord, error)
	Reserve(ctx context.Context, productID int64, quantity int) (*domain.StockRecord, error)
	Release(ctx context.Context, productID int64, quantity int) (*domain.StockRecord, error)
	Deduct(ctx context.Context, productID int64, quantity int) (*domain.StockRecord, error)
	Remove(ctx context.Context, productID int64) error

	// 事务内变体，由调用方负责事务、加锁顺序与重试
	ReleaseInTx(ctx context.Context, tx repo.Tx, productID int64, quantity int) (*domain.StockRecord, error)
	DeductInTx(ctx context.Context, tx repo.Tx, productID int64, quantity int) (*domain.StockRecord, error)
	// Invalidate 事务提交后清除读缓存
	Invalidate(ctx context.Context, productIDs ...int64)

	// 快照读，不加锁
	Get(ctx context.Context, productID int64) (*domain.StockRecord, error)
	GetAvailable(ctx context.Context, productID int64) (int, error)
	CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error)
	List(ctx context.Context) ([]*domain.StockRecord, error)
	ListLowStock(ctx context.Context) ([]*domain.LowStockReport, error)
}

// StockInvalidator 可失效的库存读缓存
type StockInvalidator interface {
	Invalidate(ctx context.Context, productIDs ...int64) error
}

// LedgerConfig 库存账本配置
type LedgerConfig struct {
	Retry               RetryPolicy
	DefaultReorderLevel int
}

// DefaultLedgerConfig 默认配置
func DefaultLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		Retry:               DefaultRetryPolicy(),
		DefaultReorderLevel: domain.DefaultReorderLevel,
	}
}

type stockLedger struct {
	store       repo.Store
	reader      repo.StockRepository
	invalidator StockInvalidator
	retry       *retrier
	config      *LedgerConfig
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// NewStockLedger 创建库存账本。reader 为空时直接读存储；
// reader 实现 StockInvalidator 时，写操作提交后会清除对应缓存。
func NewStockLedger(
	store repo.Store,
	reader repo.StockRepository,
	config *LedgerConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) StockLedger {
	if config == nil {
		config = DefaultLedgerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reader == nil {
		reader = store.Stocks()
	}
	invalidator, _ := reader.(StockInvalidator)
	logger = logger.Named("ledger")

	return &stockLedger{
		store:       store,
		reader:      reader,
		invalidator: invalidator,
		retry:       &retrier{policy: config.Retry, metrics: m, logger: logger},
		config:      config,
		metrics:     m,
		logger:      logger,
	}
}

func validateProductID(productID int64) error {
	if productID <= 0 {
		return domain.BadRequestf("product ID must be positive, got %d", productID)
	}
	return nil
}

func validateQuantity(quantity int) error {
	if quantity <= 0 {
		return domain.BadRequestf("quantity must be greater than 0, got %d", quantity)
	}
	return nil
}

// mutate 在带重试的独立事务中执行单商品写操作
func (l *stockLedger) mutate(
	ctx context.Context,
	op string,
	productID int64,
	fn func(tx repo.Tx) (*domain.StockRecord, error),
) (*domain.StockRecord, error) {
	var result *domain.StockRecord
	err := l.retry.do(ctx, op, func() error {
		return l.store.InTx(ctx, func(tx repo.Tx) error {
			rec, err := fn(tx)
			if err != nil {
				return err
			}
			result = rec
			return nil
		})
	})

	l.metrics.LedgerOp(op, outcome(err))
	if err != nil {
		logOutcome(l.logger, "库存操作失败", err,
			zap.String("op", op),
			zap.Int64("product_id", productID),
		)
		return nil, err
	}

	l.Invalidate(ctx, productID)
	l.logger.Debug("库存操作成功",
		zap.String("op", op),
		zap.Int64("product_id", productID),
		zap.Int("total", result.Total),
		zap.Int("reserved", result.Reserved),
		zap.Int("available", result.Available()),
	)
	return result, nil
}

// lockRecord 锁定记录，不存在时返回 NotFound
func lockRecord(ctx context.Context, tx repo.Tx, productID int64) (*domain.StockRecord, error) {
	rec, err := tx.Stocks().GetForUpdate(ctx, productID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.NotFoundf("stock record for product %d not found", productID)
	}
	return rec, nil
}

// SetTotal 设置绝对库存数量，记录不存在时创建（upsert）
func (l *stockLedger) SetTotal(ctx context.Context, productID int64, quantity int) (*domain.StockRecord, error) {
	if err := validateProductID(productID); err != nil {
		return nil, err
	}
	if quantity < 0 {
		return nil, domain.BadRequestf("quantity must be non-negative, got %d", quantity)
	}

	return l.mutate(ctx, opSetTotal, productID, func(tx repo.Tx) (*domain.StockRecord, error) {
		rec, err := tx.Stocks().GetForUpdate(ctx, productID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			rec = domain.NewStockRecord(productID, quantity)
			rec.ReorderLevel = l.config.DefaultReorderLevel
			if err := tx.Stocks().Insert(ctx, rec); err != nil {
				return nil, err
			}
			return rec, nil
		}
		if err := rec.SetTotal(quantity); err != nil {
			return nil, err
		}
		if err := tx.Stocks().Update(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	})
}

// Reserve 预留库存，同一商品的并发预留被行锁串行化，不会超卖
func (l *stockLedger) Reserve(ctx context.Context, productID int64, quantity int) (*domain.StockRecord, error) {
	if err := validateProductID(productID); err != nil {
		return nil, err
	}
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	return l.mutate(ctx, opReserve, productID, func(tx repo.Tx) (*domain.StockRecord, error) {
		rec, err := lockRecord(ctx, tx, productID)
		if err != nil {
			return nil, err
		}
		if err := rec.Reserve(quantity); err != nil {
			return nil, err
		}
		if err := tx.Stocks().Update(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	})
}

// Release 释放预留，reserved 最低截断到0
func (l *stockLedger) Release(ctx context.Context, productID int64, quantity int) (*domain.StockRecord, error) {
	if err := validateProductID(productID); err != nil {
		return nil, err
	}
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	return l.mutate(ctx, opRelease, productID, func(tx repo.Tx) (*domain.StockRecord, error) {
		return l.ReleaseInTx(ctx, tx, productID, quantity)
	})
}

// Deduct 将预留转为永久扣减
func (l *stockLedger) Deduct(ctx context.Context, productID int64, quantity int) (*domain.StockRecord, error) {
	if err := validateProductID(productID); err != nil {
		return nil, err
	}
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	return l.mutate(ctx, opDeduct, productID, func(tx repo.Tx) (*domain.StockRecord, error) {
		return l.DeductInTx(ctx, tx, productID, quantity)
	})
}

// ReleaseInTx 在调用方事务内释放预留
func (l *stockLedger) ReleaseInTx(ctx context.Context, tx repo.Tx, productID int64, quantity int) (*domain.StockRecord, error) {
	rec, err := lockRecord(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	reservedBefore := rec.Reserved
	floored, err := rec.Release(quantity)
	if err != nil {
		return nil, err
	}
	if floored {
		l.reportFloor(opRelease, productID, quantity, reservedBefore)
	}
	if err := tx.Stocks().Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// DeductInTx 在调用方事务内扣减
func (l *stockLedger) DeductInTx(ctx context.Context, tx repo.Tx, productID int64, quantity int) (*domain.StockRecord, error) {
	rec, err := lockRecord(ctx, tx, productID)
	if err != nil {
		return nil, err
	}
	reservedBefore := rec.Reserved
	floored, err := rec.Deduct(quantity)
	if err != nil {
		return nil, err
	}
	if floored {
		l.reportFloor(opDeduct, productID, quantity, reservedBefore)
	}
	if err := tx.Stocks().Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// reportFloor reserved 被截断说明调用方记账有误
func (l *stockLedger) reportFloor(op string, productID int64, quantity, reserved int) {
	l.metrics.ReservedFloored(op)
	l.logger.Warn("预留数量不足，reserved 已截断为0",
		zap.String("op", op),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Int("reserved_before", reserved),
	)
}

// Remove 删除库存记录，仍有预留时拒绝
func (l *stockLedger) Remove(ctx context.Context, productID int64) error {
	if err := validateProductID(productID); err != nil {
		return err
	}

	_, err := l.mutate(ctx, opRemove, productID, func(tx repo.Tx) (*domain.StockRecord, error) {
		rec, err := lockRecord(ctx, tx, productID)
		if err != nil {
			return nil, err
		}
		if rec.Reserved > 0 {
			return nil, domain.Conflictf("product %d still has %d reserved units", productID, rec.Reserved)
		}
		if err := tx.Stocks().Delete(ctx, productID); err != nil {
			return nil, err
		}
		return rec, nil
	})
	return err
}

// Invalidate 清除读缓存，失败只记录日志
func (l *stockLedger) Invalidate(ctx context.Context, productIDs ...int64) {
	if l.invalidator == nil || len(productIDs) == 0 {
		return
	}
	if err := l.invalidator.Invalidate(context.WithoutCancel(ctx), productIDs...); err != nil {
		l.logger.Warn("清除库存缓存失败", zap.Int64s("product_ids", productIDs), zap.Error(err))
	}
}

// Get 读取库存记录
func (l *stockLedger) Get(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	if err := validateProductID(productID); err != nil {
		return nil, err
	}
	rec, err := l.reader.GetByProductID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.NotFoundf("stock record for product %d not found", productID)
	}
	return rec, nil
}

// GetAvailable 返回可售数量
func (l *stockLedger) GetAvailable(ctx context.Context, productID int64) (int, error) {
	rec, err := l.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	return rec.Available(), nil
}

// CheckAvailability 可售数量是否满足需求，记录不存在时返回 false
func (l *stockLedger) CheckAvailability(ctx context.Context, productID int64, quantity int) (bool, error) {
	if err := validateQuantity(quantity); err != nil {
		return false, err
	}
	rec, err := l.Get(ctx, productID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Available() >= quantity, nil
}

// List 列出全部库存记录
func (l *stockLedger) List(ctx context.Context) ([]*domain.StockRecord, error) {
	return l.reader.List(ctx)
}

// ListLowStock 低库存报表
func (l *stockLedger) ListLowStock(ctx context.Context) ([]*domain.LowStockReport, error) {
	records, err := l.reader.ListLowStock(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]*domain.LowStockReport, 0, len(records))
	for _, rec := range records {
		reports = append(reports, domain.NewLowStockReport(rec))
	}
	return reports, nil
}
