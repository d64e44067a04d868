package service

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/metrics"
	"github.com/MorseWayne/caseshop/internal/repo"
)

// OrderLifecycle 订单状态机。每次迁移与其库存副作用在同一事务中完成：
// 先锁订单行，再按商品ID升序锁库存行。
type OrderLifecycle interface {
	Transition(ctx context.Context, orderID int64, target domain.OrderStatus, reason string) (*domain.Order, error)
	Process(ctx context.Context, orderID int64) (*domain.Order, error)
	Ship(ctx context.Context, orderID int64) (*domain.Order, error)
	Deliver(ctx context.Context, orderID int64) (*domain.Order, error)
	Cancel(ctx context.Context, orderID int64, reason string) (*domain.Order, error)
	Return(ctx context.Context, orderID int64, reason string) (*domain.Order, error)
}

type orderLifecycle struct {
	store   repo.Store
	ledger  StockLedger
	events  OrderEventPublisher
	retry   *retrier
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewOrderLifecycle 创建订单生命周期控制器
func NewOrderLifecycle(
	store repo.Store,
	ledger StockLedger,
	events OrderEventPublisher,
	policy RetryPolicy,
	m *metrics.Metrics,
	logger *zap.Logger,
) OrderLifecycle {
	if events == nil {
		events = NopEventPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("lifecycle")

	return &orderLifecycle{
		store:   store,
		ledger:  ledger,
		events:  events,
		retry:   &retrier{policy: policy, metrics: m, logger: logger},
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// sortedProductIDs 固定加锁顺序
func sortedProductIDs(quantities map[int64]int) []int64 {
	return slices.Sorted(maps.Keys(quantities))
}

// Transition 执行状态迁移。失败时订单与库存保持迁移前的状态。
func (c *orderLifecycle) Transition(ctx context.Context, orderID int64, target domain.OrderStatus, reason string) (*domain.Order, error) {
	logger := c.logger.With(
		zap.Int64("order_id", orderID),
		zap.String("target", string(target)),
	)

	reason = strings.TrimSpace(reason)

	var (
		updated *domain.Order
		from    domain.OrderStatus
		touched []int64
	)
	err := c.retry.do(ctx, "transition", func() error {
		return c.store.InTx(ctx, func(tx repo.Tx) error {
			order, err := tx.Orders().GetForUpdate(ctx, orderID)
			if err != nil {
				return err
			}
			if order == nil {
				return domain.NotFoundf("order %d not found", orderID)
			}
			if !target.IsValid() {
				return domain.BadRequestf("invalid order status %q", target)
			}
			if !order.Status.CanTransitionTo(target) {
				return &domain.InvalidTransitionError{From: order.Status, To: target}
			}
			if target.RequiresReason() && reason == "" {
				return domain.BadRequestf("reason is required when moving order to %s", target)
			}

			quantities := order.StockedQuantities()
			productIDs := sortedProductIDs(quantities)
			// 只有仍占用预留的订单才有库存副作用
			holds := order.Status.HoldsReservation()
			switch {
			case target == domain.OrderStatusCancelled && holds:
				if err := c.releaseAll(ctx, tx, order, productIDs, quantities); err != nil {
					return err
				}
			case target == domain.OrderStatusDelivered && holds:
				for _, productID := range productIDs {
					if _, err := c.ledger.DeductInTx(ctx, tx, productID, quantities[productID]); err != nil {
						return err
					}
				}
			default:
				productIDs = nil
			}

			from = order.Status
			order.ApplyTransition(target, reason, c.now())
			if err := tx.Orders().UpdateStatus(ctx, order); err != nil {
				return err
			}
			updated = order
			touched = productIDs
			return nil
		})
	})

	fromLabel := string(from)
	if err != nil {
		var invalid *domain.InvalidTransitionError
		if errors.As(err, &invalid) {
			fromLabel = string(invalid.From)
		}
		c.metrics.OrderTransition(fromLabel, string(target), outcome(err))
		logOutcome(logger, "订单状态迁移失败", err)
		return nil, err
	}

	c.metrics.OrderTransition(fromLabel, string(target), metrics.ResultOK)
	c.ledger.Invalidate(ctx, touched...)
	logger.Info("订单状态迁移成功",
		zap.String("order_number", updated.OrderNumber),
		zap.String("from", fromLabel),
		zap.String("payment_status", string(updated.PaymentStatus)),
	)

	if err := c.events.PublishOrderStatusChanged(ctx, updated, from); err != nil {
		c.metrics.EventPublishFailed("order.status_changed")
		logger.Error("发布订单状态事件失败", zap.Error(err))
	}
	return updated, nil
}

// releaseAll 取消时释放订单仍持有的预留；库存记录已不存在的商品跳过
func (c *orderLifecycle) releaseAll(ctx context.Context, tx repo.Tx, order *domain.Order, productIDs []int64, quantities map[int64]int) error {
	for _, productID := range productIDs {
		_, err := c.ledger.ReleaseInTx(ctx, tx, productID, quantities[productID])
		if errors.Is(err, domain.ErrNotFound) {
			c.logger.Warn("取消订单时库存记录不存在，跳过释放",
				zap.Int64("order_id", order.ID),
				zap.Int64("product_id", productID),
			)
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Process PENDING -> PROCESSING
func (c *orderLifecycle) Process(ctx context.Context, orderID int64) (*domain.Order, error) {
	return c.Transition(ctx, orderID, domain.OrderStatusProcessing, "")
}

// Ship -> SHIPPED，首次发货时记录发货时间
func (c *orderLifecycle) Ship(ctx context.Context, orderID int64) (*domain.Order, error) {
	return c.Transition(ctx, orderID, domain.OrderStatusShipped, "")
}

// Deliver -> DELIVERED，扣减库存并标记已支付
func (c *orderLifecycle) Deliver(ctx context.Context, orderID int64) (*domain.Order, error) {
	return c.Transition(ctx, orderID, domain.OrderStatusDelivered, "")
}

// Cancel -> CANCELLED，释放预留并退款
func (c *orderLifecycle) Cancel(ctx context.Context, orderID int64, reason string) (*domain.Order, error) {
	return c.Transition(ctx, orderID, domain.OrderStatusCancelled, reason)
}

// Return -> RETURNED，退款但不回补库存
func (c *orderLifecycle) Return(ctx context.Context, orderID int64, reason string) (*domain.Order, error) {
	return c.Transition(ctx, orderID, domain.OrderStatusReturned, reason)
}
