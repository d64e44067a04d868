package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/metrics"
	"github.com/MorseWayne/caseshop/internal/repo"
)

// CartClient 购物车协作方
type CartClient interface {
	GetCartItems(ctx context.Context, userID int64) ([]domain.CheckoutItem, error)
	ClearCart(ctx context.Context, userID int64) error
}

// CheckoutService 结算编排：校验、预留库存、创建订单
type CheckoutService interface {
	Checkout(ctx context.Context, req *domain.CheckoutRequest) (*domain.Order, error)
	CheckoutFromCart(ctx context.Context, userID int64, req *domain.CheckoutFromCartRequest) (*domain.Order, error)
}

type checkoutService struct {
	store   repo.Store
	ledger  StockLedger
	cart    CartClient
	events  OrderEventPublisher
	numbers *orderNumberGenerator
	retry   *retrier
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewCheckoutService 创建结算服务，cart 可以为空（此时不支持从购物车结算）
func NewCheckoutService(
	store repo.Store,
	ledger StockLedger,
	cart CartClient,
	events OrderEventPublisher,
	policy RetryPolicy,
	m *metrics.Metrics,
	logger *zap.Logger,
) CheckoutService {
	if events == nil {
		events = NopEventPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("checkout")

	return &checkoutService{
		store:   store,
		ledger:  ledger,
		cart:    cart,
		events:  events,
		numbers: newOrderNumberGenerator(store.Orders()),
		retry:   &retrier{policy: policy, metrics: m, logger: logger},
		metrics: m,
		logger:  logger,
	}
}

type reservation struct {
	productID int64
	quantity  int
}

// Checkout 预留全部商品库存后创建 PENDING 订单。
// 任一步失败都会先释放本次已做的预留再返回错误。
func (s *checkoutService) Checkout(ctx context.Context, req *domain.CheckoutRequest) (*domain.Order, error) {
	order, err := s.checkout(ctx, req)
	s.metrics.Checkout(outcome(err))
	return order, err
}

func (s *checkoutService) checkout(ctx context.Context, req *domain.CheckoutRequest) (*domain.Order, error) {
	if req == nil {
		return nil, domain.BadRequestf("checkout request is required")
	}
	logger := s.logger.With(
		zap.Int64("user_id", req.UserID),
		zap.Int("items", len(req.Items)),
	)

	items, total, err := req.Validate()
	if err != nil {
		logger.Warn("结算参数校验失败", zap.Error(err))
		return nil, err
	}

	paymentMethod := strings.TrimSpace(req.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = domain.DefaultPaymentMethod
	}

	reserved := make([]reservation, 0, len(items))
	for _, item := range items {
		if !item.IsStocked() {
			continue
		}
		if _, err := s.ledger.Reserve(ctx, *item.ProductID, item.Quantity); err != nil {
			logOutcome(logger, "预留库存失败，回滚本次预留", err, zap.Int64("product_id", *item.ProductID))
			if rbErr := s.rollback(ctx, reserved); rbErr != nil {
				return nil, errors.Join(err, rbErr)
			}
			return nil, err
		}
		reserved = append(reserved, reservation{productID: *item.ProductID, quantity: item.Quantity})
	}

	order := &domain.Order{
		UserID:          req.UserID,
		Status:          domain.OrderStatusPending,
		TotalAmount:     total,
		ShippingAddress: strings.TrimSpace(req.ShippingAddress),
		ShippingPhone:   strings.TrimSpace(req.ShippingPhone),
		PaymentMethod:   paymentMethod,
		PaymentStatus:   domain.PaymentStatusPending,
		Items:           items,
	}
	if err := s.createOrder(ctx, order); err != nil {
		logOutcome(logger, "创建订单失败，回滚本次预留", err)
		if rbErr := s.rollback(ctx, reserved); rbErr != nil {
			return nil, errors.Join(err, rbErr)
		}
		return nil, err
	}

	logger.Info("订单创建成功",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("total_amount", order.TotalAmount.String()),
	)

	if err := s.events.PublishOrderCreated(ctx, order); err != nil {
		s.metrics.EventPublishFailed("order.created")
		logger.Error("发布订单创建事件失败", zap.Int64("order_id", order.ID), zap.Error(err))
	}
	return order, nil
}

// createOrder 分配唯一订单号并写入订单，订单号冲突时重新生成
func (s *checkoutService) createOrder(ctx context.Context, order *domain.Order) error {
	collided := false
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		number, err := s.numbers.next(ctx, collided)
		if err != nil {
			return err
		}
		order.OrderNumber = number
		order.CreatedAt = s.numbers.now()

		err = s.retry.do(ctx, "create_order", func() error {
			return s.store.InTx(ctx, func(tx repo.Tx) error {
				return tx.Orders().Create(ctx, order)
			})
		})
		if errors.Is(err, repo.ErrDuplicateOrderNumber) {
			s.logger.Debug("订单号冲突，重新生成", zap.String("order_number", number), zap.Int("attempt", attempt))
			collided = true
			continue
		}
		return err
	}
	return domain.Conflictf("could not allocate a unique order number after %d attempts", maxOrderNumberAttempts)
}

// rollback 释放已做的预留。使用不可取消的上下文，调用方超时也要完成补偿；释放失败的汇总返回。
func (s *checkoutService) rollback(ctx context.Context, reserved []reservation) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, r := range reserved {
		if _, err := s.ledger.Release(ctx, r.productID, r.quantity); err != nil {
			s.logger.Error("回滚预留失败，需要人工核对库存",
				zap.Int64("product_id", r.productID),
				zap.Int("quantity", r.quantity),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("rollback reservation of product %d: %w", r.productID, err))
		}
	}
	return errors.Join(errs...)
}

// CheckoutFromCart 用购物车内容结算，成功后清空购物车；清空失败只记录日志
func (s *checkoutService) CheckoutFromCart(ctx context.Context, userID int64, req *domain.CheckoutFromCartRequest) (*domain.Order, error) {
	if s.cart == nil {
		return nil, errors.New("cart collaborator is not configured")
	}
	if req == nil {
		return nil, domain.BadRequestf("checkout request is required")
	}
	if userID <= 0 {
		return nil, domain.BadRequestf("user ID is required")
	}

	items, err := s.cart.GetCartItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.BadRequestf("cart is empty")
	}

	order, err := s.Checkout(ctx, &domain.CheckoutRequest{
		UserID:          userID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		ShippingPhone:   req.ShippingPhone,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		return nil, err
	}

	if err := s.cart.ClearCart(ctx, userID); err != nil {
		s.logger.Warn("清空购物车失败",
			zap.Int64("user_id", userID),
			zap.Int64("order_id", order.ID),
			zap.Error(err),
		)
	}
	return order, nil
}
