package service

import (
	"context"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/repo"
)

// OrderQuery 订单只读查询
type OrderQuery interface {
	Get(ctx context.Context, orderID int64) (*domain.Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	// GetForUser 只返回属于该用户的订单，不属于时按不存在处理
	GetForUser(ctx context.Context, userID, orderID int64) (*domain.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]*domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error)
	List(ctx context.Context) ([]*domain.Order, error)
}

type orderQuery struct {
	orders repo.OrderRepository
}

// NewOrderQuery 创建订单查询服务
func NewOrderQuery(orders repo.OrderRepository) OrderQuery {
	return &orderQuery{orders: orders}
}

func (q *orderQuery) Get(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := q.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.NotFoundf("order %d not found", orderID)
	}
	return order, nil
}

func (q *orderQuery) GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	if orderNumber == "" {
		return nil, domain.BadRequestf("order number is required")
	}
	order, err := q.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.NotFoundf("order %s not found", orderNumber)
	}
	return order, nil
}

func (q *orderQuery) GetForUser(ctx context.Context, userID, orderID int64) (*domain.Order, error) {
	order, err := q.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domain.NotFoundf("order %d not found", orderID)
	}
	return order, nil
}

func (q *orderQuery) ListByUser(ctx context.Context, userID int64) ([]*domain.Order, error) {
	if userID <= 0 {
		return nil, domain.BadRequestf("user ID is required")
	}
	return q.orders.ListByUser(ctx, userID)
}

func (q *orderQuery) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	if !status.IsValid() {
		return nil, domain.BadRequestf("invalid order status %q", status)
	}
	return q.orders.ListByStatus(ctx, status)
}

func (q *orderQuery) List(ctx context.Context) ([]*domain.Order, error) {
	return q.orders.List(ctx)
}
