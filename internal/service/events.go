package service

import (
	"context"

	"github.com/MorseWayne/caseshop/internal/domain"
)

// OrderEventPublisher 订单事件发布，供支付与统计等外部协作方订阅。
// 事件在事务提交后发布，发布失败不影响已提交的业务结果。
type OrderEventPublisher interface {
	PublishOrderCreated(ctx context.Context, order *domain.Order) error
	PublishOrderStatusChanged(ctx context.Context, order *domain.Order, from domain.OrderStatus) error
}

// NopEventPublisher 不发布任何事件
type NopEventPublisher struct{}

func (NopEventPublisher) PublishOrderCreated(context.Context, *domain.Order) error {
	return nil
}

func (NopEventPublisher) PublishOrderStatusChanged(context.Context, *domain.Order, domain.OrderStatus) error {
	return nil
}
