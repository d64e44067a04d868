package mq

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MorseWayne/caseshop/internal/domain"
)

// 订单事件路由键
const (
	RoutingKeyOrderCreated       = "order.created"
	RoutingKeyOrderStatusChanged = "order.status_changed"
)

// OrderEventItem 事件中的订单项
type OrderEventItem struct {
	ProductID *int64          `json:"product_id,omitempty"`
	DesignID  *int64          `json:"design_id,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// OrderEvent 订单事件消息体
type OrderEvent struct {
	EventID       string               `json:"event_id"`
	Type          string               `json:"type"`
	OccurredAt    time.Time            `json:"occurred_at"`
	OrderID       int64                `json:"order_id"`
	OrderNumber   string               `json:"order_number"`
	UserID        int64                `json:"user_id"`
	Status        domain.OrderStatus   `json:"status"`
	PreviousState domain.OrderStatus   `json:"previous_status,omitempty"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	PaymentMethod string               `json:"payment_method"`
	TotalAmount   decimal.Decimal      `json:"total_amount"`
	Reason        string               `json:"reason,omitempty"`
	Items         []OrderEventItem     `json:"items,omitempty"`
}

// NewOrderEvent 根据订单快照构造事件
func NewOrderEvent(eventType string, order *domain.Order, from domain.OrderStatus, now time.Time) *OrderEvent {
	event := &OrderEvent{
		EventID:       uuid.NewString(),
		Type:          eventType,
		OccurredAt:    now.UTC(),
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        order.Status,
		PreviousState: from,
		PaymentStatus: order.PaymentStatus,
		PaymentMethod: order.PaymentMethod,
		TotalAmount:   order.TotalAmount,
	}
	switch order.Status {
	case domain.OrderStatusCancelled:
		event.Reason = order.CancellationReason
	case domain.OrderStatusReturned:
		event.Reason = order.ReturnReason
	}
	if eventType == RoutingKeyOrderCreated {
		event.Items = make([]OrderEventItem, 0, len(order.Items))
		for _, item := range order.Items {
			event.Items = append(event.Items, OrderEventItem{
				ProductID: item.ProductID,
				DesignID:  item.DesignID,
				Quantity:  item.Quantity,
				Price:     item.Price,
			})
		}
	}
	return event
}

// jsonPublisher 发布 JSON 消息的最小接口，由 Producer 实现
type jsonPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, data any, options *PublishOptions) error
}

// OrderEventPublisher 把订单事件发布到交换机
type OrderEventPublisher struct {
	producer jsonPublisher
	now      func() time.Time
}

// NewOrderEventPublisher 创建订单事件发布器
func NewOrderEventPublisher(producer *Producer) *OrderEventPublisher {
	return &OrderEventPublisher{producer: producer, now: time.Now}
}

// PublishOrderCreated 发布订单创建事件
func (p *OrderEventPublisher) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	return p.publish(ctx, NewOrderEvent(RoutingKeyOrderCreated, order, "", p.now()))
}

// PublishOrderStatusChanged 发布订单状态变更事件
func (p *OrderEventPublisher) PublishOrderStatusChanged(ctx context.Context, order *domain.Order, from domain.OrderStatus) error {
	return p.publish(ctx, NewOrderEvent(RoutingKeyOrderStatusChanged, order, from, p.now()))
}

func (p *OrderEventPublisher) publish(ctx context.Context, event *OrderEvent) error {
	return p.producer.PublishJSON(ctx, event.Type, event, &PublishOptions{
		MessageID: event.EventID,
		Type:      event.Type,
		Timestamp: event.OccurredAt,
	})
}
