package domain

import (
	"slices"
	"strings"
)

// OrderStatus 订单生命周期状态
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusReturned   OrderStatus = "RETURNED"
)

// PaymentStatus 支付状态，只由状态迁移推导，调用方不能直接设置
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// AllOrderStatuses 全部状态，顺序固定
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusReturned,
}

// orderTransitions 状态迁移表：当前状态 -> 允许的目标状态。
// 终态没有出边。
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled, OrderStatusDelivered},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusDelivered},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusReturned},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
	OrderStatusReturned:   {},
}

// ParseOrderStatus 不区分大小写解析状态
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := orderTransitions[status]; !ok {
		return "", BadRequestf("invalid order status %q, valid statuses: %v", s, AllOrderStatuses)
	}
	return status, nil
}

// IsValid 是否为已知状态
func (s OrderStatus) IsValid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// IsTerminal 终态不允许再迁移
func (s OrderStatus) IsTerminal() bool {
	targets, ok := orderTransitions[s]
	return ok && len(targets) == 0
}

// AllowedTargets 返回允许的目标状态副本
func (s OrderStatus) AllowedTargets() []OrderStatus {
	return slices.Clone(orderTransitions[s])
}

// CanTransitionTo 查表判断迁移是否合法
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	return slices.Contains(orderTransitions[s], target)
}

// RequiresReason 进入取消/退货状态必须给出原因
func (s OrderStatus) RequiresReason() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

// HoldsReservation 该状态下订单的商品仍占用预留库存
func (s OrderStatus) HoldsReservation() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing || s == OrderStatusShipped
}
