package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/service"
)

// OrderHandler 顾客订单接口，只能访问自己的订单
type OrderHandler struct {
	orders    service.OrderQuery
	lifecycle service.OrderLifecycle
	logger    *zap.Logger
}

// NewOrderHandler 创建订单处理器
func NewOrderHandler(orders service.OrderQuery, lifecycle service.OrderLifecycle, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, lifecycle: lifecycle, logger: logger}
}

// ListMyOrders 当前用户的订单，按创建时间倒序
func (h *OrderHandler) ListMyOrders(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}
	orders, err := h.orders.ListByUser(c.Request.Context(), principal.UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, orders)
}

// GetMyOrder 查询当前用户的单个订单
func (h *OrderHandler) GetMyOrder(c *gin.Context) {
	order, ok := h.ownedOrder(c)
	if !ok {
		return
	}
	writeOK(c, order)
}

// CancelMyOrder 顾客取消订单
func (h *OrderHandler) CancelMyOrder(c *gin.Context) {
	h.transitionOwned(c, h.lifecycle.Cancel)
}

// ReturnMyOrder 顾客申请退货
func (h *OrderHandler) ReturnMyOrder(c *gin.Context) {
	h.transitionOwned(c, h.lifecycle.Return)
}

func (h *OrderHandler) transitionOwned(c *gin.Context, apply func(ctx context.Context, orderID int64, reason string) (*domain.Order, error)) {
	var req domain.ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}
	order, ok := h.ownedOrder(c)
	if !ok {
		return
	}

	updated, err := apply(c.Request.Context(), order.ID, req.Reason)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, updated)
}

// ownedOrder 读取订单并校验归属，他人订单按不存在处理
func (h *OrderHandler) ownedOrder(c *gin.Context) (*domain.Order, bool) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return nil, false
	}
	orderID, ok := parseIDParam(c, "orderID")
	if !ok {
		return nil, false
	}
	order, err := h.orders.GetForUser(c.Request.Context(), principal.UserID, orderID)
	if err != nil {
		writeError(c, h.logger, err)
		return nil, false
	}
	return order, true
}
