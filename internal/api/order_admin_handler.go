package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/service"
)

// OrderAdminHandler 管理端订单接口
type OrderAdminHandler struct {
	lifecycle service.OrderLifecycle
	orders    service.OrderQuery
	logger    *zap.Logger
}

// NewOrderAdminHandler 创建管理端订单处理器
func NewOrderAdminHandler(lifecycle service.OrderLifecycle, orders service.OrderQuery, logger *zap.Logger) *OrderAdminHandler {
	return &OrderAdminHandler{lifecycle: lifecycle, orders: orders, logger: logger}
}

// UpdateStatus 强制迁移订单状态
// @Summary 更新订单状态
// @Description 按状态机迁移订单，取消与退货必须填写原因
// @Tags 订单管理
// @Accept json
// @Produce json
// @Param orderID path int true "订单ID"
// @Param request body domain.TransitionRequest true "目标状态"
// @Success 200 {object} resp.Response "成功"
// @Failure 400 {object} resp.Response "状态非法或缺少原因"
// @Failure 404 {object} resp.Response "订单不存在"
// @Failure 409 {object} resp.Response "非法的状态迁移"
// @Router /api/v1/admin/orders/{orderID}/status [post]
// @Security Bearer
func (h *OrderAdminHandler) UpdateStatus(c *gin.Context) {
	orderID, ok := parseIDParam(c, "orderID")
	if !ok {
		return
	}
	var req domain.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}
	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	order, err := h.lifecycle.Transition(c.Request.Context(), orderID, target, req.Reason)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, order)
}

// GetOrder 查询任意订单
func (h *OrderAdminHandler) GetOrder(c *gin.Context) {
	orderID, ok := parseIDParam(c, "orderID")
	if !ok {
		return
	}
	order, err := h.orders.Get(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, order)
}

// ListOrders 列出订单，可按 status 或 number 过滤
func (h *OrderAdminHandler) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()

	if number := strings.TrimSpace(c.Query("number")); number != "" {
		order, err := h.orders.GetByNumber(ctx, number)
		if err != nil {
			writeError(c, h.logger, err)
			return
		}
		writeOK(c, []*domain.Order{order})
		return
	}

	var (
		orders []*domain.Order
		err    error
	)
	if raw := c.Query("status"); raw != "" {
		status, perr := domain.ParseOrderStatus(raw)
		if perr != nil {
			writeError(c, h.logger, perr)
			return
		}
		orders, err = h.orders.ListByStatus(ctx, status)
	} else {
		orders, err = h.orders.List(ctx)
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, orders)
}
