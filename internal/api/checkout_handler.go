package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/service"
)

// CheckoutHandler 结算接口
type CheckoutHandler struct {
	checkout service.CheckoutService
	logger   *zap.Logger
}

// NewCheckoutHandler 创建结算处理器
func NewCheckoutHandler(checkout service.CheckoutService, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, logger: logger}
}

// checkoutBody 请求体，用户ID取自访问令牌
type checkoutBody struct {
	Items           []domain.CheckoutItem `json:"items"`
	ShippingAddress string                `json:"shipping_address"`
	ShippingPhone   string                `json:"shipping_phone"`
	PaymentMethod   string                `json:"payment_method"`
}

// Checkout 直接按请求中的订单项下单
// @Summary 结算下单
// @Tags 结算
// @Accept json
// @Produce json
// @Param request body checkoutBody true "订单项与收货信息"
// @Success 201 {object} resp.Response "订单已创建"
// @Failure 400 {object} resp.Response "参数错误或库存不足"
// @Failure 503 {object} resp.Response "锁冲突，可重试"
// @Router /api/v1/checkout [post]
// @Security Bearer
func (h *CheckoutHandler) Checkout(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var body checkoutBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}

	order, err := h.checkout.Checkout(c.Request.Context(), &domain.CheckoutRequest{
		UserID:          principal.UserID,
		Items:           body.Items,
		ShippingAddress: body.ShippingAddress,
		ShippingPhone:   body.ShippingPhone,
		PaymentMethod:   body.PaymentMethod,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeCreated(c, order)
}

// CheckoutFromCart 用购物车内容下单
func (h *CheckoutHandler) CheckoutFromCart(c *gin.Context) {
	principal, ok := currentPrincipal(c)
	if !ok {
		return
	}
	var req domain.CheckoutFromCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}

	order, err := h.checkout.CheckoutFromCart(c.Request.Context(), principal.UserID, &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeCreated(c, order)
}
