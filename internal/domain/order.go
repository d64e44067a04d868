package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPaymentMethod 未指定支付方式时使用货到付款
const DefaultPaymentMethod = "COD"

// Order 订单聚合根，包含有序的订单项。创建后只能通过生命周期控制器修改，不做物理删除。
type Order struct {
	ID                 int64           `json:"id"`
	OrderNumber        string          `json:"order_number"`
	UserID             int64           `json:"user_id"`
	Status             OrderStatus     `json:"status"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	ShippingAddress    string          `json:"shipping_address"`
	ShippingPhone      string          `json:"shipping_phone"`
	PaymentMethod      string          `json:"payment_method"`
	PaymentStatus      PaymentStatus   `json:"payment_status"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	ReturnReason       string          `json:"return_reason,omitempty"`
	ShippingDate       *time.Time      `json:"shipping_date,omitempty"`
	DeliveryDate       *time.Time      `json:"delivery_date,omitempty"`
	Items              []*OrderItem    `json:"items"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// OrderItem 订单项，ProductID 与 DesignID 必须且只能设置一个
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID *int64          `json:"product_id,omitempty"`
	DesignID  *int64          `json:"design_id,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// IsStocked 引用商品的订单项占用共享库存，定制设计不占用
func (i *OrderItem) IsStocked() bool {
	return i.ProductID != nil
}

// Validate 校验订单项
func (i *OrderItem) Validate() error {
	if (i.ProductID == nil) == (i.DesignID == nil) {
		return BadRequestf("order item must have exactly one of product ID or design ID")
	}
	if i.Quantity <= 0 {
		return BadRequestf("order item quantity must be greater than 0")
	}
	return ValidateAmount("order item price", i.Price)
}

// Clone 深拷贝，仓储返回副本避免共享可变状态
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.ShippingDate != nil {
		t := *o.ShippingDate
		c.ShippingDate = &t
	}
	if o.DeliveryDate != nil {
		t := *o.DeliveryDate
		c.DeliveryDate = &t
	}
	c.Items = make([]*OrderItem, len(o.Items))
	for idx, item := range o.Items {
		it := *item
		c.Items[idx] = &it
	}
	return &c
}

// StockedQuantities 按商品汇总订单占用的库存数量
func (o *Order) StockedQuantities() map[int64]int {
	result := make(map[int64]int)
	for _, item := range o.Items {
		if item.IsStocked() {
			result[*item.ProductID] += item.Quantity
		}
	}
	return result
}

// ApplyTransition 执行状态迁移及其在订单上的副作用（不含库存副作用）。
// 调用前必须已通过 CanTransitionTo 与原因校验。
func (o *Order) ApplyTransition(target OrderStatus, reason string, now time.Time) {
	o.Status = target
	o.UpdatedAt = now
	switch target {
	case OrderStatusCancelled:
		o.CancellationReason = reason
		o.PaymentStatus = PaymentStatusRefunded
	case OrderStatusReturned:
		o.ReturnReason = reason
		o.PaymentStatus = PaymentStatusRefunded
	case OrderStatusShipped:
		if o.ShippingDate == nil {
			o.ShippingDate = &now
		}
	case OrderStatusDelivered:
		if o.DeliveryDate == nil {
			o.DeliveryDate = &now
		}
		o.PaymentStatus = PaymentStatusPaid
	}
}

// CheckoutItem 结算时的订单行输入
type CheckoutItem struct {
	ProductID *int64          `json:"product_id,omitempty"`
	DesignID  *int64          `json:"design_id,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// CheckoutRequest 结算请求
type CheckoutRequest struct {
	UserID          int64          `json:"user_id"`
	Items           []CheckoutItem `json:"items"`
	ShippingAddress string         `json:"shipping_address"`
	ShippingPhone   string         `json:"shipping_phone"`
	PaymentMethod   string         `json:"payment_method"`
}

// Validate 校验结算请求，返回构建好的订单项与总金额
func (r *CheckoutRequest) Validate() ([]*OrderItem, decimal.Decimal, error) {
	zero := decimal.Zero
	if r.UserID <= 0 {
		return nil, zero, BadRequestf("user ID is required")
	}
	if len(r.Items) == 0 {
		return nil, zero, BadRequestf("order must contain at least one item")
	}
	if strings.TrimSpace(r.ShippingAddress) == "" {
		return nil, zero, BadRequestf("shipping address is required")
	}
	if strings.TrimSpace(r.ShippingPhone) == "" {
		return nil, zero, BadRequestf("shipping phone is required")
	}

	items := make([]*OrderItem, 0, len(r.Items))
	total := decimal.Zero
	for _, in := range r.Items {
		item := &OrderItem{
			ProductID: in.ProductID,
			DesignID:  in.DesignID,
			Quantity:  in.Quantity,
			Price:     in.Price,
		}
		if err := item.Validate(); err != nil {
			return nil, zero, err
		}
		// subtotal = price × quantity
		item.Subtotal = in.Price.Mul(decimal.NewFromInt(int64(in.Quantity)))
		if err := ValidateAmount("order item subtotal", item.Subtotal); err != nil {
			return nil, zero, err
		}
		total = total.Add(item.Subtotal)
		items = append(items, item)
	}
	if !total.IsPositive() {
		return nil, zero, BadRequestf("total amount must be greater than 0")
	}
	if err := ValidateAmount("total amount", total); err != nil {
		return nil, zero, err
	}
	return items, total, nil
}

// TransitionRequest 管理端强制迁移请求
type TransitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// ReasonRequest 取消/退货请求
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// CheckoutFromCartRequest 从购物车结算的请求
type CheckoutFromCartRequest struct {
	ShippingAddress string `json:"shipping_address"`
	ShippingPhone   string `json:"shipping_phone"`
	PaymentMethod   string `json:"payment_method"`
}
