// Package domain 定义库存账本与订单生命周期的领域模型和核心业务规则。
package domain

import "time"

// DefaultReorderLevel 新建库存记录时的默认补货提醒线
const DefaultReorderLevel = 10

// StockRecord 表示单个商品的库存账本记录，商品ID唯一
type StockRecord struct {
	ProductID    int64     `json:"product_id"`
	Total        int       `json:"total"`         // 实物库存
	Reserved     int       `json:"reserved"`      // 已预留未扣减
	ReorderLevel int       `json:"reorder_level"` // 低库存报表阈值
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewStockRecord 创建一条未预留任何库存的新记录
func NewStockRecord(productID int64, total int) *StockRecord {
	return &StockRecord{
		ProductID:    productID,
		Total:        total,
		Reserved:     0,
		ReorderLevel: DefaultReorderLevel,
	}
}

// Available 返回当前可售数量 total - reserved
func (s *StockRecord) Available() int {
	return s.Total - s.Reserved
}

// IsLowStock 可售数量低于补货线即为低库存
func (s *StockRecord) IsLowStock() bool {
	return s.Available() < s.ReorderLevel
}

// Reserve 预留库存，可售不足时返回 InsufficientStockError
func (s *StockRecord) Reserve(quantity int) error {
	if quantity <= 0 {
		return BadRequestf("quantity must be greater than 0")
	}
	if s.Available() < quantity {
		return &InsufficientStockError{ProductID: s.ProductID, Available: s.Available(), Requested: quantity}
	}
	s.Reserved += quantity
	return nil
}

// Release 释放预留，最多释放到0为止。
// 返回值表示是否触发了下限截断（调用方记账有误）。
func (s *StockRecord) Release(quantity int) (floored bool, err error) {
	if quantity <= 0 {
		return false, BadRequestf("quantity must be greater than 0")
	}
	if quantity > s.Reserved {
		s.Reserved = 0
		return true, nil
	}
	s.Reserved -= quantity
	return false, nil
}

// Deduct 将预留转为永久扣减：total 与 reserved 同时减少 quantity，reserved 不低于0。
// 未被预留覆盖的部分必须来自可售库存。
func (s *StockRecord) Deduct(quantity int) (floored bool, err error) {
	if quantity <= 0 {
		return false, BadRequestf("quantity must be greater than 0")
	}
	covered := min(s.Reserved, quantity)
	if quantity-covered > s.Available() {
		return false, &InsufficientStockError{ProductID: s.ProductID, Available: s.Available(), Requested: quantity}
	}
	s.Total -= quantity
	if quantity > s.Reserved {
		s.Reserved = 0
		floored = true
	} else {
		s.Reserved -= quantity
	}
	return floored, nil
}

// SetTotal 设置绝对库存数量，不允许低于已预留数量
func (s *StockRecord) SetTotal(quantity int) error {
	if quantity < 0 {
		return BadRequestf("quantity must be non-negative, got %d", quantity)
	}
	if quantity < s.Reserved {
		return BadRequestf("quantity %d is below reserved stock %d", quantity, s.Reserved)
	}
	s.Total = quantity
	return nil
}

// LowStockReport 低库存报表项
type LowStockReport struct {
	ProductID    int64 `json:"product_id"`
	Total        int   `json:"total"`
	Reserved     int   `json:"reserved"`
	Available    int   `json:"available"`
	ReorderLevel int   `json:"reorder_level"`
	Shortage     int   `json:"shortage"` // 距补货线的差额
}

// NewLowStockReport 根据库存记录生成报表项
func NewLowStockReport(s *StockRecord) *LowStockReport {
	return &LowStockReport{
		ProductID:    s.ProductID,
		Total:        s.Total,
		Reserved:     s.Reserved,
		Available:    s.Available(),
		ReorderLevel: s.ReorderLevel,
		Shortage:     s.ReorderLevel - s.Available(),
	}
}

// SetStockRequest 表示设置绝对库存请求
type SetStockRequest struct {
	Quantity int `json:"quantity"`
}
