package api

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/service"
)

// StockHandler 管理端库存接口
type StockHandler struct {
	ledger service.StockLedger
	logger *zap.Logger
}

// NewStockHandler 创建库存处理器
func NewStockHandler(ledger service.StockLedger, logger *zap.Logger) *StockHandler {
	return &StockHandler{ledger: ledger, logger: logger}
}

// GetStock 查询单个商品库存
// @Summary 查询库存
// @Tags 库存管理
// @Produce json
// @Param productID path int true "商品ID"
// @Success 200 {object} resp.Response "成功"
// @Failure 404 {object} resp.Response "库存记录不存在"
// @Router /api/v1/admin/stock/{productID} [get]
// @Security Bearer
func (h *StockHandler) GetStock(c *gin.Context) {
	productID, ok := parseIDParam(c, "productID")
	if !ok {
		return
	}
	record, err := h.ledger.Get(c.Request.Context(), productID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, stockView(record))
}

// SetStock 设置绝对库存，记录不存在时创建
// @Summary 设置库存
// @Tags 库存管理
// @Accept json
// @Produce json
// @Param productID path int true "商品ID"
// @Param request body domain.SetStockRequest true "目标库存"
// @Success 200 {object} resp.Response "成功"
// @Failure 400 {object} resp.Response "数量非法或低于已预留数量"
// @Failure 503 {object} resp.Response "锁冲突，可重试"
// @Router /api/v1/admin/stock/{productID} [put]
// @Security Bearer
func (h *StockHandler) SetStock(c *gin.Context) {
	productID, ok := parseIDParam(c, "productID")
	if !ok {
		return
	}
	var req domain.SetStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c, "invalid request body")
		return
	}

	record, err := h.ledger.SetTotal(c.Request.Context(), productID, req.Quantity)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("库存已设置",
		zap.Int64("product_id", productID),
		zap.Int("total", record.Total),
		zap.String("request_id", getRequestID(c)))
	writeOK(c, stockView(record))
}

// RemoveStock 删除库存记录，存在预留时拒绝
func (h *StockHandler) RemoveStock(c *gin.Context) {
	productID, ok := parseIDParam(c, "productID")
	if !ok {
		return
	}
	if err := h.ledger.Remove(c.Request.Context(), productID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.logger.Info("库存记录已删除", zap.Int64("product_id", productID), zap.String("request_id", getRequestID(c)))
	writeOK(c, nil)
}

// AvailabilityView 可售检查结果
type AvailabilityView struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	Available bool  `json:"available"`
}

// CheckAvailability 检查可售数量是否满足 quantity，库存记录不存在时视为不可售
// @Summary 可售检查
// @Tags 库存管理
// @Produce json
// @Param productID path int true "商品ID"
// @Param quantity query int true "需求数量"
// @Success 200 {object} resp.Response "成功"
// @Failure 400 {object} resp.Response "数量非法"
// @Router /api/v1/admin/stock/{productID}/check [get]
// @Security Bearer
func (h *StockHandler) CheckAvailability(c *gin.Context) {
	productID, ok := parseIDParam(c, "productID")
	if !ok {
		return
	}
	quantity, err := strconv.Atoi(c.Query("quantity"))
	if err != nil {
		writeBadRequest(c, "quantity must be an integer")
		return
	}
	available, err := h.ledger.CheckAvailability(c.Request.Context(), productID, quantity)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, &AvailabilityView{ProductID: productID, Quantity: quantity, Available: available})
}

// ListStock 列出全部库存
func (h *StockHandler) ListStock(c *gin.Context) {
	records, err := h.ledger.List(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	views := make([]*StockView, 0, len(records))
	for _, r := range records {
		views = append(views, stockView(r))
	}
	writeOK(c, views)
}

// ListLowStock 低库存报表
func (h *StockHandler) ListLowStock(c *gin.Context) {
	reports, err := h.ledger.ListLowStock(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	writeOK(c, reports)
}

// StockView 库存响应，附带可用量
type StockView struct {
	*domain.StockRecord
	Available int `json:"available"`
}

func stockView(r *domain.StockRecord) *StockView {
	return &StockView{StockRecord: r, Available: r.Available()}
}
