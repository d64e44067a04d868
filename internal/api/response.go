// Package api 提供库存管理、订单管理与结算的 HTTP 处理器
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/middleware"
	"github.com/MorseWayne/caseshop/internal/resp"
)

// getRequestID 获取请求ID
func getRequestID(c *gin.Context) string {
	return middleware.RequestIDFromContext(c.Request.Context())
}

func writeOK(c *gin.Context, data any) {
	resp.OK(c.Writer, data, getRequestID(c), "")
}

func writeCreated(c *gin.Context, data any) {
	resp.WriteJSON(c.Writer, http.StatusCreated, resp.Response{
		Code:      resp.CodeOK,
		Message:   "created",
		Data:      data,
		RequestID: getRequestID(c),
	})
}

func writeBadRequest(c *gin.Context, message string) {
	resp.Error(c.Writer, http.StatusBadRequest, resp.CodeInvalidParam, message, getRequestID(c), "")
}

// writeError 按错误分类写出响应；未分类的错误一律视为内部错误，不向客户端暴露细节
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	reqID := getRequestID(c)

	var insufficient *domain.InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		resp.Error(c.Writer, http.StatusBadRequest, resp.CodeInsufficientStock, err.Error(), reqID, "")
	case errors.Is(err, domain.ErrBadRequest):
		resp.Error(c.Writer, http.StatusBadRequest, resp.CodeInvalidParam, err.Error(), reqID, "")
	case errors.Is(err, domain.ErrNotFound):
		resp.Error(c.Writer, http.StatusNotFound, resp.CodeNotFound, err.Error(), reqID, "")
	case errors.Is(err, domain.ErrConflict):
		resp.Error(c.Writer, http.StatusConflict, resp.CodeConflict, err.Error(), reqID, "")
	case errors.Is(err, domain.ErrTransientConflict):
		c.Header("Retry-After", "1")
		resp.Error(c.Writer, http.StatusServiceUnavailable, resp.CodeTransientConflict,
			"resource is busy, please retry", reqID, "")
	case errors.Is(err, context.DeadlineExceeded):
		resp.Error(c.Writer, resp.HTTPStatusFromCode(resp.CodeTimeout), resp.CodeTimeout, "request timeout", reqID, "")
	default:
		logger.Error("request failed",
			zap.String("request_id", reqID),
			zap.String("route", c.FullPath()),
			zap.Error(err))
		resp.Error(c.Writer, http.StatusInternalServerError, resp.CodeInternalError, "internal server error", reqID, "")
	}
}

// parseIDParam 解析正整数路径参数
func parseIDParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		writeBadRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// currentPrincipal 获取当前调用者，由认证中间件保证非空
func currentPrincipal(c *gin.Context) (*domain.Principal, bool) {
	p := middleware.PrincipalFromContext(c.Request.Context())
	if p == nil {
		resp.Error(c.Writer, http.StatusUnauthorized, resp.CodeUnauthorized, "authentication required", getRequestID(c), "")
		return nil, false
	}
	return p, true
}
