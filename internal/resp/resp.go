// Package resp 定义统一的 JSON 响应结构与业务错误码。
package resp

import (
	"encoding/json"
	"net/http"
)

// 业务错误码
const (
	CodeOK                = 0
	CodeInvalidParam      = 10001
	CodeUnauthorized      = 10002
	CodeForbidden         = 10003
	CodeNotFound          = 10004
	CodeConflict          = 10005
	CodeInsufficientStock = 10006
	CodeTooManyRequests   = 10007
	CodeTimeout           = 10008
	CodeTransientConflict = 10009
	CodeInternalError     = 50000
)

// Response 统一响应结构
type Response struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteJSON 以指定状态码写出 JSON
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// OK 写出成功响应
func OK(w http.ResponseWriter, data any, requestID, traceID string) {
	WriteJSON(w, http.StatusOK, Response{
		Code:      CodeOK,
		Message:   "ok",
		Data:      data,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// Error 写出错误响应
func Error(w http.ResponseWriter, status, code int, message, requestID, traceID string) {
	WriteJSON(w, status, Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		TraceID:   traceID,
	})
}

// HTTPStatusFromCode 业务码到 HTTP 状态码的默认映射
func HTTPStatusFromCode(code int) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam, CodeInsufficientStock:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeTransientConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
