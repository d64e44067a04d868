package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MorseWayne/caseshop/internal/domain"
	"github.com/MorseWayne/caseshop/internal/metrics"
)

// outcome 将错误归类为指标结果标签
func outcome(err error) string {
	var insufficient *domain.InsufficientStockError
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.As(err, &insufficient):
		return metrics.ResultInsufficient
	case errors.Is(err, domain.ErrNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, domain.ErrTransientConflict), errors.Is(err, domain.ErrConflict):
		return metrics.ResultConflict
	case errors.Is(err, domain.ErrBadRequest):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}

// isBusinessError 业务拒绝（含可重试冲突），区别于基础设施故障
func isBusinessError(err error) bool {
	return errors.Is(err, domain.ErrBadRequest) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrTransientConflict) ||
		errors.Is(err, context.Canceled)
}

// logOutcome 业务拒绝记 Warn，基础设施故障记 Error
func logOutcome(logger *zap.Logger, msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if isBusinessError(err) {
		logger.Warn(msg, fields...)
		return
	}
	logger.Error(msg, fields...)
}
