package domain

import (
	"errors"
	"fmt"
)

// 业务错误分类。基础设施错误不归入以下任何一类。
var (
	ErrBadRequest        = errors.New("bad request")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrTransientConflict = errors.New("transient lock conflict")
)

// BadRequestf 构造输入错误
func BadRequestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadRequest, fmt.Sprintf(format, args...))
}

// NotFoundf 构造资源不存在错误
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf 构造业务冲突错误
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// InsufficientStockError 库存不足，属于 BadRequest 的子类，不可重试
type InsufficientStockError struct {
	ProductID int64
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: available %d, requested %d",
		e.ProductID, e.Available, e.Requested)
}

// Is 使 errors.Is(err, ErrBadRequest) 成立
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrBadRequest
}

// InvalidTransitionError 非法状态迁移，属于 Conflict 的子类
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.From.IsTerminal() {
		return fmt.Sprintf("invalid transition: order is already %s, cannot move to %s", e.From, e.To)
	}
	return fmt.Sprintf("invalid transition from %s to %s, allowed: %v", e.From, e.To, e.From.AllowedTargets())
}

// Is 使 errors.Is(err, ErrConflict) 成立
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrConflict
}

// TransientConflictError 锁冲突重试耗尽，调用方可重新提交
type TransientConflictError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientConflictError) Error() string {
	return fmt.Sprintf("%s: lock conflict after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientConflictError) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, ErrTransientConflict) 成立
func (e *TransientConflictError) Is(target error) bool {
	return target == ErrTransientConflict
}
