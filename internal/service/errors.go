package service

import (
	"errors"
	"fmt"

	"estate-assist-go/internal/model"
)

var (
	// ErrValidation 表示请求内容不合法，对应 400。
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized 表示回调凭证缺失或不匹配，对应 401。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrPersistence 表示会话存储读写失败，对应 500。
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError 指出哪个字段不合法。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// PersistenceError 包装存储层错误，Op 说明失败的操作。
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// checkIDLength 拒绝超过存储上限的 ID。
func checkIDLength(field, id string) error {
	if len(id) > model.MaxIDLength {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %d characters", model.MaxIDLength)}
	}
	return nil
}
