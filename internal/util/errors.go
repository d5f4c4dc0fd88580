package util

import (
	"errors"
	"fmt"
)

// ErrorKind 领域错误分类，由 controller 层映射为 HTTP 状态码
type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindConflict
	KindValidation
	KindTransient
)

// DomainError 携带分类信息的业务错误
type DomainError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

func NotFoundError(format string, args ...interface{}) error {
	return &DomainError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func ConflictError(format string, args ...interface{}) error {
	return &DomainError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func ValidationError(format string, args ...interface{}) error {
	return &DomainError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func TransientError(err error, format string, args ...interface{}) error {
	return &DomainError{Kind: KindTransient, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf 返回错误的分类，非 DomainError 返回 0
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsValidation(err error) bool { return KindOf(err) == KindValidation }
