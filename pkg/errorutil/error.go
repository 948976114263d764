package errorutil

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind string

const (
	KindValidation     Kind = "VALIDATION"      // 本地校验失败，立即返回，不重试
	KindNetwork        Kind = "NETWORK"         // 网络抖动/超时，可重试
	KindProtocol       Kind = "PROTOCOL"        // 远端响应格式错误或缺字段
	KindRemoteBusiness Kind = "REMOTE_BUSINESS" // 远端明确返回的业务错误
	KindTimeout        Kind = "TIMEOUT"         // 有界等待超时
	KindSettlement     Kind = "SETTLEMENT"      // 拿到发票后支付失败
	KindInternal       Kind = "INTERNAL"
)

// Error 错误结构（包含可重试标记）
type Error struct {
	Code       int    `json:"code"`
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	DevDetails string `json:"dev_details,omitempty"`

	cause error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	return e.Message
}

// Unwrap 支持 errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.cause
}

// Kinded 组件边界错误需实现的接口（如 lnurl.ResolutionError）
type Kinded interface {
	error
	Kind() Kind
	Retryable() bool
}

// Retriable 创建可重试错误（网络错误、临时故障等）
func Retriable(kind Kind, message string) *Error {
	return &Error{
		Code:      500,
		Kind:      kind,
		Message:   message,
		Retryable: true,
	}
}

// RetriableWithCause 创建可重试错误（保留原始错误）
func RetriableWithCause(kind Kind, message string, cause error) *Error {
	e := Retriable(kind, message)
	e.cause = cause
	if cause != nil {
		e.DevDetails = cause.Error()
	}
	return e
}

// NonRetriable 创建不可重试错误（参数错误、业务规则错误等）
func NonRetriable(kind Kind, message string) *Error {
	return &Error{
		Code:      400,
		Kind:      kind,
		Message:   message,
		Retryable: false,
	}
}

// NonRetriableWithCause 创建不可重试错误（保留原始错误）
func NonRetriableWithCause(kind Kind, message string, cause error) *Error {
	e := NonRetriable(kind, message)
	e.cause = cause
	if cause != nil {
		e.DevDetails = cause.Error()
	}
	return e
}

// Validation 本地校验错误
func Validation(format string, args ...interface{}) *Error {
	return NonRetriable(KindValidation, fmt.Sprintf(format, args...))
}

// Wrap 包装错误
// 已分类的错误保留其分类，未知错误视为可重试的内部错误
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var k Kinded
	if errors.As(err, &k) {
		code := 400
		if k.Retryable() {
			code = 500
		}
		return &Error{
			Code:      code,
			Kind:      k.Kind(),
			Message:   err.Error(),
			Retryable: k.Retryable(),
			cause:     err,
		}
	}

	return &Error{
		Code:       500,
		Kind:       KindInternal,
		Message:    err.Error(),
		Retryable:  true,
		DevDetails: fmt.Sprintf("%+v", err),
		cause:      err,
	}
}

// KindOf 返回错误分类
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return Wrap(err).Kind
}

// IsRetryable 判断错误是否允许重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Wrap(err).Retryable
}
