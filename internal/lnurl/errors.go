package lnurl

import (
	"fmt"

	"pixbridge/pkg/errorutil"
)

// Code 解析失败原因
type Code string

const (
	CodeInvalidFormat         Code = "INVALID_FORMAT"
	CodeAddressNotFound       Code = "ADDRESS_NOT_FOUND"
	CodeMissingField          Code = "MISSING_FIELD"
	CodeUnsupportedAddress    Code = "UNSUPPORTED_ADDRESS"
	CodeCallbackFailed        Code = "CALLBACK_FAILED"
	CodeRemoteError           Code = "REMOTE_ERROR"
	CodeNoInvoiceReturned     Code = "NO_INVOICE_RETURNED"
	CodeAmountOutOfRange      Code = "AMOUNT_OUT_OF_RANGE"
	CodeInvoiceAmountMismatch Code = "INVOICE_AMOUNT_MISMATCH"
	CodeMalformedResponse     Code = "MALFORMED_RESPONSE"
	CodeNetworkError          Code = "NETWORK_ERROR"
)

// ResolutionError 解析错误
type ResolutionError struct {
	Code   Code
	Field  string // MissingField
	Status int    // CallbackFailed / AddressNotFound
	Reason string // RemoteError 原文
	Err    error
}

func (e *ResolutionError) Error() string {
	switch e.Code {
	case CodeMissingField:
		return fmt.Sprintf("lnurl: missing field %q", e.Field)
	case CodeCallbackFailed:
		return fmt.Sprintf("lnurl: callback failed with status %d", e.Status)
	case CodeAddressNotFound:
		return fmt.Sprintf("lnurl: address not found (status %d)", e.Status)
	case CodeRemoteError:
		return fmt.Sprintf("lnurl: remote error: %s", e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("lnurl: %s: %v", e.Code, e.Err)
	}
	if e.Reason != "" {
		return fmt.Sprintf("lnurl: %s: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("lnurl: %s", e.Code)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Kind 映射到统一错误分类
func (e *ResolutionError) Kind() errorutil.Kind {
	switch e.Code {
	case CodeInvalidFormat, CodeAmountOutOfRange:
		return errorutil.KindValidation
	case CodeRemoteError:
		return errorutil.KindRemoteBusiness
	case CodeNetworkError:
		return errorutil.KindNetwork
	}
	return errorutil.KindProtocol
}

// Retryable 只有网络错误允许重试
func (e *ResolutionError) Retryable() bool {
	return e.Code == CodeNetworkError
}

func newErr(code Code) *ResolutionError {
	return &ResolutionError{Code: code}
}
