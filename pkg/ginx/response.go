package ginx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"pixbridge/pkg/errorutil"
)

// CodeProcessing 订单仍在处理中（Smart Wait 超时）
const CodeProcessing = 3001

// Response 统一响应结构
type Response struct {
	Meta Meta        `json:"meta"`
	Data interface{} `json:"data,omitempty"`
}

// Meta 元数据
type Meta struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Kind    string        `json:"kind,omitempty"`
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Path string `json:"path"`
	Info string `json:"info"`
}

// ProcessingData Smart Wait 超时返回的数据
type ProcessingData struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	PollURL string `json:"poll_url"`
}

// Success 成功响应（200）
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Meta: Meta{Code: http.StatusOK, Message: "OK"},
		Data: data,
	})
}

// Created 创建成功（201）
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Meta: Meta{Code: http.StatusCreated, Message: "Created"},
		Data: data,
	})
}

// Error 错误响应
func Error(c *gin.Context, httpCode int, message string) {
	c.JSON(httpCode, Response{
		Meta: Meta{Code: httpCode, Message: message},
	})
}

// ErrorWithDetails 带详情的错误响应
func ErrorWithDetails(c *gin.Context, httpCode int, message string, details []ErrorDetail) {
	c.JSON(httpCode, Response{
		Meta: Meta{Code: httpCode, Message: message, Details: details},
	})
}

// ErrorWithData 错误响应，附带当前数据（如被拒绝事件后的订单快照）
func ErrorWithData(c *gin.Context, err *errorutil.Error, data interface{}) {
	code := StatusFor(err)
	c.JSON(code, Response{
		Meta: Meta{Code: code, Message: err.Message, Kind: string(err.Kind)},
		Data: data,
	})
}

// Processing 处理中响应（3001），用于 Smart Wait 超时场景
func Processing(c *gin.Context, orderID, status, pollURL string) {
	c.JSON(http.StatusOK, Response{
		Meta: Meta{Code: CodeProcessing, Message: "Order is still in progress, please poll for updates"},
		Data: ProcessingData{OrderID: orderID, Status: status, PollURL: pollURL},
	})
}

// BadRequest 400 错误
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

// BadRequestWithValidation 400 错误（带验证详情）
func BadRequestWithValidation(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		details := make([]ErrorDetail, 0, len(validationErrs))
		for _, fieldErr := range validationErrs {
			details = append(details, ErrorDetail{
				Path: fieldErr.Field(),
				Info: getValidationErrorMessage(fieldErr),
			})
		}
		ErrorWithDetails(c, http.StatusBadRequest, "Validation failed", details)
		return
	}

	BadRequest(c, err.Error())
}

// NotFound 404 错误
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, message)
}

// Unauthorized 401 错误
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message)
}

// InternalError 500 错误
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, message)
}

// StatusFor 错误分类到 HTTP 状态码
func StatusFor(err *errorutil.Error) int {
	if err == nil {
		return http.StatusOK
	}
	switch err.Kind {
	case errorutil.KindValidation:
		return http.StatusUnprocessableEntity
	case errorutil.KindNetwork, errorutil.KindTimeout:
		return http.StatusBadGateway
	case errorutil.KindRemoteBusiness, errorutil.KindProtocol, errorutil.KindSettlement:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// getValidationErrorMessage 根据验证错误类型返回友好的错误消息
func getValidationErrorMessage(fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required":
		return fieldErr.Field() + " is required"
	case "min":
		return fieldErr.Field() + " must be at least " + fieldErr.Param()
	case "max":
		return fieldErr.Field() + " must be at most " + fieldErr.Param()
	case "oneof":
		return fieldErr.Field() + " must be one of " + fieldErr.Param()
	default:
		return fieldErr.Field() + " is invalid"
	}
}
