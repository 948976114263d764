package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Status 支付结果
type Status string

const (
	StatusPaid    Status = "PAID"
	StatusPending Status = "PENDING"
)

// Reason 支付失败原因
type Reason string

const (
	ReasonInsufficientBalance Reason = "INSUFFICIENT_BALANCE"
	ReasonInvoiceExpired      Reason = "INVOICE_EXPIRED"
	ReasonRoutingFailed       Reason = "ROUTING_FAILED"
	ReasonRejected            Reason = "REJECTED"
	ReasonUnknown             Reason = "UNKNOWN"
)

// Result 支付结果
type Result struct {
	Status      Status
	PaymentHash string
	FeeSats     int64
}

// SettlementError 支付失败
type SettlementError struct {
	Reason Reason
	Detail string
	Err    error
}

func (e *SettlementError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("settlement: %s: %s", e.Reason, e.Detail)
	}
	if e.Err != nil {
		return fmt.Sprintf("settlement: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("settlement: %s", e.Reason)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// Kind 映射到统一错误分类
func (e *SettlementError) Kind() errorutil.Kind {
	return errorutil.KindSettlement
}

// Retryable 支付永不自动重试，避免重复付款
func (e *SettlementError) Retryable() bool {
	return false
}

// Executor 闪电网络支付执行器（LNbits 兼容接口）
type Executor struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  logger.Logger
}

// NewExecutor 创建执行器
func NewExecutor(baseURL, apiKey string, timeout time.Duration, log logger.Logger) *Executor {
	return &Executor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

type payRequest struct {
	Out    bool   `json:"out"`
	Bolt11 string `json:"bolt11"`
}

type paymentResponse struct {
	Status        string `json:"status"`
	PaymentHash   string `json:"payment_hash"`
	FeeSats       int64  `json:"fee_sats"`
	FailureReason string `json:"failure_reason"`
	Detail        string `json:"detail"`
}

// Settle 支付 BOLT11 发票
// Pending 是结果而不是错误，调用方需要后续调用 Check
func (e *Executor) Settle(ctx context.Context, bolt11 string) (*Result, error) {
	if strings.TrimSpace(bolt11) == "" {
		return nil, &SettlementError{Reason: ReasonRejected, Detail: "empty invoice"}
	}

	body, _ := json.Marshal(payRequest{Out: true, Bolt11: bolt11})
	resp, err := e.do(ctx, http.MethodPost, e.baseURL+"/api/v1/payments", body)
	if err != nil {
		e.logger.Errorf(ctx, "[Settlement] Pay failed: %v", err)
		return nil, err
	}

	result, err := toResult(resp)
	if err != nil {
		e.logger.Warnf(ctx, "[Settlement] Payment rejected: %v", err)
		return nil, err
	}
	e.logger.Infof(ctx, "[Settlement] Payment %s: hash=%s fee=%d", result.Status, result.PaymentHash, result.FeeSats)
	return result, nil
}

// Check 查询已发起支付的状态
func (e *Executor) Check(ctx context.Context, paymentHash string) (*Result, error) {
	if paymentHash == "" {
		return nil, &SettlementError{Reason: ReasonUnknown, Detail: "empty payment hash"}
	}

	resp, err := e.do(ctx, http.MethodGet, e.baseURL+"/api/v1/payments/"+url.PathEscape(paymentHash), nil)
	if err != nil {
		return nil, err
	}
	if resp.PaymentHash == "" {
		resp.PaymentHash = paymentHash
	}
	return toResult(resp)
}

func (e *Executor) do(ctx context.Context, method, endpoint string, payload []byte) (*paymentResponse, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, &SettlementError{Reason: ReasonUnknown, Err: err}
	}
	req.Header.Set("X-Api-Key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		// 请求可能已经到达节点，结果未知
		return nil, &SettlementError{Reason: ReasonUnknown, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &SettlementError{Reason: ReasonUnknown, Err: err}
	}

	var pr paymentResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &pr); err != nil && resp.StatusCode < 400 {
			return nil, &SettlementError{Reason: ReasonUnknown, Detail: "malformed node response", Err: err}
		}
	}

	if resp.StatusCode >= 400 {
		detail := pr.FailureReason
		if detail == "" {
			detail = pr.Detail
		}
		if detail == "" {
			detail = fmt.Sprintf("status=%d", resp.StatusCode)
		}
		reason := classify(detail)
		if reason == ReasonUnknown && resp.StatusCode < 500 {
			reason = ReasonRejected
		}
		return nil, &SettlementError{Reason: reason, Detail: detail}
	}
	return &pr, nil
}

func toResult(pr *paymentResponse) (*Result, error) {
	switch strings.ToLower(pr.Status) {
	case "succeeded", "success", "complete", "paid":
		return &Result{Status: StatusPaid, PaymentHash: pr.PaymentHash, FeeSats: pr.FeeSats}, nil
	case "pending", "in_flight", "":
		if pr.PaymentHash == "" {
			return nil, &SettlementError{Reason: ReasonUnknown, Detail: "node returned no payment hash"}
		}
		return &Result{Status: StatusPending, PaymentHash: pr.PaymentHash}, nil
	case "failed":
		return nil, &SettlementError{Reason: classify(pr.FailureReason), Detail: pr.FailureReason}
	}
	return nil, &SettlementError{Reason: ReasonUnknown, Detail: "unexpected status " + pr.Status}
}

// classify 将节点返回的失败描述映射为失败原因
func classify(detail string) Reason {
	d := strings.ToLower(detail)
	switch {
	case strings.Contains(d, "insufficient"), strings.Contains(d, "balance"):
		return ReasonInsufficientBalance
	case strings.Contains(d, "expired"):
		return ReasonInvoiceExpired
	case strings.Contains(d, "route"), strings.Contains(d, "routing"), strings.Contains(d, "no path"):
		return ReasonRoutingFailed
	case strings.Contains(d, "invalid"), strings.Contains(d, "rejected"), strings.Contains(d, "already paid"):
		return ReasonRejected
	}
	return ReasonUnknown
}
