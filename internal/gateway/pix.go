package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

// 网关返回的收款状态
const (
	ChargeStatusPending   = "pending"
	ChargeStatusPaid      = "paid"
	ChargeStatusExpired   = "expired"
	ChargeStatusCancelled = "cancelled"
)

// ChargeRequest 创建 PIX 收款请求
type ChargeRequest struct {
	OrderID     string `json:"order_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Network     string `json:"network"`
}

// Charge PIX 收款
type Charge struct {
	PaymentRef string    `json:"payment_ref"`
	PixCode    string    `json:"pix_code"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// ChargeStatus 收款状态
type ChargeStatus struct {
	Status         string `json:"status"`
	BlockchainTxID string `json:"blockchain_tx_id"`
}

// Confirmed 收款是否已确认（以链上交易 ID 为准）
func (s *ChargeStatus) Confirmed() bool {
	return s.BlockchainTxID != ""
}

// Closed 收款已过期或被取消，不会再确认
func (s *ChargeStatus) Closed() bool {
	return s.Status == ChargeStatusExpired || s.Status == ChargeStatusCancelled
}

// PixClient PIX 网关客户端
type PixClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  logger.Logger
}

// NewPixClient 创建 PIX 网关客户端
func NewPixClient(baseURL, token string, timeout time.Duration, log logger.Logger) *PixClient {
	return &PixClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

// CreateCharge 创建 PIX 收款，返回支付引用和复制粘贴码
func (c *PixClient) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if req.AmountCents <= 0 {
		return nil, errorutil.Validation("charge amount must be positive, got %d", req.AmountCents)
	}

	var charge Charge
	if err := doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/charges", c.header(), req, &charge); err != nil {
		c.logger.Errorf(ctx, "[PixGateway] Create charge failed: %v", err)
		return nil, err
	}
	if charge.PaymentRef == "" || charge.PixCode == "" {
		return nil, errorutil.NonRetriable(errorutil.KindProtocol, "gateway response missing payment_ref or pix_code")
	}

	c.logger.Infof(ctx, "[PixGateway] Charge created: ref=%s amount=%d", charge.PaymentRef, req.AmountCents)
	return &charge, nil
}

// GetStatus 查询收款状态
func (c *PixClient) GetStatus(ctx context.Context, paymentRef string) (*ChargeStatus, error) {
	if paymentRef == "" {
		return nil, errorutil.Validation("payment ref is empty")
	}

	var status ChargeStatus
	endpoint := c.baseURL + "/charges/" + url.PathEscape(paymentRef)
	if err := doJSON(ctx, c.client, http.MethodGet, endpoint, c.header(), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *PixClient) header() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}
