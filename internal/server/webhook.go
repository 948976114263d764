package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"pixbridge/internal/gateway"
	"pixbridge/pkg/ginx"
)

// PixWebhookRequest 网关推送的收款状态
type PixWebhookRequest struct {
	PaymentRef     string `json:"payment_ref" binding:"required"`
	Status         string `json:"status" binding:"required"`
	BlockchainTxID string `json:"blockchain_tx_id"`
}

// PixWebhook 网关收款回调，与轮询结果等价，重复推送无副作用
// POST /api/v1/webhooks/pix
func (h *Handler) PixWebhook(c *gin.Context) {
	if h.webhookToken != "" {
		token := c.GetHeader("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookToken)) != 1 {
			ginx.Unauthorized(c, "invalid webhook token")
			return
		}
	}

	var req PixWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	status := gateway.ChargeStatus{Status: strings.ToLower(req.Status), BlockchainTxID: req.BlockchainTxID}
	if !status.Confirmed() {
		// 只处理确认；过期 / 取消由监控的轮询处理
		ginx.Success(c, gin.H{"result": "ignored"})
		return
	}

	out := h.orders.ConfirmByPaymentRef(c.Request.Context(), req.PaymentRef, req.BlockchainTxID)
	if out.Rejected {
		if out.Order == nil {
			ginx.NotFound(c, out.Err.Message)
			return
		}
		ginx.ErrorWithData(c, out.Err, FromOutcome(out))
		return
	}
	ginx.Success(c, FromOutcome(out))
}
