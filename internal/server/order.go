package server

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pixbridge/internal/dispatcher"
	"pixbridge/pkg/ginx"
	"pixbridge/pkg/logger"
)

// CreateOrderRequest 购买意图
type CreateOrderRequest struct {
	ChatRef string `json:"chat_ref" binding:"required,max=128"`
}

// OrderEventRequest 订单事件，只接受外部事件类型
type OrderEventRequest struct {
	Type  string `json:"type" binding:"required,oneof=CurrencySelected NetworkSelected AmountEntered PaymentMethodSelected DestinationProvided Cancel"`
	Value string `json:"value" binding:"max=2048"`
}

// CreateOrder 创建订单
// POST /api/v1/orders
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	out := h.orders.Start(c.Request.Context(), req.ChatRef)
	if out.Rejected {
		ginx.ErrorWithData(c, out.Err, FromOutcome(out))
		return
	}
	ginx.Created(c, FromOutcome(out))
}

// PostEvent 提交订单事件
// POST /api/v1/orders/:id/events
func (h *Handler) PostEvent(c *gin.Context) {
	orderID := c.Param("id")

	var req OrderEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ginx.BadRequestWithValidation(c, err)
		return
	}

	out := h.orders.Apply(c.Request.Context(), dispatcher.Event{
		OrderID: orderID,
		Type:    dispatcher.EventType(req.Type),
		Value:   req.Value,
		Source:  dispatcher.SourceUser,
	})
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

// GetOrder 查询订单
// GET /api/v1/orders/:id?wait=10
// wait > 0 且订单未结束时，等待下一次状态变更（Smart Wait），超时仍无变化返回 3001
// 订阅建立后和超时后都会与首次查询的状态比较，订阅前或通知丢失的变更不会被漏掉
func (h *Handler) GetOrder(c *gin.Context) {
	ctx := logger.WithOrderID(c.Request.Context(), c.Param("id"))
	orderID := c.Param("id")

	order, err := h.orders.Lookup(ctx, orderID)
	if err != nil {
		ginx.NotFound(c, "order not found")
		return
	}

	wait := parseWait(c.Query("wait"))
	if wait <= 0 || h.waiter == nil || order.Status.IsTerminal() {
		ginx.Success(c, FromOrder(order))
		return
	}

	before := order.Status
	changed := func() bool {
		cur, err := h.orders.Lookup(ctx, orderID)
		return err == nil && cur.Status != before
	}

	if _, err := h.waiter.WaitStatus(ctx, orderID, wait, changed); err != nil {
		h.logger.Debugf(ctx, "[Server] wait status ended: %v", err)
		if cur, lerr := h.orders.Lookup(ctx, orderID); lerr == nil {
			if cur.Status != before {
				ginx.Success(c, FromOrder(cur))
				return
			}
			order = cur
		}
		ginx.Processing(c, orderID, string(order.Status), fmt.Sprintf("/api/v1/orders/%s", orderID))
		return
	}

	if order, err = h.orders.Lookup(ctx, orderID); err != nil {
		ginx.NotFound(c, "order not found")
		return
	}
	ginx.Success(c, FromOrder(order))
}

func parseWait(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	sec, err := strconv.Atoi(raw)
	if err != nil || sec <= 0 {
		return 0
	}
	wait := time.Duration(sec) * time.Second
	if wait > maxWait {
		wait = maxWait
	}
	return wait
}
