package ingress

import (
	"context"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"pixbridge/internal/dispatcher"
	"pixbridge/pkg/errorutil"
)

// OrderDispatcher 订单调度器
type OrderDispatcher interface {
	Start(ctx context.Context, chatRef string) dispatcher.Outcome
	Apply(ctx context.Context, ev dispatcher.Event) dispatcher.Outcome
}

// HandlerFunc 业务处理函数，返回 error 时由 GetProcess 决定 Release 还是 Bury
type HandlerFunc func(ctx context.Context, d OrderDispatcher, meta *Meta, data json.RawMessage) (*dispatcher.Outcome, error)

// HandlerMap 路由表（ActionType → Handler）
var HandlerMap = map[string]HandlerFunc{
	"order_start": handleOrderStart,
	"order_event": handleOrderEvent,
}

var validate = validator.New()

type orderStartData struct {
	ChatRef string `json:"chat_ref" validate:"required,max=128"`
}

type orderEventData struct {
	OrderID string `json:"order_id"`
	Type    string `json:"type" validate:"required"`
	Value   string `json:"value" validate:"max=2048"`
}

// handleOrderStart 购买意图
func handleOrderStart(ctx context.Context, d OrderDispatcher, meta *Meta, data json.RawMessage) (*dispatcher.Outcome, error) {
	var in orderStartData
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	out := d.Start(ctx, in.ChatRef)
	return &out, nil
}

// handleOrderEvent 聊天层提交的订单事件，只接受外部事件类型
func handleOrderEvent(ctx context.Context, d OrderDispatcher, meta *Meta, data json.RawMessage) (*dispatcher.Outcome, error) {
	var in orderEventData
	if err := decode(data, &in); err != nil {
		return nil, err
	}
	orderID := in.OrderID
	if orderID == "" {
		orderID = meta.ID
	}
	if orderID == "" {
		return nil, errorutil.Validation("order id is required")
	}

	typ := dispatcher.EventType(in.Type)
	if !typ.External() {
		return nil, errorutil.Validation("event type %q cannot be submitted externally", in.Type)
	}

	out := d.Apply(ctx, dispatcher.Event{
		OrderID: orderID,
		Type:    typ,
		Value:   in.Value,
		Source:  dispatcher.SourceUser,
	})
	return &out, nil
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errorutil.Validation("job data is empty")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errorutil.NonRetriableWithCause(errorutil.KindValidation, "decode job data failed", err)
	}
	if err := validate.Struct(v); err != nil {
		return errorutil.NonRetriableWithCause(errorutil.KindValidation, err.Error(), err)
	}
	return nil
}
