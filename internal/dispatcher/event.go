package dispatcher

import (
	"pixbridge/internal/entity/etorder"
)

// EventType 事件类型
type EventType string

// 聊天层 / API 提交的事件
const (
	EventBuyRequested          EventType = "BuyRequested"
	EventCurrencySelected      EventType = "CurrencySelected"
	EventNetworkSelected       EventType = "NetworkSelected"
	EventAmountEntered         EventType = "AmountEntered"
	EventPaymentMethodSelected EventType = "PaymentMethodSelected"
	EventDestinationProvided   EventType = "DestinationProvided"
	EventCancel                EventType = "Cancel"
)

// 内部事件（监控、网关回调、结算任务产生）
const (
	EventPixGenerated        EventType = "PixGenerated"
	EventPixConfirmed        EventType = "PixConfirmed"
	EventAmountQuoted        EventType = "AmountQuoted"
	EventInvoiceResolved     EventType = "InvoiceResolved"
	EventSettlementPending   EventType = "SettlementPending"
	EventSettlementSucceeded EventType = "SettlementSucceeded"
	EventPaymentTimedOut     EventType = "PaymentTimedOut"
	EventFailed              EventType = "Failed"
)

// Meta 键
const (
	MetaPaymentRef  = "payment_ref"
	MetaPixCode     = "pix_code"
	MetaPaymentHash = "payment_hash"
	MetaFeeSats     = "fee_sats"
	MetaErrorKind   = "error_kind"
	MetaSats        = "sats"
	// MetaExpectStatus Failed 事件仅在订单处于该状态时生效
	MetaExpectStatus = "expect_status"
)

// Event 订单事件
type Event struct {
	OrderID string            `json:"order_id"`
	Type    EventType         `json:"type"`
	Value   string            `json:"value,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
	Source  string            `json:"source,omitempty"`
}

// impliedStatus 事件隐含的目标状态
var impliedStatus = map[EventType]etorder.Status{
	EventBuyRequested:          etorder.StatusCreated,
	EventCurrencySelected:      etorder.StatusCurrencySelected,
	EventNetworkSelected:       etorder.StatusNetworkSelected,
	EventAmountEntered:         etorder.StatusAmountSet,
	EventPaymentMethodSelected: etorder.StatusPaymentMethodSelected,
	EventPixGenerated:          etorder.StatusPixGenerated,
	EventPixConfirmed:          etorder.StatusPixConfirmed,
	EventDestinationProvided:   etorder.StatusDestinationProvided,
	EventSettlementSucceeded:   etorder.StatusCompleted,
	EventPaymentTimedOut:       etorder.StatusTimedOut,
	EventFailed:                etorder.StatusFailed,
	EventCancel:                etorder.StatusCancelled,
}

// annotations 只记录不改变状态的事件，要求订单处于 DestinationProvided
var annotations = map[EventType]bool{
	EventAmountQuoted:      true,
	EventInvoiceResolved:   true,
	EventSettlementPending: true,
}

// External 是否允许由聊天层 / API 直接提交
func (t EventType) External() bool {
	switch t {
	case EventCurrencySelected, EventNetworkSelected, EventAmountEntered,
		EventPaymentMethodSelected, EventDestinationProvided, EventCancel:
		return true
	}
	return false
}

// Known 是否为已知事件
func (t EventType) Known() bool {
	_, ok := impliedStatus[t]
	return ok || annotations[t]
}

func (e Event) meta(key string) string {
	if e.Meta == nil {
		return ""
	}
	return e.Meta[key]
}
