package server

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"pixbridge/internal/dispatcher"
	"pixbridge/internal/entity/etorder"
)

// OrderResponse 订单响应（DTO）
type OrderResponse struct {
	ID             string          `json:"id"`
	ChatRef        string          `json:"chat_ref"`
	Status         string          `json:"status"`
	Currency       string          `json:"currency,omitempty"`
	Network        string          `json:"network,omitempty"`
	Amount         string          `json:"amount,omitempty"`
	Fee            string          `json:"fee,omitempty"`
	PaymentMethod  string          `json:"payment_method,omitempty"`
	PaymentRef     string          `json:"payment_ref,omitempty"`
	PixCode        string          `json:"pix_code,omitempty"`
	BlockchainTxID *string         `json:"blockchain_tx_id,omitempty"`
	Destination    string          `json:"destination,omitempty"`
	AmountSats     int64           `json:"amount_sats,omitempty"`
	SettlementTxID *string         `json:"settlement_tx_id,omitempty"`
	SettlementFee  int64           `json:"settlement_fee_sats,omitempty"`
	FailureKind    string          `json:"failure_kind,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	EventLog       []EventLogEntry `json:"event_log"`
}

// EventLogEntry 事件日志（DTO）
type EventLogEntry struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// OutcomeResponse 事件应用结果（DTO）
type OutcomeResponse struct {
	Result  string              `json:"result"`
	Order   *OrderResponse      `json:"order,omitempty"`
	Prompts []dispatcher.Prompt `json:"prompts,omitempty"`
}

// FromOrder 实体转 DTO
func FromOrder(o *etorder.Order) *OrderResponse {
	if o == nil {
		return nil
	}
	resp := &OrderResponse{
		ID:             o.ID,
		ChatRef:        o.ChatRef,
		Status:         string(o.Status),
		Currency:       o.Currency,
		Network:        o.Network,
		PaymentMethod:  o.PaymentMethod,
		PaymentRef:     o.PaymentRef,
		PixCode:        o.PixCode,
		BlockchainTxID: o.BlockchainTxID,
		Destination:    o.Destination,
		AmountSats:     o.AmountSats,
		SettlementTxID: o.SettlementTxID,
		SettlementFee:  o.SettlementFee,
		FailureKind:    o.FailureKind,
		FailureReason:  o.FailureReason,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		EventLog:       make([]EventLogEntry, 0, len(o.EventLog)),
	}
	if o.AmountFiatCents > 0 {
		resp.Amount = decimal.New(o.AmountFiatCents, -2).StringFixed(2)
		resp.Fee = decimal.New(o.FeeCents, -2).StringFixed(2)
	}
	for _, e := range o.EventLog {
		resp.EventLog = append(resp.EventLog, EventLogEntry{Event: e.Event, Timestamp: e.Timestamp, Payload: e.Payload})
	}
	return resp
}

// FromOutcome 结果转 DTO
func FromOutcome(out dispatcher.Outcome) *OutcomeResponse {
	return &OutcomeResponse{
		Result:  out.Result(),
		Order:   FromOrder(out.Order),
		Prompts: out.Prompts,
	}
}
