package etorder

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// 错误定义
var (
	ErrInvalidOrderID     = errors.New("order ID cannot be empty")
	ErrInvalidChatRef     = errors.New("chat ref cannot be empty")
	ErrTerminal           = errors.New("order is in a terminal state")
	ErrBackwardTransition = errors.New("transition would move status backward")
	ErrUnknownStatus      = errors.New("unknown status")
	ErrAmountLocked       = errors.New("amount is immutable once payment method is selected")
	ErrFieldAlreadySet    = errors.New("field already set")
)

// LogEntry 事件日志条目（只追加）
type LogEntry struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Order 订单聚合根
type Order struct {
	ID              string
	ChatRef         string
	Status          Status
	Currency        string
	Network         string
	AmountFiatCents int64
	FeeCents        int64
	PaymentMethod   string
	PaymentRef      string
	PixCode         string
	BlockchainTxID  *string
	Destination     string
	AmountSats      int64
	ResolvedInvoice *string
	SettlementTxID  *string
	SettlementFee   int64
	FailureKind     string
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	EventLog        []LogEntry
}

// NewOrder 创建订单（工厂方法）
func NewOrder(id, chatRef string, now time.Time) (*Order, error) {
	if id == "" {
		return nil, ErrInvalidOrderID
	}
	if chatRef == "" {
		return nil, ErrInvalidChatRef
	}

	o := &Order{
		ID:        id,
		ChatRef:   chatRef,
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.appendLog("BuyRequested", now, map[string]string{"chat_ref": chatRef})
	return o, nil
}

// Transition 推进状态并记录事件
// 终态不可变，主链不允许回退，侧终态可从任意非终态进入
func (o *Order) Transition(to Status, event string, payload interface{}, now time.Time) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownStatus, to)
	}
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, o.Status)
	}
	if to.Rank() <= o.Status.Rank() {
		return fmt.Errorf("%w: %s -> %s", ErrBackwardTransition, o.Status, to)
	}

	o.Status = to
	o.UpdatedAt = now
	o.appendLog(event, now, payload)
	return nil
}

// Annotate 仅记录事件，不改变状态（如发票已解析、支付待确认）
func (o *Order) Annotate(event string, payload interface{}, now time.Time) error {
	if o.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, o.Status)
	}
	o.UpdatedAt = now
	o.appendLog(event, now, payload)
	return nil
}

// SetAmount 设置法币金额（分）
func (o *Order) SetAmount(cents, feeCents int64) error {
	if o.Status.AtLeast(StatusPaymentMethodSelected) {
		return ErrAmountLocked
	}
	o.AmountFiatCents = cents
	o.FeeCents = feeCents
	return nil
}

// SetBlockchainTxID 记录 PIX 链上凭证，只能设置一次
func (o *Order) SetBlockchainTxID(txID string) error {
	if o.BlockchainTxID != nil {
		return fmt.Errorf("%w: blockchain_tx_id", ErrFieldAlreadySet)
	}
	o.BlockchainTxID = &txID
	return nil
}

// SetResolvedInvoice 记录解析得到的发票，只能设置一次
func (o *Order) SetResolvedInvoice(bolt11 string) error {
	if !o.Status.AtLeast(StatusDestinationProvided) {
		return fmt.Errorf("resolved invoice requires status >= %s, got %s", StatusDestinationProvided, o.Status)
	}
	if o.ResolvedInvoice != nil {
		return fmt.Errorf("%w: resolved_invoice", ErrFieldAlreadySet)
	}
	o.ResolvedInvoice = &bolt11
	return nil
}

// SetSettlement 记录结算结果
func (o *Order) SetSettlement(txID string, feeSats int64) {
	o.SettlementTxID = &txID
	o.SettlementFee = feeSats
}

// MarkFailure 记录失败原因
func (o *Order) MarkFailure(kind, reason string) {
	o.FailureKind = kind
	o.FailureReason = reason
}

// NetFiatCents 扣除手续费后的法币金额
func (o *Order) NetFiatCents() int64 {
	net := o.AmountFiatCents - o.FeeCents
	if net < 0 {
		return 0
	}
	return net
}

// CheckInvariants 校验订单不变量
func (o *Order) CheckInvariants() error {
	if o.BlockchainTxID != nil && !o.Status.AtLeast(StatusPixConfirmed) {
		return fmt.Errorf("blockchain_tx_id set with status %s", o.Status)
	}
	if o.ResolvedInvoice != nil && !o.Status.AtLeast(StatusDestinationProvided) {
		return fmt.Errorf("resolved_invoice set with status %s", o.Status)
	}
	return nil
}

// Clone 深拷贝，供锁外读取
func (o *Order) Clone() *Order {
	c := *o
	if o.BlockchainTxID != nil {
		v := *o.BlockchainTxID
		c.BlockchainTxID = &v
	}
	if o.ResolvedInvoice != nil {
		v := *o.ResolvedInvoice
		c.ResolvedInvoice = &v
	}
	if o.SettlementTxID != nil {
		v := *o.SettlementTxID
		c.SettlementTxID = &v
	}
	c.EventLog = make([]LogEntry, len(o.EventLog))
	copy(c.EventLog, o.EventLog)
	return &c
}

func (o *Order) appendLog(event string, now time.Time, payload interface{}) {
	entry := LogEntry{Event: event, Timestamp: now}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			entry.Payload = raw
		}
	}
	o.EventLog = append(o.EventLog, entry)
}
