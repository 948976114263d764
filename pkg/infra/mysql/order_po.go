package mysql

import (
	"time"

	"gorm.io/datatypes"
)

// OrderPO 订单持久化模型
type OrderPO struct {
	ID      string `gorm:"column:id;primaryKey;type:varchar(64)"`
	ChatRef string `gorm:"column:chat_ref;type:varchar(128);not null;index:idx_chat_ref"`
	Status  string `gorm:"column:status;type:varchar(32);not null;index:idx_status"`

	// 下单信息
	Currency        string `gorm:"column:currency;type:varchar(16)"`
	Network         string `gorm:"column:network;type:varchar(32)"`
	AmountFiatCents int64  `gorm:"column:amount_fiat_cents;not null;default:0"`
	FeeCents        int64  `gorm:"column:fee_cents;not null;default:0"`
	PaymentMethod   string `gorm:"column:payment_method;type:varchar(16)"`

	// PIX 收款
	PaymentRef     string  `gorm:"column:payment_ref;type:varchar(128);index:idx_payment_ref"`
	PixCode        string  `gorm:"column:pix_code;type:text"`
	BlockchainTxID *string `gorm:"column:blockchain_tx_id;type:varchar(128)"`

	// 闪电结算
	Destination     string  `gorm:"column:destination;type:varchar(2048)"`
	AmountSats      int64   `gorm:"column:amount_sats;not null;default:0"`
	ResolvedInvoice *string `gorm:"column:resolved_invoice;type:text"`
	SettlementTxID  *string `gorm:"column:settlement_tx_id;type:varchar(128)"`
	SettlementFee   int64   `gorm:"column:settlement_fee_sats;not null;default:0"`

	// 失败信息
	FailureKind   string `gorm:"column:failure_kind;type:varchar(32)"`
	FailureReason string `gorm:"column:failure_reason;type:varchar(1024)"`

	// 事件日志（只追加），Version 为日志条数
	EventLog datatypes.JSON `gorm:"column:event_log;type:json;not null"`
	Version  int64          `gorm:"column:version;not null;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName 指定表名
func (OrderPO) TableName() string {
	return "pix_orders"
}
