package rporder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"pixbridge/internal/entity/etorder"
	"pixbridge/pkg/infra/mysql"
)

// OrderRepositoryImpl 订单仓储实现（MySQL）
type OrderRepositoryImpl struct {
	dao *mysql.OrderDAO
}

// NewOrderRepository 创建订单仓储实例
func NewOrderRepository(dao *mysql.OrderDAO) OrderRepository {
	return &OrderRepositoryImpl{dao: dao}
}

// Save 将领域对象转换为持久化模型后写入
func (r *OrderRepositoryImpl) Save(ctx context.Context, order *etorder.Order) error {
	po, err := toPO(order)
	if err != nil {
		return err
	}
	return r.dao.Upsert(ctx, po)
}

// GetByID 根据ID查询订单
func (r *OrderRepositoryImpl) GetByID(ctx context.Context, orderID string) (*etorder.Order, error) {
	po, err := r.dao.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, mysql.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return toDomain(po)
}

// ListActive 查询所有非终态订单
func (r *OrderRepositoryImpl) ListActive(ctx context.Context) ([]*etorder.Order, error) {
	statuses := make([]string, 0, len(activeStatuses))
	for _, s := range activeStatuses {
		statuses = append(statuses, string(s))
	}

	pos, err := r.dao.ListByStatus(ctx, statuses)
	if err != nil {
		return nil, err
	}

	orders := make([]*etorder.Order, 0, len(pos))
	for i := range pos {
		o, err := toDomain(&pos[i])
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// toPO 领域对象转换为持久化模型
func toPO(o *etorder.Order) (*mysql.OrderPO, error) {
	logJSON, err := json.Marshal(o.EventLog)
	if err != nil {
		return nil, fmt.Errorf("marshal event log: %w", err)
	}

	return &mysql.OrderPO{
		ID:              o.ID,
		ChatRef:         o.ChatRef,
		Status:          string(o.Status),
		Currency:        o.Currency,
		Network:         o.Network,
		AmountFiatCents: o.AmountFiatCents,
		FeeCents:        o.FeeCents,
		PaymentMethod:   o.PaymentMethod,
		PaymentRef:      o.PaymentRef,
		PixCode:         o.PixCode,
		BlockchainTxID:  o.BlockchainTxID,
		Destination:     o.Destination,
		AmountSats:      o.AmountSats,
		ResolvedInvoice: o.ResolvedInvoice,
		SettlementTxID:  o.SettlementTxID,
		SettlementFee:   o.SettlementFee,
		FailureKind:     o.FailureKind,
		FailureReason:   o.FailureReason,
		EventLog:        logJSON,
		Version:         int64(len(o.EventLog)),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}, nil
}

// toDomain 持久化模型转换为领域对象
func toDomain(po *mysql.OrderPO) (*etorder.Order, error) {
	var eventLog []etorder.LogEntry
	if len(po.EventLog) > 0 {
		if err := json.Unmarshal(po.EventLog, &eventLog); err != nil {
			return nil, fmt.Errorf("unmarshal event log of %s: %w", po.ID, err)
		}
	}

	status := etorder.Status(po.Status)
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %s", etorder.ErrUnknownStatus, po.Status)
	}

	return &etorder.Order{
		ID:              po.ID,
		ChatRef:         po.ChatRef,
		Status:          status,
		Currency:        po.Currency,
		Network:         po.Network,
		AmountFiatCents: po.AmountFiatCents,
		FeeCents:        po.FeeCents,
		PaymentMethod:   po.PaymentMethod,
		PaymentRef:      po.PaymentRef,
		PixCode:         po.PixCode,
		BlockchainTxID:  po.BlockchainTxID,
		Destination:     po.Destination,
		AmountSats:      po.AmountSats,
		ResolvedInvoice: po.ResolvedInvoice,
		SettlementTxID:  po.SettlementTxID,
		SettlementFee:   po.SettlementFee,
		FailureKind:     po.FailureKind,
		FailureReason:   po.FailureReason,
		CreatedAt:       po.CreatedAt,
		UpdatedAt:       po.UpdatedAt,
		EventLog:        eventLog,
	}, nil
}
