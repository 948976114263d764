package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"pixbridge/internal/entity/etorder"
	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

// Restore 启动时从仓储恢复未完成订单
// PixGenerated 按原始开始时间恢复监控；支付方式已选但未生成收款的订单无法确认网关状态，置为失败；
// 结算中的订单根据事件日志决定继续查询、重新结算或转人工
func (d *Dispatcher) Restore(ctx context.Context) (int, error) {
	if d.Repo == nil {
		return 0, nil
	}
	orders, err := d.Repo.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, o := range orders {
		d.mu.Lock()
		if _, exists := d.orders[o.ID]; exists {
			d.mu.Unlock()
			continue
		}
		d.orders[o.ID] = o.Clone()
		d.mu.Unlock()
		restored++

		octx := logger.WithOrderID(ctx, o.ID)
		d.Logger.Infof(octx, "[Dispatcher] restored order in status %s", o.Status)
		d.resume(octx, o)
	}
	return restored, nil
}

func (d *Dispatcher) resume(ctx context.Context, o *etorder.Order) {
	switch o.Status {
	case etorder.StatusPaymentMethodSelected:
		d.Apply(ctx, failEvent(o.ID, errorutil.NonRetriable(errorutil.KindInternal,
			"interrupted while generating PIX charge")))

	case etorder.StatusPixGenerated:
		since := eventTime(o, string(EventPixGenerated), o.UpdatedAt)
		if err := d.Monitor.WatchSince(ctx, o.ID, o.PaymentRef, since); err != nil {
			d.Apply(ctx, failEvent(o.ID, err))
		}

	case etorder.StatusDestinationProvided:
		d.continueSettlement(ctx, o, true)
	}
}

// eventTime 事件日志中最后一次出现 event 的时间
func eventTime(o *etorder.Order, event string, fallback time.Time) time.Time {
	for i := len(o.EventLog) - 1; i >= 0; i-- {
		if o.EventLog[i].Event == event {
			return o.EventLog[i].Timestamp
		}
	}
	return fallback
}

// pendingHash 事件日志中记录的待定支付哈希
func pendingHash(o *etorder.Order) string {
	for i := len(o.EventLog) - 1; i >= 0; i-- {
		entry := o.EventLog[i]
		if entry.Event != string(EventSettlementPending) {
			continue
		}
		var p map[string]string
		if err := json.Unmarshal(entry.Payload, &p); err == nil {
			return p[MetaPaymentHash]
		}
	}
	return ""
}

// Lookup 查询订单，内存中不存在时回查仓储（已结束的历史订单）
func (d *Dispatcher) Lookup(ctx context.Context, orderID string) (*etorder.Order, error) {
	if o, ok := d.Get(orderID); ok {
		return o, nil
	}
	if d.Repo == nil {
		return nil, errorutil.NonRetriable(errorutil.KindValidation, "order not found")
	}
	return d.Repo.GetByID(ctx, orderID)
}
