package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"pixbridge/internal/entity/etorder"
	"pixbridge/internal/gateway"
	"pixbridge/internal/settlement"
	"pixbridge/internal/taskqueue"
	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

// 结算任务类型
const (
	TaskSettle      = "settle"
	TaskSettleCheck = "settle_check"
)

type settlePayload struct {
	OrderID string `json:"order_id"`
}

type checkPayload struct {
	OrderID     string    `json:"order_id"`
	PaymentHash string    `json:"payment_hash"`
	Since       time.Time `json:"since"`
}

// handleSettle 结算任务
// 1. 报价换算聪数 (AmountQuoted)
// 2. 解析收款目标得到发票 (InvoiceResolved)
// 3. 支付前确认订单仍在结算中
// 4. 发起支付，成功则完成订单，待定则安排状态查询
// 支付错误一律不重试，避免重复付款
func (d *Dispatcher) handleSettle(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
	var p settlePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.OrderID == "" {
		return nil, errorutil.NonRetriable(errorutil.KindInternal, "invalid settle payload")
	}
	ctx = logger.WithOrderID(ctx, p.OrderID)

	o, ok := d.Get(p.OrderID)
	if !ok || o.Status != etorder.StatusDestinationProvided {
		d.Logger.Infof(ctx, "[Settle] order not awaiting settlement, skip")
		return nil, nil
	}

	// 1. 换算
	sats := o.AmountSats
	if sats == 0 {
		price, err := d.Quoter.Price(ctx, o.Currency)
		if err != nil {
			return nil, err
		}
		sats, err = gateway.SatsFor(o.NetFiatCents(), price)
		if err != nil {
			return nil, err
		}
		out := d.Apply(ctx, Event{
			OrderID: o.ID,
			Type:    EventAmountQuoted,
			Value:   price.String(),
			Meta:    map[string]string{MetaSats: strconv.FormatInt(sats, 10)},
			Source:  SourceSystem,
		})
		if out.Rejected {
			return nil, out.Err
		}
	}

	// 2. 解析
	var bolt11 string
	if o.ResolvedInvoice != nil {
		bolt11 = *o.ResolvedInvoice
	} else {
		inv, err := d.Resolver.Resolve(ctx, o.Destination, sats)
		if err != nil {
			return nil, err
		}
		bolt11 = inv.Bolt11
		out := d.Apply(ctx, Event{OrderID: o.ID, Type: EventInvoiceResolved, Value: bolt11, Source: SourceSystem})
		if out.Rejected {
			return nil, out.Err
		}
	}

	// 3. 支付前检查
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cur, ok := d.Get(o.ID); !ok || cur.Status != etorder.StatusDestinationProvided {
		d.Logger.Warnf(ctx, "[Settle] order left settlement before payment, skip")
		return nil, nil
	}

	// 4. 支付，发出后不因任务取消而中断
	res, err := d.Settler.Settle(context.WithoutCancel(ctx), bolt11)
	if err != nil {
		return nil, err
	}
	return d.settled(ctx, o.ID, res, time.Time{})
}

// handleSettleCheck 查询待定支付，直到成功、失败或超过最长等待
func (d *Dispatcher) handleSettleCheck(ctx context.Context, payload []byte, ownerRef string) ([]byte, error) {
	var p checkPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.OrderID == "" || p.PaymentHash == "" {
		return nil, errorutil.NonRetriable(errorutil.KindInternal, "invalid settle_check payload")
	}
	ctx = logger.WithOrderID(ctx, p.OrderID)

	o, ok := d.Get(p.OrderID)
	if !ok || o.Status != etorder.StatusDestinationProvided {
		return nil, nil
	}

	res, err := d.Settler.Check(ctx, p.PaymentHash)
	if err != nil {
		var se *settlement.SettlementError
		if !errors.As(err, &se) || se.Reason != settlement.ReasonUnknown || se.Err == nil {
			return nil, err
		}
		d.Logger.Warnf(ctx, "[Settle] check payment %s failed, will retry: %v", p.PaymentHash, err)
		res = &settlement.Result{Status: settlement.StatusPending, PaymentHash: p.PaymentHash}
	}
	return d.settled(ctx, o.ID, res, p.Since)
}

// settled 处理支付结果
// since 为首次进入待定的时间，零值表示本次刚发起支付
func (d *Dispatcher) settled(ctx context.Context, orderID string, res *settlement.Result, since time.Time) ([]byte, error) {
	if res.Status == settlement.StatusPaid {
		out := d.Apply(ctx, Event{
			OrderID: orderID,
			Type:    EventSettlementSucceeded,
			Meta: map[string]string{
				MetaPaymentHash: res.PaymentHash,
				MetaFeeSats:     strconv.FormatInt(res.FeeSats, 10),
			},
			Source: SourceSystem,
		})
		if out.Rejected {
			return nil, out.Err
		}
		return []byte(res.PaymentHash), nil
	}

	now := d.now()
	if since.IsZero() {
		since = now
		d.Apply(ctx, Event{
			OrderID: orderID,
			Type:    EventSettlementPending,
			Meta:    map[string]string{MetaPaymentHash: res.PaymentHash},
			Source:  SourceSystem,
		})
	}
	if now.Sub(since) >= d.cfg.SettleCheckTimeout {
		return nil, errorutil.NonRetriable(errorutil.KindSettlement,
			fmt.Sprintf("payment %s still pending after %v, manual review required", res.PaymentHash, d.cfg.SettleCheckTimeout))
	}

	if err := d.scheduleCheck(orderID, res.PaymentHash, since); err != nil {
		return nil, errorutil.NonRetriableWithCause(errorutil.KindSettlement,
			fmt.Sprintf("payment %s pending, status check could not be scheduled", res.PaymentHash), err)
	}
	d.Logger.Infof(ctx, "[Settle] payment %s pending, next check in %v", res.PaymentHash, d.cfg.SettleCheckInterval)
	return []byte(res.PaymentHash), nil
}

func (d *Dispatcher) scheduleCheck(orderID, paymentHash string, since time.Time) error {
	payload, err := json.Marshal(checkPayload{OrderID: orderID, PaymentHash: paymentHash, Since: since})
	if err != nil {
		return err
	}
	return d.submitDriver(orderID, TaskSettleCheck, payload, d.cfg.SettleCheckInterval)
}

func (d *Dispatcher) submitSettle(orderID string) error {
	payload, _ := json.Marshal(settlePayload{OrderID: orderID})
	return d.submitDriver(orderID, TaskSettle, payload, 0)
}

// submitDriver 提交结算任务并记为订单当前的结算任务
// 提交与记录在同一把锁内，任务结束回调总能对上最新的任务 ID
func (d *Dispatcher) submitDriver(orderID, kind string, payload []byte, delay time.Duration) error {
	d.taskMu.Lock()
	defer d.taskMu.Unlock()
	taskID, err := d.Queue.SubmitAfter(kind, payload, orderID, taskqueue.PriorityHigh, delay)
	if err != nil {
		return err
	}
	d.drivers[orderID] = taskID
	return nil
}

// releaseDriver 任务结束时解除记录，返回它是否仍是订单当前的结算任务
func (d *Dispatcher) releaseDriver(orderID, taskID string) bool {
	d.taskMu.Lock()
	defer d.taskMu.Unlock()
	if d.drivers[orderID] != taskID {
		return false
	}
	delete(d.drivers, orderID)
	return true
}

// onTaskFinished 订单当前的结算任务结束后的收尾
// 1. 最终失败：订单置为 Failed，保留错误分类
// 2. 被取消（非队列关闭）：按事件日志继续查询待定支付，或将订单置为 Failed
// 已被后续任务接替的任务不处理
func (d *Dispatcher) onTaskFinished(ctx context.Context, task taskqueue.Task, err error) {
	if task.Kind != TaskSettle && task.Kind != TaskSettleCheck {
		return
	}
	if !d.releaseDriver(task.OwnerRef, task.ID) {
		return
	}
	ctx = logger.WithOrderID(ctx, task.OwnerRef)

	switch task.Status {
	case taskqueue.StatusFailed:
		if err != nil {
			d.Apply(ctx, inSettlement(failEvent(task.OwnerRef, err)))
		}

	case taskqueue.StatusCancelled:
		if errors.Is(err, taskqueue.ErrQueueClosed) {
			// 重启后由 Restore 恢复
			return
		}
		o, ok := d.Get(task.OwnerRef)
		if !ok || o.Status != etorder.StatusDestinationProvided {
			return
		}
		d.Logger.Warnf(ctx, "[Settle] %s task %s cancelled, settlement left without a driver", task.Kind, task.ID)
		d.continueSettlement(ctx, o, false)
	}
}

// continueSettlement 结算中的订单失去任务后的去向
// 有待定支付：继续查询；发票未解析（支付一定未发出）：可重试时重新结算，否则置为 Failed；
// 发票已解析但无支付记录：支付结果未知，转人工
func (d *Dispatcher) continueSettlement(ctx context.Context, o *etorder.Order, resubmit bool) {
	switch hash := pendingHash(o); {
	case hash != "":
		since := eventTime(o, string(EventSettlementPending), o.UpdatedAt)
		if err := d.scheduleCheck(o.ID, hash, since); err != nil {
			d.Apply(ctx, inSettlement(failEvent(o.ID, err)))
		}
	case o.ResolvedInvoice == nil && resubmit:
		if err := d.submitSettle(o.ID); err != nil {
			d.Apply(ctx, inSettlement(failEvent(o.ID, err)))
		}
	case o.ResolvedInvoice == nil:
		d.Apply(ctx, inSettlement(failEvent(o.ID, errorutil.NonRetriable(errorutil.KindInternal,
			"settlement cancelled before payment"))))
	default:
		d.Apply(ctx, inSettlement(failEvent(o.ID, errorutil.NonRetriable(errorutil.KindSettlement,
			"interrupted during settlement, manual review required"))))
	}
}

// inSettlement 限定 Failed 事件只作用于结算中的订单
func inSettlement(ev Event) Event {
	ev.Meta[MetaExpectStatus] = string(etorder.StatusDestinationProvided)
	return ev
}
