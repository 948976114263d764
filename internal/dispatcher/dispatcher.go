package dispatcher

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pixbridge/internal/entity/etorder"
	"pixbridge/internal/gateway"
	"pixbridge/internal/lnurl"
	"pixbridge/internal/repo/rporder"
	"pixbridge/internal/settlement"
	"pixbridge/internal/taskqueue"
	"pixbridge/pkg/errorutil"
	"pixbridge/pkg/logger"
)

// 事件来源
const (
	SourceUser    = "user"
	SourceMonitor = "monitor"
	SourceWebhook = "webhook"
	SourceGateway = "gateway"
	SourceSystem  = "system"
)

// PaymentMethodPIX 唯一支持的支付方式
const PaymentMethodPIX = "PIX"

// ChargeCreator 创建 PIX 收款
type ChargeCreator interface {
	CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error)
}

// PriceQuoter 币价报价
type PriceQuoter interface {
	Price(ctx context.Context, currency string) (decimal.Decimal, error)
}

// InvoiceResolver 闪电地址解析
type InvoiceResolver interface {
	Resolve(ctx context.Context, destination string, amountSats int64) (*lnurl.Invoice, error)
}

// Settler 闪电支付
type Settler interface {
	Settle(ctx context.Context, bolt11 string) (*settlement.Result, error)
	Check(ctx context.Context, paymentHash string) (*settlement.Result, error)
}

// Watcher 支付监控
type Watcher interface {
	Watch(ctx context.Context, orderID, paymentRef string) error
	WatchSince(ctx context.Context, orderID, paymentRef string, registeredAt time.Time) error
	Unwatch(orderID string) bool
}

// Scheduler 后台任务队列
type Scheduler interface {
	Register(kind string, handler taskqueue.Handler)
	OnFinish(hook taskqueue.FinishHook)
	SubmitAfter(kind string, payload []byte, ownerRef string, priority taskqueue.Priority, delay time.Duration) (string, error)
}

// IDGenerator 订单号生成
type IDGenerator interface {
	NextString() string
}

// Config 调度器配置
type Config struct {
	MinAmount           decimal.Decimal
	MaxAmount           decimal.Decimal
	Fee                 FeeFunc
	SettleCheckInterval time.Duration // 待确认支付的查询间隔
	SettleCheckTimeout  time.Duration // 待确认支付的最长等待
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MinAmount:           decimal.RequireFromString("10.00"),
		MaxAmount:           decimal.RequireFromString("4999.99"),
		Fee:                 FlatFee(decimal.Zero, 0),
		SettleCheckInterval: 30 * time.Second,
		SettleCheckTimeout:  2 * time.Hour,
	}
}

// Deps 协作方
type Deps struct {
	Gateway  ChargeCreator
	Quoter   PriceQuoter
	Resolver InvoiceResolver
	Settler  Settler
	Monitor  Watcher
	Queue    Scheduler
	Repo     rporder.OrderRepository
	Sink     PromptSink
	IDs      IDGenerator
	Logger   logger.Logger
}

// Dispatcher 订单状态机 / 事件调度器，是订单的唯一写入方
type Dispatcher struct {
	cfg Config
	Deps
	now func() time.Time

	mu     sync.Mutex
	orders map[string]*etorder.Order

	taskMu  sync.Mutex
	drivers map[string]string // 订单当前的结算任务 ID

	apply ApplyFunc
}

// Option 可选参数
type Option func(d *Dispatcher)

// WithMiddleware 注册中间件，按顺序由外到内执行
func WithMiddleware(mws ...Middleware) Option {
	return func(d *Dispatcher) {
		d.apply = chain(d.apply, mws...)
	}
}

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// New 创建调度器，并在队列上注册结算任务
func New(cfg Config, deps Deps, opts ...Option) *Dispatcher {
	def := DefaultConfig()
	if cfg.MinAmount.IsZero() && cfg.MaxAmount.IsZero() {
		cfg.MinAmount, cfg.MaxAmount = def.MinAmount, def.MaxAmount
	}
	if cfg.Fee == nil {
		cfg.Fee = def.Fee
	}
	if cfg.SettleCheckInterval <= 0 {
		cfg.SettleCheckInterval = def.SettleCheckInterval
	}
	if cfg.SettleCheckTimeout <= 0 {
		cfg.SettleCheckTimeout = def.SettleCheckTimeout
	}

	d := &Dispatcher{
		cfg:     cfg,
		Deps:    deps,
		now:     time.Now,
		orders:  make(map[string]*etorder.Order),
		drivers: make(map[string]string),
	}
	d.apply = d.core
	for _, opt := range opts {
		opt(d)
	}

	d.Queue.Register(TaskSettle, d.handleSettle)
	d.Queue.Register(TaskSettleCheck, d.handleSettleCheck)
	d.Queue.OnFinish(d.onTaskFinished)
	return d
}

// Start 处理购买意图，创建订单
func (d *Dispatcher) Start(ctx context.Context, chatRef string) Outcome {
	return d.Apply(ctx, Event{
		OrderID: d.IDs.NextString(),
		Type:    EventBuyRequested,
		Value:   chatRef,
		Source:  SourceUser,
	})
}

// Apply 应用事件
// 1. 经过中间件链在订单锁内完成状态变更
// 2. 持久化快照并发送提示
// 3. 在锁外执行后续动作（网关、监控、任务提交），其结果合并到返回值
func (d *Dispatcher) Apply(ctx context.Context, ev Event) Outcome {
	out := d.apply(ctx, ev)

	if out.Applied && out.Order != nil {
		d.persist(ctx, out.Order)
	}
	d.emit(ctx, out.Prompts)

	effects := out.effects
	out.effects = nil
	for _, eff := range effects {
		next := eff(ctx)
		if next == nil {
			continue
		}
		out.Prompts = append(out.Prompts, next.Prompts...)
		if next.Order != nil {
			out.Order = next.Order
		}
		if out.Err == nil && next.Err != nil {
			out.Err = next.Err
		}
	}
	return out
}

// Get 返回订单快照
func (d *Dispatcher) Get(orderID string) (*etorder.Order, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o, ok := d.orders[orderID]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

// PaymentConfirmed 监控确认收款
func (d *Dispatcher) PaymentConfirmed(ctx context.Context, orderID, blockchainTxID string) {
	d.Apply(ctx, Event{OrderID: orderID, Type: EventPixConfirmed, Value: blockchainTxID, Source: SourceMonitor})
}

// PaymentTimedOut 监控超时
func (d *Dispatcher) PaymentTimedOut(ctx context.Context, orderID, reason string) {
	d.Apply(ctx, Event{OrderID: orderID, Type: EventPaymentTimedOut, Value: reason, Source: SourceMonitor})
}

// PaymentWatchAborted 监控任务被取消或最终失败，仍待收款的订单置为失败
func (d *Dispatcher) PaymentWatchAborted(ctx context.Context, orderID, reason string) {
	ev := failEvent(orderID, errorutil.NonRetriable(errorutil.KindInternal, reason))
	ev.Meta[MetaExpectStatus] = string(etorder.StatusPixGenerated)
	ev.Source = SourceMonitor
	d.Apply(ctx, ev)
}

// ConfirmByPaymentRef 网关回调确认收款，重复回调无副作用
func (d *Dispatcher) ConfirmByPaymentRef(ctx context.Context, paymentRef, blockchainTxID string) Outcome {
	d.mu.Lock()
	var orderID string
	for id, o := range d.orders {
		if paymentRef != "" && o.PaymentRef == paymentRef {
			orderID = id
			break
		}
	}
	d.mu.Unlock()

	if orderID == "" {
		return rejected(nil, errorutil.Validation("no order for payment ref %q", paymentRef))
	}
	return d.Apply(ctx, Event{OrderID: orderID, Type: EventPixConfirmed, Value: blockchainTxID, Source: SourceWebhook})
}

// core 在订单锁内校验并应用事件
func (d *Dispatcher) core(ctx context.Context, ev Event) Outcome {
	if !ev.Type.Known() {
		return rejected(nil, errorutil.Validation("unknown event type %q", ev.Type))
	}
	if ev.Type == EventBuyRequested {
		return d.create(ev)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	o, ok := d.orders[ev.OrderID]
	if !ok {
		return rejected(nil, errorutil.Validation("order %q not found", ev.OrderID))
	}
	now := d.now()

	if annotations[ev.Type] {
		return d.annotate(o, ev, now)
	}

	// 1. 幂等与顺序校验
	target := impliedStatus[ev.Type]
	if o.Status.IsTerminal() {
		if target == o.Status || (o.Status == etorder.StatusCompleted && target.Rank() <= o.Status.Rank()) {
			return duplicate(o.Clone())
		}
		return rejected(o.Clone(), errorutil.NonRetriable(errorutil.KindValidation,
			fmt.Sprintf("order is %s, %s ignored", o.Status, ev.Type)))
	}
	if !isSideTerminal(target) {
		if target.Rank() <= o.Status.Rank() {
			return duplicate(o.Clone())
		}
		if target.Rank() != o.Status.Rank()+1 {
			return rejected(o.Clone(), errorutil.Validation("%s not allowed in status %s", ev.Type, o.Status))
		}
	}

	// 2. 按事件类型应用
	var out Outcome
	switch ev.Type {
	case EventCurrencySelected:
		out = d.selectCurrency(o, ev, now)
	case EventNetworkSelected:
		out = d.selectNetwork(o, ev, now)
	case EventAmountEntered:
		out = d.enterAmount(o, ev, now)
	case EventPaymentMethodSelected:
		out = d.selectPaymentMethod(o, ev, now)
	case EventPixGenerated:
		out = d.pixGenerated(o, ev, now)
	case EventPixConfirmed:
		out = d.pixConfirmed(o, ev, now)
	case EventDestinationProvided:
		out = d.destinationProvided(o, ev, now)
	case EventSettlementSucceeded:
		out = d.settlementSucceeded(o, ev, now)
	case EventFailed:
		out = d.failed(o, ev, now)
	case EventPaymentTimedOut:
		out = d.timedOut(o, ev, now)
	case EventCancel:
		out = d.cancel(o, ev, now)
	default:
		return rejected(o.Clone(), errorutil.Validation("unsupported event %q", ev.Type))
	}

	if out.Applied {
		if err := o.CheckInvariants(); err != nil {
			d.Logger.Errorf(ctx, "[Dispatcher] invariant violated on %s: %v", o.ID, err)
		}
		out.Order = o.Clone()
	}
	return out
}

func (d *Dispatcher) create(ev Event) Outcome {
	chatRef := strings.TrimSpace(ev.Value)
	o, err := etorder.NewOrder(ev.OrderID, chatRef, d.now())
	if err != nil {
		return rejected(nil, errorutil.NonRetriableWithCause(errorutil.KindValidation, err.Error(), err))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.orders[ev.OrderID]; ok {
		return duplicate(existing.Clone())
	}
	d.orders[o.ID] = o

	return Outcome{
		Order:   o.Clone(),
		Applied: true,
		Prompts: []Prompt{d.prompt(o, PromptCurrencyMenu, nil)},
	}
}

func (d *Dispatcher) selectCurrency(o *etorder.Order, ev Event, now time.Time) Outcome {
	currency := strings.ToUpper(strings.TrimSpace(ev.Value))
	if currency == "" {
		return rejected(o.Clone(), errorutil.Validation("currency is required"), d.prompt(o, PromptCurrencyMenu, nil))
	}
	if err := o.Transition(etorder.StatusCurrencySelected, string(ev.Type), map[string]string{"currency": currency}, now); err != nil {
		return d.transitionErr(o, err)
	}
	o.Currency = currency
	return d.applied(o, d.prompt(o, PromptNetworkMenu, nil))
}

func (d *Dispatcher) selectNetwork(o *etorder.Order, ev Event, now time.Time) Outcome {
	network := strings.ToUpper(strings.TrimSpace(ev.Value))
	if network == "" {
		return rejected(o.Clone(), errorutil.Validation("network is required"), d.prompt(o, PromptNetworkMenu, nil))
	}
	if err := o.Transition(etorder.StatusNetworkSelected, string(ev.Type), map[string]string{"network": network}, now); err != nil {
		return d.transitionErr(o, err)
	}
	o.Network = network
	return d.applied(o, d.prompt(o, PromptAmountRequest, d.limitsData()))
}

func (d *Dispatcher) enterAmount(o *etorder.Order, ev Event, now time.Time) Outcome {
	cents, err := d.parseAmount(ev.Value)
	if err != nil {
		data := d.limitsData()
		data["reason"] = err.Error()
		return rejected(o.Clone(), err, d.prompt(o, PromptAmountRequest, data))
	}

	fee := d.cfg.Fee(cents, o.Currency).Cents(cents)
	if err := o.SetAmount(cents, fee); err != nil {
		return d.transitionErr(o, err)
	}
	payload := map[string]int64{"amount_cents": cents, "fee_cents": fee}
	if err := o.Transition(etorder.StatusAmountSet, string(ev.Type), payload, now); err != nil {
		return d.transitionErr(o, err)
	}

	return d.applied(o, d.prompt(o, PromptPaymentMethodMenu, map[string]string{
		"amount":     formatCents(cents),
		"fee":        formatCents(fee),
		"net_amount": formatCents(o.NetFiatCents()),
	}))
}

func (d *Dispatcher) selectPaymentMethod(o *etorder.Order, ev Event, now time.Time) Outcome {
	method := strings.ToUpper(strings.TrimSpace(ev.Value))
	if method != PaymentMethodPIX {
		return rejected(o.Clone(), errorutil.Validation("unsupported payment method %q", ev.Value),
			d.prompt(o, PromptPaymentMethodMenu, map[string]string{"reason": "only PIX is supported"}))
	}
	if err := o.Transition(etorder.StatusPaymentMethodSelected, string(ev.Type), map[string]string{"method": method}, now); err != nil {
		return d.transitionErr(o, err)
	}
	o.PaymentMethod = method

	out := d.applied(o)
	out.effects = append(out.effects, d.generatePix(o.Clone()))
	return out
}

func (d *Dispatcher) pixGenerated(o *etorder.Order, ev Event, now time.Time) Outcome {
	ref, code := ev.meta(MetaPaymentRef), ev.meta(MetaPixCode)
	if ref == "" || code == "" {
		return rejected(o.Clone(), errorutil.NonRetriable(errorutil.KindInternal, "pix charge without payment ref or code"))
	}
	if err := o.Transition(etorder.StatusPixGenerated, string(ev.Type), map[string]string{MetaPaymentRef: ref}, now); err != nil {
		return d.transitionErr(o, err)
	}
	o.PaymentRef = ref
	o.PixCode = code

	out := d.applied(o, d.prompt(o, PromptPixCode, map[string]string{
		MetaPixCode:    code,
		MetaPaymentRef: ref,
		"amount":       formatCents(o.AmountFiatCents),
	}))
	orderID := o.ID
	out.effects = append(out.effects, func(ctx context.Context) *Outcome {
		if err := d.Monitor.Watch(ctx, orderID, ref); err != nil {
			next := d.Apply(ctx, failEvent(orderID, err))
			return &next
		}
		return nil
	})
	return out
}

func (d *Dispatcher) pixConfirmed(o *etorder.Order, ev Event, now time.Time) Outcome {
	txID := strings.TrimSpace(ev.Value)
	if txID == "" {
		return rejected(o.Clone(), errorutil.Validation("blockchain tx id is required"))
	}
	payload := map[string]string{"blockchain_tx_id": txID, "source": ev.Source}
	if err := o.Transition(etorder.StatusPixConfirmed, string(ev.Type), payload, now); err != nil {
		return d.transitionErr(o, err)
	}
	if err := o.SetBlockchainTxID(txID); err != nil {
		return d.transitionErr(o, err)
	}
	if err := o.Transition(etorder.StatusDestinationRequested, "DestinationRequested", nil, now); err != nil {
		return d.transitionErr(o, err)
	}

	out := d.applied(o, d.prompt(o, PromptDestinationRequest, nil))
	out.effects = append(out.effects, d.unwatch(o.ID))
	return out
}

func (d *Dispatcher) destinationProvided(o *etorder.Order, ev Event, now time.Time) Outcome {
	dest := strings.TrimSpace(ev.Value)
	if lnurl.Classify(dest).Type == lnurl.DestinationInvalid {
		return rejected(o.Clone(), errorutil.Validation("destination is neither a lightning address nor an invoice"),
			d.prompt(o, PromptDestinationRequest, map[string]string{"reason": "invalid lightning address or invoice"}))
	}
	if err := o.Transition(etorder.StatusDestinationProvided, string(ev.Type), map[string]string{"destination": dest}, now); err != nil {
		return d.transitionErr(o, err)
	}
	o.Destination = dest

	out := d.applied(o)
	orderID := o.ID
	out.effects = append(out.effects, func(ctx context.Context) *Outcome {
		if err := d.submitSettle(orderID); err != nil {
			next := d.Apply(ctx, failEvent(orderID, errorutil.RetriableWithCause(errorutil.KindInternal, "submit settlement task", err)))
			return &next
		}
		return nil
	})
	return out
}

func (d *Dispatcher) settlementSucceeded(o *etorder.Order, ev Event, now time.Time) Outcome {
	hash := ev.meta(MetaPaymentHash)
	if hash == "" {
		return rejected(o.Clone(), errorutil.NonRetriable(errorutil.KindInternal, "settlement without payment hash"))
	}
	fee, _ := strconv.ParseInt(ev.meta(MetaFeeSats), 10, 64)

	payload := map[string]interface{}{MetaPaymentHash: hash, MetaFeeSats: fee}
	if err := o.Transition(etorder.StatusCompleted, string(ev.Type), payload, now); err != nil {
		return d.transitionErr(o, err)
	}
	o.SetSettlement(hash, fee)

	return d.applied(o, d.prompt(o, PromptCompletion, map[string]string{
		"settlement_tx_id": hash,
		"amount_sats":      strconv.FormatInt(o.AmountSats, 10),
		"fee_sats":         strconv.FormatInt(fee, 10),
	}))
}

func (d *Dispatcher) failed(o *etorder.Order, ev Event, now time.Time) Outcome {
	if want := ev.meta(MetaExpectStatus); want != "" && string(o.Status) != want {
		return rejected(o.Clone(), errorutil.Validation("failure for status %s ignored in status %s", want, o.Status))
	}
	kind := ev.meta(MetaErrorKind)
	if kind == "" {
		kind = string(errorutil.KindInternal)
	}
	payload := map[string]string{"kind": kind, "reason": ev.Value, "source": ev.Source}
	if err := o.Transition(etorder.StatusFailed, string(ev.Type), payload, now); err != nil {
		return d.transitionErr(o, err)
	}
	o.MarkFailure(kind, ev.Value)

	out := d.applied(o, d.prompt(o, PromptFailure, map[string]string{"kind": kind, "reason": ev.Value}))
	out.effects = append(out.effects, d.unwatch(o.ID))
	return out
}

func (d *Dispatcher) timedOut(o *etorder.Order, ev Event, now time.Time) Outcome {
	// 监控超时与收款确认并发时，以确认为准
	if o.Status != etorder.StatusPixGenerated {
		return rejected(o.Clone(), errorutil.Validation("payment timeout not applicable in status %s", o.Status))
	}
	if err := o.Transition(etorder.StatusTimedOut, string(ev.Type), map[string]string{"reason": ev.Value}, now); err != nil {
		return d.transitionErr(o, err)
	}
	o.MarkFailure(string(errorutil.KindTimeout), ev.Value)

	out := d.applied(o, d.prompt(o, PromptTimeout, map[string]string{"reason": ev.Value}))
	out.effects = append(out.effects, d.unwatch(o.ID))
	return out
}

func (d *Dispatcher) cancel(o *etorder.Order, ev Event, now time.Time) Outcome {
	// 结算已开始，资金可能已在途
	if o.Status.AtLeast(etorder.StatusDestinationProvided) {
		return rejected(o.Clone(), errorutil.Validation("settlement already in progress, order cannot be cancelled"))
	}
	if err := o.Transition(etorder.StatusCancelled, string(ev.Type), map[string]string{"source": ev.Source}, now); err != nil {
		return d.transitionErr(o, err)
	}

	out := d.applied(o, d.prompt(o, PromptCancelled, nil))
	out.effects = append(out.effects, d.unwatch(o.ID))
	return out
}

// annotate 结算过程中的记录事件，不改变状态
func (d *Dispatcher) annotate(o *etorder.Order, ev Event, now time.Time) Outcome {
	if o.Status != etorder.StatusDestinationProvided {
		if o.Status.IsTerminal() {
			return duplicate(o.Clone())
		}
		return rejected(o.Clone(), errorutil.Validation("%s not allowed in status %s", ev.Type, o.Status))
	}

	var payload interface{}
	switch ev.Type {
	case EventAmountQuoted:
		sats, err := strconv.ParseInt(ev.meta(MetaSats), 10, 64)
		if err != nil || sats <= 0 {
			return rejected(o.Clone(), errorutil.NonRetriable(errorutil.KindInternal, "invalid quoted amount"))
		}
		if o.AmountSats != 0 {
			return duplicate(o.Clone())
		}
		o.AmountSats = sats
		payload = map[string]interface{}{MetaSats: sats, "price": ev.Value}

	case EventInvoiceResolved:
		if o.ResolvedInvoice != nil {
			return duplicate(o.Clone())
		}
		if err := o.SetResolvedInvoice(ev.Value); err != nil {
			return d.transitionErr(o, err)
		}
		payload = map[string]string{"bolt11": ev.Value}

	case EventSettlementPending:
		payload = map[string]string{MetaPaymentHash: ev.meta(MetaPaymentHash)}
	}

	if err := o.Annotate(string(ev.Type), payload, now); err != nil {
		return d.transitionErr(o, err)
	}
	out := d.applied(o)
	out.Order = o.Clone()
	return out
}

// generatePix 锁外调用网关创建收款，成功后进入 PixGenerated
func (d *Dispatcher) generatePix(o *etorder.Order) effect {
	return func(ctx context.Context) *Outcome {
		charge, err := d.Gateway.CreateCharge(ctx, gateway.ChargeRequest{
			OrderID:     o.ID,
			AmountCents: o.AmountFiatCents,
			Currency:    o.Currency,
			Network:     o.Network,
		})
		var next Outcome
		if err != nil {
			next = d.Apply(ctx, failEvent(o.ID, err))
		} else {
			next = d.Apply(ctx, Event{
				OrderID: o.ID,
				Type:    EventPixGenerated,
				Meta:    map[string]string{MetaPaymentRef: charge.PaymentRef, MetaPixCode: charge.PixCode},
				Source:  SourceGateway,
			})
		}
		return &next
	}
}

func (d *Dispatcher) unwatch(orderID string) effect {
	return func(ctx context.Context) *Outcome {
		d.Monitor.Unwatch(orderID)
		return nil
	}
}

func (d *Dispatcher) applied(o *etorder.Order, prompts ...Prompt) Outcome {
	return Outcome{Order: o.Clone(), Applied: true, Prompts: prompts}
}

func (d *Dispatcher) transitionErr(o *etorder.Order, err error) Outcome {
	return rejected(o.Clone(), errorutil.NonRetriableWithCause(errorutil.KindValidation, err.Error(), err))
}

func (d *Dispatcher) prompt(o *etorder.Order, kind PromptKind, data map[string]string) Prompt {
	return Prompt{Kind: kind, OrderID: o.ID, ChatRef: o.ChatRef, Data: data}
}

func (d *Dispatcher) limitsData() map[string]string {
	return map[string]string{
		"min_amount": d.cfg.MinAmount.StringFixed(2),
		"max_amount": d.cfg.MaxAmount.StringFixed(2),
	}
}

// 千位分组写法："1.500,00"（巴西）与 "1,500.00"
var (
	groupedBR = regexp.MustCompile(`^\d{1,3}(\.\d{3})+(,\d+)?$`)
	groupedUS = regexp.MustCompile(`^\d{1,3}(,\d{3})+\.\d+$`)
)

// parseAmount 解析法币金额，返回分
// 接受 "150", "150.5", "150,50", "R$ 150,00", "1.500,00", "1,500.00"；最多两位小数
// 只有 "." 且按三位分组时按巴西习惯视为千位分隔符（"1.500" 为 1500）
func (d *Dispatcher) parseAmount(raw string) (int64, *errorutil.Error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(s), "R$"))
	switch {
	case groupedBR.MatchString(s):
		s = strings.Replace(strings.ReplaceAll(s, ".", ""), ",", ".", 1)
	case groupedUS.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	case !strings.Contains(s, "."):
		s = strings.Replace(s, ",", ".", 1)
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errorutil.Validation("invalid amount %q", raw)
	}
	if !amount.Equal(amount.Round(2)) {
		return 0, errorutil.Validation("amount %q has more than two decimal places", raw)
	}
	if amount.LessThan(d.cfg.MinAmount) || amount.GreaterThan(d.cfg.MaxAmount) {
		return 0, errorutil.Validation("amount must be between %s and %s",
			d.cfg.MinAmount.StringFixed(2), d.cfg.MaxAmount.StringFixed(2))
	}
	return amount.Shift(2).IntPart(), nil
}

func (d *Dispatcher) persist(ctx context.Context, o *etorder.Order) {
	if d.Repo == nil {
		return
	}
	if err := d.Repo.Save(ctx, o); err != nil {
		d.Logger.Errorf(logger.WithOrderID(ctx, o.ID), "[Dispatcher] persist order failed: %v", err)
	}
}

func (d *Dispatcher) emit(ctx context.Context, prompts []Prompt) {
	if d.Sink == nil {
		return
	}
	for _, p := range prompts {
		if err := d.Sink.Emit(ctx, p); err != nil {
			d.Logger.Warnf(logger.WithOrderID(ctx, p.OrderID), "[Dispatcher] emit %s prompt failed: %v", p.Kind, err)
		}
	}
}

// failEvent 将组件错误转换为 Failed 事件，保留错误分类
func failEvent(orderID string, err error) Event {
	e := errorutil.Wrap(err)
	return Event{
		OrderID: orderID,
		Type:    EventFailed,
		Value:   e.Message,
		Meta:    map[string]string{MetaErrorKind: string(e.Kind)},
		Source:  SourceSystem,
	}
}

func isSideTerminal(s etorder.Status) bool {
	return s == etorder.StatusFailed || s == etorder.StatusTimedOut || s == etorder.StatusCancelled
}

func formatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
