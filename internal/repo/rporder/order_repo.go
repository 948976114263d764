package rporder

import (
	"context"
	"errors"

	"pixbridge/internal/entity/etorder"
)

// ErrOrderNotFound 订单不存在
var ErrOrderNotFound = errors.New("order not found")

// OrderRepository 订单仓储接口
// 每次事件应用后保存整单快照；快照版本为事件日志条数，旧版本不会覆盖新版本
type OrderRepository interface {
	// Save 保存订单快照
	Save(ctx context.Context, order *etorder.Order) error

	// GetByID 根据ID查询订单
	GetByID(ctx context.Context, orderID string) (*etorder.Order, error)

	// ListActive 查询所有非终态订单（启动恢复用）
	ListActive(ctx context.Context) ([]*etorder.Order, error)
}

// activeStatuses 非终态
var activeStatuses = []etorder.Status{
	etorder.StatusCreated,
	etorder.StatusCurrencySelected,
	etorder.StatusNetworkSelected,
	etorder.StatusAmountSet,
	etorder.StatusPaymentMethodSelected,
	etorder.StatusPixGenerated,
	etorder.StatusPixConfirmed,
	etorder.StatusDestinationRequested,
	etorder.StatusDestinationProvided,
}
