package rporder

import (
	"context"
	"sort"
	"sync"

	"pixbridge/internal/entity/etorder"
)

// MemoryRepository 内存仓储（未配置 MySQL 时使用，也用于测试）
type MemoryRepository struct {
	mu     sync.Mutex
	orders map[string]*etorder.Order
}

// NewMemoryRepository 创建内存仓储
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]*etorder.Order)}
}

// Save 保存快照，旧版本不覆盖新版本
func (r *MemoryRepository) Save(ctx context.Context, order *etorder.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.orders[order.ID]; ok && len(cur.EventLog) > len(order.EventLog) {
		return nil
	}
	r.orders[order.ID] = order.Clone()
	return nil
}

// GetByID 根据ID查询订单
func (r *MemoryRepository) GetByID(ctx context.Context, orderID string) (*etorder.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return o.Clone(), nil
}

// ListActive 查询所有非终态订单，按创建时间排序
func (r *MemoryRepository) ListActive(ctx context.Context) ([]*etorder.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*etorder.Order
	for _, o := range r.orders {
		if !o.Status.IsTerminal() {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
