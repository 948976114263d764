package mysql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("order not found")

// OrderDAO 订单数据访问对象
type OrderDAO struct {
	db *gorm.DB
}

// Open 连接 MySQL
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// NewOrderDAO 创建 OrderDAO 实例
func NewOrderDAO(db *gorm.DB) *OrderDAO {
	return &OrderDAO{db: db}
}

// AutoMigrate 建表
func (dao *OrderDAO) AutoMigrate() error {
	return dao.db.AutoMigrate(&OrderPO{})
}

// Upsert 写入订单快照
// 只有版本更新的快照会覆盖已有记录，乱序到达的旧快照被忽略
func (dao *OrderDAO) Upsert(ctx context.Context, po *OrderPO) error {
	result := dao.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: versionedAssignments(),
	}).Create(po)

	if result.Error != nil {
		return fmt.Errorf("failed to upsert order: %w", result.Error)
	}
	return nil
}

// snapshotColumns 快照覆盖的列
var snapshotColumns = []string{
	"status", "currency", "network", "amount_fiat_cents", "fee_cents", "payment_method",
	"payment_ref", "pix_code", "blockchain_tx_id", "destination", "amount_sats",
	"resolved_invoice", "settlement_tx_id", "settlement_fee_sats", "failure_kind",
	"failure_reason", "event_log", "updated_at",
}

// versionedAssignments 生成按版本条件更新的赋值列表
// version 必须最后赋值，前面的条件才能读到旧版本
func versionedAssignments() clause.Set {
	set := make(clause.Set, 0, len(snapshotColumns)+1)
	for _, col := range snapshotColumns {
		set = append(set, clause.Assignment{
			Column: clause.Column{Name: col},
			Value:  gorm.Expr(fmt.Sprintf("IF(VALUES(version) > version, VALUES(%s), %s)", col, col)),
		})
	}
	set = append(set, clause.Assignment{
		Column: clause.Column{Name: "version"},
		Value:  gorm.Expr("GREATEST(version, VALUES(version))"),
	})
	return set
}

// GetByID 根据订单 ID 获取订单
func (dao *OrderDAO) GetByID(ctx context.Context, orderID string) (*OrderPO, error) {
	var po OrderPO
	err := dao.db.WithContext(ctx).Where("id = ?", orderID).First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return &po, nil
}

// ListByStatus 查询处于指定状态的订单
func (dao *OrderDAO) ListByStatus(ctx context.Context, statuses []string) ([]OrderPO, error) {
	var pos []OrderPO
	err := dao.db.WithContext(ctx).
		Where("status IN ?", statuses).
		Order("created_at ASC").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return pos, nil
}

// Close 关闭数据库连接
func (dao *OrderDAO) Close() error {
	sqlDB, err := dao.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
