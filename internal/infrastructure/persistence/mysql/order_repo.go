package mysql

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xiebiao/displayno/internal/domain/order"
	"github.com/xiebiao/displayno/internal/domain/slot"
)

// searchNumberExpr 搜索使用的号码：活跃订单用当前号码，历史订单用最近一次号码
const (
	searchNumberExpr = "COALESCE(orders.display_order_number, orders.last_display_number)"
	searchNumberText = "CAST(" + searchNumberExpr + " AS CHAR)"
)

// orderRepository 订单仓储实现
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓储
func NewOrderRepository(db *gorm.DB) order.Repository {
	return &orderRepository{db: db}
}

// Create 创建订单
func (r *orderRepository) Create(ctx context.Context, o *order.Order) error {
	model := toOrderModel(o)
	if err := r.getDB(ctx).Create(model).Error; err != nil {
		if isDuplicateError(err) {
			return order.ErrOrderDuplicate.WithCause(err)
		}
		return translateError(err, "创建订单失败")
	}
	o.ID = model.ID
	o.CreatedAt = model.CreatedAt.UTC()
	o.UpdatedAt = model.UpdatedAt.UTC()
	return nil
}

// FindByInternalID 按内部ID查询
func (r *orderRepository) FindByInternalID(ctx context.Context, internalID string) (*order.Order, error) {
	return r.first(ctx, r.getDB(ctx).Where("internal_order_id = ?", internalID))
}

// LockByInternalID 按内部ID加锁查询
func (r *orderRepository) LockByInternalID(ctx context.Context, internalID string) (*order.Order, error) {
	db := r.getDB(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	return r.first(ctx, db.Where("internal_order_id = ?", internalID))
}

// FindByInternalIDs 批量查询
func (r *orderRepository) FindByInternalIDs(ctx context.Context, internalIDs []string) (map[string]*order.Order, error) {
	result := make(map[string]*order.Order, len(internalIDs))
	if len(internalIDs) == 0 {
		return result, nil
	}

	var models []OrderModel
	if err := r.getDB(ctx).Where("internal_order_id IN ?", internalIDs).Find(&models).Error; err != nil {
		return nil, translateError(err, "批量查询订单失败")
	}
	for i := range models {
		o := toOrderEntity(&models[i])
		result[o.InternalOrderID] = o
	}
	return result, nil
}

// FindByDisplayNumber 按取餐号查询，只在指定餐厅内查找
func (r *orderRepository) FindByDisplayNumber(ctx context.Context, restaurantID string, number int) (*order.Order, error) {
	db := r.getDB(ctx).Where("restaurant_id = ? AND display_order_number = ?", restaurantID, number)
	return r.first(ctx, db)
}

func (r *orderRepository) first(ctx context.Context, db *gorm.DB) (*order.Order, error) {
	var model OrderModel
	if err := db.First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, translateError(err, "查询订单失败")
	}
	return toOrderEntity(&model), nil
}

// Update 更新订单状态
func (r *orderRepository) Update(ctx context.Context, o *order.Order) error {
	result := r.getDB(ctx).Model(&OrderModel{}).
		Where("id = ?", o.ID).
		Updates(map[string]interface{}{
			"status":       int(o.Status),
			"completed_at": o.CompletedAt,
			"updated_at":   o.UpdatedAt,
		})
	if result.Error != nil {
		return translateError(result.Error, "更新订单失败")
	}
	if result.RowsAffected == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

// SetDisplayNumber 设置或清除订单当前号码
func (r *orderRepository) SetDisplayNumber(ctx context.Context, internalID string, number *int) error {
	updates := map[string]interface{}{
		"display_order_number": number,
		"updated_at":           time.Now().UTC(),
	}
	if number != nil {
		updates["last_display_number"] = *number
	}

	err := r.getDB(ctx).Model(&OrderModel{}).
		Where("internal_order_id = ?", internalID).
		Updates(updates).Error
	return translateError(err, "更新订单号码失败")
}

// ListActiveWithDisplay 当前持有号码的活跃订单
// 以号码表为准：只返回号码仍处于allocated且指向该订单的记录，
// 订单上残留的旧号码不会出现在看板上
func (r *orderRepository) ListActiveWithDisplay(ctx context.Context, restaurantID string) ([]*order.Order, error) {
	var models []OrderModel
	err := r.getDB(ctx).
		Select("orders.*").
		Joins("JOIN slots ON slots.current_order_ref = orders.internal_order_id"+
			" AND slots.restaurant_id = orders.restaurant_id"+
			" AND slots.display_number = orders.display_order_number").
		Where("orders.restaurant_id = ? AND slots.status = ? AND orders.status NOT IN ?",
			restaurantID, int(slot.StatusAllocated), terminalStatusValues()).
		Order("slots.allocated_at ASC, slots.display_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, translateError(err, "查询活跃订单失败")
	}

	orders := make([]*order.Order, 0, len(models))
	for i := range models {
		orders = append(orders, toOrderEntity(&models[i]))
	}
	return orders, nil
}

// Search 模糊搜索
//
// 排序规则（数据库内完成，LIMIT之前）：
//  1. 号码完全相等
//  2. 号码前缀匹配
//  3. 号码包含
//  4. 内部ID前缀匹配
//  5. 内部ID包含
//
// 同一档内活跃订单优先，其次按创建时间倒序
func (r *orderRepository) Search(ctx context.Context, q order.SearchQuery) ([]*order.Order, error) {
	var (
		conds    []string
		args     []interface{}
		rankSQL  []string
		rankArgs []interface{}
	)

	if q.Number > 0 {
		n := strconv.Itoa(q.Number)
		conds = append(conds, searchNumberText+" LIKE ?")
		args = append(args, "%"+n+"%")

		rankSQL = append(rankSQL,
			"WHEN "+searchNumberExpr+" = ? THEN 0",
			"WHEN "+searchNumberText+" LIKE ? THEN 1",
			"WHEN "+searchNumberText+" LIKE ? THEN 2")
		rankArgs = append(rankArgs, q.Number, n+"%", "%"+n+"%")
	}
	if q.IDFragment != "" {
		conds = append(conds, "orders.internal_order_id LIKE ?")
		args = append(args, "%"+q.IDFragment+"%")

		rankSQL = append(rankSQL, "WHEN orders.internal_order_id LIKE ? THEN 3")
		rankArgs = append(rankArgs, q.IDFragment+"%")
	}
	if len(conds) == 0 {
		return []*order.Order{}, nil
	}

	db := r.getDB(ctx).
		Where("orders.restaurant_id = ?", q.RestaurantID).
		Where("("+strings.Join(conds, " OR ")+")", args...)
	if !q.IncludeCompleted {
		db = db.Where("orders.status NOT IN ?", terminalStatusValues())
	}

	terminal := terminalStatusValues()
	orderBy := fmt.Sprintf("CASE %s ELSE 4 END, CASE WHEN orders.status IN (%d, %d) THEN 1 ELSE 0 END, orders.created_at DESC, orders.id DESC",
		strings.Join(rankSQL, " "), terminal[0], terminal[1])

	var models []OrderModel
	err := db.Clauses(clause.OrderBy{Expression: clause.Expr{SQL: orderBy, Vars: rankArgs, WithoutParentheses: true}}).
		Limit(q.Limit).
		Find(&models).Error
	if err != nil {
		return nil, translateError(err, "搜索订单失败")
	}

	orders := make([]*order.Order, 0, len(models))
	for i := range models {
		orders = append(orders, toOrderEntity(&models[i]))
	}
	return orders, nil
}

// getDB 从context获取事务DB
func (r *orderRepository) getDB(ctx context.Context) *gorm.DB {
	return dbFromContext(ctx, r.db)
}

func terminalStatusValues() []int {
	statuses := order.TerminalStatuses()
	values := make([]int, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, int(s))
	}
	return values
}

// =========================================
// 模型转换
// =========================================

func toOrderModel(o *order.Order) *OrderModel {
	return &OrderModel{
		ID:                 o.ID,
		InternalOrderID:    o.InternalOrderID,
		RestaurantID:       o.RestaurantID,
		DisplayOrderNumber: o.DisplayOrderNumber,
		LastDisplayNumber:  o.LastDisplayNumber,
		Status:             int(o.Status),
		CompletedAt:        o.CompletedAt,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
}

func toOrderEntity(m *OrderModel) *order.Order {
	return &order.Order{
		ID:                 m.ID,
		InternalOrderID:    m.InternalOrderID,
		RestaurantID:       m.RestaurantID,
		DisplayOrderNumber: m.DisplayOrderNumber,
		LastDisplayNumber:  m.LastDisplayNumber,
		Status:             order.Status(m.Status),
		CompletedAt:        utcPtr(m.CompletedAt),
		CreatedAt:          m.CreatedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
	}
}
