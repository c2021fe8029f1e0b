package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xiebiao/displayno/internal/domain/slot"
)

// slotRepository 号码仓储实现
type slotRepository struct {
	db *gorm.DB
}

// NewSlotRepository 创建号码仓储
func NewSlotRepository(db *gorm.DB) slot.Repository {
	return &slotRepository{db: db}
}

// LockPool 锁定餐厅号码池行
// 1. INSERT ... ON CONFLICT DO NOTHING 保证行存在（首次分配时创建）
// 2. SELECT ... FOR UPDATE 锁定该行，直到事务结束
func (r *slotRepository) LockPool(ctx context.Context, restaurantID string) (*slot.Pool, error) {
	db := r.getDB(ctx)

	seed := PoolModel{RestaurantID: restaurantID}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, translateError(err, "初始化号码池失败")
	}

	var model PoolModel
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("restaurant_id = ?", restaurantID).
		First(&model).Error
	if err != nil {
		return nil, translateError(err, "锁定号码池失败")
	}

	return toPoolEntity(&model), nil
}

// SavePool 保存号码池
func (r *slotRepository) SavePool(ctx context.Context, pool *slot.Pool) error {
	err := r.getDB(ctx).Model(&PoolModel{}).
		Where("restaurant_id = ?", pool.RestaurantID).
		Updates(map[string]interface{}{
			"provisioned": pool.Provisioned,
			"updated_at":  pool.UpdatedAt,
		}).Error
	return translateError(err, "更新号码池失败")
}

// ExpireCooldowns 冷却到期的号码批量转为可分配
func (r *slotRepository) ExpireCooldowns(ctx context.Context, restaurantID string, now time.Time) (int64, error) {
	result := r.getDB(ctx).Model(&SlotModel{}).
		Where("restaurant_id = ? AND status = ? AND cooldown_expires_at <= ?",
			restaurantID, int(slot.StatusCooldown), now).
		Updates(map[string]interface{}{
			"status":              int(slot.StatusAvailable),
			"cooldown_expires_at": nil,
			"updated_at":          now,
		})
	if result.Error != nil {
		return 0, translateError(result.Error, "翻转冷却号码失败")
	}
	return result.RowsAffected, nil
}

// LockLowestAvailable 锁定号码最小的可分配号码
// 走idx_slots_pick索引：restaurant_id + status 定位，display_number 有序，LIMIT 1
func (r *slotRepository) LockLowestAvailable(ctx context.Context, restaurantID string, maxNumber int) (*slot.Slot, error) {
	var model SlotModel
	err := r.getDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("restaurant_id = ? AND status = ? AND display_number <= ?",
			restaurantID, int(slot.StatusAvailable), maxNumber).
		Order("display_number ASC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, slot.ErrSlotNotFound
		}
		return nil, translateError(err, "查询可分配号码失败")
	}
	return toSlotEntity(&model), nil
}

// LockByNumber 按号码加锁查询
func (r *slotRepository) LockByNumber(ctx context.Context, restaurantID string, number int) (*slot.Slot, error) {
	var model SlotModel
	err := r.getDB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("restaurant_id = ? AND display_number = ?", restaurantID, number).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, slot.ErrSlotNotFound
		}
		return nil, translateError(err, "锁定号码失败")
	}
	return toSlotEntity(&model), nil
}

// LockByOrderRef 按订单加锁查询
func (r *slotRepository) LockByOrderRef(ctx context.Context, orderRef string) (*slot.Slot, error) {
	return r.findByOrderRef(ctx, orderRef, true)
}

// FindByOrderRef 按订单查询（不加锁）
func (r *slotRepository) FindByOrderRef(ctx context.Context, orderRef string) (*slot.Slot, error) {
	return r.findByOrderRef(ctx, orderRef, false)
}

func (r *slotRepository) findByOrderRef(ctx context.Context, orderRef string, lock bool) (*slot.Slot, error) {
	db := r.getDB(ctx)
	if lock {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var model SlotModel
	err := db.Where("current_order_ref = ? AND status = ?", orderRef, int(slot.StatusAllocated)).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, slot.ErrSlotNotFound
		}
		return nil, translateError(err, "查询订单号码失败")
	}
	return toSlotEntity(&model), nil
}

// Create 创建号码
func (r *slotRepository) Create(ctx context.Context, s *slot.Slot) error {
	model := toSlotModel(s)
	if err := r.getDB(ctx).Create(model).Error; err != nil {
		return translateError(err, "创建号码失败")
	}
	s.ID = model.ID
	return nil
}

// Update 更新号码
// 使用map更新，nil字段会写成NULL（struct更新会跳过零值）
func (r *slotRepository) Update(ctx context.Context, s *slot.Slot) error {
	err := r.getDB(ctx).Model(&SlotModel{}).
		Where("id = ?", s.ID).
		Updates(map[string]interface{}{
			"status":              int(s.Status),
			"current_order_ref":   s.CurrentOrderRef,
			"allocated_at":        s.AllocatedAt,
			"cooldown_expires_at": s.CooldownExpiresAt,
			"updated_at":          s.UpdatedAt,
		}).Error
	return translateError(err, "更新号码失败")
}

// Count 统计号码池各状态数量（只读，不加锁）
func (r *slotRepository) Count(ctx context.Context, restaurantID string, now time.Time) (slot.Counts, error) {
	db := r.getDB(ctx)

	var rows []struct {
		Status int
		Total  int
	}
	err := db.Model(&SlotModel{}).
		Select("status, COUNT(*) AS total").
		Where("restaurant_id = ?", restaurantID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return slot.Counts{}, translateError(err, "统计号码失败")
	}

	var expired int64
	err = db.Model(&SlotModel{}).
		Where("restaurant_id = ? AND status = ? AND cooldown_expires_at <= ?",
			restaurantID, int(slot.StatusCooldown), now).
		Count(&expired).Error
	if err != nil {
		return slot.Counts{}, translateError(err, "统计冷却号码失败")
	}

	var c slot.Counts
	for _, row := range rows {
		c.Provisioned += row.Total
		switch slot.Status(row.Status) {
		case slot.StatusAvailable:
			c.Available += row.Total
		case slot.StatusAllocated:
			c.Allocated += row.Total
		case slot.StatusCooldown:
			c.Cooldown += row.Total
		}
	}
	// 冷却已到期的号码按可分配计算
	c.ExpiredCooldown = int(expired)
	c.Cooldown -= c.ExpiredCooldown
	c.Available += c.ExpiredCooldown
	return c, nil
}

// FindSweepCandidates 查询清理候选
// 用 id > afterID 做游标分页，不用OFFSET：翻页期间有号码状态变化也不会漏掉或重复
func (r *slotRepository) FindSweepCandidates(ctx context.Context, now, allocatedBefore time.Time, afterID uint, limit int) ([]*slot.Slot, error) {
	var models []SlotModel
	err := r.getDB(ctx).
		Where("id > ?", afterID).
		Where("(status = ? AND cooldown_expires_at <= ?) OR (status = ? AND allocated_at <= ?)",
			int(slot.StatusCooldown), now, int(slot.StatusAllocated), allocatedBefore).
		Order("id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, translateError(err, "查询清理候选失败")
	}

	slots := make([]*slot.Slot, 0, len(models))
	for i := range models {
		slots = append(slots, toSlotEntity(&models[i]))
	}
	return slots, nil
}

// getDB 从context获取事务DB
func (r *slotRepository) getDB(ctx context.Context) *gorm.DB {
	return dbFromContext(ctx, r.db)
}

// =========================================
// 模型转换
// =========================================

func toPoolEntity(m *PoolModel) *slot.Pool {
	return &slot.Pool{
		RestaurantID: m.RestaurantID,
		Provisioned:  m.Provisioned,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func toSlotModel(s *slot.Slot) *SlotModel {
	return &SlotModel{
		ID:                s.ID,
		RestaurantID:      s.RestaurantID,
		DisplayNumber:     s.DisplayNumber,
		Status:            int(s.Status),
		CurrentOrderRef:   s.CurrentOrderRef,
		AllocatedAt:       s.AllocatedAt,
		CooldownExpiresAt: s.CooldownExpiresAt,
		CreatedAt:         s.CreatedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func toSlotEntity(m *SlotModel) *slot.Slot {
	return &slot.Slot{
		ID:                m.ID,
		RestaurantID:      m.RestaurantID,
		DisplayNumber:     m.DisplayNumber,
		Status:            slot.Status(m.Status),
		CurrentOrderRef:   m.CurrentOrderRef,
		AllocatedAt:       utcPtr(m.AllocatedAt),
		CooldownExpiresAt: utcPtr(m.CooldownExpiresAt),
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
