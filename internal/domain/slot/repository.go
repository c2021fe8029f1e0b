package slot

import (
	"context"
	"time"
)

// Repository 号码仓储接口
// 所有加锁方法必须在事务内调用（事务通过context传递）
type Repository interface {
	// LockPool 锁定餐厅号码池行（不存在则先创建）
	// 同一餐厅的分配、回收都先拿这把锁
	LockPool(ctx context.Context, restaurantID string) (*Pool, error)

	// SavePool 保存号码池
	SavePool(ctx context.Context, pool *Pool) error

	// ExpireCooldowns 把冷却到期的号码批量翻转为可分配（惰性到期）
	ExpireCooldowns(ctx context.Context, restaurantID string, now time.Time) (int64, error)

	// LockLowestAvailable 锁定号码最小的可分配号码（不超过maxNumber）
	// 没有可分配号码时返回ErrSlotNotFound
	LockLowestAvailable(ctx context.Context, restaurantID string, maxNumber int) (*Slot, error)

	// LockByNumber 按号码加锁查询
	LockByNumber(ctx context.Context, restaurantID string, number int) (*Slot, error)

	// LockByOrderRef 按订单加锁查询其占用的号码
	LockByOrderRef(ctx context.Context, orderRef string) (*Slot, error)

	// FindByOrderRef 查询订单占用的号码（不加锁）
	FindByOrderRef(ctx context.Context, orderRef string) (*Slot, error)

	// Create 创建号码
	Create(ctx context.Context, slot *Slot) error

	// Update 更新号码状态
	Update(ctx context.Context, slot *Slot) error

	// Count 统计号码池各状态数量
	Count(ctx context.Context, restaurantID string, now time.Time) (Counts, error)

	// FindSweepCandidates 查询清理候选：冷却已到期的号码 + 分配时间早于allocatedBefore的号码
	// 按ID升序分页，afterID为上一页最后一条的ID（第一页传0）
	FindSweepCandidates(ctx context.Context, now, allocatedBefore time.Time, afterID uint, limit int) ([]*Slot, error)
}
