package order

import (
	"context"
)

// Repository 订单仓储接口
// 由domain层定义接口，infrastructure层实现；事务通过context传递
type Repository interface {
	// Create 创建订单
	Create(ctx context.Context, order *Order) error

	// FindByInternalID 按内部ID查询（全局，不区分餐厅）
	FindByInternalID(ctx context.Context, internalID string) (*Order, error)

	// LockByInternalID 按内部ID加锁查询（SELECT FOR UPDATE）
	LockByInternalID(ctx context.Context, internalID string) (*Order, error)

	// FindByInternalIDs 批量查询，返回 internalID -> Order（不存在的ID不在结果中）
	FindByInternalIDs(ctx context.Context, internalIDs []string) (map[string]*Order, error)

	// FindByDisplayNumber 按取餐号查询（严格限定餐厅）
	FindByDisplayNumber(ctx context.Context, restaurantID string, number int) (*Order, error)

	// Update 更新订单状态
	Update(ctx context.Context, order *Order) error

	// SetDisplayNumber 设置或清除订单当前号码
	// number非nil时同时更新last_display_number；订单不存在时不报错
	SetDisplayNumber(ctx context.Context, internalID string, number *int) error

	// ListActiveWithDisplay 当前持有号码的活跃订单（按分配时间、号码排序）
	ListActiveWithDisplay(ctx context.Context, restaurantID string) ([]*Order, error)

	// Search 模糊搜索（已按匹配度排序）
	Search(ctx context.Context, query SearchQuery) ([]*Order, error)
}

// SearchQuery 搜索条件（已规范化）
type SearchQuery struct {
	RestaurantID     string
	Number           int    // 规范化后的号码（去掉前导0），0表示不按号码匹配
	IDFragment       string // 内部ID片段（小写），空表示不按ID匹配
	IncludeCompleted bool
	Limit            int
}

// BoardCache 活跃订单看板缓存
//
// 缓存按版本号组织：Get返回读取时的版本，未命中时调用方从数据库加载后用同一版本Set。
// 号码变化提交后Invalidate递增版本，旧版本的数据自然失效，不会把旧数据写回新版本。
type BoardCache interface {
	Get(ctx context.Context, restaurantID string) (orders []*Order, version int64, hit bool, err error)
	Set(ctx context.Context, restaurantID string, version int64, orders []*Order) error
	Invalidate(ctx context.Context, restaurantID string) error
}
