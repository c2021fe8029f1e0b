// Package lookup 订单查询：按取餐号、按内部ID、模糊搜索、叫号看板、号码池统计
//
// 查询都是只读的，不加锁，不会阻塞号码分配。
package lookup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiebiao/displayno/internal/domain/order"
	"github.com/xiebiao/displayno/internal/domain/slot"
	"github.com/xiebiao/displayno/internal/infrastructure/config"
)

// Service 订单查询服务
type Service struct {
	orders order.Repository
	slots  slot.Repository
	cache  order.BoardCache
	policy slot.Policy
	log    *zap.Logger
	now    func() time.Time
}

// NewService 创建查询服务
func NewService(
	orders order.Repository,
	slots slot.Repository,
	cache order.BoardCache,
	cfg *config.Config,
	log *zap.Logger,
) *Service {
	return &Service{
		orders: orders,
		slots:  slots,
		cache:  cache,
		policy: cfg.Slot.Policy(),
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时钟（测试用）
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// ByDisplayNumber 按取餐号查询
// 严格限定在调用方的餐厅内，不会跨餐厅查找
func (s *Service) ByDisplayNumber(ctx context.Context, restaurantID string, number int) (*order.Order, error) {
	if err := slot.ValidateRestaurantID(restaurantID); err != nil {
		return nil, err
	}
	if err := slot.ValidateDisplayNumber(number); err != nil {
		return nil, err
	}
	return s.orders.FindByDisplayNumber(ctx, restaurantID, number)
}

// ByInternalID 按内部ID查询（全局）
// 与号码状态无关：号码已释放、已复用的历史订单同样能查到
func (s *Service) ByInternalID(ctx context.Context, internalID string) (*order.Order, error) {
	id, err := order.NormalizeInternalID(internalID)
	if err != nil {
		return nil, err
	}
	return s.orders.FindByInternalID(ctx, id)
}

// SearchRequest 搜索请求
type SearchRequest struct {
	RestaurantID     string
	Query            string
	IncludeCompleted bool
	Limit            int
}

// Search 模糊搜索（结果已按匹配度排序）
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]*order.Order, error) {
	if err := slot.ValidateRestaurantID(req.RestaurantID); err != nil {
		return nil, err
	}
	parsed, err := ParseQuery(req.Query)
	if err != nil {
		return nil, err
	}
	if parsed.Empty() {
		return []*order.Order{}, nil
	}

	return s.orders.Search(ctx, order.SearchQuery{
		RestaurantID:     req.RestaurantID,
		Number:           parsed.Number,
		IDFragment:       parsed.IDFragment,
		IncludeCompleted: req.IncludeCompleted,
		Limit:            NormalizeLimit(req.Limit),
	})
}

// ActiveBoard 当前持有取餐号的活跃订单（叫号屏）
//
// 先读Redis缓存；未命中时查库并按读取时的版本回写。
// Redis出错时直接查库，不影响叫号屏显示。
func (s *Service) ActiveBoard(ctx context.Context, restaurantID string) ([]*order.Order, error) {
	if err := slot.ValidateRestaurantID(restaurantID); err != nil {
		return nil, err
	}

	cached, version, hit, err := s.cache.Get(ctx, restaurantID)
	if err != nil {
		s.log.Warn("读取看板缓存失败", zap.String("restaurant_id", restaurantID), zap.Error(err))
	} else if hit {
		return cached, nil
	}

	orders, dbErr := s.orders.ListActiveWithDisplay(ctx, restaurantID)
	if dbErr != nil {
		return nil, dbErr
	}

	if err == nil {
		if err := s.cache.Set(ctx, restaurantID, version, orders); err != nil {
			s.log.Warn("写入看板缓存失败", zap.String("restaurant_id", restaurantID), zap.Error(err))
		}
	}
	return orders, nil
}

// Stats 号码池统计（运营看板）
func (s *Service) Stats(ctx context.Context, restaurantID string) (slot.Stats, error) {
	if err := slot.ValidateRestaurantID(restaurantID); err != nil {
		return slot.Stats{}, err
	}
	counts, err := s.slots.Count(ctx, restaurantID, s.now())
	if err != nil {
		return slot.Stats{}, err
	}
	return slot.NewStats(restaurantID, s.policy.MaxDisplayNumber, counts), nil
}
