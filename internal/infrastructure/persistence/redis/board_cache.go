package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiebiao/displayno/internal/domain/order"
	"github.com/xiebiao/displayno/internal/infrastructure/config"
	apperrors "github.com/xiebiao/displayno/pkg/errors"
)

// BoardCache 活跃订单看板缓存
//
// Key设计：
//   - displayno:board:ver:{restaurant_id}         当前版本号（INCR递增，不过期）
//   - displayno:board:data:{restaurant_id}:{ver}  该版本的看板数据（JSON，带TTL）
//
// 叫号屏每隔几秒轮询一次，同一餐厅的多块屏幕共享一份缓存。
// client为nil时缓存关闭：Get永远未命中，Set/Invalidate什么都不做。
type BoardCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBoardCache 创建看板缓存
func NewBoardCache(client *redis.Client, cfg *config.Config) *BoardCache {
	return &BoardCache{client: client, ttl: cfg.Slot.BoardCacheTTL}
}

// cachedOrder 缓存中的订单（与领域实体解耦，字段变化不影响已缓存数据的解析）
type cachedOrder struct {
	ID                 uint       `json:"id"`
	InternalOrderID    string     `json:"internal_order_id"`
	RestaurantID       string     `json:"restaurant_id"`
	DisplayOrderNumber *int       `json:"display_order_number"`
	LastDisplayNumber  *int       `json:"last_display_number,omitempty"`
	Status             int        `json:"status"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func versionKey(restaurantID string) string {
	return fmt.Sprintf("displayno:board:ver:%s", restaurantID)
}

func dataKey(restaurantID string, version int64) string {
	return fmt.Sprintf("displayno:board:data:%s:%d", restaurantID, version)
}

// Get 读取当前版本的看板数据
func (c *BoardCache) Get(ctx context.Context, restaurantID string) ([]*order.Order, int64, bool, error) {
	if c.client == nil {
		return nil, 0, false, nil
	}

	version, err := c.client.Get(ctx, versionKey(restaurantID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, false, apperrors.ErrRedisError.WithCause(err)
	}

	data, err := c.client.Get(ctx, dataKey(restaurantID, version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, version, false, nil
		}
		return nil, version, false, apperrors.ErrRedisError.WithCause(err)
	}

	var cached []cachedOrder
	if err := json.Unmarshal(data, &cached); err != nil {
		// 数据损坏按未命中处理，下次Set会覆盖
		return nil, version, false, nil
	}

	orders := make([]*order.Order, 0, len(cached))
	for i := range cached {
		orders = append(orders, fromCached(&cached[i]))
	}
	return orders, version, true, nil
}

// Set 写入指定版本的看板数据
func (c *BoardCache) Set(ctx context.Context, restaurantID string, version int64, orders []*order.Order) error {
	if c.client == nil {
		return nil
	}

	cached := make([]cachedOrder, 0, len(orders))
	for _, o := range orders {
		cached = append(cached, toCached(o))
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return apperrors.Wrap(err, "序列化看板数据失败")
	}

	if err := c.client.Set(ctx, dataKey(restaurantID, version), data, c.ttl).Err(); err != nil {
		return apperrors.ErrRedisError.WithCause(err)
	}
	return nil
}

// Invalidate 递增版本号，使当前缓存失效
func (c *BoardCache) Invalidate(ctx context.Context, restaurantID string) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, versionKey(restaurantID)).Err(); err != nil {
		return apperrors.ErrRedisError.WithCause(err)
	}
	return nil
}

func toCached(o *order.Order) cachedOrder {
	return cachedOrder{
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

func fromCached(c *cachedOrder) *order.Order {
	return &order.Order{
		ID:                 c.ID,
		InternalOrderID:    c.InternalOrderID,
		RestaurantID:       c.RestaurantID,
		DisplayOrderNumber: c.DisplayOrderNumber,
		LastDisplayNumber:  c.LastDisplayNumber,
		Status:             order.Status(c.Status),
		CompletedAt:        c.CompletedAt,
		CreatedAt:          c.CreatedAt.UTC(),
		UpdatedAt:          c.UpdatedAt.UTC(),
	}
}
