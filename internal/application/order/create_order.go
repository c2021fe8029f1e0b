package order

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiebiao/displayno/internal/application/allocation"
	"github.com/xiebiao/displayno/internal/domain/order"
	"github.com/xiebiao/displayno/internal/domain/slot"
)

// CreateOrderUseCase 创建订单用例
// 生成内部ID、写入订单、分配取餐号，三件事在同一个事务里完成
type CreateOrderUseCase struct {
	orderRepo  order.Repository
	allocation *allocation.Service
	log        *zap.Logger
	now        func() time.Time
}

// NewCreateOrderUseCase 创建下单用例
func NewCreateOrderUseCase(
	orderRepo order.Repository,
	allocationService *allocation.Service,
	log *zap.Logger,
) *CreateOrderUseCase {
	return &CreateOrderUseCase{
		orderRepo:  orderRepo,
		allocation: allocationService,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时钟（测试用）
func (uc *CreateOrderUseCase) SetClock(now func() time.Time) {
	uc.now = now
}

// CreateOrderRequest 下单请求
type CreateOrderRequest struct {
	RestaurantID string // 来自X-Restaurant-ID
}

// Execute 执行下单用例
//
// 流程：
//  1. 生成内部订单ID（UUID v4，永不复用）
//  2. 写入订单（pending）
//  3. 分配取餐号（加入当前事务，号码池锁持有到提交）
//  4. COMMIT
//
// 任何一步失败整个事务回滚：不会出现“有号码没订单”或“有订单没号码”。
// 锁冲突时整个事务按退避策略重试，每次重试使用新的内部ID。
func (uc *CreateOrderUseCase) Execute(ctx context.Context, req CreateOrderRequest) (*order.Order, error) {
	if err := slot.ValidateRestaurantID(req.RestaurantID); err != nil {
		return nil, err
	}

	var created *order.Order
	err := uc.allocation.RunInTransaction(ctx, func(txCtx context.Context) error {
		o := order.NewOrder(order.GenerateInternalOrderID(), req.RestaurantID, uc.now())
		if err := uc.orderRepo.Create(txCtx, o); err != nil {
			return err
		}

		number, err := uc.allocation.Allocate(txCtx, req.RestaurantID, o.InternalOrderID)
		if err != nil {
			return err
		}

		o.DisplayOrderNumber = &number
		last := number
		o.LastDisplayNumber = &last
		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.log.Info("订单已创建",
		zap.String("restaurant_id", created.RestaurantID),
		zap.String("internal_order_id", created.InternalOrderID),
		zap.Int("display_number", *created.DisplayOrderNumber))
	return created, nil
}
