package order

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xiebiao/displayno/internal/application/allocation"
	"github.com/xiebiao/displayno/internal/domain/order"
)

// TransitionOrderUseCase 订单状态流转用例
// 订单进入终态（completed/cancelled）时，在同一事务内释放取餐号
type TransitionOrderUseCase struct {
	orderRepo  order.Repository
	allocation *allocation.Service
	log        *zap.Logger
	now        func() time.Time
}

// NewTransitionOrderUseCase 创建状态流转用例
func NewTransitionOrderUseCase(
	orderRepo order.Repository,
	allocationService *allocation.Service,
	log *zap.Logger,
) *TransitionOrderUseCase {
	return &TransitionOrderUseCase{
		orderRepo:  orderRepo,
		allocation: allocationService,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时钟（测试用）
func (uc *TransitionOrderUseCase) SetClock(now func() time.Time) {
	uc.now = now
}

// TransitionOrderRequest 状态流转请求
type TransitionOrderRequest struct {
	RestaurantID    string // 调用方餐厅，订单不属于该餐厅时按不存在处理
	InternalOrderID string
	Status          string // 目标状态：pending/preparing/served/held/completed/cancelled
	Immediate       bool   // 进入终态时跳过冷却期（管理操作）
}

// TransitionOrderResult 状态流转结果
type TransitionOrderResult struct {
	Order   *order.Order
	Release *allocation.ReleaseResult // 只有进入终态时才有值
}

// Execute 执行状态流转
//
// 终态只能进入一次（completed/cancelled没有出边），
// 所以释放号码在订单生命周期内恰好执行一次。
func (uc *TransitionOrderUseCase) Execute(ctx context.Context, req TransitionOrderRequest) (*TransitionOrderResult, error) {
	id, err := order.NormalizeInternalID(req.InternalOrderID)
	if err != nil {
		return nil, err
	}
	target, err := order.ParseStatus(req.Status)
	if err != nil {
		return nil, err
	}

	var result TransitionOrderResult
	err = uc.allocation.RunInTransaction(ctx, func(txCtx context.Context) error {
		result = TransitionOrderResult{}

		o, err := uc.orderRepo.LockByInternalID(txCtx, id)
		if err != nil {
			return err
		}
		if req.RestaurantID != "" && o.RestaurantID != req.RestaurantID {
			return order.ErrOrderNotFound
		}

		if err := o.TransitionTo(target, uc.now()); err != nil {
			return err
		}
		if err := uc.orderRepo.Update(txCtx, o); err != nil {
			return err
		}

		if target.IsTerminal() {
			released, err := uc.allocation.Release(txCtx, id, req.Immediate)
			if err != nil {
				return err
			}
			o.DisplayOrderNumber = nil
			result.Release = &released
		} else {
			// 非终态流转不动号码，但看板上显示的状态变了
			uc.allocation.InvalidateBoardAfterCommit(txCtx, o.RestaurantID)
		}
		result.Order = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("internal_order_id", id),
		zap.String("status", target.String()),
	}
	if result.Release != nil {
		fields = append(fields,
			zap.Int("released_number", result.Release.DisplayNumber),
			zap.Bool("immediate", result.Release.Immediate))
	}
	uc.log.Info("订单状态已变更", fields...)
	return &result, nil
}
