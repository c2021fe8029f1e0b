package handler

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xiebiao/displayno/internal/application/allocation"
	"github.com/xiebiao/displayno/internal/application/lookup"
	"github.com/xiebiao/displayno/internal/domain/order"
	apperrors "github.com/xiebiao/displayno/pkg/errors"
)

// DisplayNumberHandler 取餐号gRPC实现
//
// 职责与HTTP Handler相同：
//   - 协议转换（Struct字段 ↔ 应用层参数）
//   - 错误处理（AppError → gRPC状态码）
//   - 不包含业务逻辑
type DisplayNumberHandler struct {
	allocation *allocation.Service
	lookup     *lookup.Service
	log        *zap.Logger
}

// NewDisplayNumberHandler 创建gRPC处理器
func NewDisplayNumberHandler(allocationService *allocation.Service, lookupService *lookup.Service, log *zap.Logger) *DisplayNumberHandler {
	return &DisplayNumberHandler{
		allocation: allocationService,
		lookup:     lookupService,
		log:        log,
	}
}

var _ DisplayNumberServiceServer = (*DisplayNumberHandler)(nil)

// GenerateOrderID 生成内部订单ID
// 响应：{"internal_order_id": "<uuid>"}
func (h *DisplayNumberHandler) GenerateOrderID(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"internal_order_id": order.GenerateInternalOrderID(),
	})
}

// Allocate 为订单分配取餐号（同一订单重复调用返回同一号码）
// 请求：{"restaurant_id": "r1", "internal_order_id": "<uuid>"}
// 响应：{"display_number": 42}
func (h *DisplayNumberHandler) Allocate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	restaurantID := stringField(req, "restaurant_id")
	internalID := stringField(req, "internal_order_id")

	number, err := h.allocation.Allocate(ctx, restaurantID, internalID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"restaurant_id":     restaurantID,
		"internal_order_id": internalID,
		"display_number":    number,
	})
}

// Release 订单进入终态时释放号码
// 请求：{"internal_order_id": "<uuid>", "immediate": false}
// 订单没有持有号码时released=false（重复释放是no-op）
func (h *DisplayNumberHandler) Release(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	result, err := h.allocation.Release(ctx, stringField(req, "internal_order_id"), boolField(req, "immediate"))
	if err != nil {
		return nil, h.toStatus(err)
	}

	resp := map[string]interface{}{
		"released":  result.Released,
		"immediate": result.Immediate,
	}
	if result.Released {
		resp["restaurant_id"] = result.RestaurantID
		resp["display_number"] = result.DisplayNumber
	}
	return structpb.NewStruct(resp)
}

// GetSlotStats 号码池统计
// 请求：{"restaurant_id": "r1"}
func (h *DisplayNumberHandler) GetSlotStats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	stats, err := h.lookup.Stats(ctx, stringField(req, "restaurant_id"))
	if err != nil {
		return nil, h.toStatus(err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"restaurant_id":   stats.RestaurantID,
		"capacity":        stats.Capacity,
		"provisioned":     stats.Provisioned,
		"available":       stats.Available,
		"allocated":       stats.Allocated,
		"cooldown":        stats.Cooldown,
		"utilization_pct": stats.UtilizationPct,
	})
}

// toStatus 领域错误 → gRPC错误码
func (h *DisplayNumberHandler) toStatus(err error) error {
	code := CodeOf(err)
	appErr := apperrors.GetAppError(err)
	if code == codes.Internal {
		h.log.Error("gRPC请求处理失败", zap.Error(err))
	}
	return status.Error(code, appErr.Message)
}

// CodeOf 按业务错误码映射gRPC状态码
// TransientContention映射为Aborted：调用方可以整体重试
func CodeOf(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case apperrors.IsCode(err, apperrors.ErrCodeResourceExhausted):
		return codes.ResourceExhausted
	case apperrors.IsCode(err, apperrors.ErrCodeTransientContention):
		return codes.Aborted
	case apperrors.IsCode(err, apperrors.ErrCodeNotFound),
		apperrors.IsCode(err, apperrors.ErrCodeOrderNotFound),
		apperrors.IsCode(err, apperrors.ErrCodeSlotNotFound):
		return codes.NotFound
	case apperrors.IsCode(err, apperrors.ErrCodeInvalidInput),
		apperrors.IsCode(err, apperrors.ErrCodeBindError):
		return codes.InvalidArgument
	case apperrors.IsCode(err, apperrors.ErrCodeInvalidStatusTransition):
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	return s.GetFields()[key].GetBoolValue()
}
