package order

import (
	apperrors "github.com/xiebiao/displayno/pkg/errors"
)

// 订单领域错误定义
var (
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = apperrors.New(apperrors.ErrCodeOrderNotFound, "订单不存在")

	// ErrInvalidStatusTransition 非法的状态转换
	ErrInvalidStatusTransition = apperrors.New(apperrors.ErrCodeInvalidStatusTransition, "订单状态不允许此操作")

	// ErrInvalidStatus 未知的订单状态
	ErrInvalidStatus = apperrors.New(apperrors.ErrCodeInvalidInput, "未知的订单状态")

	// ErrInvalidInternalID 内部订单ID格式错误
	ErrInvalidInternalID = apperrors.New(apperrors.ErrCodeInvalidInput, "内部订单ID格式错误")

	// ErrOrderTerminated 订单已结束，不能再分配号码
	ErrOrderTerminated = apperrors.New(apperrors.ErrCodeInvalidInput, "订单已结束")

	// ErrRestaurantMismatch 订单不属于该餐厅
	ErrRestaurantMismatch = apperrors.New(apperrors.ErrCodeInvalidInput, "订单不属于该餐厅")

	// ErrOrderDuplicate 内部订单ID重复
	ErrOrderDuplicate = apperrors.New(apperrors.ErrCodeDuplicateEntry, "订单已存在")
)
