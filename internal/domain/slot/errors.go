package slot

import (
	"errors"

	apperrors "github.com/xiebiao/displayno/pkg/errors"
)

// 号码领域错误定义
var (
	// ErrSlotNotFound 号码不存在
	ErrSlotNotFound = apperrors.New(apperrors.ErrCodeSlotNotFound, "号码不存在")

	// ErrInvalidDisplayNumber 号码超出范围
	ErrInvalidDisplayNumber = apperrors.New(apperrors.ErrCodeInvalidInput, "取餐号必须在1到9999之间")

	// ErrInvalidRestaurant 餐厅ID不合法
	ErrInvalidRestaurant = apperrors.New(apperrors.ErrCodeInvalidInput, "餐厅ID不能为空且不超过64个字符")

	// ErrOrderInOtherRestaurant 订单已在其他餐厅占用号码
	ErrOrderInOtherRestaurant = apperrors.New(apperrors.ErrCodeInvalidInput, "订单已在其他餐厅分配号码")
)

// ErrInvalidTransition 非法状态转换（程序错误，不直接返回给客户端）
var ErrInvalidTransition = errors.New("号码状态转换非法")
