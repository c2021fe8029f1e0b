package dto

import (
	"fmt"
	"time"

	"github.com/xiebiao/displayno/internal/application/sweeper"
	"github.com/xiebiao/displayno/internal/domain/order"
	"github.com/xiebiao/displayno/internal/domain/slot"
)

const timeLayout = "2006-01-02 15:04:05"

// OrderResponse HTTP订单响应
// display_order_number只在订单活跃期间有值，订单进入终态后为null
type OrderResponse struct {
	InternalOrderID    string  `json:"internal_order_id" example:"3f2b8c1e-9a4d-4e7b-8c2f-1d5e6a7b8c9d"`
	RestaurantID       string  `json:"restaurant_id" example:"r1"`
	DisplayOrderNumber *int    `json:"display_order_number" example:"42"`
	DisplayLabel       string  `json:"display_label,omitempty" example:"#0042"` // 叫号屏显示格式
	LastDisplayNumber  *int    `json:"last_display_number,omitempty" example:"42"`
	Status             string  `json:"status" example:"preparing"`
	Active             bool    `json:"active" example:"true"`
	CreatedAt          string  `json:"created_at" example:"2026-03-01 12:00:00"`
	CompletedAt        *string `json:"completed_at,omitempty" example:"2026-03-01 12:30:00"`
}

// FormatDisplayLabel 号码补零到4位，例如42 -> "#0042"
func FormatDisplayLabel(number int) string {
	return fmt.Sprintf("#%04d", number)
}

// FromOrder 领域实体转HTTP响应
func FromOrder(o *order.Order) OrderResponse {
	resp := OrderResponse{
		InternalOrderID:    o.InternalOrderID,
		RestaurantID:       o.RestaurantID,
		DisplayOrderNumber: o.DisplayOrderNumber,
		LastDisplayNumber:  o.LastDisplayNumber,
		Status:             o.Status.String(),
		Active:             !o.Status.IsTerminal(),
		CreatedAt:          formatTime(o.CreatedAt),
	}
	if o.DisplayOrderNumber != nil {
		resp.DisplayLabel = FormatDisplayLabel(*o.DisplayOrderNumber)
	}
	if o.CompletedAt != nil {
		at := formatTime(*o.CompletedAt)
		resp.CompletedAt = &at
	}
	return resp
}

// FromOrders 批量转换
func FromOrders(orders []*order.Order) []OrderResponse {
	list := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		list = append(list, FromOrder(o))
	}
	return list
}

func formatTime(t time.Time) string {
	return t.Format(timeLayout)
}

// TransitionStatusRequest 订单状态流转请求
type TransitionStatusRequest struct {
	Status    string `json:"status" binding:"required,oneof=pending preparing served held completed cancelled" example:"completed"`
	Immediate bool   `json:"immediate" example:"false"` // 跳过冷却期，号码立即可复用（管理操作）
}

// TransitionStatusResponse 订单状态流转响应
type TransitionStatusResponse struct {
	Order          OrderResponse `json:"order"`
	Released       bool          `json:"released" example:"true"`
	ReleasedNumber *int          `json:"released_number,omitempty" example:"42"`
	Immediate      bool          `json:"immediate" example:"false"`
}

// LookupRequest 按号码或内部ID查询
// 两个参数二选一，同时传入时以internal_id为准
type LookupRequest struct {
	DisplayNumber string `form:"display_number" binding:"omitempty,max=8" example:"42"`
	InternalID    string `form:"internal_id" binding:"omitempty,max=64" example:"3f2b8c1e-9a4d-4e7b-8c2f-1d5e6a7b8c9d"`
}

// SearchRequest 模糊搜索请求
type SearchRequest struct {
	Q                string `form:"q" binding:"required,max=64" example:"42"`
	IncludeCompleted bool   `form:"include_completed" example:"false"`
	Limit            int    `form:"limit" binding:"omitempty,min=1,max=100" example:"20"`
}

// SlotStatsResponse 号码池统计
type SlotStatsResponse struct {
	RestaurantID   string  `json:"restaurant_id" example:"r1"`
	Capacity       int     `json:"capacity" example:"9999"`
	Provisioned    int     `json:"provisioned" example:"120"`
	Available      int     `json:"available" example:"9950"`
	Allocated      int     `json:"allocated" example:"37"`
	Cooldown       int     `json:"cooldown" example:"12"`
	UtilizationPct float64 `json:"utilization_pct" example:"0.49"`
}

// FromStats 统计转HTTP响应
func FromStats(s slot.Stats) SlotStatsResponse {
	return SlotStatsResponse{
		RestaurantID:   s.RestaurantID,
		Capacity:       s.Capacity,
		Provisioned:    s.Provisioned,
		Available:      s.Available,
		Allocated:      s.Allocated,
		Cooldown:       s.Cooldown,
		UtilizationPct: s.UtilizationPct,
	}
}

// CleanupResponse 手动触发清理的结果
// ran=false表示其他实例正在清理，本次跳过
type CleanupResponse struct {
	Ran       bool                `json:"ran" example:"true"`
	Reclaimed int                 `json:"reclaimed" example:"3"`
	Report    sweeper.SweepReport `json:"report"`
}
