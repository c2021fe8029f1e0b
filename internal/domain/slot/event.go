package slot

import (
	"context"
	"time"
)

// EventType 号码事件类型（同时作为RabbitMQ的RoutingKey）
type EventType string

const (
	EventAllocated EventType = "slot.allocated"
	EventReleased  EventType = "slot.released"
	EventReclaimed EventType = "slot.reclaimed"
	EventExpired   EventType = "slot.expired"
)

// Event 号码状态变化事件
// 叫号屏、小票打印等下游服务订阅这些事件
type Event struct {
	Type          EventType `json:"type"`
	RestaurantID  string    `json:"restaurant_id"`
	DisplayNumber int       `json:"display_number"`
	OrderRef      string    `json:"order_ref,omitempty"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewEvent 根据号码当前状态构造事件
func NewEvent(t EventType, s *Slot, orderRef, reason string, now time.Time) Event {
	return Event{
		Type:          t,
		RestaurantID:  s.RestaurantID,
		DisplayNumber: s.DisplayNumber,
		OrderRef:      orderRef,
		Status:        s.Status.String(),
		Reason:        reason,
		OccurredAt:    now.UTC(),
	}
}

// Publisher 事件发布
// 发布失败只记录日志，不影响号码分配结果
type Publisher interface {
	Publish(ctx context.Context, events ...Event)
}
