package order

import (
	"fmt"
	"time"
)

// Status 订单状态
// 本服务只关心“活跃”与“终态”两类：进入终态时释放取餐号
type Status int

const (
	StatusPending   Status = 1 // 待制作
	StatusPreparing Status = 2 // 制作中
	StatusServed    Status = 3 // 已出餐
	StatusHeld      Status = 4 // 挂起（等待顾客/补料）
	StatusCompleted Status = 5 // 已完成（终态）
	StatusCancelled Status = 6 // 已取消（终态）
)

var statusNames = map[Status]string{
	StatusPending:   "pending",
	StatusPreparing: "preparing",
	StatusServed:    "served",
	StatusHeld:      "held",
	StatusCompleted: "completed",
	StatusCancelled: "cancelled",
}

// String 实现Stringer接口
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStatus 解析状态字符串
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStatus, name)
}

// IsValid 是否为合法状态
func (s Status) IsValid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsTerminal 是否为终态
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// TerminalStatuses 所有终态
func TerminalStatuses() []Status {
	return []Status{StatusCompleted, StatusCancelled}
}

// transitions 合法的状态转换
var transitions = map[Status][]Status{
	StatusPending:   {StatusPreparing, StatusHeld, StatusCancelled},
	StatusPreparing: {StatusServed, StatusHeld, StatusCancelled},
	StatusHeld:      {StatusPending, StatusPreparing, StatusCancelled},
	StatusServed:    {StatusCompleted, StatusCancelled},
	StatusCompleted: {},
	StatusCancelled: {},
}

// Order 订单
// InternalOrderID是永久的内部标识（计费、审计、Webhook都用它），
// DisplayOrderNumber是给顾客看的短号，只在订单活跃期间有值
type Order struct {
	ID                 uint
	InternalOrderID    string
	RestaurantID       string
	DisplayOrderNumber *int
	LastDisplayNumber  *int // 最近一次分配的号码，释放后保留，用于历史订单搜索
	Status             Status
	CompletedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewOrder 创建新订单（初始状态为pending）
func NewOrder(internalID, restaurantID string, now time.Time) *Order {
	return &Order{
		InternalOrderID: internalID,
		RestaurantID:    restaurantID,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CanTransitionTo 检查是否可以转换到目标状态
func (o *Order) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[o.Status] {
		if allowed == target {
			return true
		}
	}
	return false
}

// TransitionTo 状态转换，进入终态时记录完成时间
func (o *Order) TransitionTo(target Status, now time.Time) error {
	if !o.CanTransitionTo(target) {
		return ErrInvalidStatusTransition
	}
	o.Status = target
	o.UpdatedAt = now
	if target.IsTerminal() {
		at := now
		o.CompletedAt = &at
	}
	return nil
}

// IsActive 是否为活跃订单
func (o *Order) IsActive() bool {
	return !o.Status.IsTerminal()
}

// HasDisplayNumber 当前是否持有取餐号
func (o *Order) HasDisplayNumber() bool {
	return o.DisplayOrderNumber != nil
}

// SearchNumber 搜索时使用的号码：优先当前号码，其次最近一次号码
func (o *Order) SearchNumber() (int, bool) {
	if o.DisplayOrderNumber != nil {
		return *o.DisplayOrderNumber, true
	}
	if o.LastDisplayNumber != nil {
		return *o.LastDisplayNumber, true
	}
	return 0, false
}
