package slot

import (
	"fmt"
	"time"
)

// 取餐号取值范围
// 号码按餐厅隔离，同一个号码可以同时在不同餐厅被占用
const (
	MinDisplayNumber = 1
	MaxDisplayNumber = 9999
)

// Status 号码状态
// 使用int存储，值只能是下面三个之一
type Status int

const (
	StatusAvailable Status = 1 // 可分配
	StatusAllocated Status = 2 // 已分配给某个订单
	StatusCooldown  Status = 3 // 冷却中（刚释放，暂不复用）
)

// String 实现Stringer接口
func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusAllocated:
		return "allocated"
	case StatusCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// IsValid 是否为合法状态
func (s Status) IsValid() bool {
	return s == StatusAvailable || s == StatusAllocated || s == StatusCooldown
}

// transitions 号码状态机
//
//	available --分配--> allocated --释放--> cooldown --到期--> available
//	allocated --立即释放/回收--> available
var transitions = map[Status][]Status{
	StatusAvailable: {StatusAllocated},
	StatusAllocated: {StatusCooldown, StatusAvailable},
	StatusCooldown:  {StatusAvailable},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Slot 号码（餐厅 + 号码 唯一）
// 号码行在首次需要时创建，之后只在三种状态间循环，从不删除
type Slot struct {
	ID                uint
	RestaurantID      string
	DisplayNumber     int
	Status            Status
	CurrentOrderRef   *string // 仅在allocated状态下有效，其他状态必须为nil
	AllocatedAt       *time.Time
	CooldownExpiresAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewAllocatedSlot 创建一个直接分配给订单的新号码
func NewAllocatedSlot(restaurantID string, number int, orderRef string, now time.Time) *Slot {
	ref := orderRef
	at := now
	return &Slot{
		RestaurantID:    restaurantID,
		DisplayNumber:   number,
		Status:          StatusAllocated,
		CurrentOrderRef: &ref,
		AllocatedAt:     &at,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *Slot) transitionTo(target Status, now time.Time) error {
	if !CanTransition(s.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, target)
	}
	s.Status = target
	s.UpdatedAt = now
	return nil
}

// Allocate 分配给订单
func (s *Slot) Allocate(orderRef string, now time.Time) error {
	if err := s.transitionTo(StatusAllocated, now); err != nil {
		return err
	}
	ref := orderRef
	at := now
	s.CurrentOrderRef = &ref
	s.AllocatedAt = &at
	s.CooldownExpiresAt = nil
	return nil
}

// Release 释放号码
// immediate=false进入冷却期，immediate=true直接回到可分配
// 非allocated状态下调用是空操作，返回false（不会延长冷却期）
func (s *Slot) Release(now time.Time, cooldown time.Duration, immediate bool) (bool, error) {
	if s.Status != StatusAllocated {
		return false, nil
	}

	if immediate {
		if err := s.transitionTo(StatusAvailable, now); err != nil {
			return false, err
		}
		s.CooldownExpiresAt = nil
	} else {
		if err := s.transitionTo(StatusCooldown, now); err != nil {
			return false, err
		}
		expires := now.Add(cooldown)
		s.CooldownExpiresAt = &expires
	}
	s.CurrentOrderRef = nil
	return true, nil
}

// Reclaim 回收被遗弃的号码（allocated → available）
func (s *Slot) Reclaim(now time.Time) error {
	if s.Status != StatusAllocated {
		return fmt.Errorf("%w: 只能回收已分配的号码，当前状态 %s", ErrInvalidTransition, s.Status)
	}
	if err := s.transitionTo(StatusAvailable, now); err != nil {
		return err
	}
	s.CurrentOrderRef = nil
	s.CooldownExpiresAt = nil
	return nil
}

// IsCooldownExpired 冷却期是否已结束
func (s *Slot) IsCooldownExpired(now time.Time) bool {
	return s.Status == StatusCooldown &&
		s.CooldownExpiresAt != nil &&
		!s.CooldownExpiresAt.After(now)
}

// ExpireCooldown 冷却到期则转为可分配，返回是否发生了转换
func (s *Slot) ExpireCooldown(now time.Time) bool {
	if !s.IsCooldownExpired(now) {
		return false
	}
	s.Status = StatusAvailable
	s.CooldownExpiresAt = nil
	s.UpdatedAt = now
	return true
}

// HeldBy 是否被指定订单占用
func (s *Slot) HeldBy(orderRef string) bool {
	return s.Status == StatusAllocated && s.CurrentOrderRef != nil && *s.CurrentOrderRef == orderRef
}

// OrderRef 当前订单引用（未分配时返回空字符串）
func (s *Slot) OrderRef() string {
	if s.Status != StatusAllocated || s.CurrentOrderRef == nil {
		return ""
	}
	return *s.CurrentOrderRef
}

// Pool 餐厅号码池
// 每个餐厅一行，分配时先锁定这一行，保证同一餐厅的选号严格串行，
// 不同餐厅之间互不影响
type Pool struct {
	RestaurantID string
	Provisioned  int // 已创建的号码行数（号码1..Provisioned都已存在）
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NextNumber 下一个待创建的号码
func (p *Pool) NextNumber() int {
	return p.Provisioned + 1
}

// CanProvision 是否还能创建新号码
func (p *Pool) CanProvision(max int) bool {
	return p.Provisioned < max
}

// Policy 号码复用策略
type Policy struct {
	CooldownWindow    time.Duration // 释放后多久可以复用
	ActiveWindow      time.Duration // 超过该时长仍未释放视为遗弃
	MissingOrderGrace time.Duration // 订单缺失或已终结多久后才回收（避免与创建中的订单竞争）
	MaxDisplayNumber  int
}

// DefaultPolicy 默认策略
func DefaultPolicy() Policy {
	return Policy{
		CooldownWindow:    2 * time.Hour,
		ActiveWindow:      24 * time.Hour,
		MissingOrderGrace: 10 * time.Minute,
		MaxDisplayNumber:  MaxDisplayNumber,
	}
}

// Validate 校验策略
func (p Policy) Validate() error {
	if p.CooldownWindow < 0 {
		return fmt.Errorf("冷却时间不能为负数: %s", p.CooldownWindow)
	}
	if p.ActiveWindow <= 0 {
		return fmt.Errorf("活跃窗口必须大于0: %s", p.ActiveWindow)
	}
	if p.MissingOrderGrace < 0 {
		return fmt.Errorf("订单缺失宽限期不能为负数: %s", p.MissingOrderGrace)
	}
	if p.MissingOrderGrace > p.ActiveWindow {
		return fmt.Errorf("订单缺失宽限期不能超过活跃窗口: grace=%s active=%s", p.MissingOrderGrace, p.ActiveWindow)
	}
	if p.MaxDisplayNumber < MinDisplayNumber || p.MaxDisplayNumber > MaxDisplayNumber {
		return fmt.Errorf("最大号码必须在[%d, %d]之间: %d", MinDisplayNumber, MaxDisplayNumber, p.MaxDisplayNumber)
	}
	return nil
}

// ValidateDisplayNumber 校验号码范围（在加锁之前调用）
func ValidateDisplayNumber(n int) error {
	if n < MinDisplayNumber || n > MaxDisplayNumber {
		return ErrInvalidDisplayNumber
	}
	return nil
}

// ValidateRestaurantID 校验餐厅ID
func ValidateRestaurantID(id string) error {
	if id == "" || len(id) > 64 {
		return ErrInvalidRestaurant
	}
	return nil
}

// Counts 号码池状态计数
type Counts struct {
	Provisioned     int
	Available       int
	Allocated       int
	Cooldown        int // 仍在冷却期内
	ExpiredCooldown int // 冷却已到期但尚未翻转
}

// Stats 号码池统计（运营看板）
type Stats struct {
	RestaurantID   string
	Capacity       int
	Provisioned    int
	Available      int
	Allocated      int
	Cooldown       int
	UtilizationPct float64
}

// NewStats 根据计数计算统计
// 冷却已到期的号码视为可分配；未创建的号码也算可分配
func NewStats(restaurantID string, capacity int, c Counts) Stats {
	available := capacity - c.Allocated - c.Cooldown
	if available < 0 {
		available = 0
	}

	var util float64
	if capacity > 0 {
		util = float64(c.Allocated+c.Cooldown) / float64(capacity) * 100
	}

	return Stats{
		RestaurantID:   restaurantID,
		Capacity:       capacity,
		Provisioned:    c.Provisioned,
		Available:      available,
		Allocated:      c.Allocated,
		Cooldown:       c.Cooldown,
		UtilizationPct: util,
	}
}
