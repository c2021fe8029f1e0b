// Package allocation 取餐号分配与释放
//
// 并发模型：同一餐厅的所有分配、释放都先锁定该餐厅的号码池行（slot_pools），
// 选号过程因此严格串行；不同餐厅锁的是不同的行，互不影响。
//
// 加锁顺序固定为：订单行 → 号码池行 → 号码行。
// 所有路径按同一顺序加锁，避免事务之间互相等待形成死锁。
package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xiebiao/displayno/internal/domain/order"
	"github.com/xiebiao/displayno/internal/domain/slot"
	"github.com/xiebiao/displayno/internal/infrastructure/config"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/mysql"
	apperrors "github.com/xiebiao/displayno/pkg/errors"
	"github.com/xiebiao/displayno/pkg/metrics"
	"github.com/xiebiao/displayno/pkg/tracing"
)

const tracerName = "displayno/allocation"

// RetryPolicy 锁冲突重试策略
type RetryPolicy struct {
	Attempts int           // 总尝试次数（含第一次）
	Initial  time.Duration // 首次退避
	Max      time.Duration // 单次退避上限
}

// ReleaseResult 释放结果
type ReleaseResult struct {
	RestaurantID  string
	DisplayNumber int  // 被释放的号码（未持有号码时为0）
	Released      bool // false表示号码此前已释放（幂等的空操作）
	Immediate     bool
}

// Service 号码分配服务
type Service struct {
	slots     slot.Repository
	orders    order.Repository
	txManager *mysql.TxManager
	cache     order.BoardCache
	publisher slot.Publisher
	policy    slot.Policy
	retry     RetryPolicy
	log       *zap.Logger
	now       func() time.Time
}

// NewService 创建号码分配服务
func NewService(
	slots slot.Repository,
	orders order.Repository,
	txManager *mysql.TxManager,
	cache order.BoardCache,
	publisher slot.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *Service {
	metrics.InitMetrics()

	retry := RetryPolicy{
		Attempts: cfg.Slot.RetryAttempts,
		Initial:  cfg.Slot.RetryInitial,
		Max:      cfg.Slot.RetryMax,
	}
	if retry.Attempts < 1 {
		retry.Attempts = 3
	}
	if retry.Initial <= 0 {
		retry.Initial = 20 * time.Millisecond
	}
	if retry.Max < retry.Initial {
		retry.Max = retry.Initial
	}

	return &Service{
		slots:     slots,
		orders:    orders,
		txManager: txManager,
		cache:     cache,
		publisher: publisher,
		policy:    cfg.Slot.Policy(),
		retry:     retry,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时钟（测试用）
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Policy 当前号码策略
func (s *Service) Policy() slot.Policy {
	return s.policy
}

// Allocate 为订单分配取餐号
//
// 流程（一个事务内完成）：
//  1. 锁定订单行：订单不存在时登记为pending订单；已结束的订单拒绝分配
//  2. 锁定餐厅号码池行，之后的选号对该餐厅串行
//  3. 订单已持有号码则直接返回（重复调用安全）
//  4. 把冷却到期的号码翻转为可分配（惰性到期）
//  5. 选号码最小的可分配号码；没有则创建下一个新号码；号码池满则ResourceExhausted
//  6. 订单记录号码，提交后刷新看板缓存并发布事件
//
// 在外层事务中调用时加入外层事务，不在内部重试（由外层整体重试）。
func (s *Service) Allocate(ctx context.Context, restaurantID, orderRef string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "allocation.Allocate")
	defer span.End()
	span.SetAttributes(attribute.String("restaurant.id", restaurantID))

	start := time.Now()
	number, err := s.allocate(ctx, restaurantID, orderRef)
	metrics.ObserveHistogram(metrics.SlotAllocationDuration, time.Since(start).Seconds())
	metrics.IncCounterVec(metrics.SlotAllocationsTotal, map[string]string{"result": allocationResult(err)})

	if err != nil {
		tracing.RecordError(span, err)
		if apperrors.IsCode(err, apperrors.ErrCodeResourceExhausted) {
			s.log.Error("取餐号已用尽",
				zap.String("restaurant_id", restaurantID),
				zap.Int("max_display_number", s.policy.MaxDisplayNumber))
		}
		return 0, err
	}
	span.SetAttributes(attribute.Int("slot.display_number", number))
	return number, nil
}

func (s *Service) allocate(ctx context.Context, restaurantID, orderRef string) (int, error) {
	if err := slot.ValidateRestaurantID(restaurantID); err != nil {
		return 0, err
	}
	ref, err := order.NormalizeInternalID(orderRef)
	if err != nil {
		return 0, err
	}

	var number int
	err = s.RunInTransaction(ctx, func(ctx context.Context) error {
		n, err := s.allocateTx(ctx, restaurantID, ref)
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return number, nil
}

func (s *Service) allocateTx(ctx context.Context, restaurantID, ref string) (int, error) {
	now := s.now()

	if err := s.ensureOrder(ctx, restaurantID, ref, now); err != nil {
		return 0, err
	}

	pool, err := s.slots.LockPool(ctx, restaurantID)
	if err != nil {
		return 0, err
	}

	// 订单已持有号码：直接返回（uk_slots_current_order保证最多一个）
	held, err := s.slots.FindByOrderRef(ctx, ref)
	switch {
	case err == nil:
		if held.RestaurantID != restaurantID {
			return 0, slot.ErrOrderInOtherRestaurant
		}
		return held.DisplayNumber, nil
	case !errors.Is(err, slot.ErrSlotNotFound):
		return 0, err
	}

	expired, err := s.slots.ExpireCooldowns(ctx, restaurantID, now)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Debug("冷却号码到期",
			zap.String("restaurant_id", restaurantID),
			zap.Int64("count", expired))
	}

	picked, err := s.pick(ctx, pool, ref, now)
	if err != nil {
		return 0, err
	}

	number := picked.DisplayNumber
	if err := s.orders.SetDisplayNumber(ctx, ref, &number); err != nil {
		return 0, err
	}

	event := slot.NewEvent(slot.EventAllocated, picked, ref, "", now)
	s.txManager.AfterCommit(ctx, func(ctx context.Context) {
		s.invalidateBoard(ctx, restaurantID)
		s.publisher.Publish(ctx, event)
	})
	return number, nil
}

// ensureOrder 锁定订单行，不存在时登记一条pending订单
func (s *Service) ensureOrder(ctx context.Context, restaurantID, ref string, now time.Time) error {
	o, err := s.orders.LockByInternalID(ctx, ref)
	if err != nil {
		if !errors.Is(err, order.ErrOrderNotFound) {
			return err
		}
		err = s.orders.Create(ctx, order.NewOrder(ref, restaurantID, now))
		if errors.Is(err, order.ErrOrderDuplicate) {
			// 并发的同一订单已先插入，重试时会走已存在的分支
			return apperrors.ErrTransientContention.WithCause(err)
		}
		return err
	}

	if o.RestaurantID != restaurantID {
		return order.ErrRestaurantMismatch
	}
	if o.Status.IsTerminal() {
		return order.ErrOrderTerminated
	}
	return nil
}

// pick 选号：优先复用最小的可分配号码，其次创建新号码
func (s *Service) pick(ctx context.Context, pool *slot.Pool, ref string, now time.Time) (*slot.Slot, error) {
	free, err := s.slots.LockLowestAvailable(ctx, pool.RestaurantID, s.policy.MaxDisplayNumber)
	if err == nil {
		if err := free.Allocate(ref, now); err != nil {
			return nil, apperrors.Wrap(err, "分配号码失败")
		}
		if err := s.slots.Update(ctx, free); err != nil {
			return nil, err
		}
		return free, nil
	}
	if !errors.Is(err, slot.ErrSlotNotFound) {
		return nil, err
	}

	if !pool.CanProvision(s.policy.MaxDisplayNumber) {
		return nil, apperrors.ErrResourceExhausted
	}

	created := slot.NewAllocatedSlot(pool.RestaurantID, pool.NextNumber(), ref, now)
	if err := s.slots.Create(ctx, created); err != nil {
		return nil, err
	}
	pool.Provisioned = created.DisplayNumber
	pool.UpdatedAt = now
	if err := s.slots.SavePool(ctx, pool); err != nil {
		return nil, err
	}
	return created, nil
}

// Release 释放订单占用的取餐号
//
// immediate=false：进入冷却期（cooldown_window后才能复用）
// immediate=true：直接回到可分配（管理/测试用）
//
// 重复释放是空操作：不报错，也不会延长冷却期。
// 订单和号码都不存在时返回ErrOrderNotFound。
func (s *Service) Release(ctx context.Context, orderRef string, immediate bool) (ReleaseResult, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "allocation.Release")
	defer span.End()

	ref, err := order.NormalizeInternalID(orderRef)
	if err != nil {
		return ReleaseResult{}, err
	}

	var result ReleaseResult
	err = s.RunInTransaction(ctx, func(ctx context.Context) error {
		r, err := s.releaseTx(ctx, ref, immediate)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return ReleaseResult{}, err
	}

	mode := "noop"
	if result.Released {
		mode = "cooldown"
		if immediate {
			mode = "immediate"
		}
	}
	metrics.IncCounterVec(metrics.SlotReleasesTotal, map[string]string{"mode": mode})
	span.SetAttributes(
		attribute.String("restaurant.id", result.RestaurantID),
		attribute.Int("slot.display_number", result.DisplayNumber),
		attribute.String("release.mode", mode))
	return result, nil
}

func (s *Service) releaseTx(ctx context.Context, ref string, immediate bool) (ReleaseResult, error) {
	now := s.now()

	o, err := s.orders.LockByInternalID(ctx, ref)
	if err != nil && !errors.Is(err, order.ErrOrderNotFound) {
		return ReleaseResult{}, err
	}

	held, err := s.slots.FindByOrderRef(ctx, ref)
	if err != nil {
		if !errors.Is(err, slot.ErrSlotNotFound) {
			return ReleaseResult{}, err
		}
		if o == nil {
			return ReleaseResult{}, order.ErrOrderNotFound
		}
		// 号码已释放或已被回收
		return ReleaseResult{RestaurantID: o.RestaurantID, Immediate: immediate}, nil
	}

	restaurantID := held.RestaurantID
	if _, err := s.slots.LockPool(ctx, restaurantID); err != nil {
		return ReleaseResult{}, err
	}
	// 拿到号码池锁之后重新读取：期间可能已被其他请求释放或被清理任务回收
	locked, err := s.slots.LockByOrderRef(ctx, ref)
	if err != nil {
		if errors.Is(err, slot.ErrSlotNotFound) {
			return ReleaseResult{RestaurantID: restaurantID, Immediate: immediate}, nil
		}
		return ReleaseResult{}, err
	}

	released, err := locked.Release(now, s.policy.CooldownWindow, immediate)
	if err != nil {
		return ReleaseResult{}, apperrors.Wrap(err, "释放号码失败")
	}
	result := ReleaseResult{
		RestaurantID:  restaurantID,
		DisplayNumber: locked.DisplayNumber,
		Released:      released,
		Immediate:     immediate,
	}
	if !released {
		return result, nil
	}

	if err := s.slots.Update(ctx, locked); err != nil {
		return ReleaseResult{}, err
	}
	if o != nil {
		if err := s.orders.SetDisplayNumber(ctx, ref, nil); err != nil {
			return ReleaseResult{}, err
		}
	}

	reason := "cooldown"
	if immediate {
		reason = "immediate"
	}
	event := slot.NewEvent(slot.EventReleased, locked, ref, reason, now)
	s.txManager.AfterCommit(ctx, func(ctx context.Context) {
		s.invalidateBoard(ctx, restaurantID)
		s.publisher.Publish(ctx, event)
	})
	return result, nil
}

// RunInTransaction 在事务中执行fn，锁冲突时按退避策略重试整个事务
// 已处于事务中时直接执行，由最外层负责重试
func (s *Service) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txManager.InTransaction(ctx) {
		return fn(ctx)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.Initial
	b.MaxInterval = s.retry.Max
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := s.txManager.Transaction(ctx, fn)
		if err == nil {
			return nil
		}
		if apperrors.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		metrics.IncCounter(metrics.SlotContentionRetriesTotal)
		s.log.Debug("锁冲突，准备重试",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.retry.Attempts-1)), ctx)
	err := backoff.RetryNotify(operation, policy, notify)
	if err != nil && apperrors.IsRetryable(err) {
		s.log.Warn("锁冲突重试次数用尽", zap.Int("attempts", attempt), zap.Error(err))
	}
	return err
}

// InvalidateBoardAfterCommit 事务提交后刷新餐厅看板缓存
// 订单状态变化（不涉及号码）也会改变看板内容，由订单用例调用
func (s *Service) InvalidateBoardAfterCommit(ctx context.Context, restaurantID string) {
	s.txManager.AfterCommit(ctx, func(ctx context.Context) {
		s.invalidateBoard(ctx, restaurantID)
	})
}

// invalidateBoard 刷新看板缓存，失败只记录日志（缓存有TTL兜底）
func (s *Service) invalidateBoard(ctx context.Context, restaurantID string) {
	if err := s.cache.Invalidate(ctx, restaurantID); err != nil {
		s.log.Warn("刷新看板缓存失败", zap.String("restaurant_id", restaurantID), zap.Error(err))
	}
}

func allocationResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case apperrors.IsCode(err, apperrors.ErrCodeResourceExhausted):
		return "exhausted"
	case apperrors.IsRetryable(err):
		return "contention"
	default:
		return "error"
	}
}
