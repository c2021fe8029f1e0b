// Package sweeper 号码池后台清理
//
// 清理任务不是正确性的前提：冷却到期由分配时惰性翻转，
// 这里主动翻转只是让统计数据更及时。真正需要它的是遗弃号码的回收：
//   - 分配超过active_window仍未释放（进程在下单中途崩溃等）
//   - 订单已被删除（号码对订单是弱引用，不依赖外键级联）
//   - 订单已结束但号码没释放（释放调用丢失）
//
// 每个餐厅在独立事务中处理，加锁顺序与分配、释放一致：
// 先锁候选号码引用的订单行，再锁号码池行（与分配拿的是同一把锁），最后锁号码行。
// 锁内重新检查每个候选号码，不会和正在进行的分配、释放互相覆盖。
package sweeper

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/xiebiao/displayno/internal/domain/order"
	"github.com/xiebiao/displayno/internal/domain/slot"
	"github.com/xiebiao/displayno/internal/infrastructure/config"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/mysql"
	"github.com/xiebiao/displayno/pkg/metrics"
	"github.com/xiebiao/displayno/pkg/tracing"
)

const tracerName = "displayno/sweeper"

// 回收原因（同时用作指标标签和事件reason）
const (
	ReasonCooldownExpired = "cooldown_expired"
	ReasonActiveWindow    = "active_window"
	ReasonOrderMissing    = "order_missing"
	ReasonOrderTerminal   = "order_terminal"
)

// Locker 多实例部署时的主节点锁（*redis.SweepLock）
type Locker interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// SweepReport 一次清理的结果
type SweepReport struct {
	Scanned         int           `json:"scanned"`
	Restaurants     int           `json:"restaurants"`
	CooldownExpired int           `json:"cooldown_expired"`
	ActiveWindow    int           `json:"reclaimed_active_window"`
	OrderMissing    int           `json:"reclaimed_order_missing"`
	OrderTerminal   int           `json:"reclaimed_order_terminal"`
	Failed          int           `json:"failed_restaurants"`
	Duration        time.Duration `json:"duration"`
}

// Reclaimed 回收的已分配号码总数
func (r SweepReport) Reclaimed() int {
	return r.ActiveWindow + r.OrderMissing + r.OrderTerminal
}

func (r *SweepReport) add(reason string) {
	switch reason {
	case ReasonCooldownExpired:
		r.CooldownExpired++
	case ReasonActiveWindow:
		r.ActiveWindow++
	case ReasonOrderMissing:
		r.OrderMissing++
	case ReasonOrderTerminal:
		r.OrderTerminal++
	}
}

// Sweeper 清理任务
type Sweeper struct {
	slots     slot.Repository
	orders    order.Repository
	txManager *mysql.TxManager
	cache     order.BoardCache
	publisher slot.Publisher
	locker    Locker
	policy    slot.Policy
	enabled   bool
	interval  time.Duration
	batchSize int
	log       *zap.Logger
	now       func() time.Time
}

// NewSweeper 创建清理任务
func NewSweeper(
	slots slot.Repository,
	orders order.Repository,
	txManager *mysql.TxManager,
	cache order.BoardCache,
	publisher slot.Publisher,
	locker Locker,
	cfg *config.Config,
	log *zap.Logger,
) *Sweeper {
	metrics.InitMetrics()

	batch := cfg.Sweeper.BatchSize
	if batch <= 0 {
		batch = 500
	}
	interval := cfg.Sweeper.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	return &Sweeper{
		slots:     slots,
		orders:    orders,
		txManager: txManager,
		cache:     cache,
		publisher: publisher,
		locker:    locker,
		policy:    cfg.Slot.Policy(),
		enabled:   cfg.Sweeper.Enabled,
		interval:  interval,
		batchSize: batch,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock 替换时钟（测试用）
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run 按固定间隔执行清理，直到ctx取消
// sweeper.enabled=false时立即返回
func (s *Sweeper) Run(ctx context.Context) {
	if !s.enabled {
		s.log.Info("号码清理任务未启用")
		return
	}

	s.log.Info("号码清理任务启动", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("号码清理任务停止")
			return
		case <-ticker.C:
			if _, _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("号码清理失败", zap.Error(err))
			}
		}
	}
}

// RunOnce 获取主节点锁后执行一次清理
// 锁被其他实例持有时跳过，返回ran=false
func (s *Sweeper) RunOnce(ctx context.Context) (report SweepReport, ran bool, err error) {
	ok, err := s.locker.TryAcquire(ctx)
	if err != nil {
		return SweepReport{}, false, err
	}
	if !ok {
		metrics.IncCounterVec(metrics.SlotSweepsTotal, map[string]string{"result": "skipped"})
		s.log.Debug("其他实例正在清理，本轮跳过")
		return SweepReport{}, false, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("释放清理锁失败", zap.Error(err))
		}
	}()

	report, err = s.CleanupOrphanedSlots(ctx)
	return report, true, err
}

// candidate 待处理的号码及原因
type candidate struct {
	slot   *slot.Slot
	reason string
}

// CleanupOrphanedSlots 执行一次清理
// 单个餐厅失败只记录日志并计入report.Failed，不影响其他餐厅
func (s *Sweeper) CleanupOrphanedSlots(ctx context.Context) (SweepReport, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "sweeper.CleanupOrphanedSlots")
	defer span.End()

	start := time.Now()
	now := s.now()
	var report SweepReport

	byRestaurant := make(map[string][]candidate)
	var restaurants []string

	var afterID uint
	for {
		page, err := s.slots.FindSweepCandidates(ctx, now, now.Add(-s.minAllocatedAge()), afterID, s.batchSize)
		if err != nil {
			tracing.RecordError(span, err)
			return report, err
		}
		if len(page) == 0 {
			break
		}
		report.Scanned += len(page)
		afterID = page[len(page)-1].ID

		found, err := s.classify(ctx, page, now)
		if err != nil {
			tracing.RecordError(span, err)
			return report, err
		}
		for _, c := range found {
			rid := c.slot.RestaurantID
			if _, ok := byRestaurant[rid]; !ok {
				restaurants = append(restaurants, rid)
			}
			byRestaurant[rid] = append(byRestaurant[rid], c)
		}

		if len(page) < s.batchSize {
			break
		}
	}

	for _, rid := range restaurants {
		if err := s.sweepRestaurant(ctx, rid, byRestaurant[rid], now, &report); err != nil {
			report.Failed++
			s.log.Warn("清理餐厅号码失败，跳过",
				zap.String("restaurant_id", rid),
				zap.Int("candidates", len(byRestaurant[rid])),
				zap.Error(err))
			continue
		}
		report.Restaurants++
	}

	report.Duration = time.Since(start)
	result := "success"
	if report.Failed > 0 {
		result = "partial"
	}
	metrics.IncCounterVec(metrics.SlotSweepsTotal, map[string]string{"result": result})
	metrics.ObserveHistogram(metrics.SlotSweepDuration, report.Duration.Seconds())

	span.SetAttributes(
		attribute.Int("sweep.scanned", report.Scanned),
		attribute.Int("sweep.reclaimed", report.Reclaimed()),
		attribute.Int("sweep.cooldown_expired", report.CooldownExpired),
		attribute.Int("sweep.failed", report.Failed))

	if report.Reclaimed() > 0 || report.Failed > 0 {
		s.log.Info("号码清理完成",
			zap.Int("scanned", report.Scanned),
			zap.Int("cooldown_expired", report.CooldownExpired),
			zap.Int("reclaimed_active_window", report.ActiveWindow),
			zap.Int("reclaimed_order_missing", report.OrderMissing),
			zap.Int("reclaimed_order_terminal", report.OrderTerminal),
			zap.Int("failed_restaurants", report.Failed),
			zap.Duration("duration", report.Duration))
	}
	return report, nil
}

// minAllocatedAge 已分配号码进入候选的最小占用时长
// 取宽限期与活跃窗口中较小的一个，任何一条回收规则都不会被漏扫
func (s *Sweeper) minAllocatedAge() time.Duration {
	if s.policy.ActiveWindow < s.policy.MissingOrderGrace {
		return s.policy.ActiveWindow
	}
	return s.policy.MissingOrderGrace
}

// classify 按规则筛出需要处理的号码（不加锁，锁内还会再检查一次）
func (s *Sweeper) classify(ctx context.Context, page []*slot.Slot, now time.Time) ([]candidate, error) {
	refs := make([]string, 0, len(page))
	for _, sl := range page {
		if ref := sl.OrderRef(); ref != "" {
			refs = append(refs, ref)
		}
	}
	orders, err := s.orders.FindByInternalIDs(ctx, refs)
	if err != nil {
		return nil, err
	}

	var out []candidate
	for _, sl := range page {
		var o *order.Order
		if ref := sl.OrderRef(); ref != "" {
			o = orders[ref]
		}
		if reason := s.reasonFor(sl, o, now); reason != "" {
			out = append(out, candidate{slot: sl, reason: reason})
		}
	}
	return out, nil
}

// reasonFor 返回需要处理的原因，不需要处理时返回空字符串
// o为nil表示号码引用的订单不存在
func (s *Sweeper) reasonFor(sl *slot.Slot, o *order.Order, now time.Time) string {
	switch sl.Status {
	case slot.StatusCooldown:
		if sl.IsCooldownExpired(now) {
			return ReasonCooldownExpired
		}
	case slot.StatusAllocated:
		if sl.AllocatedAt == nil {
			return ""
		}
		age := now.Sub(*sl.AllocatedAt)
		if age >= s.policy.ActiveWindow {
			return ReasonActiveWindow
		}
		if age < s.policy.MissingOrderGrace {
			return ""
		}
		if o == nil {
			return ReasonOrderMissing
		}
		if o.Status.IsTerminal() {
			return ReasonOrderTerminal
		}
	}
	return ""
}

// lockOrders 按内部ID排序锁定候选号码引用的订单，已不存在的订单不在结果中
func (s *Sweeper) lockOrders(ctx context.Context, candidates []candidate) (map[string]*order.Order, error) {
	refs := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		ref := c.slot.OrderRef()
		if ref == "" {
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	locked := make(map[string]*order.Order, len(refs))
	for _, ref := range refs {
		o, err := s.orders.LockByInternalID(ctx, ref)
		if err != nil {
			if errors.Is(err, order.ErrOrderNotFound) {
				continue
			}
			return nil, err
		}
		locked[ref] = o
	}
	return locked, nil
}

// sweepRestaurant 在一个事务内处理一个餐厅的候选号码
func (s *Sweeper) sweepRestaurant(ctx context.Context, restaurantID string, candidates []candidate, now time.Time, report *SweepReport) error {
	var (
		done      []string
		events    []slot.Event
		reclaimed bool
	)

	err := s.txManager.Transaction(ctx, func(ctx context.Context) error {
		done, events, reclaimed = nil, nil, false

		locked, err := s.lockOrders(ctx, candidates)
		if err != nil {
			return err
		}
		if _, err := s.slots.LockPool(ctx, restaurantID); err != nil {
			return err
		}

		for _, c := range candidates {
			current, err := s.slots.LockByNumber(ctx, restaurantID, c.slot.DisplayNumber)
			if err != nil {
				if errors.Is(err, slot.ErrSlotNotFound) {
					continue
				}
				return err
			}

			// 锁内重新判断：号码可能已被释放、重新分配，订单状态也可能变化
			ref := current.OrderRef()
			if ref != "" && ref != c.slot.OrderRef() {
				continue
			}
			o := locked[ref]
			reason := s.reasonFor(current, o, now)
			if reason == "" {
				continue
			}

			if reason == ReasonCooldownExpired {
				current.ExpireCooldown(now)
				if err := s.slots.Update(ctx, current); err != nil {
					return err
				}
				events = append(events, slot.NewEvent(slot.EventExpired, current, "", reason, now))
				done = append(done, reason)
				continue
			}

			if err := current.Reclaim(now); err != nil {
				return err
			}
			if err := s.slots.Update(ctx, current); err != nil {
				return err
			}
			if o != nil {
				if err := s.orders.SetDisplayNumber(ctx, ref, nil); err != nil {
					return err
				}
			}
			s.log.Warn("回收遗弃号码",
				zap.String("restaurant_id", restaurantID),
				zap.Int("display_number", current.DisplayNumber),
				zap.String("order_ref", ref),
				zap.String("reason", reason))
			events = append(events, slot.NewEvent(slot.EventReclaimed, current, ref, reason, now))
			done = append(done, reason)
			reclaimed = true
		}

		s.txManager.AfterCommit(ctx, func(ctx context.Context) {
			if reclaimed {
				if err := s.cache.Invalidate(ctx, restaurantID); err != nil {
					s.log.Warn("刷新看板缓存失败", zap.String("restaurant_id", restaurantID), zap.Error(err))
				}
			}
			if len(events) > 0 {
				s.publisher.Publish(ctx, events...)
			}
		})
		return nil
	})
	if err != nil {
		return err
	}

	for _, reason := range done {
		report.add(reason)
		metrics.IncCounterVec(metrics.SlotsReclaimedTotal, map[string]string{"reason": reason})
	}
	return nil
}
