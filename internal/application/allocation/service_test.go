package allocation_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/xiebiao/displayno/internal/application/allocation"
	"github.com/xiebiao/displayno/internal/domain/order"
	"github.com/xiebiao/displayno/internal/domain/slot"
	"github.com/xiebiao/displayno/internal/infrastructure/config"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/mysql"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/mysql/dbtest"
	apperrors "github.com/xiebiao/displayno/pkg/errors"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// testClock 可手动拨动的时钟
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []slot.Event
}

func (p *recordingPublisher) Publish(_ context.Context, events ...slot.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) Types() []slot.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]slot.EventType, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

// countingCache 记录失效次数的看板缓存
type countingCache struct {
	mu          sync.Mutex
	invalidated map[string]int
}

func (c *countingCache) Get(context.Context, string) ([]*order.Order, int64, bool, error) {
	return nil, 0, false, nil
}

func (c *countingCache) Set(context.Context, string, int64, []*order.Order) error { return nil }

func (c *countingCache) Invalidate(_ context.Context, restaurantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.invalidated == nil {
		c.invalidated = make(map[string]int)
	}
	c.invalidated[restaurantID]++
	return nil
}

func (c *countingCache) Count(restaurantID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidated[restaurantID]
}

type fixture struct {
	db        *gorm.DB
	slots     slot.Repository
	orders    order.Repository
	tx        *mysql.TxManager
	cache     *countingCache
	publisher *recordingPublisher
	clock     *testClock
	svc       *allocation.Service
}

func testConfig() *config.Config {
	return &config.Config{Slot: config.SlotConfig{
		CooldownWindow:    2 * time.Hour,
		ActiveWindow:      24 * time.Hour,
		MissingOrderGrace: 10 * time.Minute,
		MaxDisplayNumber:  slot.MaxDisplayNumber,
		RetryAttempts:     3,
		RetryInitial:      time.Millisecond,
		RetryMax:          5 * time.Millisecond,
	}}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	f := &fixture{
		db:        db,
		slots:     mysql.NewSlotRepository(db),
		orders:    mysql.NewOrderRepository(db),
		tx:        mysql.NewTxManager(db),
		cache:     &countingCache{},
		publisher: &recordingPublisher{},
		clock:     &testClock{now: base},
	}
	f.svc = f.newService(f.slots, testConfig())
	return f
}

func (f *fixture) newService(slots slot.Repository, cfg *config.Config) *allocation.Service {
	svc := allocation.NewService(slots, f.orders, f.tx, f.cache, f.publisher, cfg, zap.NewNop())
	svc.SetClock(f.clock.Now)
	return svc
}

// seedAllocated 批量创建已分配的号码1..n，模拟长时间营业后的号码池
func (f *fixture) seedAllocated(t *testing.T, restaurantID string, n int) {
	t.Helper()
	models := make([]mysql.SlotModel, 0, n)
	for i := 1; i <= n; i++ {
		ref := uuid.NewString()
		at := base
		models = append(models, mysql.SlotModel{
			RestaurantID:    restaurantID,
			DisplayNumber:   i,
			Status:          int(slot.StatusAllocated),
			CurrentOrderRef: &ref,
			AllocatedAt:     &at,
			CreatedAt:       base,
			UpdatedAt:       base,
		})
	}
	require.NoError(t, f.db.CreateInBatches(models, 500).Error)
	require.NoError(t, f.db.Create(&mysql.PoolModel{RestaurantID: restaurantID, Provisioned: n}).Error)
}

func TestAllocate_LowestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		n, err := f.svc.Allocate(ctx, "r1", order.GenerateInternalOrderID())
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, 3, f.cache.Count("r1"))
	assert.Equal(t, []slot.EventType{slot.EventAllocated, slot.EventAllocated, slot.EventAllocated}, f.publisher.Types())
}

func TestAllocate_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := order.GenerateInternalOrderID()

	first, err := f.svc.Allocate(ctx, "r1", ref)
	require.NoError(t, err)
	again, err := f.svc.Allocate(ctx, "r1", ref)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	next, err := f.svc.Allocate(ctx, "r1", order.GenerateInternalOrderID())
	require.NoError(t, err)
	assert.Equal(t, 2, next)
}

func TestAllocate_RegistersOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := order.GenerateInternalOrderID()

	n, err := f.svc.Allocate(ctx, "r1", ref)
	require.NoError(t, err)

	// 往返：分配后立即能按号码查到订单
	got, err := f.orders.FindByDisplayNumber(ctx, "r1", n)
	require.NoError(t, err)
	assert.Equal(t, ref, got.InternalOrderID)
	assert.Equal(t, order.StatusPending, got.Status)
	assert.Equal(t, n, *got.LastDisplayNumber)
}

func TestAllocate_NormalizesOrderRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := order.GenerateInternalOrderID()

	n, err := f.svc.Allocate(ctx, "r1", "  "+strings.ToUpper(ref)+" ")
	require.NoError(t, err)

	held, err := f.slots.FindByOrderRef(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, n, held.DisplayNumber)
}

func TestAllocate_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		restaurantID string
		ref          string
		wantErr      error
	}{
		{"餐厅ID为空", "", order.GenerateInternalOrderID(), slot.ErrInvalidRestaurant},
		{"订单ID格式错误", "r1", "not-a-uuid", order.ErrInvalidInternalID},
		{"订单ID为空", "r1", "", order.ErrInvalidInternalID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Allocate(ctx, tt.restaurantID, tt.ref)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
		})
	}
	assert.Empty(t, f.publisher.Types())
}

func TestAllocate_OrderInOtherRestaurant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := order.GenerateInternalOrderID()

	_, err := f.svc.Allocate(ctx, "r1", ref)
	require.NoError(t, err)

	_, err = f.svc.Allocate(ctx, "r2", ref)
	assert.ErrorIs(t, err, order.ErrRestaurantMismatch)
}

func TestAllocate_TerminalOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := order.NewOrder(order.GenerateInternalOrderID(), "r1", base)
	require.NoError(t, f.orders.Create(ctx, o))
	require.NoError(t, o.TransitionTo(order.StatusCancelled, base))
	require.NoError(t, f.orders.Update(ctx, o))

	_, err := f.svc.Allocate(ctx, "r1", o.InternalOrderID)
	assert.ErrorIs(t, err, order.ErrOrderTerminated)
}

func TestAllocate_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 30
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int
		errs    []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := f.svc.Allocate(ctx, "r1", order.GenerateInternalOrderID())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers = append(numbers, n)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	sort.Ints(numbers)
	want := make([]int, workers)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, numbers, "并发分配得到互不相同且紧凑的号码")
}

func TestAllocate_ScenarioCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := order.GenerateInternalOrderID()
	n, err := f.svc.Allocate(ctx, "r1", a)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.svc.Release(ctx, a, false)
	require.NoError(t, err)

	// 1号仍在冷却，B拿到的是别的号码
	n, err = f.svc.Allocate(ctx, "r1", order.GenerateInternalOrderID())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 冷却期过后，1号可以再次分配
	f.clock.Advance(2*time.Hour + time.Second)
	n, err = f.svc.Allocate(ctx, "r1", order.GenerateInternalOrderID())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAllocate_ScopeIndependence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedAllocated(t, "r1", 41)
	f.seedAllocated(t, "r2", 41)

	var wg sync.WaitGroup
	results := make(map[string]int)
	var mu sync.Mutex
	for _, rid := range []string{"r1", "r2"} {
		wg.Add(1)
		go func(rid string) {
			defer wg.Done()
			n, err := f.svc.Allocate(ctx, rid, order.GenerateInternalOrderID())
			assert.NoError(t, err)
			mu.Lock()
			results[rid] = n
			mu.Unlock()
		}(rid)
	}
	wg.Wait()

	assert.Equal(t, map[string]int{"r1": 42, "r2": 42}, results)
}

func TestAllocate_Boundary(t *testing.T) {
	if testing.Short() {
		t.Skip("批量写入9998个号码")
	}
	f := newFixture(t)
	ctx := context.Background()
	f.seedAllocated(t, "r1", slot.MaxDisplayNumber-1)

	n, err := f.svc.Allocate(ctx, "r1", order.GenerateInternalOrderID())
	require.NoError(t, err)
	assert.Equal(t, slot.MaxDisplayNumber, n)

	_, err = f.svc.Allocate(ctx, "r1", order.GenerateInternalOrderID())
	assert.ErrorIs(t, err, apperrors.ErrResourceExhausted)

	// 其他餐厅不受影响
	n, err = f.svc.Allocate(ctx, "r2", order.GenerateInternalOrderID())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAllocate_ExhaustedByCooldown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg := testConfig()
	cfg.Slot.MaxDisplayNumber = 2
	svc := f.newService(f.slots, cfg)

	a, b := order.GenerateInternalOrderID(), order.GenerateInternalOrderID()
	_, err := svc.Allocate(ctx, "r1", a)
	require.NoError(t, err)
	_, err = svc.Allocate(ctx, "r1", b)
	require.NoError(t, err)
	_, err = svc.Release(ctx, a, false)
	require.NoError(t, err)

	// 一个已分配、一个冷却中：号码池满
	_, err = svc.Allocate(ctx, "r1", order.GenerateInternalOrderID())
	assert.ErrorIs(t, err, apperrors.ErrResourceExhausted)

	f.clock.Advance(3 * time.Hour)
	n, err := svc.Allocate(ctx, "r1", order.GenerateInternalOrderID())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// flakyRepo 前failures次锁定号码池时返回锁冲突
type flakyRepo struct {
	slot.Repository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *flakyRepo) LockPool(ctx context.Context, restaurantID string) (*slot.Pool, error) {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return nil, apperrors.ErrTransientContention.WithCause(errors.New("Deadlock found when trying to get lock"))
	}
	return r.Repository.LockPool(ctx, restaurantID)
}

func TestAllocate_ContentionRetry(t *testing.T) {
	t.Run("重试后成功", func(t *testing.T) {
		f := newFixture(t)
		repo := &flakyRepo{Repository: f.slots, failures: 2}
		svc := f.newService(repo, testConfig())

		n, err := svc.Allocate(context.Background(), "r1", order.GenerateInternalOrderID())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, 3, repo.calls)
	})

	t.Run("重试次数用尽", func(t *testing.T) {
		f := newFixture(t)
		repo := &flakyRepo{Repository: f.slots, failures: 10}
		svc := f.newService(repo, testConfig())

		_, err := svc.Allocate(context.Background(), "r1", order.GenerateInternalOrderID())
		assert.ErrorIs(t, err, apperrors.ErrTransientContention)
		assert.True(t, apperrors.IsRetryable(err))
		assert.Equal(t, 3, repo.calls)

		// 失败的尝试全部回滚，没有留下订单
		var count int64
		require.NoError(t, f.db.Model(&mysql.OrderModel{}).Count(&count).Error)
		assert.Zero(t, count)
	})
}

func TestAllocate_RollbackWithOuterTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := order.GenerateInternalOrderID()
	boom := errors.New("下单失败")

	err := f.svc.RunInTransaction(ctx, func(ctx context.Context) error {
		n, err := f.svc.Allocate(ctx, "r1", ref)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = f.slots.FindByOrderRef(ctx, ref)
	assert.ErrorIs(t, err, slot.ErrSlotNotFound)
	_, err = f.orders.FindByInternalID(ctx, ref)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
	assert.Empty(t, f.publisher.Types(), "回滚的分配不发布事件")
	assert.Zero(t, f.cache.Count("r1"))

	// 号码没有被占用
	n, err := f.svc.Allocate(ctx, "r1", order.GenerateInternalOrderID())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := order.GenerateInternalOrderID()

	n, err := f.svc.Allocate(ctx, "r1", ref)
	require.NoError(t, err)

	res, err := f.svc.Release(ctx, ref, false)
	require.NoError(t, err)
	assert.Equal(t, allocation.ReleaseResult{RestaurantID: "r1", DisplayNumber: n, Released: true}, res)

	var model mysql.SlotModel
	require.NoError(t, f.db.Where("restaurant_id = ? AND display_number = ?", "r1", n).First(&model).Error)
	assert.Equal(t, int(slot.StatusCooldown), model.Status)
	assert.Nil(t, model.CurrentOrderRef)
	require.NotNil(t, model.CooldownExpiresAt)
	firstExpiry := model.CooldownExpiresAt.UTC()
	assert.Equal(t, base.Add(2*time.Hour), firstExpiry)

	o, err := f.orders.FindByInternalID(ctx, ref)
	require.NoError(t, err)
	assert.Nil(t, o.DisplayOrderNumber)
	assert.Equal(t, n, *o.LastDisplayNumber)

	t.Run("重复释放是空操作", func(t *testing.T) {
		f.clock.Advance(30 * time.Minute)
		res, err := f.svc.Release(ctx, ref, false)
		require.NoError(t, err)
		assert.False(t, res.Released)
		assert.Equal(t, "r1", res.RestaurantID)

		var again mysql.SlotModel
		require.NoError(t, f.db.Where("id = ?", model.ID).First(&again).Error)
		assert.Equal(t, firstExpiry, again.CooldownExpiresAt.UTC(), "冷却期不会被延长")
	})

	t.Run("按内部ID查询不受号码状态影响", func(t *testing.T) {
		got, err := f.orders.FindByInternalID(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, ref, got.InternalOrderID)
	})

	assert.Equal(t, []slot.EventType{slot.EventAllocated, slot.EventReleased}, f.publisher.Types())
}

func TestRelease_Immediate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ref := order.GenerateInternalOrderID()

	n, err := f.svc.Allocate(ctx, "r1", ref)
	require.NoError(t, err)

	res, err := f.svc.Release(ctx, ref, true)
	require.NoError(t, err)
	assert.True(t, res.Released)
	assert.True(t, res.Immediate)

	reused, err := f.svc.Allocate(ctx, "r1", order.GenerateInternalOrderID())
	require.NoError(t, err)
	assert.Equal(t, n, reused, "立即释放的号码跳过冷却期")
}

func TestRelease_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Release(context.Background(), order.GenerateInternalOrderID(), false)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	_, err = f.svc.Release(context.Background(), "bad", false)
	assert.ErrorIs(t, err, order.ErrInvalidInternalID)
}

func TestRelease_OrderWithoutSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o := order.NewOrder(order.GenerateInternalOrderID(), "r1", base)
	require.NoError(t, f.orders.Create(ctx, o))

	res, err := f.svc.Release(ctx, o.InternalOrderID, false)
	require.NoError(t, err)
	assert.False(t, res.Released)
	assert.Equal(t, "r1", res.RestaurantID)
}

func TestRecyclingLiveness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 反复下单、完成，号码始终在一个很小的范围内循环
	seen := make(map[int]bool)
	for i := 0; i < 20; i++ {
		ref := order.GenerateInternalOrderID()
		n, err := f.svc.Allocate(ctx, "r1", ref)
		require.NoError(t, err)
		seen[n] = true
		_, err = f.svc.Release(ctx, ref, false)
		require.NoError(t, err)
		f.clock.Advance(2*time.Hour + time.Minute)
	}
	assert.Equal(t, map[int]bool{1: true}, seen)
}
