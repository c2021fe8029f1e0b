package lookup_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiebiao/displayno/internal/application/allocation"
	"github.com/xiebiao/displayno/internal/application/lookup"
	apporder "github.com/xiebiao/displayno/internal/application/order"
	"github.com/xiebiao/displayno/internal/domain/order"
	"github.com/xiebiao/displayno/internal/domain/slot"
	"github.com/xiebiao/displayno/internal/infrastructure/config"
	"github.com/xiebiao/displayno/internal/infrastructure/events"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/mysql"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/mysql/dbtest"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/redis"
	apperrors "github.com/xiebiao/displayno/pkg/errors"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mr     *miniredis.Miniredis
	orders order.Repository
	alloc  *allocation.Service
	svc    *lookup.Service
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{Slot: config.SlotConfig{
		CooldownWindow:    2 * time.Hour,
		ActiveWindow:      24 * time.Hour,
		MissingOrderGrace: 10 * time.Minute,
		MaxDisplayNumber:  slot.MaxDisplayNumber,
		RetryAttempts:     3,
		RetryInitial:      time.Millisecond,
		RetryMax:          time.Millisecond,
		BoardCacheTTL:     time.Minute,
	}}

	slots := mysql.NewSlotRepository(db)
	orders := mysql.NewOrderRepository(db)
	cache := redis.NewBoardCache(client, cfg)

	f := &fixture{mr: mr, orders: orders, now: base}
	f.alloc = allocation.NewService(slots, orders, mysql.NewTxManager(db), cache, events.NoopPublisher{}, cfg, zap.NewNop())
	f.alloc.SetClock(func() time.Time { return f.now })
	f.svc = lookup.NewService(orders, slots, cache, cfg, zap.NewNop())
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

// allocateN 依次分配n个号码（1..n），返回号码到内部ID的映射
func (f *fixture) allocateN(t *testing.T, restaurantID string, n int) map[int]string {
	t.Helper()
	refs := make(map[int]string, n)
	for i := 0; i < n; i++ {
		ref := order.GenerateInternalOrderID()
		num, err := f.alloc.Allocate(context.Background(), restaurantID, ref)
		require.NoError(t, err)
		refs[num] = ref
		f.now = f.now.Add(time.Second)
	}
	return refs
}

func numbers(orders []*order.Order) []int {
	out := make([]int, 0, len(orders))
	for _, o := range orders {
		n, _ := o.SearchNumber()
		out = append(out, n)
	}
	return out
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		raw        string
		wantNumber int
		wantID     string
	}{
		{"42", 42, ""},
		{"0042", 42, ""},
		{" #0042 ", 42, ""},
		{"9999", 9999, ""},
		{"0", 0, ""},
		{"10000", 0, ""},
		{"00000042", 42, "00000042"},
		{"3F1C2A9E", 0, "3f1c2a9e"},
		{"3f1c-2a9e", 0, "3f1c-2a9e"},
		{"abc", 0, ""},
		{"hello", 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := lookup.ParseQuery(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantNumber, got.Number)
			assert.Equal(t, tt.wantID, got.IDFragment)
		})
	}

	_, err := lookup.ParseQuery("  # ")
	assert.ErrorIs(t, err, lookup.ErrEmptyQuery)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 20, lookup.NormalizeLimit(0))
	assert.Equal(t, 20, lookup.NormalizeLimit(-5))
	assert.Equal(t, 7, lookup.NormalizeLimit(7))
	assert.Equal(t, 100, lookup.NormalizeLimit(1000))
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	refs := f.allocateN(t, "r1", 42)
	f.allocateN(t, "r2", 42)

	t.Run("前导0归一化", func(t *testing.T) {
		a, err := f.svc.Search(ctx, lookup.SearchRequest{RestaurantID: "r1", Query: "0042"})
		require.NoError(t, err)
		b, err := f.svc.Search(ctx, lookup.SearchRequest{RestaurantID: "r1", Query: "42"})
		require.NoError(t, err)

		require.Len(t, a, 1)
		assert.Equal(t, a, b)
		assert.Equal(t, refs[42], a[0].InternalOrderID)
		assert.Equal(t, "r1", a[0].RestaurantID)
	})

	t.Run("按匹配度排序", func(t *testing.T) {
		got, err := f.svc.Search(ctx, lookup.SearchRequest{RestaurantID: "r1", Query: "4"})
		require.NoError(t, err)
		require.Len(t, got, 7)
		assert.Equal(t, 4, numbers(got)[0], "完全匹配排第一")
		assert.ElementsMatch(t, []int{40, 41, 42}, numbers(got)[1:4])
		assert.ElementsMatch(t, []int{14, 24, 34}, numbers(got)[4:])
	})

	t.Run("按内部ID片段", func(t *testing.T) {
		prefix := refs[7][:8]
		got, err := f.svc.Search(ctx, lookup.SearchRequest{RestaurantID: "r1", Query: prefix})
		require.NoError(t, err)
		require.NotEmpty(t, got)
		assert.Equal(t, refs[7], got[0].InternalOrderID)
	})

	t.Run("已完成订单默认不出现", func(t *testing.T) {
		_, err := f.alloc.Release(ctx, refs[42], false)
		require.NoError(t, err)
		o, err := f.orders.FindByInternalID(ctx, refs[42])
		require.NoError(t, err)
		require.NoError(t, o.TransitionTo(order.StatusCancelled, f.now))
		require.NoError(t, f.orders.Update(ctx, o))

		got, err := f.svc.Search(ctx, lookup.SearchRequest{RestaurantID: "r1", Query: "42"})
		require.NoError(t, err)
		assert.Empty(t, got)

		got, err = f.svc.Search(ctx, lookup.SearchRequest{RestaurantID: "r1", Query: "42", IncludeCompleted: true})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, refs[42], got[0].InternalOrderID)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := f.svc.Search(ctx, lookup.SearchRequest{RestaurantID: "r1", Query: "1", Limit: 3})
		require.NoError(t, err)
		assert.Len(t, got, 3)
		assert.Equal(t, 1, numbers(got)[0])
	})

	t.Run("无可匹配条件", func(t *testing.T) {
		got, err := f.svc.Search(ctx, lookup.SearchRequest{RestaurantID: "r1", Query: "xyz"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("空关键字", func(t *testing.T) {
		_, err := f.svc.Search(ctx, lookup.SearchRequest{RestaurantID: "r1", Query: " "})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidInput))
	})
}

func TestByDisplayNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	refs := f.allocateN(t, "r1", 2)

	got, err := f.svc.ByDisplayNumber(ctx, "r1", 2)
	require.NoError(t, err)
	assert.Equal(t, refs[2], got.InternalOrderID)

	// 不跨餐厅查找
	_, err = f.svc.ByDisplayNumber(ctx, "r2", 2)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)

	for _, n := range []int{0, -1, 10000} {
		_, err = f.svc.ByDisplayNumber(ctx, "r1", n)
		assert.ErrorIs(t, err, slot.ErrInvalidDisplayNumber)
	}

	// 释放后号码不再指向该订单
	_, err = f.alloc.Release(ctx, refs[2], false)
	require.NoError(t, err)
	_, err = f.svc.ByDisplayNumber(ctx, "r1", 2)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestByInternalID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	refs := f.allocateN(t, "r1", 1)
	ref := refs[1]

	_, err := f.alloc.Release(ctx, ref, true)
	require.NoError(t, err)
	// 号码已被其他订单复用
	reused := f.allocateN(t, "r1", 1)
	require.Contains(t, reused, 1)

	got, err := f.svc.ByInternalID(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, ref, got.InternalOrderID)
	assert.Nil(t, got.DisplayOrderNumber)

	_, err = f.svc.ByInternalID(ctx, order.GenerateInternalOrderID())
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
	_, err = f.svc.ByInternalID(ctx, "42")
	assert.ErrorIs(t, err, order.ErrInvalidInternalID)
}

func TestActiveBoard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	refs := f.allocateN(t, "r1", 3)

	board, err := f.svc.ActiveBoard(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, numbers(board))

	// 第二次读取命中缓存
	assert.Len(t, f.mr.Keys(), 2)
	board, err = f.svc.ActiveBoard(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, numbers(board))

	// 释放后缓存失效，看板不再显示该订单
	_, err = f.alloc.Release(ctx, refs[2], false)
	require.NoError(t, err)
	board, err = f.svc.ActiveBoard(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, numbers(board))
	for _, o := range board {
		assert.True(t, o.HasDisplayNumber())
	}

	t.Run("Redis不可用时直接查库", func(t *testing.T) {
		f.mr.SetError("LOADING")
		defer f.mr.SetError("")

		board, err := f.svc.ActiveBoard(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, []int{1, 3}, numbers(board))
	})

	t.Run("其他餐厅为空", func(t *testing.T) {
		board, err := f.svc.ActiveBoard(ctx, "r9")
		require.NoError(t, err)
		assert.Empty(t, board)
	})
}

func TestActiveBoard_StatusChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	refs := f.allocateN(t, "r1", 1)

	board, err := f.svc.ActiveBoard(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, order.StatusPending, board[0].Status)

	transition := apporder.NewTransitionOrderUseCase(f.orders, f.alloc, zap.NewNop())
	transition.SetClock(func() time.Time { return f.now })
	_, err = transition.Execute(ctx, apporder.TransitionOrderRequest{
		RestaurantID:    "r1",
		InternalOrderID: refs[1],
		Status:          "preparing",
	})
	require.NoError(t, err)

	// 号码没变，看板上的状态也要跟着刷新
	board, err = f.svc.ActiveBoard(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, board, 1)
	assert.Equal(t, order.StatusPreparing, board[0].Status)
	assert.Equal(t, 1, *board[0].DisplayOrderNumber)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	refs := f.allocateN(t, "r1", 3)

	_, err := f.alloc.Release(ctx, refs[1], false)
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, slot.MaxDisplayNumber, stats.Capacity)
	assert.Equal(t, 3, stats.Provisioned)
	assert.Equal(t, 2, stats.Allocated)
	assert.Equal(t, 1, stats.Cooldown)
	assert.Equal(t, slot.MaxDisplayNumber-3, stats.Available)
	assert.InDelta(t, 3.0/float64(slot.MaxDisplayNumber)*100, stats.UtilizationPct, 1e-9)

	// 冷却到期后按可分配统计（即使还没被翻转）
	f.now = f.now.Add(3 * time.Hour)
	stats, err = f.svc.Stats(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Cooldown)
	assert.Equal(t, slot.MaxDisplayNumber-2, stats.Available)

	empty, err := f.svc.Stats(ctx, "r9")
	require.NoError(t, err)
	assert.Equal(t, slot.MaxDisplayNumber, empty.Available)
	assert.Zero(t, empty.UtilizationPct)
}
