package mysql_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiebiao/displayno/internal/domain/order"
	"github.com/xiebiao/displayno/internal/domain/slot"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/mysql"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/mysql/dbtest"
)

// seedOrder 创建订单，number>0时同时创建已分配的号码
func seedOrder(t *testing.T, orders order.Repository, slots slot.Repository, restaurantID string, number int, createdAt time.Time) *order.Order {
	t.Helper()
	ctx := context.Background()

	o := order.NewOrder(order.GenerateInternalOrderID(), restaurantID, createdAt)
	require.NoError(t, orders.Create(ctx, o))
	if number > 0 {
		require.NoError(t, slots.Create(ctx, slot.NewAllocatedSlot(restaurantID, number, o.InternalOrderID, createdAt)))
		require.NoError(t, orders.SetDisplayNumber(ctx, o.InternalOrderID, &number))
		o.DisplayOrderNumber = &number
		o.LastDisplayNumber = &number
	}
	return o
}

func TestOrderRepository_CRUD(t *testing.T) {
	db := dbtest.Open(t)
	orders := mysql.NewOrderRepository(db)
	slots := mysql.NewSlotRepository(db)
	ctx := context.Background()

	o := seedOrder(t, orders, slots, "r1", 7, base)
	require.NotZero(t, o.ID)

	t.Run("重复内部ID", func(t *testing.T) {
		dup := order.NewOrder(o.InternalOrderID, "r1", base)
		assert.ErrorIs(t, orders.Create(ctx, dup), order.ErrOrderDuplicate)
	})

	t.Run("按内部ID查询", func(t *testing.T) {
		got, err := orders.FindByInternalID(ctx, o.InternalOrderID)
		require.NoError(t, err)
		assert.Equal(t, 7, *got.DisplayOrderNumber)
		assert.Equal(t, 7, *got.LastDisplayNumber)
		assert.Equal(t, order.StatusPending, got.Status)

		_, err = orders.FindByInternalID(ctx, order.GenerateInternalOrderID())
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})

	t.Run("按号码查询严格限定餐厅", func(t *testing.T) {
		got, err := orders.FindByDisplayNumber(ctx, "r1", 7)
		require.NoError(t, err)
		assert.Equal(t, o.InternalOrderID, got.InternalOrderID)

		_, err = orders.FindByDisplayNumber(ctx, "r2", 7)
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})

	t.Run("更新状态", func(t *testing.T) {
		got, err := orders.FindByInternalID(ctx, o.InternalOrderID)
		require.NoError(t, err)
		require.NoError(t, got.TransitionTo(order.StatusCancelled, base.Add(time.Minute)))
		require.NoError(t, orders.Update(ctx, got))

		reloaded, err := orders.FindByInternalID(ctx, o.InternalOrderID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, reloaded.Status)
		require.NotNil(t, reloaded.CompletedAt)
		assert.Equal(t, base.Add(time.Minute), *reloaded.CompletedAt)
	})

	t.Run("清除号码保留最近一次号码", func(t *testing.T) {
		require.NoError(t, orders.SetDisplayNumber(ctx, o.InternalOrderID, nil))

		got, err := orders.FindByInternalID(ctx, o.InternalOrderID)
		require.NoError(t, err)
		assert.Nil(t, got.DisplayOrderNumber)
		assert.Equal(t, 7, *got.LastDisplayNumber)
	})

	t.Run("订单不存在时设置号码不报错", func(t *testing.T) {
		n := 1
		assert.NoError(t, orders.SetDisplayNumber(ctx, order.GenerateInternalOrderID(), &n))
	})

	t.Run("批量查询", func(t *testing.T) {
		missing := order.GenerateInternalOrderID()
		got, err := orders.FindByInternalIDs(ctx, []string{o.InternalOrderID, missing})
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Contains(t, got, o.InternalOrderID)

		empty, err := orders.FindByInternalIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

func TestOrderRepository_ListActiveWithDisplay(t *testing.T) {
	db := dbtest.Open(t)
	orders := mysql.NewOrderRepository(db)
	slots := mysql.NewSlotRepository(db)
	ctx := context.Background()

	second := seedOrder(t, orders, slots, "r1", 5, base.Add(time.Minute))
	first := seedOrder(t, orders, slots, "r1", 9, base)
	seedOrder(t, orders, slots, "r2", 1, base)
	seedOrder(t, orders, slots, "r1", 0, base) // 没有号码

	// 已完成但号码还没释放的订单不应出现在看板上
	done := seedOrder(t, orders, slots, "r1", 3, base)
	done.Status = order.StatusCompleted
	done.UpdatedAt = base
	require.NoError(t, orders.Update(ctx, done))

	got, err := orders.ListActiveWithDisplay(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first.InternalOrderID, got[0].InternalOrderID, "按分配时间排序")
	assert.Equal(t, second.InternalOrderID, got[1].InternalOrderID)
}

func TestOrderRepository_Search(t *testing.T) {
	db := dbtest.Open(t)
	orders := mysql.NewOrderRepository(db)
	slots := mysql.NewSlotRepository(db)
	ctx := context.Background()

	o42 := seedOrder(t, orders, slots, "r1", 42, base)
	o420 := seedOrder(t, orders, slots, "r1", 420, base.Add(time.Minute))
	o142 := seedOrder(t, orders, slots, "r1", 142, base.Add(2*time.Minute))
	seedOrder(t, orders, slots, "r1", 7, base)
	seedOrder(t, orders, slots, "r2", 42, base)

	// 历史订单：号码已释放，只保留last_display_number
	old := seedOrder(t, orders, slots, "r1", 0, base.Add(-time.Hour))
	last := 4200
	require.NoError(t, orders.SetDisplayNumber(ctx, old.InternalOrderID, &last))
	require.NoError(t, orders.SetDisplayNumber(ctx, old.InternalOrderID, nil))
	old.Status = order.StatusCompleted
	old.UpdatedAt = base
	require.NoError(t, orders.Update(ctx, old))

	ids := func(list []*order.Order) []string {
		out := make([]string, 0, len(list))
		for _, o := range list {
			out = append(out, o.InternalOrderID)
		}
		return out
	}

	t.Run("按号码排序：完全相等、前缀、包含", func(t *testing.T) {
		got, err := orders.Search(ctx, order.SearchQuery{RestaurantID: "r1", Number: 42, Limit: 20})
		require.NoError(t, err)
		assert.Equal(t, []string{o42.InternalOrderID, o420.InternalOrderID, o142.InternalOrderID}, ids(got))
	})

	t.Run("包含历史订单", func(t *testing.T) {
		got, err := orders.Search(ctx, order.SearchQuery{RestaurantID: "r1", Number: 42, IncludeCompleted: true, Limit: 20})
		require.NoError(t, err)
		// 4200与420同为前缀匹配，活跃订单优先
		assert.Equal(t, []string{o42.InternalOrderID, o420.InternalOrderID, old.InternalOrderID, o142.InternalOrderID}, ids(got))
	})

	t.Run("limit", func(t *testing.T) {
		got, err := orders.Search(ctx, order.SearchQuery{RestaurantID: "r1", Number: 42, Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{o42.InternalOrderID}, ids(got))
	})

	t.Run("按内部ID片段", func(t *testing.T) {
		fragment := o142.InternalOrderID[9:18]
		got, err := orders.Search(ctx, order.SearchQuery{RestaurantID: "r1", IDFragment: fragment, Limit: 20})
		require.NoError(t, err)
		assert.Equal(t, []string{o142.InternalOrderID}, ids(got))

		got, err = orders.Search(ctx, order.SearchQuery{RestaurantID: "r2", IDFragment: fragment, Limit: 20})
		require.NoError(t, err)
		assert.Empty(t, got, "不跨餐厅搜索")
	})

	t.Run("没有条件时返回空", func(t *testing.T) {
		got, err := orders.Search(ctx, order.SearchQuery{RestaurantID: "r1", Limit: 20})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}
