package router_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xiebiao/displayno/internal/application/allocation"
	"github.com/xiebiao/displayno/internal/application/lookup"
	apporder "github.com/xiebiao/displayno/internal/application/order"
	"github.com/xiebiao/displayno/internal/application/sweeper"
	"github.com/xiebiao/displayno/internal/infrastructure/config"
	"github.com/xiebiao/displayno/internal/infrastructure/events"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/mysql"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/mysql/dbtest"
	"github.com/xiebiao/displayno/internal/infrastructure/persistence/redis"
	"github.com/xiebiao/displayno/internal/interface/http/dto"
	"github.com/xiebiao/displayno/internal/interface/http/handler"
	"github.com/xiebiao/displayno/internal/interface/http/router"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type listData struct {
	List  []dto.OrderResponse `json:"list"`
	Total int                 `json:"total"`
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db := dbtest.Open(t)
	cfg := &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode},
		Slot: config.SlotConfig{
			CooldownWindow:    2 * time.Hour,
			ActiveWindow:      24 * time.Hour,
			MissingOrderGrace: 10 * time.Minute,
			MaxDisplayNumber:  9999,
			RetryAttempts:     3,
			RetryInitial:      time.Millisecond,
			RetryMax:          time.Millisecond,
		},
		Sweeper: config.SweeperConfig{BatchSize: 100, Interval: time.Minute},
	}
	log := zap.NewNop()

	orders := mysql.NewOrderRepository(db)
	slots := mysql.NewSlotRepository(db)
	txManager := mysql.NewTxManager(db)
	cache := redis.NewBoardCache(nil, cfg)
	publisher := events.NoopPublisher{}

	alloc := allocation.NewService(slots, orders, txManager, cache, publisher, cfg, log)
	lookupService := lookup.NewService(orders, slots, cache, cfg, log)
	sw := sweeper.NewSweeper(slots, orders, txManager, cache, publisher, redis.NewSweepLock(nil, cfg), cfg, log)

	orderHandler := handler.NewOrderHandler(
		apporder.NewCreateOrderUseCase(orders, alloc, log),
		apporder.NewTransitionOrderUseCase(orders, alloc, log),
		lookupService,
	)
	return router.NewRouter(cfg, log, orderHandler, handler.NewAdminHandler(lookupService, sw))
}

func do(t *testing.T, r http.Handler, method, path, restaurantID string, body interface{}) envelope {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if restaurantID != "" {
		req.Header.Set("X-Restaurant-ID", restaurantID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	require.Equal(t, 0, env.Code, env.Message)
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestPing(t *testing.T) {
	r := newRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID_Propagated(t *testing.T) {
	r := newRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}

func TestRestaurantScope(t *testing.T) {
	r := newRouter(t)

	env := do(t, r, http.MethodPost, "/api/v1/orders", "", nil)
	assert.Equal(t, 40900, env.Code)

	env = do(t, r, http.MethodGet, "/api/v1/orders/active", strings.Repeat("x", 65), nil)
	assert.Equal(t, 40900, env.Code)
}

func TestOrderFlow(t *testing.T) {
	r := newRouter(t)

	first := decode[dto.OrderResponse](t, do(t, r, http.MethodPost, "/api/v1/orders", "r1", nil))
	second := decode[dto.OrderResponse](t, do(t, r, http.MethodPost, "/api/v1/orders", "r1", nil))
	other := decode[dto.OrderResponse](t, do(t, r, http.MethodPost, "/api/v1/orders", "r2", nil))

	require.NotNil(t, first.DisplayOrderNumber)
	assert.Equal(t, 1, *first.DisplayOrderNumber)
	assert.Equal(t, "#0001", first.DisplayLabel)
	assert.Equal(t, 2, *second.DisplayOrderNumber)
	assert.Equal(t, 1, *other.DisplayOrderNumber)
	assert.Equal(t, "pending", first.Status)
	assert.True(t, first.Active)

	t.Run("按号码查询", func(t *testing.T) {
		got := decode[dto.OrderResponse](t, do(t, r, http.MethodGet, "/api/v1/orders/lookup?display_number=0002", "r1", nil))
		assert.Equal(t, second.InternalOrderID, got.InternalOrderID)

		got = decode[dto.OrderResponse](t, do(t, r, http.MethodGet, "/api/v1/orders/lookup?display_number=1", "r2", nil))
		assert.Equal(t, other.InternalOrderID, got.InternalOrderID)
	})

	t.Run("按号码查询必须带餐厅", func(t *testing.T) {
		env := do(t, r, http.MethodGet, "/api/v1/orders/lookup?display_number=1", "", nil)
		assert.Equal(t, 40900, env.Code)
	})

	t.Run("号码越界", func(t *testing.T) {
		for _, raw := range []string{"0", "10000", "abc", "-1"} {
			env := do(t, r, http.MethodGet, "/api/v1/orders/lookup?display_number="+raw, "r1", nil)
			assert.Equal(t, 40900, env.Code, raw)
		}
	})

	t.Run("号码未分配", func(t *testing.T) {
		env := do(t, r, http.MethodGet, "/api/v1/orders/lookup?display_number=77", "r1", nil)
		assert.Equal(t, 40403, env.Code)
	})

	t.Run("按内部ID查询不需要餐厅", func(t *testing.T) {
		got := decode[dto.OrderResponse](t, do(t, r, http.MethodGet, "/api/v1/orders/lookup?internal_id="+first.InternalOrderID, "", nil))
		assert.Equal(t, "r1", got.RestaurantID)
	})

	t.Run("缺少查询参数", func(t *testing.T) {
		env := do(t, r, http.MethodGet, "/api/v1/orders/lookup", "r1", nil)
		assert.Equal(t, 40900, env.Code)
	})

	t.Run("完成订单释放号码", func(t *testing.T) {
		res := decode[dto.TransitionStatusResponse](t, do(t, r, http.MethodPatch,
			"/api/v1/orders/"+first.InternalOrderID+"/status", "r1", dto.TransitionStatusRequest{Status: "preparing"}))
		assert.False(t, res.Released)

		res = decode[dto.TransitionStatusResponse](t, do(t, r, http.MethodPatch,
			"/api/v1/orders/"+first.InternalOrderID+"/status", "r1", dto.TransitionStatusRequest{Status: "cancelled"}))
		assert.True(t, res.Released)
		require.NotNil(t, res.ReleasedNumber)
		assert.Equal(t, 1, *res.ReleasedNumber)
		assert.Nil(t, res.Order.DisplayOrderNumber)
		assert.Equal(t, "cancelled", res.Order.Status)
		assert.NotNil(t, res.Order.CompletedAt)

		env := do(t, r, http.MethodGet, "/api/v1/orders/lookup?display_number=1", "r1", nil)
		assert.Equal(t, 40403, env.Code)
	})

	t.Run("非法状态", func(t *testing.T) {
		env := do(t, r, http.MethodPatch, "/api/v1/orders/"+second.InternalOrderID+"/status", "r1",
			map[string]string{"status": "eaten"})
		assert.Equal(t, 40900, env.Code)

		env = do(t, r, http.MethodPatch, "/api/v1/orders/"+second.InternalOrderID+"/status", "r1",
			dto.TransitionStatusRequest{Status: "completed"})
		assert.Equal(t, 40002, env.Code)
	})

	t.Run("其他餐厅不能流转", func(t *testing.T) {
		env := do(t, r, http.MethodPatch, "/api/v1/orders/"+second.InternalOrderID+"/status", "r2",
			dto.TransitionStatusRequest{Status: "cancelled"})
		assert.Equal(t, 40403, env.Code)
	})

	t.Run("搜索", func(t *testing.T) {
		got := decode[listData](t, do(t, r, http.MethodGet, "/api/v1/orders/search?q=%230002", "r1", nil))
		require.Equal(t, 1, got.Total)
		assert.Equal(t, second.InternalOrderID, got.List[0].InternalOrderID)

		got = decode[listData](t, do(t, r, http.MethodGet, "/api/v1/orders/search?q=1", "r1", nil))
		assert.Equal(t, 0, got.Total)

		got = decode[listData](t, do(t, r, http.MethodGet, "/api/v1/orders/search?q=1&include_completed=true", "r1", nil))
		require.Equal(t, 1, got.Total)
		assert.Equal(t, first.InternalOrderID, got.List[0].InternalOrderID)

		env := do(t, r, http.MethodGet, "/api/v1/orders/search?q=1&limit=500", "r1", nil)
		assert.Equal(t, 40900, env.Code)
	})

	t.Run("叫号屏", func(t *testing.T) {
		got := decode[listData](t, do(t, r, http.MethodGet, "/api/v1/orders/active", "r1", nil))
		require.Equal(t, 1, got.Total)
		assert.Equal(t, second.InternalOrderID, got.List[0].InternalOrderID)
		assert.Equal(t, "#0002", got.List[0].DisplayLabel)
	})

	t.Run("号码池统计", func(t *testing.T) {
		stats := decode[dto.SlotStatsResponse](t, do(t, r, http.MethodGet, "/api/v1/admin/slots/stats", "r1", nil))
		assert.Equal(t, 9999, stats.Capacity)
		assert.Equal(t, 2, stats.Provisioned)
		assert.Equal(t, 1, stats.Allocated)
		assert.Equal(t, 1, stats.Cooldown)
		assert.Equal(t, 9997, stats.Available)

		env := do(t, r, http.MethodGet, "/api/v1/admin/slots/stats", "", nil)
		assert.Equal(t, 40900, env.Code)
	})

	t.Run("手动清理", func(t *testing.T) {
		res := decode[dto.CleanupResponse](t, do(t, r, http.MethodPost, "/api/v1/admin/slots/cleanup", "", nil))
		assert.True(t, res.Ran)
		assert.Equal(t, 0, res.Reclaimed)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(t)
	do(t, r, http.MethodGet, "/api/v1/orders/active", "r1", nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="GET",path="/api/v1/orders/active",status="200"}`)
}

func TestParseDisplayNumber(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"42", 42, false},
		{"0042", 42, false},
		{"#0042", 42, false},
		{" 7 ", 7, false},
		{"+5", 0, true},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := handler.ParseDisplayNumber(tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got)
	}
}
