//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// 集成测试针对已启动的服务（make run 或 docker compose up）运行：
//
//	go test -tags integration ./test/integration/...
//
// DISPLAYNO_BASE_URL可以覆盖默认地址。

// Timeout HTTP请求超时时间
const Timeout = 10 * time.Second

// BaseURL API基础URL
var BaseURL = func() string {
	if v := os.Getenv("DISPLAYNO_BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080/api/v1"
}()

// Response 统一响应结构
type Response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// OrderData 订单响应数据
type OrderData struct {
	InternalOrderID    string `json:"internal_order_id"`
	RestaurantID       string `json:"restaurant_id"`
	DisplayOrderNumber *int   `json:"display_order_number"`
	DisplayLabel       string `json:"display_label"`
	LastDisplayNumber  *int   `json:"last_display_number"`
	Status             string `json:"status"`
}

// TransitionData 状态流转响应数据
type TransitionData struct {
	Order          OrderData `json:"order"`
	Released       bool      `json:"released"`
	ReleasedNumber *int      `json:"released_number"`
}

// ListData 列表响应数据
type ListData struct {
	List  []OrderData `json:"list"`
	Total int         `json:"total"`
}

// NewRestaurant 每个测试使用独立的餐厅，号码从1开始且互不干扰
func NewRestaurant(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

// Do 发送请求并解析统一响应
func Do(t *testing.T, method, url, restaurantID string, body interface{}) *Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err, "JSON序列化失败")
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err, "创建HTTP请求失败")
	req.Header.Set("Content-Type", "application/json")
	if restaurantID != "" {
		req.Header.Set("X-Restaurant-ID", restaurantID)
	}

	client := &http.Client{Timeout: Timeout}
	resp, err := client.Do(req)
	require.NoError(t, err, "发送HTTP请求失败")
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "读取响应体失败")

	var result Response
	require.NoError(t, json.Unmarshal(raw, &result), "解析JSON响应失败: %s", string(raw))
	return &result
}

// CreateOrder 下单并返回订单
func CreateOrder(t *testing.T, restaurantID string) OrderData {
	t.Helper()
	resp := Do(t, http.MethodPost, BaseURL+"/orders", restaurantID, nil)
	require.Equal(t, 0, resp.Code, "下单失败: %s", resp.Message)

	var data OrderData
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.NotNil(t, data.DisplayOrderNumber)
	return data
}

// Transition 订单状态流转
func Transition(t *testing.T, restaurantID, internalID, status string) *Response {
	t.Helper()
	return Do(t, http.MethodPatch, BaseURL+"/orders/"+internalID+"/status", restaurantID,
		map[string]interface{}{"status": status})
}
