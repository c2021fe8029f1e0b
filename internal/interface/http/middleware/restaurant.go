package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xiebiao/displayno/internal/domain/slot"
	"github.com/xiebiao/displayno/pkg/response"
)

// HeaderRestaurantID 调用方餐厅（由上游网关鉴权后注入）
const HeaderRestaurantID = "X-Restaurant-ID"

const restaurantIDKey = "restaurant_id"

// RequireRestaurant 要求请求携带餐厅上下文
// 号码只在餐厅内唯一，按号码查询、叫号屏、统计等接口都必须带上餐厅
//
//	scoped := r.Group("/api/v1")
//	scoped.Use(middleware.RequireRestaurant())
func RequireRestaurant() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRestaurantID))
		if id == "" {
			response.ErrorWithCode(c, 40900, "缺少餐厅上下文: "+HeaderRestaurantID)
			c.Abort()
			return
		}
		if err := slot.ValidateRestaurantID(id); err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(restaurantIDKey, id)
		c.Next()
	}
}

// OptionalRestaurant 可选餐厅上下文
// 有Header就校验并注入，没有就继续（按内部ID查询不需要餐厅）
func OptionalRestaurant() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRestaurantID))
		if id == "" {
			c.Next()
			return
		}
		if err := slot.ValidateRestaurantID(id); err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(restaurantIDKey, id)
		c.Next()
	}
}

// GetRestaurantID 从Context获取当前餐厅，没有则返回空字符串
func GetRestaurantID(c *gin.Context) string {
	return c.GetString(restaurantIDKey)
}

// MustGetRestaurantID 从Context获取当前餐厅（不存在则panic）
// 只用于已经挂了RequireRestaurant的Handler
func MustGetRestaurantID(c *gin.Context) string {
	id := GetRestaurantID(c)
	if id == "" {
		panic("restaurant_id not found in context")
	}
	return id
}
