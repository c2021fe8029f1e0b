package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderRequestID 请求追踪ID
const HeaderRequestID = "X-Request-ID"

// RequestLogger 访问日志中间件
// 1. 为每个请求分配X-Request-ID（上游已传则沿用）
// 2. 请求结束后记录方法、路径、状态码、耗时
// 3. 超过slowThreshold的请求记Warn
func RequestLogger(log *zap.Logger, slowThreshold time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(HeaderRequestID, requestID)

		c.Next()

		latency := time.Since(start)
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		}
		if rid := GetRestaurantID(c); rid != "" {
			fields = append(fields, zap.String("restaurant_id", rid))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if slowThreshold > 0 && latency > slowThreshold {
			log.Warn("慢请求", fields...)
			return
		}
		log.Info("HTTP请求", fields...)
	}
}
