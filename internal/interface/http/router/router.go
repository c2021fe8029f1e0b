package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/xiebiao/displayno/internal/infrastructure/config"
	"github.com/xiebiao/displayno/internal/interface/http/handler"
	"github.com/xiebiao/displayno/internal/interface/http/middleware"
)

// NewRouter 创建Gin引擎并注册路由
//
// 路由结构：
//
//	/ping                               健康检查
//	/metrics                            Prometheus
//	/swagger/*any                       Swagger UI
//	/api/v1/orders...                   下单、流转、查询（需要X-Restaurant-ID）
//	/api/v1/admin/slots...              运营工具
func NewRouter(
	cfg *config.Config,
	log *zap.Logger,
	orderHandler *handler.OrderHandler,
	adminHandler *handler.AdminHandler,
) *gin.Engine {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestLogger(log, cfg.Server.SlowRequest),
		middleware.Metrics(),
	)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		// 按内部ID查询不需要餐厅上下文
		orders.GET("/lookup", middleware.OptionalRestaurant(), orderHandler.Lookup)

		scoped := orders.Group("")
		scoped.Use(middleware.RequireRestaurant())
		{
			scoped.POST("", orderHandler.CreateOrder)
			scoped.PATCH("/:internal_id/status", orderHandler.TransitionStatus)
			scoped.GET("/search", orderHandler.Search)
			scoped.GET("/active", orderHandler.Active)
		}

		admin := v1.Group("/admin/slots")
		{
			admin.GET("/stats", middleware.RequireRestaurant(), adminHandler.SlotStats)
			admin.POST("/cleanup", adminHandler.Cleanup)
		}
	}

	return r
}
