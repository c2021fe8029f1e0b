package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xiebiao/displayno/internal/application/lookup"
	"github.com/xiebiao/displayno/internal/application/sweeper"
	"github.com/xiebiao/displayno/internal/interface/http/dto"
	"github.com/xiebiao/displayno/internal/interface/http/middleware"
	"github.com/xiebiao/displayno/pkg/response"
)

// AdminHandler 运营/客服工具接口
type AdminHandler struct {
	lookup  *lookup.Service
	sweeper *sweeper.Sweeper
}

// NewAdminHandler 创建运营接口处理器
func NewAdminHandler(lookupService *lookup.Service, sw *sweeper.Sweeper) *AdminHandler {
	return &AdminHandler{
		lookup:  lookupService,
		sweeper: sw,
	}
}

// SlotStats 号码池统计
// @Summary      号码池统计
// @Description  容量、已分配、冷却中、可分配数量与使用率
// @Tags         运营
// @Produce      json
// @Param        X-Restaurant-ID header string true "餐厅ID"
// @Success      200 {object} response.Response{data=dto.SlotStatsResponse}
// @Router       /api/v1/admin/slots/stats [get]
func (h *AdminHandler) SlotStats(c *gin.Context) {
	stats, err := h.lookup.Stats(c.Request.Context(), middleware.MustGetRestaurantID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.FromStats(stats))
}

// Cleanup 手动触发一次号码回收
// @Summary      回收孤儿号码
// @Description  回收冷却到期、超过活跃窗口、订单丢失或已结束的号码；其他实例正在清理时返回ran=false
// @Tags         运营
// @Produce      json
// @Success      200 {object} response.Response{data=dto.CleanupResponse}
// @Router       /api/v1/admin/slots/cleanup [post]
func (h *AdminHandler) Cleanup(c *gin.Context) {
	report, ran, err := h.sweeper.RunOnce(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto.CleanupResponse{
		Ran:       ran,
		Reclaimed: report.Reclaimed(),
		Report:    report,
	})
}
