package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xiebiao/displayno/internal/application/lookup"
	apporder "github.com/xiebiao/displayno/internal/application/order"
	"github.com/xiebiao/displayno/internal/domain/order"
	"github.com/xiebiao/displayno/internal/domain/slot"
	"github.com/xiebiao/displayno/internal/interface/http/dto"
	"github.com/xiebiao/displayno/internal/interface/http/middleware"
	"github.com/xiebiao/displayno/pkg/response"
)

// OrderHandler 订单HTTP处理器
// 下单、状态流转走用例；查询类接口直接走lookup服务
type OrderHandler struct {
	createOrderUseCase     *apporder.CreateOrderUseCase
	transitionOrderUseCase *apporder.TransitionOrderUseCase
	lookup                 *lookup.Service
}

// NewOrderHandler 创建订单处理器
func NewOrderHandler(
	createOrderUseCase *apporder.CreateOrderUseCase,
	transitionOrderUseCase *apporder.TransitionOrderUseCase,
	lookupService *lookup.Service,
) *OrderHandler {
	return &OrderHandler{
		createOrderUseCase:     createOrderUseCase,
		transitionOrderUseCase: transitionOrderUseCase,
		lookup:                 lookupService,
	}
}

// CreateOrder 创建订单并分配取餐号
// @Summary      创建订单
// @Description  生成内部订单ID并在同一事务内分配餐厅内最小的可用取餐号
// @Tags         订单
// @Produce      json
// @Param        X-Restaurant-ID header string true "餐厅ID"
// @Success      200 {object} response.Response{data=dto.OrderResponse}
// @Failure      200 {object} response.Response "50301 取餐号已用尽 / 50302 分配繁忙"
// @Router       /api/v1/orders [post]
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	restaurantID := middleware.MustGetRestaurantID(c)

	created, err := h.createOrderUseCase.Execute(c.Request.Context(), apporder.CreateOrderRequest{
		RestaurantID: restaurantID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.FromOrder(created))
}

// TransitionStatus 订单状态流转
// @Summary      订单状态流转
// @Description  进入completed/cancelled时释放取餐号（默认进入冷却期，immediate=true立即可复用）
// @Tags         订单
// @Accept       json
// @Produce      json
// @Param        X-Restaurant-ID header string true "餐厅ID"
// @Param        internal_id path string true "内部订单ID"
// @Param        request body dto.TransitionStatusRequest true "目标状态"
// @Success      200 {object} response.Response{data=dto.TransitionStatusResponse}
// @Failure      200 {object} response.Response "40002 状态流转非法 / 40403 订单不存在"
// @Router       /api/v1/orders/{internal_id}/status [patch]
func (h *OrderHandler) TransitionStatus(c *gin.Context) {
	var req dto.TransitionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorWithCode(c, 40900, "参数错误: "+err.Error())
		return
	}

	result, err := h.transitionOrderUseCase.Execute(c.Request.Context(), apporder.TransitionOrderRequest{
		RestaurantID:    middleware.MustGetRestaurantID(c),
		InternalOrderID: c.Param("internal_id"),
		Status:          req.Status,
		Immediate:       req.Immediate,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := dto.TransitionStatusResponse{Order: dto.FromOrder(result.Order)}
	if result.Release != nil && result.Release.Released {
		number := result.Release.DisplayNumber
		resp.Released = true
		resp.ReleasedNumber = &number
		resp.Immediate = result.Release.Immediate
	}
	response.Success(c, resp)
}

// Lookup 按取餐号或内部ID精确查询
// @Summary      精确查询订单
// @Description  display_number按调用方餐厅查询当前持有该号码的活跃订单；internal_id全局查询，与号码状态无关
// @Tags         查询
// @Produce      json
// @Param        X-Restaurant-ID header string false "餐厅ID（按号码查询时必填）"
// @Param        display_number query string false "取餐号，允许前导0和#，例如0042"
// @Param        internal_id query string false "内部订单ID"
// @Success      200 {object} response.Response{data=dto.OrderResponse}
// @Failure      200 {object} response.Response "40403 订单不存在 / 40900 参数错误"
// @Router       /api/v1/orders/lookup [get]
func (h *OrderHandler) Lookup(c *gin.Context) {
	var req dto.LookupRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorWithCode(c, 40900, "参数错误: "+err.Error())
		return
	}

	var (
		found *order.Order
		err   error
	)
	switch {
	case req.InternalID != "":
		found, err = h.lookup.ByInternalID(c.Request.Context(), req.InternalID)
	case req.DisplayNumber != "":
		restaurantID := middleware.GetRestaurantID(c)
		if restaurantID == "" {
			response.ErrorWithCode(c, 40900, "按取餐号查询需要"+middleware.HeaderRestaurantID)
			return
		}
		number, parseErr := ParseDisplayNumber(req.DisplayNumber)
		if parseErr != nil {
			response.Error(c, parseErr)
			return
		}
		found, err = h.lookup.ByDisplayNumber(c.Request.Context(), restaurantID, number)
	default:
		response.ErrorWithCode(c, 40900, "参数错误: display_number和internal_id必须传一个")
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, dto.FromOrder(found))
}

// Search 模糊搜索订单
// @Summary      模糊搜索订单
// @Description  按号码片段或内部ID片段搜索，"0042"与"42"等价；默认只搜活跃订单
// @Tags         查询
// @Produce      json
// @Param        X-Restaurant-ID header string true "餐厅ID"
// @Param        q query string true "搜索关键字"
// @Param        include_completed query bool false "是否包含已完成/已取消订单"
// @Param        limit query int false "返回条数（默认20，最大100）"
// @Success      200 {object} response.Response{data=response.ListData{list=[]dto.OrderResponse}}
// @Router       /api/v1/orders/search [get]
func (h *OrderHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ErrorWithCode(c, 40900, "参数错误: "+err.Error())
		return
	}

	orders, err := h.lookup.Search(c.Request.Context(), lookup.SearchRequest{
		RestaurantID:     middleware.MustGetRestaurantID(c),
		Query:            req.Q,
		IncludeCompleted: req.IncludeCompleted,
		Limit:            req.Limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	list := dto.FromOrders(orders)
	response.SuccessWithList(c, list, len(list))
}

// Active 叫号屏：当前持有取餐号的活跃订单
// @Summary      叫号屏订单列表
// @Description  按分配时间排序，结果缓存在Redis，号码变动时失效
// @Tags         查询
// @Produce      json
// @Param        X-Restaurant-ID header string true "餐厅ID"
// @Success      200 {object} response.Response{data=response.ListData{list=[]dto.OrderResponse}}
// @Router       /api/v1/orders/active [get]
func (h *OrderHandler) Active(c *gin.Context) {
	orders, err := h.lookup.ActiveBoard(c.Request.Context(), middleware.MustGetRestaurantID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	list := dto.FromOrders(orders)
	response.SuccessWithList(c, list, len(list))
}

// ParseDisplayNumber 解析用户输入的号码："#0042"、"0042"、"42"都解析为42
// 范围校验交给领域层
func ParseDisplayNumber(raw string) (int, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	n, err := strconv.Atoi(s)
	if err != nil || strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return 0, slot.ErrInvalidDisplayNumber
	}
	return n, nil
}
