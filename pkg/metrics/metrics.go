// Package metrics 提供基于Prometheus的指标收集
//
// 指标分三组：
//   - HTTP：请求总数、耗时、处理中请求数
//   - 号码池：分配/释放/回收/锁冲突重试/清理任务
//   - 事件：消息发布结果、熔断器状态
//
// 命名规范：
//   - Counter以_total结尾
//   - Histogram以单位结尾（_seconds）
//   - 标签只使用有限取值（result、mode、reason），不要用restaurant_id、order_id作为标签
//
// 使用示例：
//
//	metrics.InitMetrics()
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
//
//	start := time.Now()
//	number, err := allocate(ctx)
//	metrics.ObserveHistogram(metrics.SlotAllocationDuration, time.Since(start).Seconds())
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// once 防止重复注册（promauto重复注册会panic）
	once sync.Once

	// HTTP请求相关指标

	// HTTPRequestsTotal HTTP请求总数（Counter）
	// 标签：method、path（路由模板，不是原始URL）、status
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration HTTP请求耗时（Histogram）
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestsInProgress 正在处理的HTTP请求数（Gauge）
	HTTPRequestsInProgress prometheus.Gauge

	// 号码池指标

	// SlotAllocationsTotal 号码分配总数
	// 标签：result（success/exhausted/contention/error）
	SlotAllocationsTotal *prometheus.CounterVec

	// SlotAllocationDuration 号码分配耗时（含重试）
	SlotAllocationDuration prometheus.Histogram

	// SlotReleasesTotal 号码释放总数
	// 标签：mode（cooldown/immediate/noop）
	SlotReleasesTotal *prometheus.CounterVec

	// SlotContentionRetriesTotal 锁冲突重试次数
	SlotContentionRetriesTotal prometheus.Counter

	// SlotsReclaimedTotal 清理任务回收的号码数
	// 标签：reason（cooldown_expired/active_window/order_missing/order_terminal）
	SlotsReclaimedTotal *prometheus.CounterVec

	// SlotSweepsTotal 清理任务执行次数
	// 标签：result（success/partial/skipped）
	SlotSweepsTotal *prometheus.CounterVec

	// SlotSweepDuration 清理任务耗时
	SlotSweepDuration prometheus.Histogram

	// 事件指标

	// SlotEventsPublishedTotal 号码事件发布总数
	// 标签：routing_key、result（success/failure/rejected）
	SlotEventsPublishedTotal *prometheus.CounterVec

	// CircuitBreakerState 熔断器状态（0=CLOSED, 1=HALF_OPEN, 2=OPEN）
	CircuitBreakerState *prometheus.GaugeVec
)

// InitMetrics 初始化所有Prometheus指标
// 可以重复调用，只有第一次生效
func InitMetrics() {
	once.Do(register)
}

func register() {
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP请求总数",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP请求耗时（秒）",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_progress",
			Help: "正在处理的HTTP请求数",
		},
	)

	SlotAllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_allocations_total",
			Help: "取餐号分配总数",
		},
		[]string{"result"},
	)

	// 分配只涉及单个餐厅的几行记录，正常在毫秒级
	SlotAllocationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slot_allocation_duration_seconds",
			Help:    "取餐号分配耗时（秒，含重试）",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	SlotReleasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_releases_total",
			Help: "取餐号释放总数",
		},
		[]string{"mode"},
	)

	SlotContentionRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slot_contention_retries_total",
			Help: "号码分配锁冲突重试次数",
		},
	)

	SlotsReclaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slots_reclaimed_total",
			Help: "清理任务回收的取餐号数量",
		},
		[]string{"reason"},
	)

	SlotSweepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_sweeps_total",
			Help: "号码清理任务执行次数",
		},
		[]string{"result"},
	)

	SlotSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slot_sweep_duration_seconds",
			Help:    "号码清理任务耗时（秒）",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30},
		},
	)

	SlotEventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slot_events_published_total",
			Help: "取餐号事件发布总数",
		},
		[]string{"routing_key", "result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "熔断器状态（0=CLOSED, 1=HALF_OPEN, 2=OPEN）",
		},
		[]string{"name"},
	)
}

// IncCounter 递增Counter（便捷函数）
func IncCounter(counter prometheus.Counter) {
	counter.Inc()
}

// IncCounterVec 递增CounterVec（带标签）
func IncCounterVec(counter *prometheus.CounterVec, labels map[string]string) {
	counter.With(labels).Inc()
}

// AddCounterVec 按值增加CounterVec（带标签）
func AddCounterVec(counter *prometheus.CounterVec, labels map[string]string, value float64) {
	counter.With(labels).Add(value)
}

// IncGauge 递增Gauge
func IncGauge(gauge prometheus.Gauge) {
	gauge.Inc()
}

// DecGauge 递减Gauge
func DecGauge(gauge prometheus.Gauge) {
	gauge.Dec()
}

// SetGaugeVec 设置GaugeVec值（带标签）
func SetGaugeVec(gauge *prometheus.GaugeVec, labels map[string]string, value float64) {
	gauge.With(labels).Set(value)
}

// ObserveHistogram 记录Histogram观测值
func ObserveHistogram(histogram prometheus.Histogram, value float64) {
	histogram.Observe(value)
}

// ObserveHistogramVec 记录HistogramVec观测值（带标签）
func ObserveHistogramVec(histogram *prometheus.HistogramVec, labels map[string]string, value float64) {
	histogram.With(labels).Observe(value)
}
