// Package events 发布号码状态变化事件
//
// 事件是“尽力而为”的通知：RabbitMQ不可用时只记录日志和指标，
// 号码分配、释放的结果不受影响。熔断器打开后直接丢弃事件，
// 避免每次分配都卡在超时上。
package events

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/xiebiao/displayno/internal/domain/slot"
	"github.com/xiebiao/displayno/internal/infrastructure/config"
	"github.com/xiebiao/displayno/pkg/metrics"
	"github.com/xiebiao/displayno/pkg/mq"
)

const breakerName = "slot-events"

// messagePublisher 消息发布能力（*mq.Publisher）
type messagePublisher interface {
	Publish(ctx context.Context, routingKey string, message interface{}) error
}

// Publisher 带熔断的事件发布者
type Publisher struct {
	mq      messagePublisher
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	log     *zap.Logger
}

// NewPublisher 根据配置创建事件发布者
// mq.enabled=false时返回空实现
func NewPublisher(cfg *config.Config, log *zap.Logger) (slot.Publisher, func(), error) {
	if !cfg.MQ.Enabled {
		log.Info("消息队列未启用，号码事件不会发布")
		return NoopPublisher{}, func() {}, nil
	}

	p, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange, cfg.MQ.ExchangeType, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := p.Close(); err != nil {
			log.Warn("关闭消息发布者失败", zap.Error(err))
		}
	}
	return newBreakerPublisher(p, cfg.MQ, log), cleanup, nil
}

func newBreakerPublisher(p messagePublisher, cfg config.MQConfig, log *zap.Logger) *Publisher {
	metrics.InitMetrics()

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: cfg.BreakerHalfOpenReqs,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("熔断器状态变化",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.SetGaugeVec(metrics.CircuitBreakerState, map[string]string{"name": name}, breakerStateValue(to))
		},
	})
	metrics.SetGaugeVec(metrics.CircuitBreakerState, map[string]string{"name": breakerName}, 0)

	return &Publisher{
		mq:      p,
		breaker: breaker,
		timeout: timeout,
		log:     log,
	}
}

// Publish 逐条发布事件，失败只记录不返回
func (p *Publisher) Publish(ctx context.Context, events ...slot.Event) {
	for _, e := range events {
		e := e
		_, err := p.breaker.Execute(func() (interface{}, error) {
			ctx, cancel := context.WithTimeout(ctx, p.timeout)
			defer cancel()
			return nil, p.mq.Publish(ctx, string(e.Type), e)
		})

		result := "success"
		switch {
		case err == nil:
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			result = "rejected"
			p.log.Debug("熔断器打开，丢弃号码事件",
				zap.String("type", string(e.Type)),
				zap.String("restaurant_id", e.RestaurantID),
				zap.Int("display_number", e.DisplayNumber))
		default:
			result = "failure"
			p.log.Warn("发布号码事件失败",
				zap.String("type", string(e.Type)),
				zap.String("restaurant_id", e.RestaurantID),
				zap.Int("display_number", e.DisplayNumber),
				zap.Error(err))
		}
		metrics.IncCounterVec(metrics.SlotEventsPublishedTotal, map[string]string{
			"routing_key": string(e.Type),
			"result":      result,
		})
	}
}

// State 熔断器当前状态
func (p *Publisher) State() gobreaker.State {
	return p.breaker.State()
}

// breakerStateValue 与circuit_breaker_state指标的取值约定一致（0关闭 1半开 2打开）
func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// NoopPublisher 不发布任何事件
type NoopPublisher struct{}

// Publish 空实现
func (NoopPublisher) Publish(context.Context, ...slot.Event) {}
