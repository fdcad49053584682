package notify

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/events"
)

var log = logrus.WithField("module", "notify")

// Sink 外部通知通道（Telegram、Discord 等）。
// 发送失败只影响通知，不影响交易链路。
type Sink interface {
	Send(ctx context.Context, text string) error
}

// Consumer 订阅事件总线，把关键事件写日志并转发给外部通道
type Consumer struct {
	bus   *events.Bus
	sinks []Sink
}

func NewConsumer(bus *events.Bus, sinks ...Sink) *Consumer {
	return &Consumer{bus: bus, sinks: sinks}
}

// Run 阻塞消费事件直到 ctx 取消。应在独立 goroutine 运行。
func (c *Consumer) Run(ctx context.Context) {
	executed := c.bus.Subscribe(events.TopicTradeExecuted, 0)
	rejected := c.bus.Subscribe(events.TopicTradeRejected, 0)
	tripped := c.bus.Subscribe(events.TopicCircuitTripped, 0)
	reset := c.bus.Subscribe(events.TopicCircuitReset, 0)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-executed:
			if !ok {
				return
			}
			if e, ok := ev.(events.TradeExecutedEvent); ok {
				c.emit(ctx, logrus.Fields{
					"strategy": e.StrategyID,
					"market":   e.MarketID,
					"side":     e.Side,
					"size":     e.Size,
					"price":    e.Price,
					"status":   e.Status,
				}, "成交 %s %s %.2f @ %.3f [%s]", e.Side, e.MarketID, e.Size, e.Price, e.Status)
			}
		case ev, ok := <-rejected:
			if !ok {
				return
			}
			if e, ok := ev.(events.TradeRejectedEvent); ok {
				c.emit(ctx, logrus.Fields{
					"strategy": e.StrategyID,
					"market":   e.MarketID,
					"reason":   e.Reason,
				}, "拒单 %s: %s", e.MarketID, e.Reason)
			}
		case ev, ok := <-tripped:
			if !ok {
				return
			}
			if e, ok := ev.(events.CircuitTrippedEvent); ok {
				c.emit(ctx, logrus.Fields{
					"strategy": e.StrategyID,
					"reason":   e.Reason,
				}, "熔断触发 %s: %s", e.StrategyID, e.Reason)
			}
		case ev, ok := <-reset:
			if !ok {
				return
			}
			if e, ok := ev.(events.CircuitResetEvent); ok {
				c.emit(ctx, logrus.Fields{"strategy": e.StrategyID},
					"熔断恢复 %s", e.StrategyID)
			}
		}
	}
}

func (c *Consumer) emit(ctx context.Context, fields logrus.Fields, format string, args ...any) {
	log.WithFields(fields).Infof(format, args...)
	if len(c.sinks) == 0 {
		return
	}
	text := fmt.Sprintf(format, args...)
	for _, s := range c.sinks {
		if err := s.Send(ctx, text); err != nil {
			log.Warnf("外部通知发送失败: %v", err)
		}
	}
}
