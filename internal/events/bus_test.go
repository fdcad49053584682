package events

import (
	"testing"
	"time"
)

// TestPublishNonBlocking 缓冲满时发布方不被阻塞
func TestPublishNonBlocking(t *testing.T) {
	bus := NewBus()
	_ = bus.Subscribe(TopicTradeExecuted, 1)

	done := make(chan struct{})
	go func() {
		// 无人消费，第二条应被丢弃而不是阻塞
		bus.Publish(TopicTradeExecuted, TradeExecutedEvent{OrderID: "1"})
		bus.Publish(TopicTradeExecuted, TradeExecutedEvent{OrderID: "2"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish 不应阻塞")
	}
}

// TestSubscribeReceivesEvents 订阅者收到已发布的事件
func TestSubscribeReceivesEvents(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicCircuitTripped, 4)

	bus.Publish(TopicCircuitTripped, CircuitTrippedEvent{StrategyID: "copytrade"})

	select {
	case ev := <-ch:
		e, ok := ev.(CircuitTrippedEvent)
		if !ok {
			t.Fatalf("事件类型不对: %T", ev)
		}
		if e.StrategyID != "copytrade" {
			t.Fatalf("StrategyID got=%s want=copytrade", e.StrategyID)
		}
	case <-time.After(time.Second):
		t.Fatal("应收到事件")
	}
}

// TestPublishToOtherTopicNotDelivered 主题隔离
func TestPublishToOtherTopicNotDelivered(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(TopicTradeExecuted, 1)

	bus.Publish(TopicTradeRejected, TradeRejectedEvent{})

	select {
	case ev := <-ch:
		t.Fatalf("不应收到其它主题的事件: %v", ev)
	default:
	}
}
