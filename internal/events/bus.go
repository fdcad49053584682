package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var busLog = logrus.WithField("module", "events")

// Topic 事件主题
type Topic string

const (
	TopicTradeExecuted   Topic = "trade:executed"
	TopicTradeRejected   Topic = "trade:rejected"
	TopicCircuitTripped  Topic = "circuit:tripped"
	TopicCircuitReset    Topic = "circuit:reset"
	TopicPositionUpdated Topic = "position:updated"
)

// Bus 进程内类型化发布/订阅总线。
// 发布不等待消费者：每个订阅者持有带缓冲 channel，
// 缓冲满时该订阅者丢弃本条事件，执行链路永不被通知阻塞。
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan any
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Topic][]chan any),
	}
}

// Subscribe 订阅一个主题，返回只读事件 channel。
// bufferSize <= 0 时使用默认缓冲（16）。
func (b *Bus) Subscribe(topic Topic, bufferSize int) <-chan any {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	ch := make(chan any, bufferSize)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()
	return ch
}

// Publish 发布事件（非阻塞）。
func (b *Bus) Publish(topic Topic, ev any) {
	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// 订阅者消费过慢，丢弃（只影响该订阅者）
			busLog.Debugf("订阅者缓冲已满，丢弃事件: topic=%s", topic)
		}
	}
}

// Close 关闭所有订阅 channel（仅在进程退出时调用）。
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subs = make(map[Topic][]chan any)
}
