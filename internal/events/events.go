package events

import (
	"time"
)

// TradeExecutedEvent 订单执行成功事件
type TradeExecutedEvent struct {
	OrderID    string
	StrategyID string
	MarketID   string
	Side       string
	Size       float64
	Price      float64
	Status     string
	Timestamp  time.Time
}

// TradeRejectedEvent 订单被拒事件（风控拒绝或执行失败共用同一通道）
type TradeRejectedEvent struct {
	StrategyID string
	MarketID   string
	Reason     string
	Timestamp  time.Time
}

// CircuitTrippedEvent 熔断触发事件
type CircuitTrippedEvent struct {
	StrategyID string
	Reason     string
	Timestamp  time.Time
}

// CircuitResetEvent 熔断恢复事件
type CircuitResetEvent struct {
	StrategyID string
	Timestamp  time.Time
}

// PositionUpdatedEvent 仓位更新事件
type PositionUpdatedEvent struct {
	MarketID  string
	Timestamp time.Time
}
