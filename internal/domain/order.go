package domain

import "time"

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusSimulated OrderStatus = "simulated" // dry-run 模式下的模拟成交
	OrderStatusRejected  OrderStatus = "rejected"  // 风控拒绝，未到达交易所
	OrderStatusError     OrderStatus = "error"     // 执行失败（网络/交易所拒单）
)

// Order 一条订单历史记录（写入 OrderRepository）
type Order struct {
	ID         int64
	OrderID    string // 交易所返回的订单ID；rejected/error 时可为空
	StrategyID string
	MarketID   string
	TokenID    string
	Side       Side
	Size       float64
	Price      float64
	Status     OrderStatus
	Reason     string // rejected/error 时的原因
	CreatedAt  time.Time
}

// OrderRequest 下单请求（交易所客户端契约的入参）
type OrderRequest struct {
	MarketID string
	TokenID  string
	Side     Side
	Size     float64
	Price    float64
}

// OrderResult 下单结果（交易所客户端契约的出参）
type OrderResult struct {
	OrderID  string
	Status   OrderStatus
	MarketID string
	Side     Side
	Size     float64
	Price    float64
}

// OrderBookLevel 订单簿单档
type OrderBookLevel struct {
	Price float64
	Size  float64
}

// OrderBook 订单簿快照
type OrderBook struct {
	Bids []OrderBookLevel
	Asks []OrderBookLevel
}

// BestBid 最优买价，空簿返回 0
func (b *OrderBook) BestBid() float64 {
	if b == nil || len(b.Bids) == 0 {
		return 0
	}
	return b.Bids[0].Price
}

// BestAsk 最优卖价，空簿返回 0
func (b *OrderBook) BestAsk() float64 {
	if b == nil || len(b.Asks) == 0 {
		return 0
	}
	return b.Asks[0].Price
}
