package domain

import "time"

// Position 以 (marketID, strategyID) 为键的净持仓。
//
// 约定：
// - Size 带符号，正数为多头，负数为空头
// - AvgPrice 仅在 Size != 0 时有意义；持仓归零后下一笔非零成交
//   重置 AvgPrice，而不是对过期价格做加权平均
// - 持仓永不删除，Size 归零后仍持久化（"open" 视图中过滤掉）
type Position struct {
	MarketID      string
	StrategyID    string
	TokenID       string
	Size          float64
	AvgPrice      float64
	UnrealizedPnl float64
	UpdatedAt     time.Time
}

// Key 持仓的自然键
func (p *Position) Key() string {
	return p.MarketID + ":" + p.StrategyID
}

// IsOpen 是否为未平仓位
func (p *Position) IsOpen() bool {
	return p.Size != 0
}

// LongNotional 多头名义敞口（size * avgPrice）。
// 空头不计入资金占用（预测市场空头的每张合约亏损上限为 0），
// 该口径与上游实现保持一致，见 internal/risk 的说明。
func (p *Position) LongNotional() float64 {
	if p.Size <= 0 {
		return 0
	}
	return p.Size * p.AvgPrice
}
