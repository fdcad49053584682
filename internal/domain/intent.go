package domain

import "github.com/pkg/errors"

// Side 买卖方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TradeIntent 策略产出的交易意图。Size 是份额数，
// Price 是每份限价（0 到 1 之间的隐含概率）。
type TradeIntent struct {
	StrategyID string
	MarketID   string
	TokenID    string
	Side       Side
	Size       float64
	Price      float64
}

// Notional 名义金额（USDC）
func (t *TradeIntent) Notional() float64 {
	return t.Size * t.Price
}

// Validate 校验意图字段
func (t *TradeIntent) Validate() error {
	if t.StrategyID == "" {
		return errors.New("strategyID 不能为空")
	}
	if t.MarketID == "" || t.TokenID == "" {
		return errors.New("marketID/tokenID 不能为空")
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return errors.Errorf("非法方向: %s", t.Side)
	}
	if t.Size <= 0 {
		return errors.Errorf("size 必须为正: %f", t.Size)
	}
	if t.Price <= 0 || t.Price >= 1 {
		return errors.Errorf("price 必须在 (0,1) 区间: %f", t.Price)
	}
	return nil
}
