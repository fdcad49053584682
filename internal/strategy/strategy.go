package strategy

import (
	"context"

	"github.com/betbot/copyflow/internal/domain"
)

// Strategy 每个 tick 产出零个或多个交易意图。
// 产出意图不代表会成交：所有意图还要过风控闸门。
type Strategy interface {
	// ID 返回策略标识，用于持仓归属和日志
	ID() string
	// Evaluate 扫描一轮并返回本轮产生的交易意图。
	// 返回错误表示本轮评估失败（如持久化故障），调度器会中止当前 tick。
	Evaluate(ctx context.Context) ([]*domain.TradeIntent, error)
}
