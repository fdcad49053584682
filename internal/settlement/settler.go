package settlement

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/position"
	"github.com/betbot/copyflow/internal/risk"
)

var log = logrus.WithField("module", "settlement")

// MarketResolver 提供市场结算状态（已关闭市场附带每个 token 的结算价）
type MarketResolver interface {
	GetMarketStatuses(ctx context.Context, marketIDs []string) (map[string]domain.MarketStatus, error)
}

// Settler 结算扫描：把已结算市场上的未平仓位按结算价（0 或 1）
// 了结，算出已实现盈亏并喂给风控的熔断器。
//
// 这是熔断器在生产链路里唯一的胜负来源：预测市场的仓位
// 不靠主动平仓退出，而是等市场结算。
type Settler struct {
	tracker  *position.Tracker
	riskMgr  *risk.Manager
	resolver MarketResolver
}

func NewSettler(tracker *position.Tracker, riskMgr *risk.Manager, resolver MarketResolver) *Settler {
	return &Settler{tracker: tracker, riskMgr: riskMgr, resolver: resolver}
}

// Sweep 扫描一轮未平仓位。
// 状态查询失败整轮跳过（下一轮重试）；持久化失败向上传播。
func (s *Settler) Sweep(ctx context.Context) error {
	open := s.tracker.OpenPositions()
	if len(open) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(open))
	var marketIDs []string
	for _, p := range open {
		if _, ok := seen[p.MarketID]; !ok {
			seen[p.MarketID] = struct{}{}
			marketIDs = append(marketIDs, p.MarketID)
		}
	}

	statuses, err := s.resolver.GetMarketStatuses(ctx, marketIDs)
	if err != nil {
		log.Warnf("查询市场结算状态失败: %v", err)
		return nil
	}

	for _, p := range open {
		status, ok := statuses[p.MarketID]
		if !ok || !status.Closed || len(status.ResolvedPrices) == 0 {
			continue
		}
		resolved, ok := status.ResolvedPrices[p.TokenID]
		if !ok {
			// 结算价里找不到持仓的 token，多半是仓位建于引入
			// token 记录之前，留给人工处理
			log.Warnf("已结算市场 %s 缺少 token %s 的结算价，跳过", p.MarketID, p.TokenID)
			continue
		}
		if err := s.settle(ctx, p, resolved); err != nil {
			return err
		}
	}
	return nil
}

// settle 按结算价了结单个仓位并记录胜负
func (s *Settler) settle(ctx context.Context, p *domain.Position, resolved float64) error {
	pnl := (resolved - p.AvgPrice) * p.Size

	// 卖出全部份额把仓位归零；空头仓位用买入回补
	side := domain.SideSell
	size := p.Size
	if p.Size < 0 {
		side = domain.SideBuy
		size = -p.Size
	}
	if err := s.tracker.RecordFill(ctx, p.StrategyID, p.MarketID, p.TokenID, side, size, resolved); err != nil {
		return errors.Wrapf(err, "settle position %s", p.Key())
	}

	if pnl < 0 {
		s.riskMgr.RecordLoss(p.StrategyID, -pnl)
	} else {
		s.riskMgr.RecordWin(p.StrategyID)
	}

	log.Infof("仓位已结算: market=%s strategy=%s token=%s 结算价=%.0f 盈亏=%.2f USDC",
		p.MarketID, p.StrategyID, p.TokenID, resolved, pnl)
	return nil
}
