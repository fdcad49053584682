package strategy

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/copytrade"
	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/execution"
	"github.com/betbot/copyflow/internal/position"
	"github.com/betbot/copyflow/internal/risk"
)

var log = logrus.WithField("module", "strategy")

// MarketDataProvider 提供风控流动性检查所需的市场数据
type MarketDataProvider interface {
	Volume24h(ctx context.Context, marketID string) (float64, error)
}

// Engine 把各策略产出的意图依次送过风控闸门，
// 通过的交给订单管理器执行，拒绝的落库并广播。
type Engine struct {
	strategies []Strategy
	riskMgr    *risk.Manager
	orders     *execution.OrderManager
	tracker    *position.Tracker
	market     MarketDataProvider
}

func NewEngine(riskMgr *risk.Manager, orders *execution.OrderManager, tracker *position.Tracker, market MarketDataProvider) *Engine {
	return &Engine{
		riskMgr: riskMgr,
		orders:  orders,
		tracker: tracker,
		market:  market,
	}
}

// Register 注册一个策略。启动后不应再调用。
func (e *Engine) Register(s Strategy) {
	e.strategies = append(e.strategies, s)
	log.WithField("strategy", s.ID()).Info("策略已注册")
}

// RunTick 执行一轮：逐个评估策略，把意图送过风控管道。
// 策略评估失败会中止本轮并返回错误，等下一个 tick 重试。
func (e *Engine) RunTick(ctx context.Context) error {
	for _, s := range e.strategies {
		intents, err := s.Evaluate(ctx)
		if err != nil {
			return errors.Wrapf(err, "策略 %s 评估失败", s.ID())
		}
		for _, intent := range intents {
			if err := e.process(ctx, intent); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) process(ctx context.Context, intent *domain.TradeIntent) error {
	if err := intent.Validate(); err != nil {
		log.WithFields(logrus.Fields{
			"strategy": intent.StrategyID,
			"market":   intent.MarketID,
		}).Warnf("丢弃非法意图: %v", err)
		return nil
	}

	volume24h := 0.0
	if e.market != nil {
		v, err := e.market.Volume24h(ctx, intent.MarketID)
		if err != nil {
			// 查不到成交量时跳过流动性层，不要因为行情接口抖动卡死交易
			log.WithField("market", intent.MarketID).Warnf("获取 24h 成交量失败: %v", err)
		} else {
			volume24h = v
		}
	}

	res := e.riskMgr.Check(intent,
		e.tracker.GetTotalExposure(),
		e.tracker.GetStrategyExposure(intent.StrategyID),
		volume24h)
	if !res.Allowed {
		log.WithFields(logrus.Fields{
			"strategy": intent.StrategyID,
			"market":   intent.MarketID,
			"reason":   res.Reason,
		}).Warn("风控拒绝")
		return e.orders.Reject(ctx, intent, res.Reason)
	}

	return e.orders.Execute(ctx, intent)
}

// CopyTradingStrategy 把跟单引擎适配成 Strategy。
type CopyTradingStrategy struct {
	engine *copytrade.Engine
}

func NewCopyTradingStrategy(engine *copytrade.Engine) *CopyTradingStrategy {
	return &CopyTradingStrategy{engine: engine}
}

func (s *CopyTradingStrategy) ID() string {
	return copytrade.StrategyName
}

func (s *CopyTradingStrategy) Evaluate(ctx context.Context) ([]*domain.TradeIntent, error) {
	intent, err := s.engine.Tick(ctx)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, nil
	}
	return []*domain.TradeIntent{intent}, nil
}
