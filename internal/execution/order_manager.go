package execution

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/events"
	"github.com/betbot/copyflow/internal/position"
)

var omLog = logrus.WithField("module", "order_manager")

// ExchangeClient 交易所客户端契约
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.OrderResult, error)
	GetBalance(ctx context.Context) (float64, error)
	GetOrderBook(ctx context.Context, tokenID string) (*domain.OrderBook, error)
}

// OrderRepository 订单历史持久化契约
type OrderRepository interface {
	Insert(ctx context.Context, o *domain.Order) (int64, error)
	FindRecent(ctx context.Context, limit int) ([]*domain.Order, error)
	FindByStrategy(ctx context.Context, strategyID string) ([]*domain.Order, error)
}

// OrderManager 订单执行边界：对已通过风控的意图下单、
// 记录结果（filled/rejected/error）、发布执行事件。
type OrderManager struct {
	exchange ExchangeClient
	orders   OrderRepository
	tracker  *position.Tracker
	bus      *events.Bus
}

// NewOrderManager 创建订单管理器
func NewOrderManager(exchange ExchangeClient, orders OrderRepository, tracker *position.Tracker, bus *events.Bus) *OrderManager {
	return &OrderManager{
		exchange: exchange,
		orders:   orders,
		tracker:  tracker,
		bus:      bus,
	}
}

// Execute 执行一笔已通过风控的意图。
//
// 执行失败（网络、交易所拒单、校验）是终态结果：记录
// status=error 行、发布 trade:rejected，不向调用方抛出。
// 只有持久化失败才返回错误——内存状态与存储不允许背离。
func (om *OrderManager) Execute(ctx context.Context, intent *domain.TradeIntent) error {
	result, err := om.exchange.PlaceOrder(ctx, domain.OrderRequest{
		MarketID: intent.MarketID,
		TokenID:  intent.TokenID,
		Side:     intent.Side,
		Size:     intent.Size,
		Price:    intent.Price,
	})
	if err != nil {
		omLog.Errorf("下单失败: market=%s strategy=%s err=%v", intent.MarketID, intent.StrategyID, err)
		return om.recordFailure(ctx, intent, err.Error())
	}

	row := &domain.Order{
		OrderID:    result.OrderID,
		StrategyID: intent.StrategyID,
		MarketID:   intent.MarketID,
		TokenID:    intent.TokenID,
		Side:       intent.Side,
		Size:       intent.Size,
		Price:      intent.Price,
		Status:     result.Status,
		CreatedAt:  time.Now(),
	}
	if row.OrderID == "" {
		row.OrderID = uuid.NewString()
	}
	if _, err := om.orders.Insert(ctx, row); err != nil {
		return errors.Wrap(err, "persist order")
	}

	// 成交（含 dry-run 模拟成交）进入持仓账本，下一次风控
	// 检查要看到这里产生的敞口
	if result.Status == domain.OrderStatusFilled || result.Status == domain.OrderStatusSimulated {
		if err := om.tracker.RecordFill(ctx, intent.StrategyID, intent.MarketID, intent.TokenID, intent.Side, intent.Size, intent.Price); err != nil {
			return err
		}
	}

	omLog.Infof("订单已执行: orderID=%s market=%s side=%s size=%.4f price=%.4f status=%s",
		row.OrderID, intent.MarketID, intent.Side, intent.Size, intent.Price, result.Status)

	if om.bus != nil {
		om.bus.Publish(events.TopicTradeExecuted, events.TradeExecutedEvent{
			OrderID:    row.OrderID,
			StrategyID: intent.StrategyID,
			MarketID:   intent.MarketID,
			Side:       string(intent.Side),
			Size:       intent.Size,
			Price:      intent.Price,
			Status:     string(result.Status),
			Timestamp:  time.Now(),
		})
	}
	return nil
}

// Reject 记录一笔被风控拒绝、从未到达交易所的意图。
// 与执行失败共用 trade:rejected 事件形态，下游（通知、面板）
// 只需要一条失败通道。
func (om *OrderManager) Reject(ctx context.Context, intent *domain.TradeIntent, reason string) error {
	row := &domain.Order{
		StrategyID: intent.StrategyID,
		MarketID:   intent.MarketID,
		TokenID:    intent.TokenID,
		Side:       intent.Side,
		Size:       intent.Size,
		Price:      intent.Price,
		Status:     domain.OrderStatusRejected,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	if _, err := om.orders.Insert(ctx, row); err != nil {
		return errors.Wrap(err, "persist rejected order")
	}

	omLog.Warnf("意图被拒: market=%s strategy=%s reason=%s", intent.MarketID, intent.StrategyID, reason)
	om.publishRejected(intent, reason)
	return nil
}

func (om *OrderManager) recordFailure(ctx context.Context, intent *domain.TradeIntent, reason string) error {
	row := &domain.Order{
		StrategyID: intent.StrategyID,
		MarketID:   intent.MarketID,
		TokenID:    intent.TokenID,
		Side:       intent.Side,
		Size:       intent.Size,
		Price:      intent.Price,
		Status:     domain.OrderStatusError,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	if _, err := om.orders.Insert(ctx, row); err != nil {
		return errors.Wrap(err, "persist failed order")
	}
	om.publishRejected(intent, reason)
	return nil
}

func (om *OrderManager) publishRejected(intent *domain.TradeIntent, reason string) {
	if om.bus == nil {
		return
	}
	om.bus.Publish(events.TopicTradeRejected, events.TradeRejectedEvent{
		StrategyID: intent.StrategyID,
		MarketID:   intent.MarketID,
		Reason:     reason,
		Timestamp:  time.Now(),
	})
}
