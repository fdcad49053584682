package position

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/events"
)

var ptLog = logrus.WithField("module", "position_tracker")

// Repository 持仓持久化契约
type Repository interface {
	Upsert(ctx context.Context, p *domain.Position) error
	FindAll(ctx context.Context) ([]*domain.Position, error)
}

// Tracker 持仓账本：每个 (marketID, strategyID) 的净持仓、
// 均价与未实现盈亏的唯一权威来源。
//
// 内存缓存与仓储永不允许背离：每次更新立即 upsert，
// 持久化失败时直接向上返回错误（宁可中断本轮 tick，
// 也不能让后续风控基于丢失的状态做决策）。
type Tracker struct {
	repo Repository
	bus  *events.Bus

	mu        sync.RWMutex
	positions map[string]*domain.Position // key = marketID:strategyID
}

// NewTracker 创建持仓账本并从仓储加载全部历史持仓。
// 之后的读取不再访问仓储。
func NewTracker(ctx context.Context, repo Repository, bus *events.Bus) (*Tracker, error) {
	t := &Tracker{
		repo:      repo,
		bus:       bus,
		positions: make(map[string]*domain.Position),
	}

	persisted, err := repo.FindAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load positions")
	}
	for _, p := range persisted {
		t.positions[p.Key()] = p
	}
	ptLog.Infof("持仓账本已加载: %d 条", len(persisted))
	return t, nil
}

// RecordFill 记录一笔成交并立即持久化。
//
// 规则：
// - 无现有持仓或现有 Size == 0：新仓 Size = ±size，AvgPrice = price
//   （归零后的持仓在下一笔非零成交时重置均价，不与过期价格加权）
// - 现有持仓且买入：加权平均更新均价
// - 卖出：只减少 Size，均价不变（卖出按现有成本实现盈亏，
//   已实现盈亏的计算是报表层的事，不在这里做）
func (t *Tracker) RecordFill(ctx context.Context, strategyID, marketID, tokenID string, side domain.Side, size, price float64) error {
	t.mu.Lock()
	key := marketID + ":" + strategyID

	// 在副本上算新状态，持久化成功后才写回内存，
	// 落库失败时内存账本不能领先于仓库
	var next domain.Position
	if cur, ok := t.positions[key]; ok {
		next = *cur
	}

	switch {
	case next.Size == 0:
		signed := size
		if side == domain.SideSell {
			signed = -size
		}
		next = domain.Position{
			MarketID:   marketID,
			StrategyID: strategyID,
			TokenID:    tokenID,
			Size:       signed,
			AvgPrice:   price,
		}

	case side == domain.SideBuy:
		newSize := next.Size + size
		if newSize != 0 {
			next.AvgPrice = (next.Size*next.AvgPrice + size*price) / newSize
		}
		next.Size = newSize

	default: // sell
		next.Size -= size
	}

	if next.TokenID == "" {
		next.TokenID = tokenID
	}

	next.UpdatedAt = time.Now()
	t.mu.Unlock()

	snapshot := next
	if err := t.repo.Upsert(ctx, &snapshot); err != nil {
		return errors.Wrapf(err, "persist position %s", key)
	}

	committed := next
	t.mu.Lock()
	t.positions[key] = &committed
	t.mu.Unlock()

	ptLog.Infof("记录成交: market=%s strategy=%s side=%s size=%.4f price=%.4f -> pos=%.4f avg=%.4f",
		marketID, strategyID, side, size, price, snapshot.Size, snapshot.AvgPrice)

	if t.bus != nil {
		t.bus.Publish(events.TopicPositionUpdated, events.PositionUpdatedEvent{
			MarketID:  marketID,
			Timestamp: time.Now(),
		})
	}
	return nil
}

// UpdatePnl 用当前价格重算指定市场所有持仓的未实现盈亏并逐条持久化。
func (t *Tracker) UpdatePnl(ctx context.Context, marketID string, currentPrice float64) error {
	t.mu.Lock()
	var updated []*domain.Position
	for _, pos := range t.positions {
		if pos.MarketID != marketID {
			continue
		}
		pos.UnrealizedPnl = (currentPrice - pos.AvgPrice) * pos.Size
		pos.UpdatedAt = time.Now()
		snapshot := *pos
		updated = append(updated, &snapshot)
	}
	t.mu.Unlock()

	for _, pos := range updated {
		if err := t.repo.Upsert(ctx, pos); err != nil {
			return errors.Wrapf(err, "persist pnl %s", pos.Key())
		}
	}

	if len(updated) > 0 && t.bus != nil {
		t.bus.Publish(events.TopicPositionUpdated, events.PositionUpdatedEvent{
			MarketID:  marketID,
			Timestamp: time.Now(),
		})
	}
	return nil
}

// GetPosition 读取一个持仓（副本），不存在返回 nil。
func (t *Tracker) GetPosition(marketID, strategyID string) *domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pos, ok := t.positions[marketID+":"+strategyID]
	if !ok {
		return nil
	}
	snapshot := *pos
	return &snapshot
}

// GetStrategyExposure 策略的多头名义敞口合计（size * avgPrice，仅 size > 0）。
// 空头不计入资金占用——这是对上游行为的刻意保留，见 internal/risk。
func (t *Tracker) GetStrategyExposure(strategyID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for _, pos := range t.positions {
		if pos.StrategyID == strategyID {
			total += pos.LongNotional()
		}
	}
	return total
}

// GetTotalExposure 全部策略的多头名义敞口合计。
func (t *Tracker) GetTotalExposure() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total float64
	for _, pos := range t.positions {
		total += pos.LongNotional()
	}
	return total
}

// OpenPositions 返回所有未平仓位的副本（size == 0 的过滤掉）。
func (t *Tracker) OpenPositions() []*domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*domain.Position
	for _, pos := range t.positions {
		if pos.IsOpen() {
			snapshot := *pos
			out = append(out, &snapshot)
		}
	}
	return out
}
