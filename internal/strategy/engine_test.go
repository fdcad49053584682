package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/events"
	"github.com/betbot/copyflow/internal/execution"
	"github.com/betbot/copyflow/internal/position"
	"github.com/betbot/copyflow/internal/risk"
)

type stubStrategy struct {
	id      string
	intents []*domain.TradeIntent
}

func (s *stubStrategy) ID() string { return s.id }

func (s *stubStrategy) Evaluate(_ context.Context) ([]*domain.TradeIntent, error) {
	out := s.intents
	s.intents = nil
	return out, nil
}

type stubExchange struct{}

func (stubExchange) PlaceOrder(_ context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	return &domain.OrderResult{
		OrderID:  "ord-1",
		Status:   domain.OrderStatusFilled,
		MarketID: req.MarketID,
		Side:     req.Side,
		Size:     req.Size,
		Price:    req.Price,
	}, nil
}
func (stubExchange) GetBalance(_ context.Context) (float64, error) { return 10000, nil }
func (stubExchange) GetOrderBook(_ context.Context, _ string) (*domain.OrderBook, error) {
	return &domain.OrderBook{}, nil
}

type memOrderRepo struct{ rows []*domain.Order }

func (m *memOrderRepo) Insert(_ context.Context, o *domain.Order) (int64, error) {
	m.rows = append(m.rows, o)
	return int64(len(m.rows)), nil
}
func (m *memOrderRepo) FindRecent(_ context.Context, _ int) ([]*domain.Order, error) {
	return m.rows, nil
}
func (m *memOrderRepo) FindByStrategy(_ context.Context, _ string) ([]*domain.Order, error) {
	return m.rows, nil
}

type memPositionRepo struct{}

func (memPositionRepo) Upsert(_ context.Context, _ *domain.Position) error { return nil }
func (memPositionRepo) FindAll(_ context.Context) ([]*domain.Position, error) {
	return nil, nil
}

func buy(size, price float64) *domain.TradeIntent {
	return &domain.TradeIntent{
		StrategyID: "copytrade",
		MarketID:   "m1",
		TokenID:    "tok1",
		Side:       domain.SideBuy,
		Size:       size,
		Price:      price,
	}
}

// 端到端：余额 10000、总敞口上限 60%。第一笔 3000 名义额成交
// 并产生敞口，第二笔 3500 名义额因 3000+3500 > 6000 被拒。
func TestRunTick_ExposureAccumulates(t *testing.T) {
	bus := events.NewBus()
	tracker, err := position.NewTracker(context.Background(), memPositionRepo{}, bus)
	require.NoError(t, err)

	riskMgr := risk.NewManager(risk.Config{
		MaxTotalExposurePct:  0.6,
		MaxPositionPct:       0.6,
		MaxVolumeImpactPct:   0.05,
		MaxConsecutiveLosses: 3,
		MaxDailyLossPct:      0.1,
		Cooldown:             time.Hour,
	}, 10000, bus)

	repo := &memOrderRepo{}
	orderMgr := execution.NewOrderManager(stubExchange{}, repo, tracker, bus)
	stub := &stubStrategy{id: "copytrade"}
	engine := NewEngine(riskMgr, orderMgr, tracker, nil)
	engine.Register(stub)

	// 第一轮：6000 份 @ 0.5 = 3000 名义额，放行并成交
	stub.intents = []*domain.TradeIntent{buy(6000, 0.5)}
	require.NoError(t, engine.RunTick(context.Background()))
	require.Len(t, repo.rows, 1)
	require.Equal(t, domain.OrderStatusFilled, repo.rows[0].Status)
	require.InEpsilon(t, 3000.0, tracker.GetTotalExposure(), 1e-9)

	// 第二轮：7000 份 @ 0.5 = 3500 名义额，超过剩余容量被拒
	stub.intents = []*domain.TradeIntent{buy(7000, 0.5)}
	require.NoError(t, engine.RunTick(context.Background()))
	require.Len(t, repo.rows, 2)
	require.Equal(t, domain.OrderStatusRejected, repo.rows[1].Status)
	require.Contains(t, repo.rows[1].Reason, "exposure limit:")
	require.InEpsilon(t, 3000.0, tracker.GetTotalExposure(), 1e-9, "被拒意图不应改变敞口")
}

// 非法意图直接丢弃，不落库也不触发风控
func TestRunTick_DropsInvalidIntent(t *testing.T) {
	tracker, err := position.NewTracker(context.Background(), memPositionRepo{}, nil)
	require.NoError(t, err)
	riskMgr := risk.NewManager(risk.Config{MaxTotalExposurePct: 0.6, MaxPositionPct: 0.6}, 10000, nil)
	repo := &memOrderRepo{}
	orderMgr := execution.NewOrderManager(stubExchange{}, repo, tracker, nil)

	stub := &stubStrategy{id: "copytrade", intents: []*domain.TradeIntent{buy(0, 0.5)}}
	engine := NewEngine(riskMgr, orderMgr, tracker, nil)
	engine.Register(stub)

	require.NoError(t, engine.RunTick(context.Background()))
	require.Empty(t, repo.rows)
}
