package execution

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/betbot/copyflow/internal/domain"
	"github.com/betbot/copyflow/internal/events"
	"github.com/betbot/copyflow/internal/position"
)

// fakeExchange 可编排的交易所客户端
type fakeExchange struct {
	result *domain.OrderResult
	err    error
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req domain.OrderRequest) (*domain.OrderResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &domain.OrderResult{
		OrderID:  "ord-1",
		Status:   domain.OrderStatusFilled,
		MarketID: req.MarketID,
		Side:     req.Side,
		Size:     req.Size,
		Price:    req.Price,
	}, nil
}

func (f *fakeExchange) GetBalance(_ context.Context) (float64, error) {
	return 10000, nil
}

func (f *fakeExchange) GetOrderBook(_ context.Context, _ string) (*domain.OrderBook, error) {
	return &domain.OrderBook{}, nil
}

// memOrderRepo 内存订单仓库
type memOrderRepo struct {
	rows []*domain.Order
	err  error
}

func (m *memOrderRepo) Insert(_ context.Context, o *domain.Order) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	o.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, o)
	return o.ID, nil
}

func (m *memOrderRepo) FindRecent(_ context.Context, _ int) ([]*domain.Order, error) {
	return m.rows, nil
}

func (m *memOrderRepo) FindByStrategy(_ context.Context, strategyID string) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, o := range m.rows {
		if o.StrategyID == strategyID {
			out = append(out, o)
		}
	}
	return out, nil
}

type memPositionRepo struct{}

func (memPositionRepo) Upsert(_ context.Context, _ *domain.Position) error { return nil }
func (memPositionRepo) FindAll(_ context.Context) ([]*domain.Position, error) {
	return nil, nil
}

func newTestOrderManager(t *testing.T, exchange *fakeExchange, bus *events.Bus) (*OrderManager, *memOrderRepo, *position.Tracker) {
	t.Helper()
	repo := &memOrderRepo{}
	tracker, err := position.NewTracker(context.Background(), memPositionRepo{}, bus)
	require.NoError(t, err)
	return NewOrderManager(exchange, repo, tracker, bus), repo, tracker
}

func testIntent() *domain.TradeIntent {
	return &domain.TradeIntent{
		StrategyID: "copytrade",
		MarketID:   "m1",
		TokenID:    "tok1",
		Side:       domain.SideBuy,
		Size:       100,
		Price:      0.5,
	}
}

// 成交落库并进入持仓账本
func TestExecute_FillUpdatesPosition(t *testing.T) {
	om, repo, tracker := newTestOrderManager(t, &fakeExchange{}, nil)

	require.NoError(t, om.Execute(context.Background(), testIntent()))

	require.Len(t, repo.rows, 1)
	require.Equal(t, domain.OrderStatusFilled, repo.rows[0].Status)

	pos := tracker.GetPosition("m1", "copytrade")
	require.NotNil(t, pos)
	require.InEpsilon(t, 100.0, pos.Size, 1e-9)
}

// dry-run 模拟成交同样进入持仓账本，敞口口径保持一致
func TestExecute_SimulatedFillUpdatesPosition(t *testing.T) {
	exchange := &fakeExchange{result: &domain.OrderResult{
		OrderID: "sim-1",
		Status:  domain.OrderStatusSimulated,
	}}
	om, _, tracker := newTestOrderManager(t, exchange, nil)

	require.NoError(t, om.Execute(context.Background(), testIntent()))
	require.NotNil(t, tracker.GetPosition("m1", "copytrade"))
}

// 下单失败是终态：记 error 行、发 trade:rejected，不向上抛
func TestExecute_ExchangeFailureIsTerminal(t *testing.T) {
	bus := events.NewBus()
	rejected := bus.Subscribe(events.TopicTradeRejected, 1)
	om, repo, tracker := newTestOrderManager(t, &fakeExchange{err: errors.New("clob 503")}, bus)

	require.NoError(t, om.Execute(context.Background(), testIntent()))

	require.Len(t, repo.rows, 1)
	require.Equal(t, domain.OrderStatusError, repo.rows[0].Status)
	require.Contains(t, repo.rows[0].Reason, "clob 503")
	require.Nil(t, tracker.GetPosition("m1", "copytrade"))

	select {
	case ev := <-rejected:
		require.IsType(t, events.TradeRejectedEvent{}, ev)
	default:
		t.Fatal("应发布 trade:rejected 事件")
	}
}

// 订单落库失败必须向上传播
func TestExecute_PersistFailurePropagates(t *testing.T) {
	om, repo, _ := newTestOrderManager(t, &fakeExchange{}, nil)
	repo.err = errors.New("disk full")

	require.Error(t, om.Execute(context.Background(), testIntent()))
}

// 风控拒绝：rejected 行落库并广播
func TestReject_PersistsAndPublishes(t *testing.T) {
	bus := events.NewBus()
	rejected := bus.Subscribe(events.TopicTradeRejected, 1)
	om, repo, _ := newTestOrderManager(t, &fakeExchange{}, bus)

	require.NoError(t, om.Reject(context.Background(), testIntent(), "exposure limit: over cap"))

	require.Len(t, repo.rows, 1)
	require.Equal(t, domain.OrderStatusRejected, repo.rows[0].Status)
	require.Equal(t, "exposure limit: over cap", repo.rows[0].Reason)

	select {
	case ev := <-rejected:
		e := ev.(events.TradeRejectedEvent)
		require.Equal(t, "exposure limit: over cap", e.Reason)
	default:
		t.Fatal("应发布 trade:rejected 事件")
	}
}
