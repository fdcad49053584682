package copytrade

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/betbot/copyflow/internal/domain"
)

// fakeFeed 可编排的钱包行情源
type fakeFeed struct {
	trades   map[string][]domain.WalletTrade
	statuses map[string]domain.MarketStatus
	err      error
}

func (f *fakeFeed) GetRecentTrades(_ context.Context, address string, _ time.Time) ([]domain.WalletTrade, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.trades[address], nil
}

func (f *fakeFeed) GetWalletPositions(_ context.Context, _ string) (*domain.WalletPortfolio, error) {
	return &domain.WalletPortfolio{}, nil
}

func (f *fakeFeed) GetMarketStatuses(_ context.Context, marketIDs []string) (map[string]domain.MarketStatus, error) {
	out := map[string]domain.MarketStatus{}
	for _, id := range marketIDs {
		if st, ok := f.statuses[id]; ok {
			out[id] = st
		}
	}
	return out, nil
}

// memCopyLog 内存复制日志
type memCopyLog struct {
	rows []*domain.CopiedTrade
	err  error
}

func (m *memCopyLog) Insert(_ context.Context, ct *domain.CopiedTrade) error {
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, ct)
	return nil
}

func (m *memCopyLog) FindRecent(_ context.Context, limit int) ([]*domain.CopiedTrade, error) {
	return m.rows, nil
}

// memStateStore 内存状态快照
type memStateStore struct {
	state *EngineState
}

func (m *memStateStore) SaveEngineState(state *EngineState) error {
	m.state = state
	return nil
}

func (m *memStateStore) LoadEngineState() (*EngineState, bool, error) {
	if m.state == nil {
		return nil, false, nil
	}
	return m.state, true, nil
}

func testWallet(addr string) domain.TrackedWallet {
	return domain.TrackedWallet{
		Address:            addr,
		Label:              "test",
		SizeMode:           domain.SizeModeFixed,
		FixedAmount:        10,
		MaxCopiesPerMarket: 2,
	}
}

func testConfig(wallets ...domain.TrackedWallet) Config {
	return Config{
		Wallets:                 wallets,
		MaxDailyTradesPerWallet: 10,
		MaxWalletExposureUSDC:   500,
		MaxTotalExposureUSDC:    2000,
	}
}

func trade(market, tx string, ts time.Time) domain.WalletTrade {
	return domain.WalletTrade{
		MarketID:  market,
		TokenID:   "tok-" + market,
		Side:      domain.SideBuy,
		Size:      100,
		Price:     0.5,
		TxHash:    tx,
		Timestamp: ts,
	}
}

// 首次轮询只播种水位线，历史成交全部丢弃
func TestEngine_FirstPollSeedsWatermark(t *testing.T) {
	w := testWallet("0xabc")
	feed := &fakeFeed{trades: map[string][]domain.WalletTrade{
		"0xabc": {
			trade("m1", "tx1", time.Now().Add(-2*time.Hour)),
			trade("m2", "tx2", time.Now().Add(-1*time.Hour)),
		},
	}}
	log := &memCopyLog{}
	e := NewEngine(feed, log, nil, testConfig(w))

	intent, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, intent, "首次轮询不应产生任何意图")
	require.Empty(t, log.rows)

	wm := e.watermarks["0xabc"]
	require.True(t, wm.Initialised)
	require.Equal(t, "tx2", wm.LastSeenTxHash, "水位线应指向最新一笔")
}

// 行情源时间戳只有秒级精度，窗口是闭区间：播种轮与水位线同秒
// 的历史成交会在后续轮询中再次出现，不得复制；同秒出现的新
// txHash 是真新成交，照常复制
func TestEngine_SameSecondAsWatermark(t *testing.T) {
	w := testWallet("0xabc")
	ts := time.Now().Add(-time.Hour).Truncate(time.Second)
	seeded := []domain.WalletTrade{
		trade("m1", "tx-seen", ts),
		trade("m2", "tx-sibling", ts),
	}
	feed := &fakeFeed{trades: map[string][]domain.WalletTrade{"0xabc": seeded}}
	log := &memCopyLog{}
	e := NewEngine(feed, log, nil, testConfig(w))

	// 播种轮：同秒的两笔都要记入去重环
	_, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.Empty(t, log.rows)

	// 闭区间窗口把同秒历史又带了回来
	intent, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, intent, "播种轮见过的同秒成交不应被复制")
	require.Empty(t, log.rows)

	// 水位线同秒出现了新的 txHash
	feed.trades["0xabc"] = append(seeded, trade("m3", "tx-late", ts))
	intent, err = e.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, intent, "同秒的新 txHash 应被复制")
	require.Equal(t, "m3", intent.MarketID)
	require.Len(t, log.rows, 1)
}

// 同一 txHash 在后续轮询中重复出现时不再复制
func TestEngine_IdempotentReplication(t *testing.T) {
	w := testWallet("0xabc")
	now := time.Now()
	feed := &fakeFeed{trades: map[string][]domain.WalletTrade{}}
	log := &memCopyLog{}
	e := NewEngine(feed, log, nil, testConfig(w))

	// 播种
	_, err := e.Tick(context.Background())
	require.NoError(t, err)

	// 新成交出现
	feed.trades["0xabc"] = []domain.WalletTrade{trade("m1", "tx-new", now)}
	intent, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, intent)
	require.Len(t, log.rows, 1)

	// 行情源重复返回同一笔
	intent, err = e.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, intent, "重复的 txHash 不应再次复制")
	require.Len(t, log.rows, 1)
}

// 每次 Tick 至多复制一笔，其余留到下一轮
func TestEngine_OneCopyPerTick(t *testing.T) {
	w := testWallet("0xabc")
	now := time.Now()
	feed := &fakeFeed{trades: map[string][]domain.WalletTrade{}}
	log := &memCopyLog{}
	e := NewEngine(feed, log, nil, testConfig(w))

	_, _ = e.Tick(context.Background()) // 播种

	feed.trades["0xabc"] = []domain.WalletTrade{
		trade("m1", "tx1", now),
		trade("m2", "tx2", now.Add(time.Second)),
		trade("m3", "tx3", now.Add(2*time.Second)),
	}

	for i := 1; i <= 3; i++ {
		intent, err := e.Tick(context.Background())
		require.NoError(t, err)
		require.NotNil(t, intent, "第 %d 轮应复制一笔", i)
		require.Len(t, log.rows, i)
	}

	intent, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, intent)
}

// 同一钱包同一市场的复制次数不超过 MaxCopiesPerMarket
func TestEngine_PerMarketCap(t *testing.T) {
	w := testWallet("0xabc")
	w.MaxCopiesPerMarket = 1
	now := time.Now()
	feed := &fakeFeed{trades: map[string][]domain.WalletTrade{}}
	log := &memCopyLog{}
	e := NewEngine(feed, log, nil, testConfig(w))

	_, _ = e.Tick(context.Background())

	feed.trades["0xabc"] = []domain.WalletTrade{
		trade("m1", "tx1", now),
		trade("m1", "tx2", now.Add(time.Second)),
	}

	intent, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, intent)

	intent, err = e.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, intent, "同市场第二笔应被市场上限拦下")
	require.Len(t, log.rows, 1)
}

// 已关闭市场的成交直接跳过
func TestEngine_SkipsClosedMarket(t *testing.T) {
	w := testWallet("0xabc")
	now := time.Now()
	feed := &fakeFeed{
		trades: map[string][]domain.WalletTrade{},
		statuses: map[string]domain.MarketStatus{
			"m1": {Closed: true},
		},
	}
	log := &memCopyLog{}
	e := NewEngine(feed, log, nil, testConfig(w))

	_, _ = e.Tick(context.Background())
	feed.trades["0xabc"] = []domain.WalletTrade{trade("m1", "tx1", now)}

	intent, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, intent)
	require.Empty(t, log.rows)
}

// 钱包敞口与总敞口上限
func TestEngine_ExposureCaps(t *testing.T) {
	w := testWallet("0xabc")
	w.FixedAmount = 300
	cfg := testConfig(w)
	cfg.MaxWalletExposureUSDC = 500
	now := time.Now()
	feed := &fakeFeed{trades: map[string][]domain.WalletTrade{}}
	log := &memCopyLog{}
	e := NewEngine(feed, log, nil, cfg)

	_, _ = e.Tick(context.Background())
	feed.trades["0xabc"] = []domain.WalletTrade{
		trade("m1", "tx1", now),
		trade("m2", "tx2", now.Add(time.Second)),
	}

	// 第一笔 300 通过
	intent, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, intent)

	// 第二笔 300 会使钱包敞口 600 > 500，拦下
	intent, err = e.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, intent)
	require.Len(t, log.rows, 1)
}

// 日计数器满后该钱包整日不再复制；日切换后恢复
func TestEngine_DailyCounterAndRollover(t *testing.T) {
	w := testWallet("0xabc")
	cfg := testConfig(w)
	cfg.MaxDailyTradesPerWallet = 1
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.Local)
	feed := &fakeFeed{trades: map[string][]domain.WalletTrade{}}
	log := &memCopyLog{}
	e := NewEngine(feed, log, nil, cfg)
	e.now = func() time.Time { return now }
	e.day = e.dayString()

	_, _ = e.Tick(context.Background())
	feed.trades["0xabc"] = []domain.WalletTrade{
		trade("m1", "tx1", now),
		trade("m2", "tx2", now.Add(time.Second)),
	}

	intent, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, intent)

	// 当日已到上限
	intent, err = e.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, intent)

	// 次日计数清零，第二笔可以走
	now = now.Add(24 * time.Hour)
	intent, err = e.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, intent)
	require.Len(t, log.rows, 2)
}

// 进程重启后从快照恢复：水位线不重新播种，历史不重放
func TestEngine_RestartRestoresState(t *testing.T) {
	w := testWallet("0xabc")
	now := time.Now()
	feed := &fakeFeed{trades: map[string][]domain.WalletTrade{}}
	log := &memCopyLog{}
	store := &memStateStore{}

	e := NewEngine(feed, log, store, testConfig(w))
	_, _ = e.Tick(context.Background()) // 播种并保存快照

	feed.trades["0xabc"] = []domain.WalletTrade{trade("m1", "tx1", now)}
	intent, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.NotNil(t, intent)

	// 重启：新引擎从同一 store 恢复
	e2 := NewEngine(feed, log, store, testConfig(w))
	intent, err = e2.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, intent, "重启后不应重放已复制的成交")
	require.Len(t, log.rows, 1)
}

// 行情源失败只影响当前钱包，其它钱包照常处理
func TestEngine_FeedFailureIsNonFatal(t *testing.T) {
	w := testWallet("0xabc")
	feed := &fakeFeed{err: errors.New("data api down")}
	log := &memCopyLog{}
	e := NewEngine(feed, log, nil, testConfig(w))

	intent, err := e.Tick(context.Background())
	require.NoError(t, err, "行情源失败不应向上传播")
	require.Nil(t, intent)
}

// 复制日志持久化失败必须向上传播
func TestEngine_PersistFailurePropagates(t *testing.T) {
	w := testWallet("0xabc")
	now := time.Now()
	feed := &fakeFeed{trades: map[string][]domain.WalletTrade{}}
	log := &memCopyLog{}
	e := NewEngine(feed, log, nil, testConfig(w))

	_, _ = e.Tick(context.Background())
	feed.trades["0xabc"] = []domain.WalletTrade{trade("m1", "tx1", now)}

	log.err = errors.New("disk full")
	_, err := e.Tick(context.Background())
	require.Error(t, err)
}

// 配置更新清空全部状态，钱包按新加入处理
func TestEngine_UpdateConfigResetsState(t *testing.T) {
	w := testWallet("0xabc")
	now := time.Now()
	feed := &fakeFeed{trades: map[string][]domain.WalletTrade{}}
	log := &memCopyLog{}
	e := NewEngine(feed, log, nil, testConfig(w))

	_, _ = e.Tick(context.Background())
	feed.trades["0xabc"] = []domain.WalletTrade{trade("m1", "tx1", now)}
	_, _ = e.Tick(context.Background())
	require.Len(t, log.rows, 1)

	e.UpdateConfig(testConfig(w))

	// 重新播种，已有成交被当作历史丢弃
	intent, err := e.Tick(context.Background())
	require.NoError(t, err)
	require.Nil(t, intent)
	require.False(t, e.watermarks["0xabc"] == nil)
	require.True(t, e.watermarks["0xabc"].Initialised)
}

// 去重环超过容量后逐出最旧的 txHash
func TestEngine_DedupRingEviction(t *testing.T) {
	w := testWallet("0xabc")
	cfg := testConfig(w)
	cfg.LogCap = 3
	e := NewEngine(&fakeFeed{}, &memCopyLog{}, nil, cfg)

	for i := 0; i < 5; i++ {
		e.rememberHash(fmt.Sprintf("tx%d", i))
	}
	require.Len(t, e.seenOrder, 3)
	_, oldest := e.seen["tx0"]
	require.False(t, oldest, "最旧的 hash 应被逐出")
	_, newest := e.seen["tx4"]
	require.True(t, newest)
}
